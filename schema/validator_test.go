package payloadschema

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidateArticleCandidatePayload_Valid(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"source":"contentgen",
		"source_item_id":"gen-2026-08-0042",
		"title":"Ransomware crew exploits file-transfer zero-day",
		"summary":"A short summary of the incident.",
		"full_text":"Longer body text describing the incident in detail.",
		"pub_date":"2026-08-14T10:00:00Z",
		"cves":[{"id":"CVE-2026-31337","cvss_score":9.8,"severity":"critical","known_exploited":true}],
		"entities":[
			{"name":"Cl0p","type":"threat_actor"},
			{"name":"MOVEit Transfer","type":"product"},
			{"name":"Progress Software","type":"vendor"}
		]
	}`)

	candidate, err := ValidateArticleCandidatePayload(payload)
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}

	if candidate.Source != "contentgen" {
		t.Fatalf("expected source=contentgen, got %q", candidate.Source)
	}
	if len(candidate.CVEs) != 1 || candidate.CVEs[0].ID != "CVE-2026-31337" {
		t.Fatalf("unexpected cves: %+v", candidate.CVEs)
	}
	if !candidate.CVEs[0].KnownExploited {
		t.Fatalf("expected known_exploited to survive decoding")
	}
	if len(candidate.Entities) != 3 {
		t.Fatalf("expected 3 entities, got %d", len(candidate.Entities))
	}
}

func TestValidateArticleCandidatePayload_MissingPubDate(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"source":"contentgen",
		"source_item_id":"gen-1",
		"title":"No date",
		"summary":"Summary present."
	}`)

	_, err := ValidateArticleCandidatePayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for missing pub_date")
	}
}

func TestValidateArticleCandidatePayload_WhitespaceSummary(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"source":"contentgen",
		"source_item_id":"gen-2",
		"title":"Has date, empty summary",
		"summary":"   ",
		"pub_date":"2026-08-14T10:00:00Z"
	}`)

	_, err := ValidateArticleCandidatePayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for whitespace-only summary")
	}
	if !strings.Contains(err.Error(), "summary must not be empty") {
		t.Fatalf("expected summary semantic error, got: %v", err)
	}
}

func TestValidateArticleCandidatePayload_BadCVEID(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"source":"contentgen",
		"source_item_id":"gen-3",
		"title":"Bad CVE",
		"summary":"Summary.",
		"pub_date":"2026-08-14T10:00:00Z",
		"cves":[{"id":"not-a-cve"}]
	}`)

	_, err := ValidateArticleCandidatePayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for malformed CVE id")
	}
}

func TestValidateArticleCandidatePayload_UnknownEntityType(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"source":"contentgen",
		"source_item_id":"gen-4",
		"title":"Unknown entity type",
		"summary":"Summary.",
		"pub_date":"2026-08-14T10:00:00Z",
		"entities":[{"name":"mystery","type":"planet"}]
	}`)

	_, err := ValidateArticleCandidatePayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for entity type outside the enum")
	}
}

func TestValidateArticleCandidatePayload_TrailingContent(t *testing.T) {
	payload := json.RawMessage(`{"payload_version":"v1"} extra`)

	_, err := ValidateArticleCandidatePayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for trailing content")
	}
}
