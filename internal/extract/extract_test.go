package extract

import (
	"testing"

	payloadschema "github.com/vulnwire/vulnwire/schema"
)

func floatPtr(v float64) *float64 { return &v }

func TestNormalizeEntityType_VendorFoldsIntoCompany(t *testing.T) {
	t.Parallel()

	entityType, ok := NormalizeEntityType("vendor")
	if !ok {
		t.Fatalf("expected vendor to be indexed")
	}
	if entityType != TypeCompany {
		t.Fatalf("expected vendor to normalize to company, got %q", entityType)
	}
}

func TestNormalizeEntityType_DropsLowSignalTypes(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"person", "technology", "security_organization", "other", "planet"} {
		if _, ok := NormalizeEntityType(raw); ok {
			t.Fatalf("expected %q to be dropped from the index", raw)
		}
	}
}

func TestFromCandidate_EntitySetsAndDisplay(t *testing.T) {
	t.Parallel()

	candidate := &payloadschema.ArticleCandidate{
		PayloadVersion: "v1",
		Source:         "contentgen",
		SourceItemID:   "gen-1",
		Title:          "Title",
		Summary:        "Summary",
		PubDate:        "2026-08-14T10:00:00Z",
		Entities: []payloadschema.EntityTag{
			{Name: "Cl0p", Type: "threat_actor"},
			{Name: "cl0p", Type: "threat_actor"},
			{Name: "Progress Software", Type: "vendor"},
			{Name: "Jane Analyst", Type: "person"},
		},
	}

	doc, err := FromCandidate(candidate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	actors := doc.EntitySet(TypeThreatActor)
	if len(actors) != 1 {
		t.Fatalf("expected duplicate actor names to collapse, got %v", actors)
	}
	if _, ok := actors["cl0p"]; !ok {
		t.Fatalf("expected normalized actor name, got %v", actors)
	}

	companies := doc.EntitySet(TypeCompany)
	if _, ok := companies["progress software"]; !ok {
		t.Fatalf("expected vendor entity under company, got %v", companies)
	}

	if doc.EntitySet(TypeProduct) != nil {
		t.Fatalf("expected no product entities")
	}

	// The person tag is dropped from the index but kept verbatim for display.
	if len(doc.DisplayEntities) != 4 {
		t.Fatalf("expected all 4 raw entities retained for display, got %d", len(doc.DisplayEntities))
	}
}

func TestFromCandidate_CVESetSemantics(t *testing.T) {
	t.Parallel()

	candidate := &payloadschema.ArticleCandidate{
		PayloadVersion: "v1",
		Source:         "contentgen",
		SourceItemID:   "gen-2",
		Title:          "Title",
		Summary:        "Summary",
		PubDate:        "2026-08-14T10:00:00Z",
		CVEs: []payloadschema.CVEEntry{
			{ID: "cve-2026-31337", Severity: "critical"},
			{ID: "CVE-2026-31337", CVSSScore: floatPtr(9.8), KnownExploited: true},
		},
	}

	doc, err := FromCandidate(candidate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(doc.CVEs) != 1 {
		t.Fatalf("expected duplicate CVE ids to collapse, got %v", doc.CVEs)
	}
	cve := doc.CVEs["CVE-2026-31337"]
	if !cve.KnownExploited {
		t.Fatalf("expected known_exploited to be kept from the duplicate mention")
	}
	if cve.CVSSScore == nil || *cve.CVSSScore != 9.8 {
		t.Fatalf("expected cvss_score to be backfilled from the duplicate mention")
	}
}

func TestIsUnindexable(t *testing.T) {
	t.Parallel()

	empty := Document{}
	if !empty.IsUnindexable() {
		t.Fatalf("expected document without CVEs/entities to be unindexable")
	}

	withCVE := Document{CVEs: map[string]CVE{"CVE-2026-1": {ID: "CVE-2026-1"}}}
	if withCVE.IsUnindexable() {
		t.Fatalf("expected document with a CVE to be indexable")
	}
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	got := NormalizeText("  APT \t 29\nStrikes   Again ")
	if got != "apt 29 strikes again" {
		t.Fatalf("unexpected normalized text: %q", got)
	}
}
