// Package payloadschema validates incoming article candidate payloads before
// anything touches the index. A payload that fails here is rejected whole;
// partial indexing is never allowed.
package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed article_candidate.schema.json
var articleCandidateSchemaJSON string

type CVEEntry struct {
	ID             string   `json:"id"`
	CVSSScore      *float64 `json:"cvss_score,omitempty"`
	Severity       string   `json:"severity,omitempty"`
	KnownExploited bool     `json:"known_exploited,omitempty"`
}

type EntityTag struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type ArticleCandidate struct {
	PayloadVersion string         `json:"payload_version"`
	Source         string         `json:"source"`
	SourceItemID   string         `json:"source_item_id"`
	Title          string         `json:"title"`
	Summary        string         `json:"summary"`
	FullText       *string        `json:"full_text,omitempty"`
	PubDate        string         `json:"pub_date"`
	CVEs           []CVEEntry     `json:"cves,omitempty"`
	Entities       []EntityTag    `json:"entities,omitempty"`
	SourceMetadata map[string]any `json:"source_metadata,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

func ValidateArticleCandidatePayload(payload json.RawMessage) (*ArticleCandidate, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var candidate ArticleCandidate
	if err := json.Unmarshal(normalized, &candidate); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&candidate); err != nil {
		return nil, err
	}

	return &candidate, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("article_candidate.schema.json", strings.NewReader(articleCandidateSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("article_candidate.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(candidate *ArticleCandidate) error {
	if candidate == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(candidate.PayloadVersion) != "v1" {
		return fmt.Errorf("payload_version must be v1")
	}
	if strings.TrimSpace(candidate.Source) == "" {
		return fmt.Errorf("source must not be empty")
	}
	if strings.TrimSpace(candidate.SourceItemID) == "" {
		return fmt.Errorf("source_item_id must not be empty")
	}
	if strings.TrimSpace(candidate.Title) == "" {
		return fmt.Errorf("title must not be empty")
	}
	if strings.TrimSpace(candidate.Summary) == "" {
		return fmt.Errorf("summary must not be empty")
	}
	if _, err := time.Parse(time.RFC3339, strings.TrimSpace(candidate.PubDate)); err != nil {
		return fmt.Errorf("pub_date must be RFC3339: %w", err)
	}

	for i, cve := range candidate.CVEs {
		if strings.TrimSpace(cve.ID) == "" {
			return fmt.Errorf("cves[%d].id must not be empty", i)
		}
		if cve.CVSSScore != nil && (*cve.CVSSScore < 0 || *cve.CVSSScore > 10) {
			return fmt.Errorf("cves[%d].cvss_score must be in [0, 10]", i)
		}
	}
	for i, entity := range candidate.Entities {
		if strings.TrimSpace(entity.Name) == "" {
			return fmt.Errorf("entities[%d].name must not be empty", i)
		}
		if strings.TrimSpace(entity.Type) == "" {
			return fmt.Errorf("entities[%d].type must not be empty", i)
		}
	}

	return nil
}

// PubDateUTC parses the validated pub_date into UTC.
func (c *ArticleCandidate) PubDateUTC() (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(c.PubDate))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse pub_date: %w", err)
	}
	return ts.UTC(), nil
}
