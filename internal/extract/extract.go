// Package extract turns a validated article candidate payload into the
// normalized form the index and scorer operate on. It is a pure transform.
package extract

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	payloadschema "github.com/vulnwire/vulnwire/schema"
)

// EntityType is the closed set of entity kinds the index understands.
// Upstream generation emits a wider, looser vocabulary; everything outside
// this set is kept for display but never indexed.
type EntityType string

const (
	TypeThreatActor      EntityType = "threat_actor"
	TypeMalware          EntityType = "malware"
	TypeProduct          EntityType = "product"
	TypeCompany          EntityType = "company"
	TypeGovernmentAgency EntityType = "government_agency"
)

// IndexedEntityTypes lists every type in deterministic order.
var IndexedEntityTypes = []EntityType{
	TypeThreatActor,
	TypeMalware,
	TypeProduct,
	TypeCompany,
	TypeGovernmentAgency,
}

// NormalizeEntityType maps a raw upstream tag onto the closed enum. vendor
// folds into company. The second return is false for low-signal types
// (person, technology, security_organization, other) and anything unknown.
func NormalizeEntityType(raw string) (EntityType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "threat_actor":
		return TypeThreatActor, true
	case "malware":
		return TypeMalware, true
	case "product":
		return TypeProduct, true
	case "company", "vendor":
		return TypeCompany, true
	case "government_agency":
		return TypeGovernmentAgency, true
	default:
		return "", false
	}
}

// CVE is one vulnerability reference attached to an article.
type CVE struct {
	ID             string
	CVSSScore      *float64
	Severity       string
	KnownExploited bool
}

// Document is a normalized article ready for indexing and scoring.
type Document struct {
	Source       string
	SourceItemID string
	Title        string
	Summary      string
	FullText     string
	PublishedAt  time.Time

	// CVEs keyed by normalized id; set semantics.
	CVEs map[string]CVE
	// Entities keyed by type then normalized name; set semantics.
	Entities map[EntityType]map[string]struct{}
	// DisplayEntities preserves every upstream tag verbatim, including the
	// types the index drops.
	DisplayEntities []payloadschema.EntityTag
}

// FromCandidate normalizes a validated payload.
func FromCandidate(candidate *payloadschema.ArticleCandidate) (Document, error) {
	if candidate == nil {
		return Document{}, fmt.Errorf("candidate is nil")
	}

	publishedAt, err := candidate.PubDateUTC()
	if err != nil {
		return Document{}, err
	}

	doc := Document{
		Source:       strings.TrimSpace(candidate.Source),
		SourceItemID: strings.TrimSpace(candidate.SourceItemID),
		Title:        strings.TrimSpace(candidate.Title),
		Summary:      strings.TrimSpace(candidate.Summary),
		PublishedAt:  publishedAt,
		CVEs:         make(map[string]CVE, len(candidate.CVEs)),
		Entities:     make(map[EntityType]map[string]struct{}),
	}
	if candidate.FullText != nil {
		doc.FullText = strings.TrimSpace(*candidate.FullText)
	}

	for _, cve := range candidate.CVEs {
		id := NormalizeCVEID(cve.ID)
		if id == "" {
			continue
		}
		severity := strings.ToLower(strings.TrimSpace(cve.Severity))
		if severity == "" {
			severity = "unknown"
		}
		existing, seen := doc.CVEs[id]
		if seen {
			// Duplicate mention: keep the strongest claim.
			if cve.KnownExploited {
				existing.KnownExploited = true
			}
			if existing.CVSSScore == nil && cve.CVSSScore != nil {
				existing.CVSSScore = cve.CVSSScore
			}
			doc.CVEs[id] = existing
			continue
		}
		doc.CVEs[id] = CVE{
			ID:             id,
			CVSSScore:      cve.CVSSScore,
			Severity:       severity,
			KnownExploited: cve.KnownExploited,
		}
	}

	for _, entity := range candidate.Entities {
		doc.DisplayEntities = append(doc.DisplayEntities, entity)

		entityType, indexed := NormalizeEntityType(entity.Type)
		if !indexed {
			continue
		}
		name := NormalizeName(entity.Name)
		if name == "" {
			continue
		}
		if doc.Entities[entityType] == nil {
			doc.Entities[entityType] = make(map[string]struct{})
		}
		doc.Entities[entityType][name] = struct{}{}
	}

	return doc, nil
}

// EntitySet returns the normalized name set for one type; nil when absent.
func (d Document) EntitySet(entityType EntityType) map[string]struct{} {
	return d.Entities[entityType]
}

// CVEIDSet returns the CVE ids as a set.
func (d Document) CVEIDSet() map[string]struct{} {
	if len(d.CVEs) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(d.CVEs))
	for id := range d.CVEs {
		set[id] = struct{}{}
	}
	return set
}

// IsUnindexable reports whether the document carries nothing the index could
// ever retrieve it by. Such articles insert fine but can only classify NEW.
func (d Document) IsUnindexable() bool {
	if len(d.CVEs) > 0 {
		return false
	}
	for _, names := range d.Entities {
		if len(names) > 0 {
			return false
		}
	}
	return true
}

// NormalizeCVEID upper-cases and trims a CVE identifier.
func NormalizeCVEID(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// NormalizeName lower-cases an entity name and collapses runs of whitespace,
// so "APT 29", "apt 29" and "Apt  29" index identically.
func NormalizeName(raw string) string {
	return NormalizeText(raw)
}

// NormalizeText lower-cases input, collapses whitespace and strips control
// characters. Shared with the trigram text dimension.
func NormalizeText(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}
