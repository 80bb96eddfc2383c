package resolve

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vulnwire/vulnwire/internal/adjudicate"
	"github.com/vulnwire/vulnwire/internal/extract"
	payloadschema "github.com/vulnwire/vulnwire/schema"
)

// CanonicalArticle is the loaded persistent record a merge applies to.
type CanonicalArticle struct {
	ArticleID   int64
	ArticleUUID string
	Slug        string
	Title       string
	Summary     string
	FullText    string
	PublishedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Doc         extract.Document
}

// EntityRef identifies one indexed entity row.
type EntityRef struct {
	Type extract.EntityType
	Name string
}

// HistoryEntry is the single update_history row a merge appends. EntryKey is
// derived from the adjudication payload, so retrying the same merge can
// never append a second entry.
type HistoryEntry struct {
	EntryKey      []byte
	OccurredAt    time.Time
	ChangeSummary string
	AddedEntities json.RawMessage
	AddedCVEs     json.RawMessage
	SeverityDelta *float64
}

// MergePlan is the full set of mutations one UPDATE decision commits.
// ArticleUUID and Slug are carried through untouched; they are identity.
type MergePlan struct {
	ArticleID   int64
	ArticleUUID string
	Slug        string

	Title           string
	Summary         string
	FullText        string
	DisplayEntities json.RawMessage
	UpdatedAt       time.Time

	AddedCVEs     []extract.CVE
	AddedEntities []EntityRef
	History       HistoryEntry
}

// BuildMergePlan computes the mutation for merging an incoming document into
// an existing canonical article under an UPDATE ruling. Pure; the store
// applies it afterwards.
func BuildMergePlan(existing CanonicalArticle, incoming extract.Document, ruling adjudicate.Ruling) (MergePlan, error) {
	if ruling.Decision != adjudicate.DecisionUpdate {
		return MergePlan{}, fmt.Errorf("merge plan requires an update ruling, got %q", ruling.Decision)
	}
	if existing.ArticleUUID == "" || existing.Slug == "" {
		return MergePlan{}, fmt.Errorf("existing article %d is missing identity fields", existing.ArticleID)
	}

	occurredAt := ruling.DecidedAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	addedCVEs := diffCVEs(existing.Doc, incoming)
	addedEntities := diffEntities(existing.Doc, incoming)

	addedCVEIDs := make([]string, 0, len(addedCVEs))
	for _, cve := range addedCVEs {
		addedCVEIDs = append(addedCVEIDs, cve.ID)
	}
	addedEntityNames := make([]string, 0, len(addedEntities))
	for _, ref := range addedEntities {
		addedEntityNames = append(addedEntityNames, string(ref.Type)+":"+ref.Name)
	}

	cvesJSON, err := json.Marshal(addedCVEIDs)
	if err != nil {
		return MergePlan{}, fmt.Errorf("marshal added cves: %w", err)
	}
	entitiesJSON, err := json.Marshal(addedEntityNames)
	if err != nil {
		return MergePlan{}, fmt.Errorf("marshal added entities: %w", err)
	}

	displayJSON, err := json.Marshal(mergeDisplayEntities(existing.Doc.DisplayEntities, incoming.DisplayEntities))
	if err != nil {
		return MergePlan{}, fmt.Errorf("marshal display entities: %w", err)
	}

	return MergePlan{
		ArticleID:       existing.ArticleID,
		ArticleUUID:     existing.ArticleUUID,
		Slug:            existing.Slug,
		Title:           incoming.Title,
		Summary:         incoming.Summary,
		FullText:        incoming.FullText,
		DisplayEntities: displayJSON,
		UpdatedAt:       occurredAt,
		AddedCVEs:       addedCVEs,
		AddedEntities:   addedEntities,
		History: HistoryEntry{
			EntryKey:      historyEntryKey(existing.ArticleUUID, ruling.ChangeSummary, addedCVEIDs, addedEntityNames),
			OccurredAt:    occurredAt,
			ChangeSummary: strings.TrimSpace(ruling.ChangeSummary),
			AddedEntities: entitiesJSON,
			AddedCVEs:     cvesJSON,
			SeverityDelta: ruling.SeverityDelta,
		},
	}, nil
}

// historyEntryKey hashes the adjudication payload content, deliberately
// excluding timestamps: a retried merge with the same payload produces the
// same key and the unique constraint swallows the duplicate.
func historyEntryKey(articleUUID, changeSummary string, addedCVEIDs, addedEntityNames []string) []byte {
	h := sha256.New()
	h.Write([]byte(articleUUID))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(changeSummary)))
	for _, id := range addedCVEIDs {
		h.Write([]byte{0})
		h.Write([]byte(id))
	}
	for _, name := range addedEntityNames {
		h.Write([]byte{0})
		h.Write([]byte(name))
	}
	return h.Sum(nil)
}

func diffCVEs(existing, incoming extract.Document) []extract.CVE {
	var added []extract.CVE
	for id, cve := range incoming.CVEs {
		if _, ok := existing.CVEs[id]; !ok {
			added = append(added, cve)
		}
	}
	sort.Slice(added, func(i, j int) bool { return added[i].ID < added[j].ID })
	return added
}

func diffEntities(existing, incoming extract.Document) []EntityRef {
	var added []EntityRef
	for _, entityType := range extract.IndexedEntityTypes {
		existingNames := existing.Entities[entityType]
		for name := range incoming.Entities[entityType] {
			if _, ok := existingNames[name]; !ok {
				added = append(added, EntityRef{Type: entityType, Name: name})
			}
		}
	}
	sort.Slice(added, func(i, j int) bool {
		if added[i].Type != added[j].Type {
			return added[i].Type < added[j].Type
		}
		return added[i].Name < added[j].Name
	})
	return added
}

func mergeDisplayEntities(existing, incoming []payloadschema.EntityTag) []payloadschema.EntityTag {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged := make([]payloadschema.EntityTag, 0, len(existing)+len(incoming))
	for _, tag := range append(append([]payloadschema.EntityTag{}, existing...), incoming...) {
		key := strings.ToLower(tag.Type) + ":" + strings.ToLower(tag.Name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, tag)
	}
	return merged
}

// NewSlug derives a stable URL slug from the title plus a short uuid suffix
// so near-identical titles never collide.
func NewSlug(title string, id uuid.UUID) string {
	normalized := extract.NormalizeText(title)
	var b strings.Builder
	lastDash := true
	for _, r := range normalized {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 80 {
		slug = strings.Trim(slug[:80], "-")
	}
	suffix := strings.Split(id.String(), "-")[0]
	if slug == "" {
		return suffix
	}
	return slug + "-" + suffix
}
