// Package index maintains the durable entity/CVE index over canonical
// articles and answers windowed overlap queries for candidate retrieval.
// Rows are only ever added or re-written per article; history is never
// trimmed, visibility is restricted purely by the query window.
package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vulnwire/vulnwire/internal/db"
	"github.com/vulnwire/vulnwire/internal/extract"
)

// Overlap is the transient per-article result of a window query: how many
// CVEs and entities of each type the historical article shares with the
// incoming one. Never persisted.
type Overlap struct {
	ArticleID     int64
	PublishedAt   time.Time
	CVEOverlap    int
	EntityOverlap map[extract.EntityType]int
}

// TotalEntityOverlap sums shared entities across all indexed types.
func (o Overlap) TotalEntityOverlap() int {
	total := 0
	for _, n := range o.EntityOverlap {
		total += n
	}
	return total
}

// HighValueOverlap counts shared threat_actor and malware entities.
func (o Overlap) HighValueOverlap() int {
	return o.EntityOverlap[extract.TypeThreatActor] + o.EntityOverlap[extract.TypeMalware]
}

// WindowBounds returns the half-open publication window [from, to) for a
// query executed on the given day. to is that day's UTC midnight, so
// same-day articles are excluded and an article can never match itself.
func WindowBounds(today time.Time, windowDays int) (from, to time.Time) {
	to = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	from = to.AddDate(0, 0, -windowDays)
	return from, to
}

// Insert writes the document's CVE and entity rows for an article id.
// Re-indexing the same article overwrites its previous rows, so the call is
// idempotent per id. A document with no CVEs or entities inserts fine and is
// simply unreachable by any query.
func Insert(ctx context.Context, tx db.Tx, articleID int64, doc extract.Document) error {
	if _, err := tx.Exec(ctx, `DELETE FROM news.article_cves WHERE article_id = $1`, articleID); err != nil {
		return fmt.Errorf("clear cve rows article_id=%d: %w", articleID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM news.article_entities WHERE article_id = $1`, articleID); err != nil {
		return fmt.Errorf("clear entity rows article_id=%d: %w", articleID, err)
	}

	const insertCVE = `
INSERT INTO news.article_cves (article_id, cve_id, cvss_score, severity, known_exploited)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (article_id, cve_id) DO NOTHING
`
	for _, cve := range doc.CVEs {
		if _, err := tx.Exec(ctx, insertCVE, articleID, cve.ID, cve.CVSSScore, cve.Severity, cve.KnownExploited); err != nil {
			return fmt.Errorf("insert cve %s article_id=%d: %w", cve.ID, articleID, err)
		}
	}

	const insertEntity = `
INSERT INTO news.article_entities (article_id, entity_type, name)
VALUES ($1, $2, $3)
ON CONFLICT (article_id, entity_type, name) DO NOTHING
`
	for _, entityType := range extract.IndexedEntityTypes {
		for name := range doc.Entities[entityType] {
			if _, err := tx.Exec(ctx, insertEntity, articleID, string(entityType), name); err != nil {
				return fmt.Errorf("insert entity %s/%s article_id=%d: %w", entityType, name, articleID, err)
			}
		}
	}

	return nil
}

// Query returns overlap counts for every historical article that shares at
// least one CVE or indexed entity with the document, restricted to the
// publication window.
func Query(ctx context.Context, tx db.Tx, doc extract.Document, today time.Time, windowDays int) ([]Overlap, error) {
	from, to := WindowBounds(today, windowDays)
	byArticle := make(map[int64]*Overlap)

	cveIDs := make([]string, 0, len(doc.CVEs))
	for id := range doc.CVEs {
		cveIDs = append(cveIDs, id)
	}
	if len(cveIDs) > 0 {
		if err := queryCVEOverlaps(ctx, tx, cveIDs, from, to, byArticle); err != nil {
			return nil, err
		}
	}

	entityKeys := make([]string, 0)
	for _, entityType := range extract.IndexedEntityTypes {
		for name := range doc.Entities[entityType] {
			entityKeys = append(entityKeys, entityKey(string(entityType), name))
		}
	}
	if len(entityKeys) > 0 {
		if err := queryEntityOverlaps(ctx, tx, entityKeys, from, to, byArticle); err != nil {
			return nil, err
		}
	}

	overlaps := make([]Overlap, 0, len(byArticle))
	for _, overlap := range byArticle {
		overlaps = append(overlaps, *overlap)
	}
	return overlaps, nil
}

func queryCVEOverlaps(ctx context.Context, tx db.Tx, cveIDs []string, from, to time.Time, byArticle map[int64]*Overlap) error {
	q := fmt.Sprintf(`
SELECT ac.article_id, a.published_at, COUNT(DISTINCT ac.cve_id)
FROM news.article_cves ac
JOIN news.articles a ON a.article_id = ac.article_id
WHERE ac.cve_id IN (%s)
  AND a.published_at >= ?
  AND a.published_at < ?
GROUP BY ac.article_id, a.published_at
`, placeholders(len(cveIDs)))

	args := make([]any, 0, len(cveIDs)+2)
	for _, id := range cveIDs {
		args = append(args, id)
	}
	args = append(args, from, to)

	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("query cve overlaps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var articleID int64
		var publishedAt time.Time
		var count int
		if err := rows.Scan(&articleID, &publishedAt, &count); err != nil {
			return fmt.Errorf("scan cve overlap: %w", err)
		}
		overlap := ensureOverlap(byArticle, articleID, publishedAt)
		overlap.CVEOverlap = count
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate cve overlaps: %w", err)
	}
	return nil
}

func queryEntityOverlaps(ctx context.Context, tx db.Tx, entityKeys []string, from, to time.Time, byArticle map[int64]*Overlap) error {
	q := fmt.Sprintf(`
SELECT ae.article_id, a.published_at, ae.entity_type, COUNT(DISTINCT ae.name)
FROM news.article_entities ae
JOIN news.articles a ON a.article_id = ae.article_id
WHERE (ae.entity_type || ':' || ae.name) IN (%s)
  AND a.published_at >= ?
  AND a.published_at < ?
GROUP BY ae.article_id, a.published_at, ae.entity_type
`, placeholders(len(entityKeys)))

	args := make([]any, 0, len(entityKeys)+2)
	for _, key := range entityKeys {
		args = append(args, key)
	}
	args = append(args, from, to)

	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("query entity overlaps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var articleID int64
		var publishedAt time.Time
		var entityType string
		var count int
		if err := rows.Scan(&articleID, &publishedAt, &entityType, &count); err != nil {
			return fmt.Errorf("scan entity overlap: %w", err)
		}
		overlap := ensureOverlap(byArticle, articleID, publishedAt)
		overlap.EntityOverlap[extract.EntityType(entityType)] = count
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate entity overlaps: %w", err)
	}
	return nil
}

func ensureOverlap(byArticle map[int64]*Overlap, articleID int64, publishedAt time.Time) *Overlap {
	if existing, ok := byArticle[articleID]; ok {
		return existing
	}
	overlap := &Overlap{
		ArticleID:     articleID,
		PublishedAt:   publishedAt.UTC(),
		EntityOverlap: make(map[extract.EntityType]int),
	}
	byArticle[articleID] = overlap
	return overlap
}

func entityKey(entityType, name string) string {
	return entityType + ":" + name
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
