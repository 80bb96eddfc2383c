package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vulnwire/vulnwire/internal/db"
	"github.com/vulnwire/vulnwire/internal/extract"
	"github.com/vulnwire/vulnwire/internal/index"
)

// PendingArrival is one unresolved ledger row pulled for a run.
type PendingArrival struct {
	RawArrivalID int64
	Source       string
	SourceItemID string
	RawPayload   json.RawMessage
}

// fetchPendingArrivals returns arrivals with no resolution event yet, in
// ledger order. Ledger order makes the run deterministic: two near-duplicate
// arrivals in the same batch resolve oldest-first, so the second one sees the
// article the first one registered.
func fetchPendingArrivals(ctx context.Context, pool *db.Pool, limit int) ([]PendingArrival, error) {
	const q = `
SELECT ra.raw_arrival_id, ra.source, ra.source_item_id, ra.raw_payload
FROM news.raw_arrivals ra
WHERE NOT EXISTS (
    SELECT 1 FROM news.resolution_events re
    WHERE re.raw_arrival_id = ra.raw_arrival_id
)
ORDER BY ra.raw_arrival_id
LIMIT $1
`
	rows, err := pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending arrivals: %w", err)
	}
	defer rows.Close()

	var pending []PendingArrival
	for rows.Next() {
		var arrival PendingArrival
		if err := rows.Scan(&arrival.RawArrivalID, &arrival.Source, &arrival.SourceItemID, &arrival.RawPayload); err != nil {
			return nil, fmt.Errorf("scan pending arrival: %w", err)
		}
		pending = append(pending, arrival)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending arrivals: %w", err)
	}
	return pending, nil
}

// loadCanonicalArticle reads an article together with its full indexed CVE
// and entity sets, reconstructed into a Document so it can be scored and
// merged against.
func loadCanonicalArticle(ctx context.Context, tx db.Tx, articleID int64) (CanonicalArticle, error) {
	const articleQuery = `
SELECT article_id, article_uuid, slug, title, summary, full_text,
       published_at, source, source_item_id, display_entities, created_at, updated_at
FROM news.articles
WHERE article_id = $1
`
	var (
		article     CanonicalArticle
		displayJSON []byte
	)
	err := tx.QueryRow(ctx, articleQuery, articleID).Scan(
		&article.ArticleID,
		&article.ArticleUUID,
		&article.Slug,
		&article.Title,
		&article.Summary,
		&article.FullText,
		&article.PublishedAt,
		&article.Doc.Source,
		&article.Doc.SourceItemID,
		&displayJSON,
		&article.CreatedAt,
		&article.UpdatedAt,
	)
	if err != nil {
		return CanonicalArticle{}, fmt.Errorf("load article %d: %w", articleID, err)
	}

	article.PublishedAt = article.PublishedAt.UTC()
	article.Doc.Title = article.Title
	article.Doc.Summary = article.Summary
	article.Doc.FullText = article.FullText
	article.Doc.PublishedAt = article.PublishedAt
	article.Doc.CVEs = make(map[string]extract.CVE)
	article.Doc.Entities = make(map[extract.EntityType]map[string]struct{})

	if len(displayJSON) > 0 {
		if err := json.Unmarshal(displayJSON, &article.Doc.DisplayEntities); err != nil {
			return CanonicalArticle{}, fmt.Errorf("decode display entities article %d: %w", articleID, err)
		}
	}

	const cveQuery = `
SELECT cve_id, cvss_score, severity, known_exploited
FROM news.article_cves
WHERE article_id = $1
`
	cveRows, err := tx.Query(ctx, cveQuery, articleID)
	if err != nil {
		return CanonicalArticle{}, fmt.Errorf("load cves article %d: %w", articleID, err)
	}
	defer cveRows.Close()
	for cveRows.Next() {
		var cve extract.CVE
		if err := cveRows.Scan(&cve.ID, &cve.CVSSScore, &cve.Severity, &cve.KnownExploited); err != nil {
			return CanonicalArticle{}, fmt.Errorf("scan cve article %d: %w", articleID, err)
		}
		article.Doc.CVEs[cve.ID] = cve
	}
	if err := cveRows.Err(); err != nil {
		return CanonicalArticle{}, fmt.Errorf("iterate cves article %d: %w", articleID, err)
	}

	const entityQuery = `
SELECT entity_type, name
FROM news.article_entities
WHERE article_id = $1
`
	entityRows, err := tx.Query(ctx, entityQuery, articleID)
	if err != nil {
		return CanonicalArticle{}, fmt.Errorf("load entities article %d: %w", articleID, err)
	}
	defer entityRows.Close()
	for entityRows.Next() {
		var entityType, name string
		if err := entityRows.Scan(&entityType, &name); err != nil {
			return CanonicalArticle{}, fmt.Errorf("scan entity article %d: %w", articleID, err)
		}
		key := extract.EntityType(entityType)
		if article.Doc.Entities[key] == nil {
			article.Doc.Entities[key] = make(map[string]struct{})
		}
		article.Doc.Entities[key][name] = struct{}{}
	}
	if err := entityRows.Err(); err != nil {
		return CanonicalArticle{}, fmt.Errorf("iterate entities article %d: %w", articleID, err)
	}

	return article, nil
}

// insertArticleTx registers a fresh canonical record and its index rows.
// Identity (uuid and slug) is minted here and never changes afterwards.
func insertArticleTx(ctx context.Context, tx db.Tx, doc extract.Document, now time.Time) (int64, error) {
	articleUUID := uuid.New()
	slug := NewSlug(doc.Title, articleUUID)

	displayJSON, err := json.Marshal(doc.DisplayEntities)
	if err != nil {
		return 0, fmt.Errorf("marshal display entities: %w", err)
	}

	const q = `
INSERT INTO news.articles
    (article_uuid, slug, title, summary, full_text, published_at,
     source, source_item_id, display_entities, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $10)
RETURNING article_id
`
	var articleID int64
	err = tx.QueryRow(ctx, q,
		articleUUID.String(), slug, doc.Title, doc.Summary, doc.FullText,
		doc.PublishedAt, doc.Source, doc.SourceItemID, string(displayJSON), now,
	).Scan(&articleID)
	if err != nil {
		return 0, fmt.Errorf("insert article: %w", err)
	}

	if err := index.Insert(ctx, tx, articleID, doc); err != nil {
		return 0, err
	}
	return articleID, nil
}

// applyMergeTx commits a merge plan: scalar refresh on the article, set-union
// inserts for new CVE and entity rows, one history entry. Every insert rides
// on a unique constraint, so replaying the plan after a crashed commit
// changes nothing.
func applyMergeTx(ctx context.Context, tx db.Tx, plan MergePlan) error {
	const updateArticle = `
UPDATE news.articles
SET title = $2, summary = $3, full_text = $4, display_entities = $5::jsonb, updated_at = $6
WHERE article_id = $1
`
	tag, err := tx.Exec(ctx, updateArticle,
		plan.ArticleID, plan.Title, plan.Summary, plan.FullText,
		string(plan.DisplayEntities), plan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update article %d: %w", plan.ArticleID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update article %d: no row", plan.ArticleID)
	}

	const insertCVE = `
INSERT INTO news.article_cves (article_id, cve_id, cvss_score, severity, known_exploited)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (article_id, cve_id) DO NOTHING
`
	for _, cve := range plan.AddedCVEs {
		if _, err := tx.Exec(ctx, insertCVE, plan.ArticleID, cve.ID, cve.CVSSScore, cve.Severity, cve.KnownExploited); err != nil {
			return fmt.Errorf("merge cve %s article %d: %w", cve.ID, plan.ArticleID, err)
		}
	}

	const insertEntity = `
INSERT INTO news.article_entities (article_id, entity_type, name)
VALUES ($1, $2, $3)
ON CONFLICT (article_id, entity_type, name) DO NOTHING
`
	for _, ref := range plan.AddedEntities {
		if _, err := tx.Exec(ctx, insertEntity, plan.ArticleID, string(ref.Type), ref.Name); err != nil {
			return fmt.Errorf("merge entity %s/%s article %d: %w", ref.Type, ref.Name, plan.ArticleID, err)
		}
	}

	const insertHistory = `
INSERT INTO news.update_history
    (article_id, entry_key, occurred_at, change_summary, added_entities, added_cves, severity_delta)
VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7)
ON CONFLICT (article_id, entry_key) DO NOTHING
`
	if _, err := tx.Exec(ctx, insertHistory,
		plan.ArticleID, plan.History.EntryKey, plan.History.OccurredAt,
		plan.History.ChangeSummary, string(plan.History.AddedEntities),
		string(plan.History.AddedCVEs), plan.History.SeverityDelta,
	); err != nil {
		return fmt.Errorf("append history article %d: %w", plan.ArticleID, err)
	}

	return nil
}

// resolutionRecord is what insertResolutionEventTx persists about one
// decision.
type resolutionRecord struct {
	RawArrivalID     int64
	Decision         string
	ArticleID        *int64
	MatchedArticleID *int64
	TotalScore       *float64
	Breakdown        *Breakdown
	Reasoning        string
}

// insertResolutionEventTx writes the audit row that marks an arrival
// resolved. The unique constraint on raw_arrival_id is the serialization
// point: false means another writer already resolved this arrival and the
// caller must roll back its own work.
func insertResolutionEventTx(ctx context.Context, tx db.Tx, rec resolutionRecord, now time.Time) (bool, error) {
	var breakdownJSON *string
	if rec.Breakdown != nil {
		encoded, err := json.Marshal(rec.Breakdown)
		if err != nil {
			return false, fmt.Errorf("marshal score breakdown: %w", err)
		}
		text := string(encoded)
		breakdownJSON = &text
	}

	var reasoning *string
	if rec.Reasoning != "" {
		reasoning = &rec.Reasoning
	}

	const q = `
INSERT INTO news.resolution_events
    (raw_arrival_id, decision, article_id, matched_article_id, total_score, score_breakdown, reasoning, created_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
ON CONFLICT (raw_arrival_id) DO NOTHING
`
	tag, err := tx.Exec(ctx, q,
		rec.RawArrivalID, rec.Decision, rec.ArticleID, rec.MatchedArticleID,
		rec.TotalScore, breakdownJSON, reasoning, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert resolution event arrival %d: %w", rec.RawArrivalID, err)
	}
	return tag.RowsAffected() == 1, nil
}
