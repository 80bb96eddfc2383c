package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vulnwire/vulnwire/internal/db"
)

type articleListFilter struct {
	Query    string
	CVE      string
	Entity   string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

type articleListItem struct {
	ArticleID   int64     `json:"article_id"`
	ArticleUUID string    `json:"article_uuid"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CVECount    int       `json:"cve_count"`
	UpdateCount int       `json:"update_count"`
}

type articleCVEItem struct {
	CVEID          string   `json:"cve_id"`
	CVSSScore      *float64 `json:"cvss_score,omitempty"`
	Severity       string   `json:"severity"`
	KnownExploited bool     `json:"known_exploited"`
}

type articleEntityItem struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type historyItem struct {
	OccurredAt    time.Time `json:"occurred_at"`
	ChangeSummary string    `json:"change_summary"`
	AddedEntities []string  `json:"added_entities,omitempty"`
	AddedCVEs     []string  `json:"added_cves,omitempty"`
	SeverityDelta *float64  `json:"severity_delta,omitempty"`
}

type articleDetail struct {
	Article         articleListItem     `json:"article"`
	FullText        string              `json:"full_text,omitempty"`
	CVEs            []articleCVEItem    `json:"cves"`
	Entities        []articleEntityItem `json:"entities"`
	DisplayEntities json.RawMessage     `json:"display_entities,omitempty"`
	History         []historyItem       `json:"history"`
}

func (s *Server) handleArticles(c echo.Context) error {
	page, err := parsePositiveInt(c.QueryParam("page"), 1, 1, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"page": err.Error()})
	}
	pageSize, err := parsePositiveInt(c.QueryParam("page_size"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"page_size": err.Error()})
	}

	from, err := parseTimeFilter(c.QueryParam("from"), false)
	if err != nil {
		return failValidation(c, map[string]string{"from": "must be RFC3339 or YYYY-MM-DD"})
	}
	to, err := parseTimeFilter(c.QueryParam("to"), true)
	if err != nil {
		return failValidation(c, map[string]string{"to": "must be RFC3339 or YYYY-MM-DD"})
	}
	if from != nil && to != nil && from.After(*to) {
		return failValidation(c, map[string]string{"time_range": "from must be <= to"})
	}

	filter := articleListFilter{
		Query:    strings.TrimSpace(c.QueryParam("q")),
		CVE:      strings.ToUpper(strings.TrimSpace(c.QueryParam("cve"))),
		Entity:   strings.ToLower(strings.TrimSpace(c.QueryParam("entity"))),
		From:     from,
		To:       to,
		Page:     page,
		PageSize: pageSize,
	}

	total, rows, err := s.queryArticleList(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("query articles failed")
		return internalError(c, "Failed to load articles")
	}

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}

	return success(c, map[string]any{
		"items": rows,
		"pagination": map[string]any{
			"page":        page,
			"page_size":   pageSize,
			"total_items": total,
			"total_pages": totalPages,
		},
		"filters": map[string]any{
			"q":      filter.Query,
			"cve":    filter.CVE,
			"entity": filter.Entity,
			"from":   filter.From,
			"to":     filter.To,
		},
	})
}

func (s *Server) handleArticleDetail(c echo.Context) error {
	slug := strings.TrimSpace(c.Param("slug"))
	if slug == "" {
		return failValidation(c, map[string]string{"slug": "is required"})
	}

	detail, err := s.queryArticleDetail(c.Request().Context(), slug)
	if err != nil {
		if errors.Is(err, errArticleNotFound) {
			return failNotFound(c, "Article not found")
		}
		s.logger.Error().Err(err).Str("slug", slug).Msg("query article detail failed")
		return internalError(c, "Failed to load article detail")
	}

	return success(c, detail)
}

func (s *Server) queryArticleList(ctx context.Context, filter articleListFilter) (int64, []articleListItem, error) {
	search := ""
	if filter.Query != "" {
		search = "%" + filter.Query + "%"
	}
	entitySearch := ""
	if filter.Entity != "" {
		entitySearch = "%" + filter.Entity + "%"
	}

	const countQuery = `
SELECT COUNT(*)
FROM news.articles a
WHERE ($1 = '' OR a.title ILIKE $1 OR a.summary ILIKE $1)
  AND ($2 = '' OR EXISTS (
      SELECT 1 FROM news.article_cves ac
      WHERE ac.article_id = a.article_id AND ac.cve_id = $2
  ))
  AND ($3 = '' OR EXISTS (
      SELECT 1 FROM news.article_entities ae
      WHERE ae.article_id = a.article_id AND ae.name ILIKE $3
  ))
  AND ($4::timestamptz IS NULL OR a.published_at >= $4)
  AND ($5::timestamptz IS NULL OR a.published_at <= $5)
`

	var total int64
	if err := s.pool.QueryRow(ctx, countQuery, search, filter.CVE, entitySearch, filter.From, filter.To).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("count articles: %w", err)
	}

	offset := (filter.Page - 1) * filter.PageSize

	const rowsQuery = `
SELECT
	a.article_id,
	a.article_uuid::text,
	a.slug,
	a.title,
	a.summary,
	a.source,
	a.published_at,
	a.updated_at,
	(SELECT COUNT(*) FROM news.article_cves ac WHERE ac.article_id = a.article_id) AS cve_count,
	(SELECT COUNT(*) FROM news.update_history uh WHERE uh.article_id = a.article_id) AS update_count
FROM news.articles a
WHERE ($1 = '' OR a.title ILIKE $1 OR a.summary ILIKE $1)
  AND ($2 = '' OR EXISTS (
      SELECT 1 FROM news.article_cves ac
      WHERE ac.article_id = a.article_id AND ac.cve_id = $2
  ))
  AND ($3 = '' OR EXISTS (
      SELECT 1 FROM news.article_entities ae
      WHERE ae.article_id = a.article_id AND ae.name ILIKE $3
  ))
  AND ($4::timestamptz IS NULL OR a.published_at >= $4)
  AND ($5::timestamptz IS NULL OR a.published_at <= $5)
ORDER BY a.published_at DESC, a.article_id DESC
LIMIT $6
OFFSET $7
`

	rows, err := s.pool.Query(ctx, rowsQuery, search, filter.CVE, entitySearch, filter.From, filter.To, filter.PageSize, offset)
	if err != nil {
		return 0, nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	items := make([]articleListItem, 0, filter.PageSize)
	for rows.Next() {
		var row articleListItem
		if err := rows.Scan(
			&row.ArticleID,
			&row.ArticleUUID,
			&row.Slug,
			&row.Title,
			&row.Summary,
			&row.Source,
			&row.PublishedAt,
			&row.UpdatedAt,
			&row.CVECount,
			&row.UpdateCount,
		); err != nil {
			return 0, nil, fmt.Errorf("scan article row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate article rows: %w", err)
	}

	return total, items, nil
}

func (s *Server) queryArticleDetail(ctx context.Context, slug string) (*articleDetail, error) {
	const articleQuery = `
SELECT
	a.article_id,
	a.article_uuid::text,
	a.slug,
	a.title,
	a.summary,
	a.full_text,
	a.source,
	a.published_at,
	a.updated_at,
	a.display_entities
FROM news.articles a
WHERE a.slug = $1
`

	var (
		detail      articleDetail
		displayJSON []byte
	)
	if err := s.pool.QueryRow(ctx, articleQuery, slug).Scan(
		&detail.Article.ArticleID,
		&detail.Article.ArticleUUID,
		&detail.Article.Slug,
		&detail.Article.Title,
		&detail.Article.Summary,
		&detail.FullText,
		&detail.Article.Source,
		&detail.Article.PublishedAt,
		&detail.Article.UpdatedAt,
		&displayJSON,
	); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, errArticleNotFound
		}
		return nil, fmt.Errorf("query article: %w", err)
	}
	if len(displayJSON) > 0 && string(displayJSON) != "null" {
		detail.DisplayEntities = json.RawMessage(displayJSON)
	}

	const cveQuery = `
SELECT cve_id, cvss_score, severity, known_exploited
FROM news.article_cves
WHERE article_id = $1
ORDER BY cve_id
`
	cveRows, err := s.pool.Query(ctx, cveQuery, detail.Article.ArticleID)
	if err != nil {
		return nil, fmt.Errorf("query article cves: %w", err)
	}
	defer cveRows.Close()
	detail.CVEs = make([]articleCVEItem, 0, 4)
	for cveRows.Next() {
		var item articleCVEItem
		if err := cveRows.Scan(&item.CVEID, &item.CVSSScore, &item.Severity, &item.KnownExploited); err != nil {
			return nil, fmt.Errorf("scan article cve: %w", err)
		}
		detail.CVEs = append(detail.CVEs, item)
	}
	if err := cveRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate article cves: %w", err)
	}
	detail.Article.CVECount = len(detail.CVEs)

	const entityQuery = `
SELECT entity_type, name
FROM news.article_entities
WHERE article_id = $1
ORDER BY entity_type, name
`
	entityRows, err := s.pool.Query(ctx, entityQuery, detail.Article.ArticleID)
	if err != nil {
		return nil, fmt.Errorf("query article entities: %w", err)
	}
	defer entityRows.Close()
	detail.Entities = make([]articleEntityItem, 0, 8)
	for entityRows.Next() {
		var item articleEntityItem
		if err := entityRows.Scan(&item.Type, &item.Name); err != nil {
			return nil, fmt.Errorf("scan article entity: %w", err)
		}
		detail.Entities = append(detail.Entities, item)
	}
	if err := entityRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate article entities: %w", err)
	}

	history, err := s.queryArticleHistory(ctx, detail.Article.ArticleID)
	if err != nil {
		return nil, err
	}
	detail.History = history
	detail.Article.UpdateCount = len(history)

	return &detail, nil
}

func (s *Server) queryArticleHistory(ctx context.Context, articleID int64) ([]historyItem, error) {
	const q = `
SELECT occurred_at, change_summary, added_entities, added_cves, severity_delta
FROM news.update_history
WHERE article_id = $1
ORDER BY occurred_at DESC, entry_id DESC
`
	rows, err := s.pool.Query(ctx, q, articleID)
	if err != nil {
		return nil, fmt.Errorf("query update history: %w", err)
	}
	defer rows.Close()

	items := make([]historyItem, 0, 4)
	for rows.Next() {
		var (
			item         historyItem
			entitiesJSON []byte
			cvesJSON     []byte
		)
		if err := rows.Scan(&item.OccurredAt, &item.ChangeSummary, &entitiesJSON, &cvesJSON, &item.SeverityDelta); err != nil {
			return nil, fmt.Errorf("scan update history entry: %w", err)
		}
		if len(entitiesJSON) > 0 {
			_ = json.Unmarshal(entitiesJSON, &item.AddedEntities)
		}
		if len(cvesJSON) > 0 {
			_ = json.Unmarshal(cvesJSON, &item.AddedCVEs)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate update history: %w", err)
	}
	return items, nil
}
