package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

type resolutionItem struct {
	ResolutionEventID int64           `json:"resolution_event_id"`
	RawArrivalID      int64           `json:"raw_arrival_id"`
	Decision          string          `json:"decision"`
	ArticleSlug       *string         `json:"article_slug,omitempty"`
	MatchedSlug       *string         `json:"matched_slug,omitempty"`
	TotalScore        *float64        `json:"total_score,omitempty"`
	ScoreBreakdown    json.RawMessage `json:"score_breakdown,omitempty"`
	Reasoning         *string         `json:"reasoning,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

func (s *Server) handleResolutions(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), 50, 1, 500)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	decision := strings.TrimSpace(strings.ToLower(c.QueryParam("decision")))
	switch decision {
	case "", "new", "update", "skip", "rejected":
	default:
		return failValidation(c, map[string]string{"decision": "must be one of: new, update, skip, rejected"})
	}

	items, err := s.queryResolutions(c.Request().Context(), decision, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("decision", decision).Msg("query resolutions failed")
		return internalError(c, "Failed to load resolutions")
	}

	return success(c, map[string]any{
		"items":    items,
		"decision": decision,
		"limit":    limit,
	})
}

func (s *Server) queryResolutions(ctx context.Context, decision string, limit int) ([]resolutionItem, error) {
	const q = `
SELECT
	re.resolution_event_id,
	re.raw_arrival_id,
	re.decision,
	a.slug,
	m.slug,
	re.total_score,
	re.score_breakdown,
	re.reasoning,
	re.created_at
FROM news.resolution_events re
LEFT JOIN news.articles a ON a.article_id = re.article_id
LEFT JOIN news.articles m ON m.article_id = re.matched_article_id
WHERE ($1 = '' OR re.decision = $1)
ORDER BY re.created_at DESC, re.resolution_event_id DESC
LIMIT $2
`

	rows, err := s.pool.Query(ctx, q, decision, limit)
	if err != nil {
		return nil, fmt.Errorf("query resolution events: %w", err)
	}
	defer rows.Close()

	items := make([]resolutionItem, 0, limit)
	for rows.Next() {
		var (
			item          resolutionItem
			breakdownJSON []byte
		)
		if err := rows.Scan(
			&item.ResolutionEventID,
			&item.RawArrivalID,
			&item.Decision,
			&item.ArticleSlug,
			&item.MatchedSlug,
			&item.TotalScore,
			&breakdownJSON,
			&item.Reasoning,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan resolution event: %w", err)
		}
		if len(breakdownJSON) > 0 && string(breakdownJSON) != "null" {
			item.ScoreBreakdown = json.RawMessage(breakdownJSON)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolution events: %w", err)
	}
	return items, nil
}
