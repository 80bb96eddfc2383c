// Package ingest appends validated article candidate payloads to the
// append-only arrival ledger. Each call is tracked as an ingest run;
// duplicate payloads (same source, item id and payload hash) are absorbed
// without a second ledger row.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vulnwire/vulnwire/internal/db"
	"github.com/vulnwire/vulnwire/internal/globaltime"
)

const maxIngestErrorLength = 4000

type Service struct {
	pool   *db.Pool
	logger zerolog.Logger
}

type Request struct {
	Source            string
	SourceItemID      string
	SourcePublishedAt *time.Time
	RawPayload        json.RawMessage
}

type Result struct {
	RunID          int64
	RunUUID        string
	RawArrivalID   *int64
	RawArrivalUUID *string
	Inserted       bool
	PayloadHashHex string
	Status         string
}

func NewService(pool *db.Pool, logger zerolog.Logger) *Service {
	return &Service{
		pool:   pool,
		logger: logger,
	}
}

// IngestOne records a single candidate payload. The payload is canonicalized
// before hashing so formatting differences do not defeat idempotency.
func (s *Service) IngestOne(ctx context.Context, req Request) (Result, error) {
	if s == nil || s.pool == nil {
		return Result{}, fmt.Errorf("ingest service is not initialized")
	}

	source := strings.TrimSpace(req.Source)
	if source == "" {
		return Result{}, fmt.Errorf("source is required")
	}
	sourceItemID := strings.TrimSpace(req.SourceItemID)
	if sourceItemID == "" {
		return Result{}, fmt.Errorf("source_item_id is required")
	}

	payloadCanonical, err := canonicalizeJSON(req.RawPayload)
	if err != nil {
		return Result{}, fmt.Errorf("canonicalize raw payload: %w", err)
	}
	payloadHash := sha256.Sum256(payloadCanonical)

	runStart := globaltime.UTC()
	runID, runUUID, err := s.insertRun(ctx, source, runStart)
	if err != nil {
		return Result{}, fmt.Errorf("insert ingest run: %w", err)
	}

	insertResult, ingestErr := s.insertArrivalTx(
		ctx,
		runID,
		source,
		sourceItemID,
		normalizeNullableTime(req.SourcePublishedAt),
		string(payloadCanonical),
		payloadHash[:],
		globaltime.UTC(),
	)
	if ingestErr != nil {
		failedAt := globaltime.UTC()
		if markErr := s.markRunFailed(ctx, runID, ingestErr, failedAt); markErr != nil {
			return Result{}, fmt.Errorf("ingest tx failed (%v); failed to mark run failed: %w", ingestErr, markErr)
		}
		return Result{}, ingestErr
	}

	itemsInserted := 0
	if insertResult.inserted {
		itemsInserted = 1
	}

	finishedAt := globaltime.UTC()
	if err := s.markRunCompleted(ctx, runID, itemsInserted, finishedAt); err != nil {
		return Result{}, fmt.Errorf("mark ingest run completed: %w", err)
	}

	s.logger.Info().
		Int64("run_id", runID).
		Str("source", source).
		Str("source_item_id", sourceItemID).
		Bool("inserted", insertResult.inserted).
		Msg("ingest completed")

	return Result{
		RunID:          runID,
		RunUUID:        runUUID,
		RawArrivalID:   insertResult.rawArrivalID,
		RawArrivalUUID: insertResult.rawArrivalUUID,
		Inserted:       insertResult.inserted,
		PayloadHashHex: hex.EncodeToString(payloadHash[:]),
		Status:         "completed",
	}, nil
}

type insertTxResult struct {
	rawArrivalID   *int64
	rawArrivalUUID *string
	inserted       bool
}

func (s *Service) insertRun(ctx context.Context, source string, runStart time.Time) (int64, string, error) {
	const q = `
INSERT INTO news.ingest_runs (
	source,
	started_at,
	status,
	items_fetched,
	items_inserted,
	created_at,
	updated_at
)
VALUES ($1, $2, 'running', 0, 0, $2, $2)
RETURNING run_id, run_uuid
`
	var runID int64
	var runUUID string
	err := s.pool.QueryRow(ctx, q, source, runStart).Scan(&runID, &runUUID)
	if err != nil {
		return 0, "", err
	}
	return runID, runUUID, nil
}

func (s *Service) insertArrivalTx(
	ctx context.Context,
	runID int64,
	source string,
	sourceItemID string,
	sourcePublishedAt *time.Time,
	rawPayload string,
	payloadHash []byte,
	now time.Time,
) (insertTxResult, error) {
	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return insertTxResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const insertRaw = `
INSERT INTO news.raw_arrivals (
	run_id,
	source,
	source_item_id,
	source_published_at,
	fetched_at,
	raw_payload,
	payload_hash,
	created_at
)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $5)
ON CONFLICT (source, source_item_id, payload_hash) DO NOTHING
RETURNING raw_arrival_id, raw_arrival_uuid
`
	var rawArrivalID int64
	var rawArrivalUUID string
	inserted := true
	err = tx.QueryRow(ctx, insertRaw, runID, source, sourceItemID, sourcePublishedAt, now, rawPayload, payloadHash).
		Scan(&rawArrivalID, &rawArrivalUUID)
	if err != nil {
		if db.IsNoRows(err) {
			inserted = false
		} else {
			return insertTxResult{}, fmt.Errorf("insert raw_arrivals: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return insertTxResult{}, fmt.Errorf("commit transaction: %w", err)
	}

	if !inserted {
		return insertTxResult{inserted: false}, nil
	}
	return insertTxResult{
		rawArrivalID:   &rawArrivalID,
		rawArrivalUUID: &rawArrivalUUID,
		inserted:       true,
	}, nil
}

func (s *Service) markRunCompleted(ctx context.Context, runID int64, itemsInserted int, finishedAt time.Time) error {
	const q = `
UPDATE news.ingest_runs
SET
	status = 'completed',
	items_fetched = 1,
	items_inserted = $2,
	finished_at = $3,
	updated_at = $3,
	error_message = NULL
WHERE run_id = $1
`
	_, err := s.pool.Exec(ctx, q, runID, itemsInserted, finishedAt)
	return err
}

func (s *Service) markRunFailed(ctx context.Context, runID int64, cause error, finishedAt time.Time) error {
	const q = `
UPDATE news.ingest_runs
SET
	status = 'failed',
	error_message = $2,
	finished_at = $3,
	updated_at = $3
WHERE run_id = $1
`
	msg := strings.TrimSpace(cause.Error())
	if len(msg) > maxIngestErrorLength {
		msg = msg[:maxIngestErrorLength]
	}

	_, err := s.pool.Exec(ctx, q, runID, msg, finishedAt)
	return err
}

func canonicalizeJSON(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("JSON payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("JSON contains trailing content")
	}

	canonical, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical JSON: %w", err)
	}
	return canonical, nil
}

func normalizeNullableTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	normalized := t.UTC()
	return &normalized
}
