// Package resolve implements the duplicate/update resolution engine: windowed
// candidate retrieval, weighted similarity scoring, threshold classification,
// adjudication of ambiguous pairs and canonical-record merging.
package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vulnwire/vulnwire/internal/adjudicate"
	"github.com/vulnwire/vulnwire/internal/config"
	"github.com/vulnwire/vulnwire/internal/db"
	"github.com/vulnwire/vulnwire/internal/extract"
	"github.com/vulnwire/vulnwire/internal/globaltime"
	"github.com/vulnwire/vulnwire/internal/index"
	payloadschema "github.com/vulnwire/vulnwire/schema"
)

// Recorded decision values in news.resolution_events. The borderline band
// never appears here: it always resolves to one of these through
// adjudication.
const (
	DecisionNew      = "new"
	DecisionUpdate   = "update"
	DecisionSkip     = "skip"
	DecisionRejected = "rejected"
)

// Fallback decisions applied when adjudication fails outright.
const (
	FallbackNew  = "new"
	FallbackSkip = "skip"
)

const defaultBatchLimit = 500

// Params are the tuning knobs of one resolution run.
type Params struct {
	WindowDays      int
	CandidateCap    int
	Thresholds      Thresholds
	Weights         Weights
	PrefetchWorkers int
	Fallback        string
}

// ParamsFromConfig lifts the validated configuration into run parameters.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		WindowDays:   cfg.LookbackDays,
		CandidateCap: cfg.CandidateCap,
		Thresholds: Thresholds{
			New:    cfg.NewThreshold,
			Update: cfg.UpdateThreshold,
		},
		Weights: Weights{
			CVE:         cfg.WeightCVE,
			Text:        cfg.WeightText,
			ThreatActor: cfg.WeightThreatActor,
			Malware:     cfg.WeightMalware,
			Product:     cfg.WeightProduct,
			Company:     cfg.WeightCompany,
		},
		PrefetchWorkers: cfg.ResolveWorkers,
		Fallback:        strings.ToLower(strings.TrimSpace(cfg.AdjudicationFallback)),
	}
}

// RunResult summarizes one resolution run.
type RunResult struct {
	Processed  int
	New        int
	Updates    int
	Skips      int
	Borderline int
	Rejected   int
}

// Service runs the resolution loop over pending arrivals.
type Service struct {
	pool        *db.Pool
	logger      zerolog.Logger
	adjudicator adjudicate.Adjudicator
	params      Params
}

func NewService(pool *db.Pool, logger zerolog.Logger, adjudicator adjudicate.Adjudicator, params Params) *Service {
	if params.WindowDays <= 0 {
		params.WindowDays = 30
	}
	if params.CandidateCap <= 0 {
		params.CandidateCap = DefaultCandidateCap
	}
	if params.Thresholds == (Thresholds{}) {
		params.Thresholds = DefaultThresholds
	}
	if params.Weights == (Weights{}) {
		params.Weights = DefaultWeights
	}
	if params.PrefetchWorkers <= 0 {
		params.PrefetchWorkers = 4
	}
	if params.Fallback != FallbackSkip {
		params.Fallback = FallbackNew
	}
	return &Service{
		pool:        pool,
		logger:      logger.With().Str("component", "resolve").Logger(),
		adjudicator: adjudicator,
		params:      params,
	}
}

// preparedArrival is a pending arrival after off-loop validation and
// normalization. A non-nil err marks it rejected.
type preparedArrival struct {
	arrival PendingArrival
	doc     extract.Document
	err     error
}

// ResolvePending processes up to limit pending arrivals and returns the run
// summary. Validation and extraction run concurrently up front; the
// resolve loop itself is sequential so every decision sees the articles the
// previous decisions committed.
func (s *Service) ResolvePending(ctx context.Context, limit int) (RunResult, error) {
	if limit <= 0 {
		limit = defaultBatchLimit
	}

	arrivals, err := fetchPendingArrivals(ctx, s.pool, limit)
	if err != nil {
		return RunResult{}, err
	}
	if len(arrivals) == 0 {
		s.logger.Info().Msg("no pending arrivals")
		return RunResult{}, nil
	}

	prepared := make([]preparedArrival, len(arrivals))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.params.PrefetchWorkers)
	for i, arrival := range arrivals {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			prepared[i] = prepareArrival(arrival)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return RunResult{}, fmt.Errorf("prepare arrivals: %w", err)
	}

	var result RunResult
	for _, item := range prepared {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.resolveOne(ctx, item, &result); err != nil {
			return result, fmt.Errorf("resolve arrival %d: %w", item.arrival.RawArrivalID, err)
		}
		result.Processed++
	}

	s.logger.Info().
		Int("processed", result.Processed).
		Int("new", result.New).
		Int("updates", result.Updates).
		Int("skips", result.Skips).
		Int("borderline", result.Borderline).
		Int("rejected", result.Rejected).
		Msg("resolution run complete")
	return result, nil
}

func prepareArrival(arrival PendingArrival) preparedArrival {
	candidate, err := payloadschema.ValidateArticleCandidatePayload(arrival.RawPayload)
	if err != nil {
		return preparedArrival{arrival: arrival, err: err}
	}
	doc, err := extract.FromCandidate(candidate)
	if err != nil {
		return preparedArrival{arrival: arrival, err: err}
	}
	return preparedArrival{arrival: arrival, doc: doc}
}

func (s *Service) resolveOne(ctx context.Context, item preparedArrival, result *RunResult) error {
	arrivalID := item.arrival.RawArrivalID
	log := s.logger.With().Int64("raw_arrival_id", arrivalID).Logger()

	if item.err != nil {
		log.Warn().Err(item.err).Msg("arrival rejected by validation")
		result.Rejected++
		return s.commitDecision(ctx, resolutionRecord{
			RawArrivalID: arrivalID,
			Decision:     DecisionRejected,
			Reasoning:    item.err.Error(),
		}, nil, nil)
	}

	best, candidates, err := s.findBestCandidate(ctx, item.doc)
	if err != nil {
		return err
	}

	if best == nil {
		log.Debug().Msg("no qualified candidates, registering new article")
		result.New++
		return s.commitDecision(ctx, resolutionRecord{
			RawArrivalID: arrivalID,
			Decision:     DecisionNew,
		}, &item.doc, nil)
	}

	class := Classify(best.Breakdown.Total, s.params.Thresholds)
	candidate := candidates[best.ArticleID]
	log = log.With().
		Int64("matched_article_id", best.ArticleID).
		Float64("total_score", best.Breakdown.Total).
		Str("class", string(class)).
		Logger()

	if class == ClassNew {
		log.Debug().Msg("best candidate below threshold, registering new article")
		result.New++
		return s.commitDecision(ctx, resolutionRecord{
			RawArrivalID:     arrivalID,
			Decision:         DecisionNew,
			MatchedArticleID: &best.ArticleID,
			TotalScore:       &best.Breakdown.Total,
			Breakdown:        &best.Breakdown,
		}, &item.doc, nil)
	}
	if class == ClassBorderline {
		result.Borderline++
	}

	ruling, reasoning := s.adjudicatePair(ctx, item.doc, candidate, best.Breakdown.Total, class == ClassUpdate, log)

	rec := resolutionRecord{
		RawArrivalID:     arrivalID,
		MatchedArticleID: &best.ArticleID,
		TotalScore:       &best.Breakdown.Total,
		Breakdown:        &best.Breakdown,
		Reasoning:        reasoning,
	}

	switch ruling.Decision {
	case adjudicate.DecisionSkip:
		log.Info().Msg("arrival skipped as near-duplicate")
		result.Skips++
		rec.Decision = DecisionSkip
		return s.commitDecision(ctx, rec, nil, nil)

	case adjudicate.DecisionUpdate:
		plan, err := BuildMergePlan(candidate, item.doc, ruling)
		if err != nil {
			return err
		}
		log.Info().Str("change_summary", plan.History.ChangeSummary).Msg("merging arrival into tracked article")
		result.Updates++
		rec.Decision = DecisionUpdate
		rec.ArticleID = &best.ArticleID
		return s.commitDecision(ctx, rec, nil, &plan)

	default:
		log.Info().Msg("arrival registered as distinct incident")
		result.New++
		rec.Decision = DecisionNew
		return s.commitDecision(ctx, rec, &item.doc, nil)
	}
}

// findBestCandidate runs the window query, qualifies and ranks the overlaps,
// loads the surviving candidates and scores them. Returns nil when nothing
// qualifies. The loaded candidate documents are returned so the caller does
// not re-read the winner.
func (s *Service) findBestCandidate(ctx context.Context, doc extract.Document) (*ScoredCandidate, map[int64]CanonicalArticle, error) {
	if doc.IsUnindexable() {
		return nil, nil, nil
	}

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("begin candidate read tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	overlaps, err := index.Query(ctx, tx, doc, globaltime.Today(), s.params.WindowDays)
	if err != nil {
		return nil, nil, err
	}

	ranked := QualifyCandidates(overlaps, s.params.CandidateCap)
	if len(ranked) == 0 {
		return nil, nil, nil
	}

	candidates := make(map[int64]CanonicalArticle, len(ranked))
	scored := make([]ScoredCandidate, 0, len(ranked))
	for _, rc := range ranked {
		candidate, err := loadCanonicalArticle(ctx, tx, rc.ArticleID)
		if err != nil {
			return nil, nil, err
		}
		candidates[rc.ArticleID] = candidate
		scored = append(scored, ScoredCandidate{
			ArticleID:   rc.ArticleID,
			PublishedAt: candidate.PublishedAt,
			Breakdown:   ScoreDocuments(doc, candidate.Doc, s.params.Weights),
		})
	}

	best, ok := BestCandidate(scored)
	if !ok {
		return nil, nil, nil
	}
	return &best, candidates, nil
}

// adjudicatePair asks the adjudicator, holding no database locks while it
// waits. A failed adjudication falls back to the configured conservative
// decision rather than aborting the run.
func (s *Service) adjudicatePair(ctx context.Context, incoming extract.Document, candidate CanonicalArticle, totalScore float64, updateEligible bool, log zerolog.Logger) (adjudicate.Ruling, string) {
	req := adjudicate.Request{
		IncomingTitle:  incoming.Title,
		IncomingBody:   bodyText(incoming),
		IncomingDate:   incoming.PublishedAt,
		CandidateTitle: candidate.Title,
		CandidateBody:  bodyText(candidate.Doc),
		CandidateDate:  candidate.PublishedAt,
		SharedCVEs:     SharedCVEs(incoming, candidate.Doc),
		TotalScore:     totalScore,
		UpdateEligible: updateEligible,
	}

	ruling, err := s.adjudicator.Adjudicate(ctx, req)
	if err == nil {
		if ruling.Decision == adjudicate.DecisionUpdate {
			return ruling, ruling.ChangeSummary
		}
		return ruling, ""
	}

	log.Warn().Err(err).Str("fallback", s.params.Fallback).Msg("adjudication failed, applying fallback")
	fallback := adjudicate.DecisionNew
	if s.params.Fallback == FallbackSkip {
		fallback = adjudicate.DecisionSkip
	}
	return adjudicate.Ruling{Decision: fallback, DecidedAt: globaltime.UTC()},
		fmt.Sprintf("adjudication failed (%v); fell back to %s", err, fallback)
}

// commitDecision writes one arrival's outcome in a single transaction:
// optionally a new article, optionally a merge, always the resolution event.
// If another writer already resolved this arrival the whole transaction rolls
// back and the other writer's outcome stands.
func (s *Service) commitDecision(ctx context.Context, rec resolutionRecord, newDoc *extract.Document, plan *MergePlan) error {
	now := globaltime.UTC()

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if newDoc != nil {
		articleID, err := insertArticleTx(ctx, tx, *newDoc, now)
		if err != nil {
			return err
		}
		rec.ArticleID = &articleID
	}
	if plan != nil {
		if err := applyMergeTx(ctx, tx, *plan); err != nil {
			return err
		}
	}

	inserted, err := insertResolutionEventTx(ctx, tx, rec, now)
	if err != nil {
		return err
	}
	if !inserted {
		s.logger.Warn().
			Int64("raw_arrival_id", rec.RawArrivalID).
			Msg("arrival already resolved by another writer, discarding")
		return nil
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit resolution arrival %d: %w", rec.RawArrivalID, err)
	}
	return nil
}
