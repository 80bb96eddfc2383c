// Package adjudicate resolves ambiguous similarity results through an
// external capability (a language model by default). The engine never
// auto-commits a borderline match; it asks here first. Every implementation
// must bound its latency so one slow adjudication cannot stall a run beyond
// the configured timeout.
package adjudicate

import (
	"context"
	"fmt"
	"time"
)

// Decision is the adjudicator's verdict on an incoming/candidate pair.
type Decision string

const (
	// DecisionNew: related but distinct incident; register a fresh record.
	DecisionNew Decision = "new"
	// DecisionSkip: near-duplicate adding nothing; discard without mutation.
	DecisionSkip Decision = "skip"
	// DecisionUpdate: same story with new details; merge into the candidate.
	DecisionUpdate Decision = "update"
)

// Request carries both full article bodies plus the scoring context the
// adjudicator may weigh.
type Request struct {
	IncomingTitle   string
	IncomingBody    string
	IncomingDate    time.Time
	CandidateTitle  string
	CandidateBody   string
	CandidateDate   time.Time
	SharedCVEs      []string
	TotalScore      float64
	UpdateEligible  bool
}

// Ruling is the structured adjudication outcome. ChangeSummary and the
// added-set fields are only meaningful for DecisionUpdate.
type Ruling struct {
	Decision      Decision  `json:"decision"`
	ChangeSummary string    `json:"change_summary"`
	NewEntities   []string  `json:"new_entities"`
	NewCVEs       []string  `json:"new_cves"`
	SeverityDelta *float64  `json:"severity_delta"`
	DecidedAt     time.Time `json:"-"`
}

// Adjudicator is the external decision capability.
type Adjudicator interface {
	Adjudicate(ctx context.Context, req Request) (Ruling, error)
}

// Unconfigured stands in when no adjudication backend is available. Every
// call fails, which routes each ambiguous pair through the caller's fallback
// policy.
type Unconfigured struct{}

func (Unconfigured) Adjudicate(context.Context, Request) (Ruling, error) {
	return Ruling{}, fmt.Errorf("no adjudicator configured")
}
