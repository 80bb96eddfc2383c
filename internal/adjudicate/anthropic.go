package adjudicate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vulnwire/vulnwire/internal/globaltime"
)

const adjudicationMaxTokens = 1024

// AnthropicOptions configures the LLM-backed adjudicator.
type AnthropicOptions struct {
	APIKey     string
	Model      string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

// AnthropicAdjudicator calls the Anthropic Messages API with a bounded
// timeout and a client-side rate limit.
type AnthropicAdjudicator struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func NewAnthropicAdjudicator(opts AnthropicOptions, logger zerolog.Logger) (*AnthropicAdjudicator, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("adjudication model is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	ratePerSec := opts.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 0.5
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	return &AnthropicAdjudicator{
		client:  anthropic.NewClient(option.WithAPIKey(opts.APIKey)),
		model:   opts.Model,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		logger:  logger,
	}, nil
}

func (a *AnthropicAdjudicator) Adjudicate(ctx context.Context, req Request) (Ruling, error) {
	if a == nil {
		return Ruling{}, fmt.Errorf("adjudicator is not initialized")
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.limiter.Wait(callCtx); err != nil {
		return Ruling{}, fmt.Errorf("adjudication rate limit wait: %w", err)
	}

	prompt := buildPrompt(req)
	response, err := a.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: adjudicationMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Ruling{}, fmt.Errorf("anthropic adjudication call: %w", err)
	}

	var responseText string
	for _, block := range response.Content {
		if block.Type == "text" {
			responseText += block.Text
		}
	}

	ruling, err := ParseRuling(responseText)
	if err != nil {
		return Ruling{}, fmt.Errorf("parse adjudication response: %w", err)
	}
	ruling.DecidedAt = globaltime.UTC()

	a.logger.Debug().
		Str("decision", string(ruling.Decision)).
		Int64("input_tokens", response.Usage.InputTokens).
		Int64("output_tokens", response.Usage.OutputTokens).
		Msg("adjudication completed")

	return ruling, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are resolving whether two security news articles describe the same incident.\n\n")
	b.WriteString("EXISTING TRACKED ARTICLE\n")
	fmt.Fprintf(&b, "published: %s\n", req.CandidateDate.Format(time.RFC3339))
	fmt.Fprintf(&b, "title: %s\n", req.CandidateTitle)
	fmt.Fprintf(&b, "body:\n%s\n\n", req.CandidateBody)
	b.WriteString("INCOMING ARTICLE\n")
	fmt.Fprintf(&b, "published: %s\n", req.IncomingDate.Format(time.RFC3339))
	fmt.Fprintf(&b, "title: %s\n", req.IncomingTitle)
	fmt.Fprintf(&b, "body:\n%s\n\n", req.IncomingBody)
	if len(req.SharedCVEs) > 0 {
		fmt.Fprintf(&b, "Shared CVEs: %s\n", strings.Join(req.SharedCVEs, ", "))
	}
	fmt.Fprintf(&b, "Weighted similarity score: %.3f\n", req.TotalScore)
	if req.UpdateEligible {
		b.WriteString("The score is in the high-confidence band; prefer \"update\" or \"skip\" unless the articles clearly describe different incidents.\n")
	}
	b.WriteString("\nDecide one of:\n")
	b.WriteString("- \"update\": same incident, the incoming article adds new details worth merging\n")
	b.WriteString("- \"skip\": near-duplicate of the existing article, nothing new\n")
	b.WriteString("- \"new\": related but distinct incident (for example the same CVE hitting a different victim)\n\n")
	b.WriteString("Respond with ONLY a JSON object, no prose:\n")
	b.WriteString(`{"decision":"update|skip|new","change_summary":"one sentence describing what changed (empty unless update)","new_entities":["names newly introduced"],"new_cves":["CVE ids newly introduced"],"severity_delta":0.0}`)
	b.WriteString("\n")
	return b.String()
}
