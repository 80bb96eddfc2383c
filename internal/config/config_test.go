package config

import (
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		Environment:             "local",
		LogLevel:                "info",
		DatabaseURL:             "postgres://localhost/vulnwire",
		DBMinConns:              1,
		DBMaxConns:              8,
		LookbackDays:            30,
		CandidateCap:            50,
		NewThreshold:            0.35,
		UpdateThreshold:         0.70,
		WeightCVE:               0.40,
		WeightText:              0.20,
		WeightThreatActor:       0.12,
		WeightMalware:           0.12,
		WeightProduct:           0.08,
		WeightCompany:           0.08,
		ResolveWorkers:          4,
		AdjudicationModel:       "claude-3-5-haiku-latest",
		AdjudicationTimeoutSecs: 45,
		AdjudicationFallback:    "new",
		AdjudicationRatePerSec:  0.5,
		AdjudicationBurst:       1,
	}
}

func TestValidate_Defaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_WeightsMustSumToOne(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.WeightCVE = 0.50

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected weight-sum validation error")
	}
	if !strings.Contains(err.Error(), "sum to 1.0") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_WeightOutOfRange(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.WeightText = -0.20
	cfg.WeightCVE = 0.80

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected negative weight to be rejected")
	}
}

func TestValidate_ThresholdOrdering(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.NewThreshold = 0.70
	cfg.UpdateThreshold = 0.35

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected inverted thresholds to be rejected")
	}
}

func TestValidate_FallbackPolicy(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.AdjudicationFallback = "merge"

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown fallback policy to be rejected")
	}

	cfg.AdjudicationFallback = "skip"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected skip fallback to be accepted, got %v", err)
	}
}

func TestValidate_LookbackAndCap(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.LookbackDays = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected zero lookback to be rejected")
	}

	cfg = validConfig()
	cfg.CandidateCap = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected zero candidate cap to be rejected")
	}
}
