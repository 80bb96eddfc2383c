package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// weightSumTolerance absorbs float decoding noise; anything further from 1.0
// is a misconfiguration and refuses to start.
const weightSumTolerance = 1e-9

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"VW_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"VW_DB_MAX_CONNS" default:"8"`

	LookbackDays    int     `envconfig:"VW_LOOKBACK_DAYS" default:"30"`
	CandidateCap    int     `envconfig:"VW_CANDIDATE_CAP" default:"50"`
	NewThreshold    float64 `envconfig:"VW_NEW_THRESHOLD" default:"0.35"`
	UpdateThreshold float64 `envconfig:"VW_UPDATE_THRESHOLD" default:"0.70"`

	WeightCVE         float64 `envconfig:"VW_WEIGHT_CVE" default:"0.40"`
	WeightText        float64 `envconfig:"VW_WEIGHT_TEXT" default:"0.20"`
	WeightThreatActor float64 `envconfig:"VW_WEIGHT_THREAT_ACTOR" default:"0.12"`
	WeightMalware     float64 `envconfig:"VW_WEIGHT_MALWARE" default:"0.12"`
	WeightProduct     float64 `envconfig:"VW_WEIGHT_PRODUCT" default:"0.08"`
	WeightCompany     float64 `envconfig:"VW_WEIGHT_COMPANY" default:"0.08"`

	ResolveWorkers int `envconfig:"VW_RESOLVE_WORKERS" default:"4"`

	AnthropicAPIKey         string  `envconfig:"ANTHROPIC_API_KEY" default:""`
	AdjudicationModel       string  `envconfig:"VW_ADJUDICATION_MODEL" default:"claude-3-5-haiku-latest"`
	AdjudicationTimeoutSecs int     `envconfig:"VW_ADJUDICATION_TIMEOUT_SECS" default:"45"`
	AdjudicationFallback    string  `envconfig:"VW_ADJUDICATION_FALLBACK" default:"new"`
	AdjudicationRatePerSec  float64 `envconfig:"VW_ADJUDICATION_RATE_PER_SEC" default:"0.5"`
	AdjudicationBurst       int     `envconfig:"VW_ADJUDICATION_BURST" default:"1"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("VW_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("VW_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("VW_DB_MIN_CONNS (%d) cannot exceed VW_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.LookbackDays < 1 {
		return fmt.Errorf("VW_LOOKBACK_DAYS must be >= 1")
	}
	if c.CandidateCap < 1 {
		return fmt.Errorf("VW_CANDIDATE_CAP must be >= 1")
	}
	if c.NewThreshold <= 0 || c.NewThreshold >= 1 {
		return fmt.Errorf("VW_NEW_THRESHOLD must be in (0, 1)")
	}
	if c.UpdateThreshold <= c.NewThreshold || c.UpdateThreshold > 1 {
		return fmt.Errorf("VW_UPDATE_THRESHOLD must be in (VW_NEW_THRESHOLD, 1]")
	}
	if err := c.validateWeights(); err != nil {
		return err
	}
	if c.ResolveWorkers < 1 {
		return fmt.Errorf("VW_RESOLVE_WORKERS must be >= 1")
	}
	if c.AdjudicationTimeoutSecs < 1 {
		return fmt.Errorf("VW_ADJUDICATION_TIMEOUT_SECS must be >= 1")
	}
	switch strings.ToLower(strings.TrimSpace(c.AdjudicationFallback)) {
	case "new", "skip":
	default:
		return fmt.Errorf("VW_ADJUDICATION_FALLBACK must be one of: new, skip")
	}
	if c.AdjudicationRatePerSec <= 0 {
		return fmt.Errorf("VW_ADJUDICATION_RATE_PER_SEC must be > 0")
	}
	if c.AdjudicationBurst < 1 {
		return fmt.Errorf("VW_ADJUDICATION_BURST must be >= 1")
	}
	return nil
}

func (c *Config) validateWeights() error {
	for name, w := range map[string]float64{
		"VW_WEIGHT_CVE":          c.WeightCVE,
		"VW_WEIGHT_TEXT":         c.WeightText,
		"VW_WEIGHT_THREAT_ACTOR": c.WeightThreatActor,
		"VW_WEIGHT_MALWARE":      c.WeightMalware,
		"VW_WEIGHT_PRODUCT":      c.WeightProduct,
		"VW_WEIGHT_COMPANY":      c.WeightCompany,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s must be in [0, 1], got %v", name, w)
		}
	}

	sum := c.WeightCVE + c.WeightText + c.WeightThreatActor + c.WeightMalware + c.WeightProduct + c.WeightCompany
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("similarity weights must sum to 1.0, got %v", sum)
	}
	return nil
}
