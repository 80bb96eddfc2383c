package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vulnwire/vulnwire/internal/adjudicate"
	"github.com/vulnwire/vulnwire/internal/cli"
	"github.com/vulnwire/vulnwire/internal/config"
	"github.com/vulnwire/vulnwire/internal/db"
	"github.com/vulnwire/vulnwire/internal/logging"
	"github.com/vulnwire/vulnwire/internal/resolve"
)

func runResolve(args []string) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 15*time.Minute, "Run timeout")
	limit := fs.Int("limit", 500, "Maximum pending arrivals to resolve in one run")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be positive")
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	var adjudicator adjudicate.Adjudicator
	if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
		anthropic, err := adjudicate.NewAnthropicAdjudicator(adjudicate.AnthropicOptions{
			APIKey:     cfg.AnthropicAPIKey,
			Model:      cfg.AdjudicationModel,
			Timeout:    time.Duration(cfg.AdjudicationTimeoutSecs) * time.Second,
			RatePerSec: cfg.AdjudicationRatePerSec,
			Burst:      cfg.AdjudicationBurst,
		}, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize adjudicator: %v\n", err)
			return 1
		}
		adjudicator = anthropic
	} else {
		logger.Warn().
			Str("fallback", cfg.AdjudicationFallback).
			Msg("ANTHROPIC_API_KEY not set; ambiguous matches will use the fallback decision")
		adjudicator = adjudicate.Unconfigured{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc := resolve.NewService(pool, logger, adjudicator, resolve.ParamsFromConfig(cfg))
	result, err := svc.ResolvePending(ctx, *limit)
	if err != nil {
		logger.Error().Err(err).Msg("resolution run failed")
		fmt.Fprintf(os.Stderr, "Resolve failed: %v\n", err)
		return 1
	}

	fmt.Printf(
		"resolve processed=%d new=%d updates=%d skips=%d borderline=%d rejected=%d\n",
		result.Processed,
		result.New,
		result.Updates,
		result.Skips,
		result.Borderline,
		result.Rejected,
	)
	return 0
}
