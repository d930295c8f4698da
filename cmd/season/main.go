package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/tornado-season/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/tornado-season/internal/adapter/kafka"
	"github.com/couchcryptid/tornado-season/internal/adapter/shapefile"
	"github.com/couchcryptid/tornado-season/internal/adapter/spc"
	"github.com/couchcryptid/tornado-season/internal/config"
	"github.com/couchcryptid/tornado-season/internal/fit"
	"github.com/couchcryptid/tornado-season/internal/observability"
	"github.com/couchcryptid/tornado-season/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	fetcher := spc.NewFetcher(cfg.DataURL, cfg.DataDir, cfg.FetchForce, cfg.FetchTimeout, logger)
	loader := shapefile.NewLoader(logger)

	// Publishing is optional (enabled via KAFKA_BROKERS).
	var (
		publisher pipeline.SummaryPublisher
		writer    *kafkaadapter.Writer
	)
	if cfg.KafkaEnabled() {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
		logger.Info("kafka publishing enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}

	p := pipeline.New(fetcher, loader, publisher, pipeline.Options{
		Source:       cfg.DataURL,
		MinYear:      cfg.MinYear,
		MinMagnitude: cfg.MinMagnitude,
		Models:       cfg.Models,
		Priors:       cfg.Priors,
		Sampler: fit.SamplerConfig{
			Chains: cfg.BayesChains,
			Warmup: cfg.BayesWarmup,
			Draws:  cfg.BayesDraws,
			Seed:   cfg.BayesSeed,
		},
		PPCDraws:     cfg.PPCDraws,
		OutputDir:    cfg.OutputDir,
		PlotsEnabled: cfg.PlotsEnabled,
		FacetYears:   cfg.FacetYears,
	}, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(cfg.HTTPAddr, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	code := 0
	if _, err := p.Run(ctx); err != nil {
		logger.Error("pipeline error", "error", err)
		code = 1
	}

	// With an HTTP surface the results stay browsable until signalled.
	if srv != nil && ctx.Err() == nil {
		logger.Info("serving results until shutdown", "addr", cfg.HTTPAddr)
		<-ctx.Done()
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return code
}
