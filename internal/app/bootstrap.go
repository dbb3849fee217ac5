package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/amscreen/internal/classifier"
	"horse.fit/amscreen/internal/cli"
	"horse.fit/amscreen/internal/config"
	"horse.fit/amscreen/internal/guard"
	"horse.fit/amscreen/internal/logging"
	"horse.fit/amscreen/internal/pipeline"
	"horse.fit/amscreen/internal/reader"
	"horse.fit/amscreen/internal/search"
	"horse.fit/amscreen/internal/session"
)

// bootstrap wires config, logging, the session store, and the pipeline
// service the way every command needs them. The returned cleanup closes the
// store when one was opened.
func bootstrap(envLoader *cli.EnvLoader, expandCompanies bool) (zerolog.Logger, *pipeline.Service, func(), error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return zerolog.Nop(), nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return zerolog.Nop(), nil, nil, fmt.Errorf("initialize logger: %w", err)
	}

	store, cleanup, err := openStore(cfg, logger)
	if err != nil {
		return logger, nil, nil, err
	}

	searcher, err := search.NewClient(search.ClientOptions{
		Endpoint:      cfg.SearchEndpoint,
		APIKey:        cfg.SearchAPIKey,
		PageSize:      cfg.SearchPageSize,
		RatePerSecond: cfg.SearchRatePerSec,
	})
	if err != nil {
		cleanup()
		return logger, nil, nil, fmt.Errorf("build search client: %w", err)
	}

	cls, err := classifier.NewClient(classifier.Options{
		Endpoint:       cfg.ClassifierEndpoint,
		APIKey:         cfg.ClassifierAPIKey,
		Model:          cfg.ClassifierModel,
		RequestTimeout: cfg.ClassifierTimeout,
	})
	if err != nil {
		cleanup()
		return logger, nil, nil, fmt.Errorf("build classifier client: %w", err)
	}

	fetcher := reader.NewHTTPFetcher(reader.FetchOptions{
		Timeout: cfg.FetchTimeout,
	})

	service := pipeline.NewService(searcher, fetcher, cls, store, guard.NewRegistry(), pipeline.Options{
		PageSize:            cfg.SearchPageSize,
		MaxPages:            cfg.SearchMaxPages,
		ClusterBatchSize:    cfg.ClusterBatchSize,
		CategorizeBatchSize: cfg.CategorizeBatchSize,
		DedupeBatchSize:     cfg.DedupeBatchSize,
		DedupeMinInput:      cfg.DedupeMinInput,
		MaxPerCluster:       cfg.MaxPerCluster,
		ExpandCompanies:     expandCompanies,
	}, logger)

	return logger, service, cleanup, nil
}

func openStore(cfg *config.Config, logger zerolog.Logger) (session.Store, func(), error) {
	ttl := time.Duration(cfg.SessionTTLHours) * time.Hour

	if cfg.DatabaseURL == "" {
		logger.Info().Msg("no database configured; using in-memory session store")
		return session.NewMemoryStore(ttl), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := session.OpenGormStore(ctx, cfg.DatabaseURL, cfg.LogLevel, ttl)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	if pruned, err := store.PruneExpired(ctx); err != nil {
		logger.Warn().Err(err).Msg("pruning expired sessions failed")
	} else if pruned > 0 {
		logger.Info().Int64("pruned", pruned).Msg("expired sessions removed")
	}
	return store, func() { _ = store.Close() }, nil
}
