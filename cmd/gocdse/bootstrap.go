package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/datallboy/gocdse/internal/app"
	"github.com/datallboy/gocdse/internal/auth"
	"github.com/datallboy/gocdse/internal/catalog"
	"github.com/datallboy/gocdse/internal/domain"
	"github.com/datallboy/gocdse/internal/engine"
	"github.com/datallboy/gocdse/internal/extraction"
	"github.com/datallboy/gocdse/internal/infra/config"
	"github.com/datallboy/gocdse/internal/infra/httpclient"
	"github.com/datallboy/gocdse/internal/infra/logger"
	"github.com/datallboy/gocdse/internal/store"
)

// services is everything a subcommand needs, built once from the config.
type services struct {
	app     *app.Context
	client  *http.Client
	tokens  *auth.TokenProvider
	catalog *catalog.Client
	batch   *engine.Batch
}

func bootstrap(cmd *cobra.Command) (*services, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	if out, _ := cmd.Flags().GetString("out"); out != "" {
		cfg.Download.OutDir = out
	}

	level := logger.ParseLevel(cfg.Log.Level)
	if isVerbose(cmd) {
		level = logger.LevelDebug
	}
	log, err := logger.New(cfg.Log.Path, level, cfg.Log.IncludeStdout)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	appCtx := app.NewContext(cfg, log)

	appCtx.Store, err = store.Open(cfg.Store)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if appCtx.ExtractionEnabled {
		unzip, err := extraction.NewCLIUnzip()
		if err != nil {
			log.Warn("%v. Extraction will be disabled.", err)
			appCtx.ExtractionEnabled = false
		} else {
			appCtx.Extractor = unzip
		}
	}

	client, err := httpclient.New(httpclient.Options{Proxy: cfg.Proxy, Timeout: cfg.Download.Timeout})
	if err != nil {
		appCtx.Store.Close()
		log.Close()
		return nil, err
	}

	tokens := auth.NewTokenProvider(cfg.Auth, client, auth.PolicyFromConfig(cfg.Auth), log)

	downloader := engine.NewDownloader(client, tokens, engine.Options{
		BaseURL:     cfg.Download.BaseURL,
		ChunkSize:   cfg.Download.ChunkSize,
		ReadTimeout: cfg.Download.ReadTimeout,
	}, log)

	search := catalog.NewClient(client, catalog.Options{
		PageSize:         cfg.Catalog.PageSize,
		StrictPagination: cfg.Catalog.StrictPagination,
	}, log)

	return &services{
		app:     appCtx,
		client:  client,
		tokens:  tokens,
		catalog: search,
		batch:   engine.NewBatch(appCtx, downloader),
	}, nil
}

func (s *services) Close() {
	if err := s.app.Store.Close(); err != nil {
		s.app.Logger.Warn("Failed to close store: %v", err)
	}
	s.app.Logger.Close()
}

// search runs the catalog query. Any failure here ends the run.
func (s *services) search(ctx context.Context) ([]domain.Product, error) {
	query, err := s.app.Config.SearchQuery()
	if err != nil {
		s.app.Logger.Error("Cannot load search query (%s): %v", domain.PolicyAbort, err)
		return nil, err
	}

	products, err := s.catalog.Search(ctx, query)
	if err != nil {
		s.app.Logger.Error("Catalog search failed (%s): %v", domain.PolicyAbort, err)
		return nil, err
	}

	if err := s.app.Store.UpsertProducts(ctx, products); err != nil {
		s.app.Logger.Warn("Failed to record products: %v", err)
	}
	return products, nil
}

// download authenticates, searches and runs the batch into the configured output directory.
func (s *services) download(ctx context.Context, showProgress bool) (engine.Summary, error) {
	s.app.Logger.Info("Requesting access token (%s)", domain.PolicyRetryForever)
	if _, err := s.tokens.Authenticate(ctx); err != nil {
		return engine.Summary{}, err
	}

	products, err := s.search(ctx)
	if err != nil {
		return engine.Summary{}, err
	}

	if showProgress {
		s.batch.NewProgress = func() engine.Progress { return engine.NewBar(os.Stdout) }
	}

	return s.batch.RunBatch(ctx, products, s.app.Config.Download.OutDir)
}
