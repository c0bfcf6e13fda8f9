package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	drinkpreview "github.com/menta2k/drink-preview"
	"github.com/menta2k/drink-preview/internal/cache"
	"github.com/menta2k/drink-preview/internal/catalog"
	"github.com/menta2k/drink-preview/internal/config"
	"github.com/menta2k/drink-preview/internal/httpapi"
	"github.com/menta2k/drink-preview/internal/logger"
	"github.com/menta2k/drink-preview/internal/server"
	"github.com/menta2k/drink-preview/pkg/cohere"
	"github.com/menta2k/drink-preview/pkg/pricing"
	"github.com/menta2k/drink-preview/pkg/wizard"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := drinkpreview.Options{Logger: &log}
	app := &httpapi.App{Log: log}

	if cfg.Redis.Addr != "" {
		rdb, err := cache.Connect(ctx, cache.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			TLS:      cfg.Redis.TLS,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer rdb.Close()
		previews := cache.NewPreviewStore(rdb, cfg.Redis.PreviewTTL(), &log)
		opts.Store = previews
		app.Previews = previews
	} else {
		log.Warn().Msg("REDIS_ADDR not set, previews are returned inline only")
	}

	svc, err := drinkpreview.New(ctx, cfg, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("preview pipeline")
	}
	defer svc.Close()
	app.Previewer = svc

	if cfg.Database.URL != "" {
		pool, err := catalog.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect database")
		}
		defer pool.Close()
		store := catalog.NewStore(pool, &log)
		calc := pricing.NewCalculator(store, &log)
		app.Catalog = store
		app.Pricer = calc
		app.Trainer = store

		if cfg.Cohere.APIKey != "" {
			rr, err := cohere.NewClient(cohere.Options{
				APIKey:     cfg.Cohere.APIKey,
				BaseURL:    cfg.Cohere.BaseURL,
				Model:      cfg.Cohere.Model,
				HTTPClient: opts.HTTPClient,
				Logger:     &log,
			})
			if err != nil {
				log.Fatal().Err(err).Msg("cohere client")
			}
			rec, err := wizard.New(wizard.Options{
				Preferences: store,
				Documents:   store,
				Reranker:    rr,
				Pricer:      calc,
				Defaults:    store,
				Logger:      &log,
			})
			if err != nil {
				log.Fatal().Err(err).Msg("wizard")
			}
			app.Recommender = rec
		} else {
			log.Warn().Msg("COHERE_API_KEY not set, wizard disabled")
		}
	} else {
		log.Warn().Msg("DATABASE_URL not set, catalog, pricing and wizard disabled")
	}

	srv := server.NewHTTPServer(cfg.Server, httpapi.NewRouter(app))

	go func() {
		log.Info().Msgf("API listening on %s", srv.Addr())
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.IdleTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown server")
	}
	log.Info().Msg("server stopped")
}
