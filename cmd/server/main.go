package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cohortview/cohortview/pkg/cache"
	badgercache "github.com/cohortview/cohortview/pkg/cache/badger"
	memorycache "github.com/cohortview/cohortview/pkg/cache/memory"
	"github.com/cohortview/cohortview/pkg/config"
	"github.com/cohortview/cohortview/pkg/eventstore"
	"github.com/cohortview/cohortview/pkg/eventstore/elastic"
	"github.com/cohortview/cohortview/pkg/retention"
	"github.com/cohortview/cohortview/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg.Log)

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve reporting timezone")
	}

	queryCache, err := newCache(cfg.Cache)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize query cache")
	}
	log.Info().
		Str("backend", cfg.Cache.Backend).
		Dur("ttl", cfg.Cache.TTL).
		Msg("Query cache initialized")

	esStore, err := elastic.New(elastic.Config{
		Addresses:      cfg.Elasticsearch.Addresses,
		APIKey:         cfg.Elasticsearch.APIKey,
		Index:          cfg.Elasticsearch.Index,
		TimestampField: cfg.Elasticsearch.TimestampField,
		UserIDField:    cfg.Elasticsearch.UserIDField,
		VisitorIDField: cfg.Elasticsearch.VisitorIDField,
		EventNameField: cfg.Elasticsearch.EventNameField,
		SignupEvent:    cfg.Events.Signup,
		Location:       loc,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Elasticsearch gateway")
	}

	store := eventstore.NewCached(esStore, queryCache, cfg.Cache.TTL, loc)
	defer store.Close()
	log.Info().
		Str("index", cfg.Elasticsearch.Index).
		Str("addresses", strings.Join(cfg.Elasticsearch.Addresses, ",")).
		Msg("Event store ready")

	calc := retention.New(store, retention.Config{
		Location:    loc,
		SignupEvent: cfg.Events.Signup,
		ActiveEvent: cfg.Events.Active,
	})

	handler := server.NewHandler(calc, queryCache)
	hub := server.NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		server.RunRefresher(ctx, hub, calc, cfg.Server.RefreshInterval)
	}()
	log.Info().Dur("interval", cfg.Server.RefreshInterval).Msg("Dashboard refresher started")

	router := server.NewRouter(handler, hub, cfg.Server.WebDir)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Server shutdown warning")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Some background tasks did not stop in time")
	}
}

// setupLogging configures the global zerolog logger.
func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// newCache builds the configured cache backend.
func newCache(cfg config.CacheConfig) (cache.Cache, error) {
	if cfg.Backend == "badger" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, err
		}
		return badgercache.New(badgercache.Config{Path: cfg.Dir})
	}
	return memorycache.New(), nil
}
