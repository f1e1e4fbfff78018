package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	httpapi "github.com/pairing-hub/pairing-hub/internal/api/http"
	"github.com/pairing-hub/pairing-hub/internal/application/browser"
	"github.com/pairing-hub/pairing-hub/internal/application/correlator"
	"github.com/pairing-hub/pairing-hub/internal/application/dialog"
	"github.com/pairing-hub/pairing-hub/internal/application/negotiation"
	"github.com/pairing-hub/pairing-hub/internal/application/registration"
	"github.com/pairing-hub/pairing-hub/internal/config"
	"github.com/pairing-hub/pairing-hub/internal/domain/event"
	domainNegotiation "github.com/pairing-hub/pairing-hub/internal/domain/negotiation"
	"github.com/pairing-hub/pairing-hub/internal/domain/profile"
	"github.com/pairing-hub/pairing-hub/internal/domain/script"
	"github.com/pairing-hub/pairing-hub/internal/infrastructure/bus"
	"github.com/pairing-hub/pairing-hub/internal/infrastructure/gateway"
	"github.com/pairing-hub/pairing-hub/internal/infrastructure/postgres"
	"github.com/pairing-hub/pairing-hub/internal/infrastructure/sqlite"
	"github.com/pairing-hub/pairing-hub/internal/infrastructure/sse"
)

const recoveryBatch = 200

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	ctx := context.Background()

	// repositories
	var (
		sessionRepo domainNegotiation.Repository
		profileRepo profile.Repository
	)
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			log.Fatalf("db error: %v", err)
		}
		defer closeDB(db)
		sessionRepo = sqlite.NewSessionRepository(db)
		profileRepo = sqlite.NewProfileRepository(db)
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db error: %v", err)
		}
		defer closePool(pool)
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			log.Fatalf("migration error: %v", err)
		}
		sessionRepo = postgres.NewSessionRepository(pool)
		profileRepo = postgres.NewProfileRepository(pool)
	}

	scripts, err := loadScripts(cfg.ScriptsPath)
	if err != nil {
		log.Fatalf("scripts error: %v", err)
	}
	if err := requireScripts(scripts, cfg.DefaultScript, cfg.BrowseScript); err != nil {
		log.Fatalf("scripts error: %v", err)
	}

	// infrastructure
	clock := clockwork.NewRealClock()
	sseHub := sse.NewHub()
	eventBus := bus.New(cfg.EventBuffer, logger)
	gw := gateway.New(sseHub, sessionRepo, logger)
	normalizer := event.NewNormalizer(cfg.AcceptSymbols, cfg.RejectSymbols)

	// services
	runner := dialog.NewRunner(correlator.New(eventBus, logger), gw, clock, logger)
	engine := negotiation.NewEngine(sessionRepo, profileRepo, scripts, runner, gw, clock, negotiation.Config{
		InviteTimeout: cfg.InviteTimeout,
		AnswerTimeout: cfg.AnswerTimeout,
		CloseTimeout:  cfg.CloseTimeout,
		CloseGrace:    cfg.CloseGrace,
	}, logger)
	registrationSvc := registration.NewService(profileRepo, scripts, runner, clock, cfg.AnswerTimeout, logger)
	browserSvc := browser.NewService(profileRepo, engine, gw, clock, browser.Config{
		TTL:           cfg.BrowseViewTTL,
		PageSize:      cfg.BrowsePageSize,
		DefaultScript: cfg.BrowseScript,
	}, logger)

	// API server
	apiServer := httpapi.NewServer(engine, browserSvc, registrationSvc, normalizer, eventBus, sseHub, clock, httpapi.Config{
		TokenHash:     cfg.GatewayTokenHash,
		DefaultScript: cfg.DefaultScript,
	}, logger)

	httpServer := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// background loops
	loops, stopLoops := context.WithCancel(context.Background())
	defer stopLoops()

	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loops.Done():
				return
			case <-ticker.C:
				if _, err := engine.ProcessStale(loops, cfg.MaxSessionAge, 50); err != nil {
					logger.Warn().Err(err).Msg("stale sweep failed")
				}
				browserSvc.Prune()
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.PurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loops.Done():
				return
			case <-ticker.C:
				if _, err := engine.PurgeTerminal(loops, cfg.PurgeRetention); err != nil {
					logger.Warn().Err(err).Msg("purge failed")
				}
			}
		}
	}()

	// start server
	started := clock.Now()
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Str("store", cfg.StoreDriver).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// sessions left active by a previous process have no flow anymore
	go func() {
		if _, err := engine.RecoverOrphans(loops, started, sseHub.BridgeConnected(), cfg.RecoveryGrace, recoveryBatch); err != nil && loops.Err() == nil {
			logger.Error().Err(err).Msg("startup recovery failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	stopLoops()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sseHub.Stop()
	_ = httpServer.Shutdown(ctxShutdown)
	if err := engine.Shutdown(ctxShutdown); err != nil {
		logger.Warn().Err(err).Msg("negotiations did not stop in time")
	}
	if err := registrationSvc.Shutdown(ctxShutdown); err != nil {
		logger.Warn().Err(err).Msg("registrations did not stop in time")
	}
	eventBus.Stop()
}

func loadScripts(path string) (*script.Catalog, error) {
	if path == "" {
		return script.Default()
	}
	return script.Load(path)
}

func requireScripts(scripts *script.Catalog, ids ...string) error {
	for _, id := range ids {
		if _, ok := scripts.Get(id); !ok {
			return fmt.Errorf("script %q is not in the catalog (have %s)", id, strings.Join(scripts.IDs(), ", "))
		}
	}
	return nil
}

func closeDB(db *sql.DB) {
	_ = db.Close()
}

func closePool(pool *pgxpool.Pool) {
	pool.Close()
}
