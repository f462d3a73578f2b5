package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"dues/internal/audit"
	"dues/internal/ledger/store"
	"dues/internal/payment/handler"
	"dues/internal/payment/lock"
	"dues/internal/payment/metrics"
	"dues/internal/payment/service"
	"dues/internal/platform/config"
	"dues/internal/platform/httpserver"
	"dues/internal/platform/logger"
	platformredis "dues/internal/platform/redis"
	"dues/internal/roster"
	httptransport "dues/internal/transport/http"
	"dues/pkg/platform/middleware/auth"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ledger: postgres when configured, in-memory otherwise (development).
	var ledger store.Store
	checks := map[string]httptransport.HealthChecker{}
	var auditStore audit.Store

	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("schema migration failed", "error", err)
			os.Exit(1)
		}

		auditPG := audit.NewPostgresStore(pg.DB())
		if err := auditPG.EnsureSchema(ctx); err != nil {
			log.Error("audit schema migration failed", "error", err)
			os.Exit(1)
		}

		ledger = pg
		auditStore = auditPG
		checks["postgres"] = pg
	} else {
		log.Warn("DATABASE_URL not set, using in-memory ledger")
		ledger = store.NewInMemoryStore()
		auditStore = audit.NewInMemoryStore()
	}

	// Locks: redis-backed when configured so multiple replicas serialize on
	// the same student, otherwise in-process.
	var locks lock.Manager = lock.NewKeyedMutex(cfg.Lock)
	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		locks = lock.NewRedisManager(redisClient.Client, cfg.Lock)
		checks["redis"] = redisClient
	}

	var publisher audit.Publisher
	if len(cfg.Audit.KafkaBrokers) > 0 {
		kafka, err := audit.NewKafkaPublisher(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic, log)
		if err != nil {
			log.Error("kafka connection failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = kafka.Close(closeCtx)
		}()
		publisher = kafka
	}

	auditSvc := audit.NewService(auditStore, publisher, log)
	recorder := service.NewRecorder(ledger, locks, cfg.Payments, auditSvc, log, metrics.New())
	rosterSvc := roster.New(ledger, locks, auditSvc, log)

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:   log,
		Verifier: auth.NewVerifier(cfg.JWTSigningKey),
		Handlers: []httptransport.Registrar{
			handler.New(recorder, log),
			roster.NewHandler(rosterSvc, log),
		},
		Checks: checks,
	})

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
