// server runs the websocket sync server: serializable state mutations,
// per-account event fan-out, and coalesced activity tracking.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	accesskeyrepo "state-sync-plane/backend/internal/accesskey/repository"
	accountrepo "state-sync-plane/backend/internal/account/repository"
	"state-sync-plane/backend/internal/activity"
	artifactrepo "state-sync-plane/backend/internal/artifact/repository"
	"state-sync-plane/backend/internal/config"
	"state-sync-plane/backend/internal/db"
	"state-sync-plane/backend/internal/firehose"
	"state-sync-plane/backend/internal/hub"
	kvrepo "state-sync-plane/backend/internal/kv/repository"
	machinerepo "state-sync-plane/backend/internal/machine/repository"
	"state-sync-plane/backend/internal/security"
	"state-sync-plane/backend/internal/seq"
	sessionrepo "state-sync-plane/backend/internal/session/repository"
	"state-sync-plane/backend/internal/state"
	syncws "state-sync-plane/backend/internal/sync/ws"
	"state-sync-plane/backend/internal/telemetry"
	"state-sync-plane/backend/internal/telemetry/otel"
	"state-sync-plane/backend/internal/txn"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "sync-server", false)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	metrics, err := telemetry.NewMetrics(providers.MeterProvider.Meter("sync-server"))
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}

	dbh, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer dbh.Close()

	privKey, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		log.Fatalf("JWT_PRIVATE_KEY: %v", err)
	}
	pubKey, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("JWT_PUBLIC_KEY: %v", err)
	}
	tokens := security.NewTokenProvider(privKey, pubKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	hasher := security.NewHasher(cfg.BcryptCost)

	accounts := accountrepo.NewPostgresRepository()
	sessions := sessionrepo.NewPostgresRepository()
	machines := machinerepo.NewPostgresRepository()
	kvStore := kvrepo.NewPostgresRepository()
	artifacts := artifactrepo.NewPostgresRepository()
	accessKeys := accesskeyrepo.NewPostgresRepository()

	mirror := firehose.NewProducer(cfg.FirehoseKafkaBrokersList(), cfg.FirehoseKafkaTopic)
	if mirror != nil {
		defer mirror.Close()
		log.Printf("firehose: mirroring updates to %s", cfg.FirehoseKafkaTopic)
	}

	registry := hub.NewRegistry()
	var router *hub.Router
	if mirror != nil {
		router = hub.NewRouter(registry, mirror, metrics)
	} else {
		router = hub.NewRouter(registry, nil, metrics)
	}

	activityCfg := activity.Config{
		TTL:           cfg.ActivityTTL(),
		SkipThreshold: cfg.ActivitySkip(),
		FlushInterval: cfg.ActivityFlush(),
		SweepInterval: cfg.ActivitySweep(),
	}
	sessionTracker := state.NewSessionTracker(activityCfg, dbh, sessions, metrics)
	machineTracker := state.NewMachineTracker(activityCfg, dbh, machines, metrics)
	sessionTracker.Start()
	machineTracker.Start()

	svc := state.NewService(state.Deps{
		Runner:          txn.New(txn.NewSQLStore(dbh), cfg.TxRetryLimit, cfg.TxTimeoutDuration()),
		Seq:             seq.NewSQLAllocator(dbh),
		Router:          router,
		Accounts:        accounts,
		Sessions:        sessions,
		Machines:        machines,
		KV:              kvStore,
		Artifacts:       artifacts,
		AccessKeys:      accessKeys,
		SessionActivity: sessionTracker,
		MachineActivity: machineTracker,
	})

	auth := syncws.NewAuthenticator(tokens, accessKeys, dbh, hasher)
	mux := http.NewServeMux()
	mux.Handle("/sync", syncws.NewHandler(auth, registry, svc))

	srv := &http.Server{Addr: cfg.WSAddr, Handler: mux}
	go func() {
		log.Printf("sync server listening on %s", cfg.WSAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down sync server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	sessionTracker.Shutdown(shutdownCtx)
	machineTracker.Shutdown(shutdownCtx)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
	log.Println("sync server stopped")
}
