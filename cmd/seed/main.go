// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the dev account already exists.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	accesskeydomain "state-sync-plane/backend/internal/accesskey/domain"
	accesskeyrepo "state-sync-plane/backend/internal/accesskey/repository"
	accountdomain "state-sync-plane/backend/internal/account/domain"
	accountrepo "state-sync-plane/backend/internal/account/repository"
	"state-sync-plane/backend/internal/config"
	"state-sync-plane/backend/internal/db"
	"state-sync-plane/backend/internal/security"
	sessiondomain "state-sync-plane/backend/internal/session/domain"
	sessionrepo "state-sync-plane/backend/internal/session/repository"
)

const (
	devAccountID   = "dev-account-001"
	devSessionID   = "dev-session-001"
	devAccessKeyID = "dev-key-001"
	devKeySecret   = "dev-secret-001"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
		os.Exit(1)
	}
	if cfg.Env == "production" {
		log.Fatal("seed: refusing to run with APP_ENV=production")
	}

	dbh, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer dbh.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	accounts := accountrepo.NewPostgresRepository()
	existing, err := accounts.GetByID(ctx, dbh, devAccountID)
	if err != nil {
		log.Fatalf("seed: check account: %v", err)
	}
	if existing != nil {
		log.Printf("seed: account %s already present, nothing to do", devAccountID)
		return
	}

	if err := accounts.Create(ctx, dbh, &accountdomain.Account{
		ID:       devAccountID,
		Settings: `{"theme":"system"}`,
	}); err != nil {
		log.Fatalf("seed: create account: %v", err)
	}

	sessions := sessionrepo.NewPostgresRepository()
	if err := sessions.Create(ctx, dbh, &sessiondomain.Session{
		ID:        devSessionID,
		AccountID: devAccountID,
		Tag:       "dev-laptop",
		Metadata:  `{"title":"scratch"}`,
	}); err != nil {
		log.Fatalf("seed: create session: %v", err)
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	hash, err := hasher.Hash([]byte(devKeySecret))
	if err != nil {
		log.Fatalf("seed: hash key secret: %v", err)
	}
	keys := accesskeyrepo.NewPostgresRepository()
	if err := keys.Create(ctx, dbh, &accesskeydomain.AccessKey{
		ID:         devAccessKeyID,
		AccountID:  devAccountID,
		Label:      "dev daemon",
		SecretHash: hash,
	}); err != nil {
		log.Fatalf("seed: create access key: %v", err)
	}

	log.Printf("seed: account %s ready (session %s, access key %s.%s)",
		devAccountID, devSessionID, devAccessKeyID, devKeySecret)
}
