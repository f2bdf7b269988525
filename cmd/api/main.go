package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shinyyama/shop-tracking/internal/authz"
	"github.com/shinyyama/shop-tracking/internal/config"
	"github.com/shinyyama/shop-tracking/internal/db"
	"github.com/shinyyama/shop-tracking/internal/middleware"
	"github.com/shinyyama/shop-tracking/internal/repository"
	"github.com/shinyyama/shop-tracking/internal/server"
	"github.com/shinyyama/shop-tracking/internal/storage"
)

// Set via -ldflags "-X main.sha=... -X main.buildTime=...".
var (
	sha       = "dev"
	buildTime = ""
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if cfg.AutoMigrate {
		if err := db.Migrate(conn); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}
	store := repository.NewStore(conn)

	policy, err := authz.LoadPolicy(cfg.AuthzPolicyFile)
	if err != nil {
		return fmt.Errorf("load authz policy: %w", err)
	}

	var verifier middleware.Verifier
	switch cfg.AuthProvider {
	case config.AuthFirebase:
		fv, err := middleware.NewFirebaseVerifier(ctx, cfg.FirebaseProjectID, store.Users())
		if err != nil {
			return fmt.Errorf("firebase auth: %w", err)
		}
		verifier = fv
	default:
		verifier = middleware.NewJWTVerifier(cfg.JWTSecret)
	}

	deps := server.Deps{
		Config:    cfg,
		Store:     store,
		Gate:      authz.NewGate(policy),
		Verifier:  verifier,
		SHA:       sha,
		BuildTime: buildTime,
	}
	if cfg.ProofBucket != "" {
		gcs, err := storage.NewGCSStore(ctx, cfg.ProofBucket, cfg.GCSCredentialsFile)
		if err != nil {
			return fmt.Errorf("proof storage: %w", err)
		}
		defer gcs.Close()
		deps.Proofs = gcs
	} else {
		slog.Warn("PROOF_BUCKET not set; proof image uploads are disabled")
	}

	srv := server.New(deps)
	addr := ":" + cfg.Port

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "sha", sha)
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
