package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"escrowd/auth"
	"escrowd/contract"
	"escrowd/db"
	"escrowd/dispute"
	"escrowd/room"
	"escrowd/signing"
	"escrowd/wallet"
	"escrowd/ws"
)

func main() {
	logger := log.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		logger.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}

	aiPrivateKey := os.Getenv("AI_PRIVATE_KEY")
	aiPublicKey, err := signing.PublicKeyOf(aiPrivateKey)
	if err != nil {
		logger.Fatalf("derive oracle public key: %v", err)
	}
	oracleSign := func(message string) (string, error) {
		return signing.Sign(aiPrivateKey, message)
	}

	contractTimeout := envDuration("ESCROW_TIMEOUT", 72*time.Hour)
	inactivityWindow := envDuration("INACTIVITY_WINDOW", 24*time.Hour)
	sweepInterval := envDuration("WATCHDOG_INTERVAL", time.Minute)
	defaultDecision := contract.Decision(env("TIMEOUT_DEFAULT_DECISION", string(contract.RefundToBuyer)))
	if defaultDecision != contract.RefundToBuyer && defaultDecision != contract.ReleaseToSeller {
		logger.Fatalf("invalid TIMEOUT_DEFAULT_DECISION %q", defaultDecision)
	}

	walletRepo := wallet.NewRepository(pool)
	authSvc := auth.NewService(pool, auth.NewRepository(pool), walletRepo, jwtSecret)

	roomSvc := room.NewService(pool, room.NewRepository(pool), walletRepo, authSvc,
		dispute.NewKeywordClassifier(), aiPublicKey, contractTimeout)

	hub := ws.NewHub(logger)

	oracle := dispute.NewHTTPOracle(env("AI_ORACLE_URL", "http://localhost:9090"), nil)
	escalator := dispute.NewEscalator(oracle, roomSvc, aiPrivateKey, hub.Publish, logger)
	escalate := func(phrase string) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := escalator.Escalate(ctx, phrase); err != nil {
			logger.Printf("escalate room %q: %v", phrase, err)
		}
	}

	server := &Server{
		auth:      authSvc,
		wallets:   walletRepo,
		rooms:     roomSvc,
		hub:       hub,
		wsHandler: ws.NewHandler(hub, roomSvc, escalate, logger).Serve,
		uploadDir: env("UPLOAD_DIR", "uploads"),
		logger:    logger,
	}

	httpServer := &http.Server{
		Addr:              env("ADDR", ":8080"),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	watchdog := room.NewWatchdog(roomSvc, inactivityWindow, sweepInterval, defaultDecision, oracleSign, hub.Publish, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("escrowd api listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := watchdog.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("escrowd api: %v", err)
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
