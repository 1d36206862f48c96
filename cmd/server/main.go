package main

import (
	"context"
	"flag"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"paydrop/internal/api"
	"paydrop/internal/config"
	"paydrop/internal/edge"
	"paydrop/internal/ledger"
	"paydrop/internal/logging"
	"paydrop/internal/payment"
	"paydrop/internal/slots"
	"paydrop/internal/storage"
	"paydrop/internal/token"
	"paydrop/internal/walletauth"
)

func openLedger(ctx context.Context, databaseURL string) (ledger.Store, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		logging.Internal.Println("using Postgres ledger")
		return ledger.NewPostgresStore(ctx, databaseURL)
	}
	logging.Internal.Printf("using SQLite ledger (%s)", databaseURL)
	return ledger.NewSQLiteStore(databaseURL)
}

func buildGate(cfg *config.Config) *payment.Gate {
	if cfg.PayeeAddress == "" {
		logging.Internal.Println("PAYEE_ADDRESS not set: payments disabled, slots attributed to the dev payer")
		return nil
	}

	var facilitator payment.Facilitator
	if cfg.FacilitatorURL != "" {
		f, err := payment.NewHTTPFacilitator(payment.HTTPFacilitatorConfig{
			BaseURL: cfg.FacilitatorURL,
			APIKey:  os.Getenv("FACILITATOR_API_KEY"),
		})
		if err != nil {
			logging.Internal.Fatalf("failed to create facilitator client: %v", err)
		}
		facilitator = f
		logging.Internal.Printf("settling via facilitator at %s (network %s)", cfg.FacilitatorURL, cfg.PayNetwork)
	} else {
		facilitator = payment.NewMockFacilitator()
		logging.Internal.Println("using mock facilitator (set FACILITATOR_URL for real settlement)")
	}
	return payment.NewGate(facilitator, cfg.PayNetwork, cfg.PayeeAddress)
}

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides PORT)")
	devMode := flag.Bool("dev", false, "Development mode: disables rate limiting and CORS restrictions")
	sweepInterval := flag.Duration("sweep-interval", time.Hour, "In-process sweep interval (0 disables)")
	corsOrigins := flag.String("cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.Parse()

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openLedger(ctx, cfg.DatabaseURL)
	if err != nil {
		logging.Internal.Fatalf("failed to open ledger: %v", err)
	}
	defer store.Close()

	objects, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:   cfg.StorageEndpoint,
		AccessKey:  cfg.StorageAccessKey,
		SecretKey:  cfg.StorageSecretKey,
		Bucket:     cfg.StorageBucket,
		UseSSL:     cfg.StorageUseSSL,
		PublicBase: cfg.StoragePublicBase,
	})
	if err != nil {
		logging.Internal.Fatalf("failed to initialize object storage: %v", err)
	}

	gate := buildGate(cfg)

	var codec *token.Codec
	var edgeHandler http.Handler
	if cfg.UploadTokenSecret != "" {
		codec = token.NewCodec(cfg.UploadTokenSecret)
		edgeHandler = edge.NewHandler(codec, objects)
		logging.Internal.Println("edge upload tokens enabled")
	} else {
		logging.Internal.Println("UPLOAD_TOKEN_SECRET not set: falling back to presigned upload URLs")
	}

	var auth *walletauth.Authenticator
	if cfg.VerifierURL != "" {
		domain := cfg.BaseURL
		if u, err := url.Parse(cfg.BaseURL); err == nil && u.Host != "" {
			domain = u.Host
		}
		auth = walletauth.New(walletauth.NewHTTPVerifier(cfg.VerifierURL), store, domain, cfg.PayNetwork)
		logging.Internal.Printf("wallet auth enabled via %s", cfg.VerifierURL)
	} else {
		logging.Internal.Println("WALLET_VERIFIER_URL not set: read path runs in dev mode")
	}

	svc := slots.NewService(store, objects, gate, codec, cfg.BaseURL)
	sweeper := slots.NewSweeper(store, objects)

	var origins []string
	if !*devMode && *corsOrigins != "" {
		for _, o := range strings.Split(*corsOrigins, ",") {
			origins = append(origins, strings.TrimSpace(o))
		}
		logging.Internal.Printf("CORS restricted to origins: %v", origins)
	}

	handler := api.NewHandler(svc, sweeper, store, auth, edgeHandler, api.Config{
		SweepSecret:    cfg.SweepSecret,
		AllowedOrigins: origins,
		DisableLimits:  *devMode,
	})

	// In-process sweep ticker; an external scheduler can also drive
	// POST /api/sweep.
	if *sweepInterval > 0 {
		go func() {
			ticker := time.NewTicker(*sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := sweeper.Run(ctx, time.Now().UTC()); err != nil {
						logging.Sweep.Printf("scheduled sweep error: %v", err)
					}
				}
			}
		}()
	}

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = ":" + cfg.Port
	}

	// No Read/WriteTimeout: the edge path streams uploads of up to a
	// gigabyte through this server.
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logging.Internal.Println("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Internal.Printf("shutdown error: %v", err)
		}
	}()

	logging.Internal.Printf("starting server on %s", listenAddr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logging.Internal.Fatalf("server error: %v", err)
	}
}
