package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"veriflow.org/internal/httpapi"
	"veriflow.org/internal/obs"
	"veriflow.org/internal/provider"
	"veriflow.org/internal/store/pg"
	"veriflow.org/internal/stream"
	"veriflow.org/internal/verification"
)

var version = "0.3.1"

func main() {
	// Observability first: metric registration, JSON logger.
	obs.Init()

	// Provider credentials are mandatory; the engine cannot run without its
	// mirror target.
	providerBaseURL := os.Getenv("VERIFLOW_PROVIDER_BASE_URL")
	providerAPIKey := os.Getenv("VERIFLOW_PROVIDER_API_KEY")
	if providerBaseURL == "" || providerAPIKey == "" {
		log.Fatal("VERIFLOW_PROVIDER_BASE_URL and VERIFLOW_PROVIDER_API_KEY are required")
	}
	providerClient := provider.NewHTTPClient(providerBaseURL, providerAPIKey)

	// The async reconciliation path depends on the provider delivering
	// check.completed events to us, so the subscription is registered before
	// serving traffic.
	if endpoint := os.Getenv("VERIFLOW_WEBHOOK_ENDPOINT"); endpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		hook, err := providerClient.EnsureWebhook(ctx, endpoint, []string{"check.completed"})
		cancel()
		if err != nil {
			log.Fatalf("ensure provider webhook: %v", err)
		}
		log.Printf("Provider webhook %s delivering to %s", hook.ID, hook.URL)
	} else {
		log.Println("VERIFLOW_WEBHOOK_ENDPOINT not set; provider webhook subscription not managed")
	}

	// Postgres when a DSN is given; in-memory otherwise (dev mode).
	var (
		store   verification.Store
		pgStore *pg.Store
	)
	if dsn := os.Getenv("VERIFLOW_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
	} else {
		log.Println("VERIFLOW_PG_DSN not set; using in-memory store")
		store = verification.NewInMemory()
	}

	hub := stream.NewHub()
	engine := verification.NewEngine(store, providerClient, hub,
		verification.WithReferrer(os.Getenv("VERIFLOW_SDK_REFERRER")))

	probe := httpapi.ReadyProbe{}
	if pgStore != nil {
		probe.DB = pgStore.DB()
	}
	api := httpapi.New(engine, hub, probe, version,
		httpapi.WithWebhookSecret(os.Getenv("VERIFLOW_WEBHOOK_SECRET")))

	addr := os.Getenv("VERIFLOW_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	handler := httpapi.RequestID(
		httpapi.Logging(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.MaxBodyBytes(
						httpapi.RateLimit(api.Handler(), 50, 25),
						1<<20,
					)))))

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // long-lived SSE responses on /v1/verification/stream
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting veriflow-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
