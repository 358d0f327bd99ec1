// Command handler runs the PetVet WhatsApp conversation service: webhook
// gateway, job queue workers and health probes in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/petvet-ai/whatsapp-handler/core/bootstrap"
	coreconfig "github.com/petvet-ai/whatsapp-handler/core/config"
	"github.com/petvet-ai/whatsapp-handler/core/logger"
	"github.com/petvet-ai/whatsapp-handler/internal/clients"
	"github.com/petvet-ai/whatsapp-handler/internal/flow"
	"github.com/petvet-ai/whatsapp-handler/internal/gateway"
	"github.com/petvet-ai/whatsapp-handler/internal/health"
	"github.com/petvet-ai/whatsapp-handler/internal/outbound"
	"github.com/petvet-ai/whatsapp-handler/internal/queue"
	"github.com/petvet-ai/whatsapp-handler/internal/session"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("handler: %v", err)
	}
}

func run() error {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := coreconfig.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	boot, err := bootstrap.Run(bootstrap.Options{Config: cfg})
	if err != nil {
		return err
	}
	defer func() {
		if err := logger.Shutdown(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()
	if boot.DB != nil {
		defer boot.DB.Close()
	}

	var (
		sessions session.Store
		jobs     queue.Store
	)
	if cfg.Storage.Driver == "memory" {
		sessions = session.NewMemoryStore(cfg.SessionTTL())
		jobs = queue.NewMemoryStore(cfg.Queue.MaxAttempts)
	} else {
		sessions = session.NewPostgresStore(boot.DB, cfg.SessionTTL())
		jobs = queue.NewPostgresStore(boot.DB, cfg.Queue.MaxAttempts)
	}

	backend := clients.NewBackend(cfg.Services.APIURL)
	ai := clients.NewAI(cfg.Services.AIURL)
	whatsapp := clients.NewWhatsApp(
		cfg.WhatsApp.APIVersion,
		cfg.WhatsApp.PhoneNumberID,
		cfg.WhatsApp.AccessToken,
	)

	engine := flow.NewEngine(flow.Deps{
		Backend: backend,
		AI:      ai,
		Binder:  sessions,
	})
	dispatcher := outbound.NewDispatcher(whatsapp)

	pool := queue.NewPool(jobs, sessions, engine, dispatcher, whatsapp, backend, queue.PoolConfig{
		Workers:      cfg.Queue.Workers,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		Backoff:      cfg.QueueBackoff(),
		PollInterval: time.Duration(cfg.Queue.PollIntervalMS) * time.Millisecond,
	})

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	gateway.NewHandler(cfg.WhatsApp.VerifyToken, cfg.WhatsApp.AppSecret, jobs).Mount(r)
	health.NewHandler(jobs).Mount(r)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Listen, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.L.With("component", "app").Info("listening",
			"event", "http.start",
			"addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.L.With("component", "app").Info("shutting down...", "event", "shutdown")
	case err := <-errCh:
		stop()
		wg.Wait()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.L.With("component", "app").Warn("http shutdown incomplete", "err", err)
	}

	// Let in-flight jobs drain before closing the stores.
	wg.Wait()

	if err := sessions.Close(); err != nil {
		logger.L.With("component", "app").Warn("session store close", "err", err)
	}
	if err := jobs.Close(); err != nil {
		logger.L.With("component", "app").Warn("queue store close", "err", err)
	}
	return nil
}
