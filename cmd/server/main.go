package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/filingsum/internal/analysis"
	"github.com/dgallion1/filingsum/internal/api"
	"github.com/dgallion1/filingsum/internal/config"
	"github.com/dgallion1/filingsum/internal/forms"
	"github.com/dgallion1/filingsum/internal/llm"
	"github.com/dgallion1/filingsum/internal/pipeline"
	"github.com/dgallion1/filingsum/internal/ratelimit"
	"github.com/dgallion1/filingsum/internal/store"
	"github.com/dgallion1/filingsum/internal/tokenizer"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	table, err := forms.Load(cfg.FormsPath)
	if err != nil {
		log.Error("loading form table", "path", cfg.FormsPath, "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error("opening result cache", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}

	// Initialize clients.
	apiKey, model := cfg.LLMCredentials()
	client, err := llm.New(cfg.LLMProvider, apiKey, model, cfg.LLMOptions())
	if err != nil {
		log.Error("creating llm client", "error", err)
		os.Exit(1)
	}

	// One limiter for every job, so concurrent analyses share the budget.
	tok := tokenizer.New(cfg.TokenizerPath, log)
	limiter := ratelimit.New(cfg.RateLimit(), tok)
	dispatcher := analysis.NewDispatcher(table, limiter, tok, client, log)

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(cfg, dispatcher, st, log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, client, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		// Stop accepting uploads before the job queue closes.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()

		client.Close()
		if err := st.Close(); err != nil {
			log.Warn("closing result cache", "error", err)
		}
	}()

	log.Info("starting filingsum",
		"port", cfg.Port,
		"provider", cfg.LLMProvider,
		"model", client.Model(),
		"tokens_per_minute", cfg.TokensPerMinute,
		"form_types", table.Types(),
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
