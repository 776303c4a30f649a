// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/scholia/internal/analysis"
	"github.com/starford/scholia/internal/api"
	"github.com/starford/scholia/internal/blob"
	"github.com/starford/scholia/internal/inbox"
	"github.com/starford/scholia/internal/mcpserver"
	"github.com/starford/scholia/internal/noteservice"
	"github.com/starford/scholia/internal/session"
	"github.com/starford/scholia/internal/sse"
)

// stack is the wiring shared by the HTTP and MCP entry points.
type stack struct {
	logger *slog.Logger
	store  blob.Store
	svc    *noteservice.Service
}

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// build opens the blob store, resumes any recorded session and assembles
// the note service. Logs go to w.
func (app *application) build(w io.Writer, pub noteservice.Publisher) (*stack, error) {
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("version", app.version),
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_driver", cfg.Store.Driver),
		slog.String("store_path", cfg.Store.Path),
		slog.String("ai_model", cfg.AI.Model),
		slog.String("inbox_dir", cfg.Inbox.Dir),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, err := blob.Open(cfg.Store.Driver, cfg.Store.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	sessions := session.NewManager(store, session.WithLogger(logger))
	resumed, err := sessions.Resume()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("resume session: %w", err)
	}
	if !resumed {
		logger.Info("no active session, waiting for login")
	}

	client := app.client
	if client == nil {
		if cfg.AI.APIKey == "" {
			logger.Warn("ai.api_key is empty, provider calls will fail")
		}
		client = analysis.NewOpenAI(analysis.OpenAIConfig{
			BaseURL:    cfg.AI.BaseURL,
			APIKey:     cfg.AI.APIKey,
			Model:      cfg.AI.Model,
			HTTPClient: &http.Client{Timeout: cfg.AI.Timeout},
		}, logger)
	}

	opts := []noteservice.Option{noteservice.WithLogger(logger)}
	if pub != nil {
		opts = append(opts, noteservice.WithPublisher(pub))
	}
	return &stack{
		logger: logger,
		store:  store,
		svc:    noteservice.NewService(sessions, client, opts...),
	}, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	broker := sse.NewBroker(sse.Config{
		ListThrottle: cfg.Events.ListThrottle,
		Heartbeat:    cfg.Events.Heartbeat,
	})
	defer broker.Close()

	var pub noteservice.Publisher = broker
	var watcher *inbox.Watcher
	if cfg.Inbox.Enabled() {
		watcher = inbox.New(cfg.Inbox.Dir, cfg.Inbox.Debounce)
		pub = noteservice.Publishers{broker, watcher}
	}

	rt, err := app.build(os.Stdout, pub)
	if err != nil {
		return err
	}
	defer rt.store.Close()
	logger := rt.logger

	apiRouter := api.NewRouter(rt.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, _, err := rt.store.Get(session.KeyActive); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"store unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if watcher != nil {
		g.Go(func() error {
			if err := watcher.Run(gCtx, rt.svc, logger); err != nil {
				logger.Error("Inbox watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		stopRun()
		// Streaming clients would otherwise hold Shutdown open.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools on stdio. Logs go to stderr since stdout
// carries the protocol.
func RunMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	rt, err := app.build(os.Stderr, nil)
	if err != nil {
		return err
	}
	defer rt.store.Close()

	rt.logger.Info("Starting MCP server on stdio")
	if err := mcpserver.New(rt.svc, app.version).ServeStdio(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
