package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dannaaduna/oacd-core/internal/api"
	"github.com/dannaaduna/oacd-core/internal/auth"
	"github.com/dannaaduna/oacd-core/internal/bridge"
	"github.com/dannaaduna/oacd-core/internal/config"
	"github.com/dannaaduna/oacd-core/internal/gateway"
	"github.com/dannaaduna/oacd-core/internal/listener"
	"github.com/dannaaduna/oacd-core/internal/media"
	"github.com/dannaaduna/oacd-core/internal/metrics"
	"github.com/dannaaduna/oacd-core/internal/queue"
	"github.com/dannaaduna/oacd-core/internal/registry"
	"github.com/dannaaduna/oacd-core/internal/storage"
	"github.com/dannaaduna/oacd-core/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Str("node", cfg.Node).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Msg("starting oacd-core server")

	// Create context for services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create state record store
	store, err := storage.NewStore(ctx, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize store")
	}

	// Outbound media factories
	outbound := media.NewFactoryRegistry()
	outbound.Register("voice", media.VoiceFactory{})

	// Agent registry
	reg := registry.New(registry.Options{
		Node:         cfg.Node,
		Ringout:      cfg.Ringout,
		MediaTimeout: cfg.MediaTimeout,
		Outbound:     outbound,
		Store:        store,
	}, log.Logger)

	// Queue manager and dispatcher
	queues := queue.NewManager(queue.DefaultConfigs(), log.Logger)
	dispatcher := queue.NewDispatcher(queues, reg, cfg.DispatchPeriod)
	go dispatcher.Start(ctx)

	// Media bridge hub
	mediaHub := bridge.NewHub(queues, reg, log.Logger)
	go mediaHub.Run()

	// Agent directory. Production deployments point this at the cluster
	// directory; the seed directory covers development
	directory := auth.NewSeedDirectory(cfg.AgentSeed)

	// Supervisor dashboard token verification
	if cfg.OIDCIssuer != "" {
		if err := auth.InitJWKS(cfg.OIDCIssuer); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize JWKS")
		}
	}

	// Web listener
	timing := gateway.Timing{
		FlushWindow:     cfg.FlushWindow,
		LivenessWindow:  cfg.LivenessWindow,
		KeepalivePeriod: cfg.KeepalivePeriod,
	}
	web := listener.New(directory, reg, timing, log.Logger)

	// Supervisor REST handlers
	supervisorAPI := api.NewSupervisorHandler(reg, store, log.Logger)

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Register public routes (no auth required)
	r.Get("/health", healthHandler)
	r.Method(http.MethodGet, "/metrics", metrics.Get().Handler())

	// Agent web client surface; session auth rides on the cpx_id cookie
	r.Post("/login", web.HandleLogin)
	r.Post("/api", web.HandleAPI)
	r.Post("/poll", web.HandlePoll)

	// Internal routes (no auth - for media driver processes)
	r.Route("/internal", func(r chi.Router) {
		r.Get("/media/ws", mediaHub.ServeHTTP)
	})

	// Supervisor dashboard routes behind token auth
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Get("/supervisor/agents", supervisorAPI.ListAgents)
		r.Post("/supervisor/agents/{login}/kick", supervisorAPI.KickAgent)
		r.Get("/supervisor/states", supervisorAPI.StateHistory)
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second, // long polls are held up to the liveness window
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"oacd-core"}`)
}
