// Package server provides the public entry point for initializing the
// deskrouter control plane: it wires the agent index, routing pipeline,
// orchestration engine, session registry, and broadcaster into one handler.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/deskrouter/deskrouter/internal/api"
	"github.com/deskrouter/deskrouter/internal/api/handlers"
	"github.com/deskrouter/deskrouter/internal/broadcast"
	"github.com/deskrouter/deskrouter/internal/config"
	"github.com/deskrouter/deskrouter/internal/index"
	"github.com/deskrouter/deskrouter/internal/orchestrator"
	"github.com/deskrouter/deskrouter/internal/routing"
	"github.com/deskrouter/deskrouter/internal/sessions"
	"github.com/deskrouter/deskrouter/internal/telemetry"
)

// Server holds the initialized deskrouter control plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Engine is the orchestration engine, exposed for embedding callers.
	Engine *orchestrator.Engine

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to stop background
	// loops and flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all control plane components from environment config.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the control plane with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdownOTEL, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	idx, err := index.New(cfg.Index.ProfilePath, cfg.Index.RefreshInterval)
	if err != nil {
		if idx == nil || idx.Count() == 0 {
			return nil, fmt.Errorf("init agent index: %w", err)
		}
		// Profile file unusable, builtin defaults carry routing.
		log.Warn().Err(err).Msg("Agent index degraded to builtin defaults")
	}
	idx.Start(ctx)

	registry := sessions.NewRegistry(cfg.Orchestra.FeedbackWindow)
	hub := broadcast.NewHub(cfg.Broadcast.QueueSize)
	registry.OnEvict = hub.Forget
	registry.StartJanitor(ctx)

	var backend orchestrator.Backend
	if cfg.Orchestra.BackendURL != "" {
		backend = orchestrator.NewHTTPBackend(cfg.Orchestra.BackendURL, cfg.Orchestra.BackendTimeout)
		log.Info().Str("endpoint", cfg.Orchestra.BackendURL).Msg("Execution backend: HTTP")
	} else {
		backend = &orchestrator.LocalBackend{}
		log.Info().Msg("Execution backend: local canned responses")
	}

	decider, err := routing.NewDecider(cfg.Routing.EscalationRule)
	if err != nil {
		return nil, fmt.Errorf("init escalation decider: %w", err)
	}

	engine := orchestrator.NewEngine(
		idx,
		registry,
		hub,
		backend,
		routing.NewDefaultScorer(),
		routing.NewSelector(cfg.Routing.DefaultAgent),
		decider,
		cfg.Orchestra.EscalationTimeout,
	)

	ws := broadcast.NewWSServer(hub, cfg.Broadcast.PingInterval, cfg.Broadcast.PongTimeout)
	h := handlers.New(engine, registry, idx, ws)
	router := api.NewRouter(cfg, h)

	log.Info().Int("profiles", idx.Count()).Msg("Control plane initialized")

	return &Server{
		Handler: router,
		Engine:  engine,
		Port:    cfg.Port,
		ShutdownFunc: func(shutdownCtx context.Context) error {
			idx.Stop()
			registry.StopJanitor()
			return shutdownOTEL(shutdownCtx)
		},
	}, nil
}
