// Package api provides the HTTP control surface for the setup service.
//
// It exposes setup/shutdown/abort operations on hierarchy nodes, live
// state queries, result and quench history, and diagnostics for the
// simulated PV backend.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: all methods are safe for concurrent use.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"time"

	"github.com/slaclab/sc-linac-physics/internal/history"
	"github.com/slaclab/sc-linac-physics/internal/infrastructure/config"
	"github.com/slaclab/sc-linac-physics/internal/infrastructure/database"
	"github.com/slaclab/sc-linac-physics/internal/infrastructure/logging"
	"github.com/slaclab/sc-linac-physics/internal/linac"
	"github.com/slaclab/sc-linac-physics/internal/setup"
	"github.com/slaclab/sc-linac-physics/internal/sim"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config       config.APIConfig
	Logger       *logging.Logger
	Machine      *linac.Machine
	Orchestrator *setup.Orchestrator
	DB           *database.DB
	Results      *history.SetupResultRepository
	Quenches     *history.QuenchEventRepository

	// Sim enables the simulator diagnostics endpoints when the service
	// runs against the in-process backend. Nil in channel-access mode.
	Sim *sim.Server

	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg          config.APIConfig
	logger       *logging.Logger
	machine      *linac.Machine
	orchestrator *setup.Orchestrator
	db           *database.DB
	results      *history.SetupResultRepository
	quenches     *history.QuenchEventRepository
	sim          *sim.Server
	version      string

	server *http.Server
}

// New creates a new API server. It is not listening until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Machine == nil {
		return nil, fmt.Errorf("machine topology is required")
	}
	if deps.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}

	return &Server{
		cfg:          deps.Config,
		logger:       deps.Logger,
		machine:      deps.Machine,
		orchestrator: deps.Orchestrator,
		db:           deps.DB,
		results:      deps.Results,
		quenches:     deps.Quenches,
		sim:          deps.Sim,
		version:      deps.Version,
	}, nil
}

// Start launches the HTTP listener in a background goroutine.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.buildRouter(),
		ReadTimeout:  time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("api server listening", "addr", addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server failed", "error", err)
		}
	}()

	return nil
}

// Close shuts the listener down, waiting briefly for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down api server: %w", err)
	}
	return nil
}
