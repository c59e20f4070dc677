// Package server assembles the store, the AI and tracker clients, the
// decision pipeline, and the HTTP API into one runnable service.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/chanticle/chanticle/internal/profile"
	"github.com/chanticle/chanticle/plugin/ai"
	"github.com/chanticle/chanticle/plugin/tracker"
	"github.com/chanticle/chanticle/server/gate"
	"github.com/chanticle/chanticle/server/pipeline"
	"github.com/chanticle/chanticle/server/retrieval"
	"github.com/chanticle/chanticle/server/router/api/v1"
	"github.com/chanticle/chanticle/server/runner/embedding"
	"github.com/chanticle/chanticle/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	pool       *pipeline.Pool
	backfill   *embedding.Runner
}

// NewServer wires every component. Fatal configuration problems (bad
// driver, missing credentials for enabled features) surface here, not
// at first use.
func NewServer(ctx context.Context, profile *profile.Profile, st *store.Store) (*Server, error) {
	aiConfig := ai.NewConfigFromProfile(profile)
	embeddingService, err := ai.NewEmbeddingService(&aiConfig.Embedding)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create embedding service")
	}
	chatService, err := ai.NewChatService(&aiConfig.Chat)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create chat service")
	}

	var issueTracker tracker.Tracker
	if profile.IsTrackerEnabled() {
		issueTracker, err = tracker.NewJiraClient(tracker.JiraConfig{
			BaseURL:    profile.TrackerBaseURL,
			OAuthToken: profile.TrackerOAuthToken,
			ProjectKey: profile.TrackerProjectKey,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create tracker client")
		}
	} else {
		slog.Warn("tracker is not configured, runs will see no existing tickets and create none")
		issueTracker = tracker.NewMockTracker()
	}

	searcher := retrieval.NewSearcher(st, embeddingService)
	expander := retrieval.NewExpander(st)
	ticketGate := gate.NewGate(gate.NewLLMClassifier(chatService))

	runner := pipeline.NewRunner(st, searcher, expander, ticketGate, issueTracker, pipeline.Config{
		StepTimeout:      profile.StepTimeout,
		MaxAttempts:      profile.StepMaxAttempts,
		DefaultTopK:      profile.RunDefaultTopK,
		DefaultThreshold: profile.RunThreshold,
		Project:          profile.TrackerProjectKey,
	})
	pool := pipeline.NewPool(ctx, runner, profile.PipelineWorkers, profile.PipelineWorkers*8)

	echoServer := echo.New()
	echoServer.Debug = profile.Mode == "dev"
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(echomw.Recover())

	apiService := v1.NewAPIV1Service(profile, st, searcher, expander, ticketGate, runner, pool)
	apiService.RegisterRoutes(echoServer)

	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.String(200, "ok")
	})

	return &Server{
		Profile:    profile,
		Store:      st,
		echoServer: echoServer,
		pool:       pool,
		backfill:   embedding.NewRunner(st, embeddingService),
	}, nil
}

// Start launches the backfill runner and the HTTP listener.
func (s *Server) Start(ctx context.Context) error {
	go s.backfill.Run(ctx)

	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("server listening", "address", address)
	return s.echoServer.Start(address)
}

// Shutdown drains the pipeline pool and stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down http server", "error", err)
	}

	s.pool.Shutdown()

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("server shut down")
}
