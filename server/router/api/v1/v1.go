// Package v1 exposes the HTTP API: the chat event webhook, semantic
// search, pipeline runs, and channel reporting.
package v1

import (
	"github.com/labstack/echo/v4"

	"github.com/chanticle/chanticle/internal/profile"
	"github.com/chanticle/chanticle/server/gate"
	"github.com/chanticle/chanticle/server/middleware"
	"github.com/chanticle/chanticle/server/pipeline"
	"github.com/chanticle/chanticle/server/retrieval"
	"github.com/chanticle/chanticle/store"
)

type APIV1Service struct {
	Profile  *profile.Profile
	Store    *store.Store
	Searcher *retrieval.Searcher
	Expander *retrieval.Expander
	Gate     *gate.Gate
	Runner   *pipeline.Runner
	Pool     *pipeline.Pool

	limiter *middleware.RateLimiter
}

func NewAPIV1Service(profile *profile.Profile, st *store.Store, searcher *retrieval.Searcher, expander *retrieval.Expander, g *gate.Gate, runner *pipeline.Runner, pool *pipeline.Pool) *APIV1Service {
	return &APIV1Service{
		Profile:  profile,
		Store:    st,
		Searcher: searcher,
		Expander: expander,
		Gate:     g,
		Runner:   runner,
		Pool:     pool,
		limiter:  middleware.NewRateLimiter(10, 20),
	}
}

// RegisterRoutes registers the API routes on the given Echo instance.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api/v1", s.limiter.Middleware())

	api.POST("/events", s.HandleChatEvent)

	api.POST("/search", s.Search)
	api.POST("/search/all", s.SearchAll)

	api.POST("/runs", s.CreateRun)
	api.GET("/runs", s.ListRuns)
	api.GET("/runs/:id", s.GetRun)
	api.POST("/runs/:id/resume", s.ResumeRun)

	api.GET("/channels", s.ListChannels)
	api.GET("/channels/:id/stats", s.GetChannelStats)
}
