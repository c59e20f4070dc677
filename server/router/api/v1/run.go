package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/chanticle/chanticle/server/pipeline"
	"github.com/chanticle/chanticle/store"
)

// CreateRunRequest starts a decision pipeline run.
type CreateRunRequest struct {
	Query     string  `json:"query"`
	ChannelID string  `json:"channel_id"`
	TopK      int     `json:"top_k,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	// Async queues the run on the worker pool instead of waiting for
	// the final context.
	Async bool `json:"async,omitempty"`
}

// RunResponse is the durable state of one pipeline run.
type RunResponse struct {
	ID        string            `json:"id"`
	ChannelID string            `json:"channel_id"`
	Query     string            `json:"query"`
	TopK      int               `json:"top_k"`
	Threshold float64           `json:"threshold"`
	Status    store.RunStatus   `json:"status"`
	Context   *pipeline.Context `json:"context,omitempty"`
	CreatedTs int64             `json:"created_ts"`
	UpdatedTs int64             `json:"updated_ts"`
}

// CreateRun executes a pipeline run, synchronously by default.
// POST /api/v1/runs
func (s *APIV1Service) CreateRun(c echo.Context) error {
	request := &CreateRunRequest{}
	if err := c.Bind(request); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request"})
	}

	if request.Async {
		if request.Query == "" || request.ChannelID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "query and channel_id are required"})
		}
		if err := s.Pool.Enqueue(pipeline.Job{
			Query:     request.Query,
			ChannelID: request.ChannelID,
			Options:   pipeline.RunOptions{TopK: request.TopK, Threshold: request.Threshold},
		}); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusAccepted, map[string]bool{"queued": true})
	}

	pc, err := s.Runner.Run(c.Request().Context(), request.Query, request.ChannelID, pipeline.RunOptions{
		TopK:      request.TopK,
		Threshold: request.Threshold,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyQuery) || errors.Is(err, pipeline.ErrEmptyChannel) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		// The run record holds everything accumulated before the
		// failure; point the caller at it.
		response := map[string]string{"error": err.Error()}
		if pc != nil {
			response["run_id"] = pc.RunID
		}
		return c.JSON(http.StatusBadGateway, response)
	}
	return s.respondWithRun(c, pc.RunID)
}

// GetRun returns one run with its accumulated context.
// GET /api/v1/runs/:id
func (s *APIV1Service) GetRun(c echo.Context) error {
	return s.respondWithRun(c, c.Param("id"))
}

// ListRuns lists runs, newest first, optionally filtered by channel or
// status.
// GET /api/v1/runs
func (s *APIV1Service) ListRuns(c echo.Context) error {
	find := &store.FindPipelineRun{}
	if channelID := c.QueryParam("channel_id"); channelID != "" {
		find.ChannelID = &channelID
	}
	if status := c.QueryParam("status"); status != "" {
		runStatus := store.RunStatus(status)
		find.Status = &runStatus
	}

	runs, err := s.Store.ListPipelineRuns(c.Request().Context(), find)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list runs"})
	}
	responses := make([]*RunResponse, len(runs))
	for i, run := range runs {
		responses[i] = convertRun(run, false)
	}
	return c.JSON(http.StatusOK, responses)
}

// ResumeRun re-enters a run at its first uncompleted step.
// POST /api/v1/runs/:id/resume
func (s *APIV1Service) ResumeRun(c echo.Context) error {
	if _, err := s.Runner.Resume(c.Request().Context(), c.Param("id")); err != nil {
		if errors.Is(err, pipeline.ErrAmbiguousSideEffect) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return s.respondWithRun(c, c.Param("id"))
}

func (s *APIV1Service) respondWithRun(c echo.Context, runID string) error {
	run, err := s.Store.GetPipelineRun(c.Request().Context(), runID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load run"})
	}
	if run == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	return c.JSON(http.StatusOK, convertRun(run, true))
}

func convertRun(run *store.PipelineRun, withContext bool) *RunResponse {
	response := &RunResponse{
		ID:        run.ID,
		ChannelID: run.ChannelID,
		Query:     run.Query,
		TopK:      run.TopK,
		Threshold: run.Threshold,
		Status:    run.Status,
		CreatedTs: run.CreatedTs,
		UpdatedTs: run.UpdatedTs,
	}
	if withContext && run.ContextJSON != "" {
		if pc, err := pipeline.UnmarshalContext(run.ContextJSON); err == nil {
			response.Context = pc
		}
	}
	return response
}
