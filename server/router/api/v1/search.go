package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/chanticle/chanticle/server/retrieval"
	"github.com/chanticle/chanticle/store"
)

// SearchRequest is a channel-scoped semantic search.
type SearchRequest struct {
	Query     string   `json:"query"`
	ChannelID string   `json:"channel_id"`
	TopK      *int     `json:"top_k,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	// Expand pulls in chronological neighbors and the channel tail,
	// the same context a pipeline run would see.
	Expand bool `json:"expand,omitempty"`
}

// SearchHitResponse is one ranked result.
type SearchHitResponse struct {
	MessageID  int32   `json:"message_id"`
	ChannelID  string  `json:"channel_id"`
	Text       string  `json:"text"`
	CreatedTs  int64   `json:"created_ts"`
	Distance   float64 `json:"distance"`
	Handled    *bool   `json:"handled,omitempty"`
	MentionBot *bool   `json:"mention_bot,omitempty"`
}

// SearchResponse is the ranked hits plus, when requested, the expanded
// context texts.
type SearchResponse struct {
	Hits    []*SearchHitResponse `json:"hits"`
	Context []string             `json:"context,omitempty"`
}

// Search runs a channel-scoped semantic search.
// POST /api/v1/search
func (s *APIV1Service) Search(c echo.Context) error {
	request := &SearchRequest{}
	if err := c.Bind(request); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request"})
	}

	hits, err := s.Searcher.Search(c.Request().Context(), request.Query, request.ChannelID, retrieval.Options{
		TopK:      request.TopK,
		Threshold: request.Threshold,
	})
	if err != nil {
		if isValidationError(err) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		// Degraded, not fatal: the caller gets "nothing found".
		slog.Warn("search degraded to empty result",
			"channel_id", request.ChannelID, "error", err)
		return c.JSON(http.StatusOK, &SearchResponse{Hits: []*SearchHitResponse{}})
	}

	response := &SearchResponse{Hits: convertHits(hits, false)}
	if request.Expand {
		response.Context = s.Expander.Expand(c.Request().Context(), hits, request.ChannelID).Texts()
	}
	return c.JSON(http.StatusOK, response)
}

// SearchAllRequest is an unscoped search across every channel.
type SearchAllRequest struct {
	Query      string   `json:"query"`
	TopK       *int     `json:"top_k,omitempty"`
	Threshold  *float64 `json:"threshold,omitempty"`
	Handled    *bool    `json:"handled,omitempty"`
	MentionBot *bool    `json:"mention_bot,omitempty"`
}

// SearchAll runs an unscoped search surfacing the handled/mention_bot
// flags for aggregate reporting.
// POST /api/v1/search/all
func (s *APIV1Service) SearchAll(c echo.Context) error {
	request := &SearchAllRequest{}
	if err := c.Bind(request); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request"})
	}

	hits, err := s.Searcher.SearchAll(c.Request().Context(), request.Query, retrieval.Options{
		TopK:      request.TopK,
		Threshold: request.Threshold,
	}, retrieval.Filter{
		Handled:    request.Handled,
		MentionBot: request.MentionBot,
	})
	if err != nil {
		if isValidationError(err) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		slog.Warn("unscoped search degraded to empty result", "error", err)
		return c.JSON(http.StatusOK, &SearchResponse{Hits: []*SearchHitResponse{}})
	}
	return c.JSON(http.StatusOK, &SearchResponse{Hits: convertHits(hits, true)})
}

func convertHits(hits []*store.SearchHit, withFlags bool) []*SearchHitResponse {
	converted := make([]*SearchHitResponse, len(hits))
	for i, hit := range hits {
		converted[i] = &SearchHitResponse{
			MessageID: hit.MessageID,
			ChannelID: hit.ChannelID,
			Text:      hit.Text,
			CreatedTs: hit.CreatedTs,
			Distance:  hit.Distance,
		}
		if withFlags {
			handled := hit.Handled
			mentionBot := hit.MentionBot
			converted[i].Handled = &handled
			converted[i].MentionBot = &mentionBot
		}
	}
	return converted
}

func isValidationError(err error) bool {
	return errors.Is(err, retrieval.ErrEmptyQuery) ||
		errors.Is(err, retrieval.ErrEmptyChannel) ||
		errors.Is(err, retrieval.ErrInvalidTopK)
}
