// Package retrieval implements semantic search over chat messages and
// the contextual expansion that turns ranked hits into a decision
// context.
package retrieval

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/chanticle/chanticle/plugin/ai"
	"github.com/chanticle/chanticle/store"
)

const (
	// DefaultTopK is the result cap when neither top_k nor a distance
	// threshold is supplied.
	DefaultTopK = 100
	// ThresholdTopK is the larger candidate pool retrieved when a
	// distance threshold is supplied, since the threshold does the
	// real filtering before truncation.
	ThresholdTopK = 1000
)

var (
	// ErrEmptyQuery is returned when the query is empty after trimming.
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrEmptyChannel is returned when the channel id is empty.
	ErrEmptyChannel = errors.New("channel id cannot be empty")
	// ErrInvalidTopK is returned when top_k is explicitly non-positive.
	ErrInvalidTopK = errors.New("top_k must be greater than zero")
)

// MessageStore is the slice of the store the retrieval engine needs.
type MessageStore interface {
	VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.SearchHit, error)
	ListMessagesAfter(ctx context.Context, channelID string, afterTs int64, limit int) ([]*store.Message, error)
	ListLatestMessages(ctx context.Context, channelID string, limit int) ([]*store.Message, error)
}

// Options tunes the precision/recall trade-off of a search.
// A nil TopK means "use the default for the mode"; an explicit
// non-positive TopK is rejected before any I/O.
type Options struct {
	TopK      *int
	Threshold *float64
}

// Filter restricts unscoped searches by message flags.
type Filter struct {
	Handled    *bool
	MentionBot *bool
}

// Searcher turns a text query into ranked message hits.
type Searcher struct {
	store     MessageStore
	embedding ai.EmbeddingService
}

// NewSearcher creates a new Searcher.
func NewSearcher(st MessageStore, embedding ai.EmbeddingService) *Searcher {
	return &Searcher{
		store:     st,
		embedding: embedding,
	}
}

// Search finds semantically similar messages within one channel.
// Results are ordered ascending by distance; when a threshold is set,
// every hit satisfies distance < threshold. Validation failures are
// reported before any embedding or store I/O happens.
func (s *Searcher) Search(ctx context.Context, query, channelID string, opts Options) ([]*store.SearchHit, error) {
	query = strings.TrimSpace(query)
	channelID = strings.TrimSpace(channelID)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if channelID == "" {
		return nil, ErrEmptyChannel
	}

	limit, err := resolveTopK(opts)
	if err != nil {
		return nil, err
	}

	vector, err := s.embedding.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed query")
	}

	hits, err := s.store.VectorSearch(ctx, &store.VectorSearchOptions{
		Vector:      vector,
		ChannelID:   &channelID,
		MaxDistance: opts.Threshold,
		Limit:       limit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "vector search failed")
	}

	slog.Debug("channel search finished",
		"channel_id", channelID,
		"hits", len(hits),
		"limit", limit,
		"threshold", opts.Threshold)
	return hits, nil
}

// SearchAll finds semantically similar messages across every channel.
// Hits carry the handled/mention_bot flags for aggregate reporting.
func (s *Searcher) SearchAll(ctx context.Context, query string, opts Options, filter Filter) ([]*store.SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	limit, err := resolveTopK(opts)
	if err != nil {
		return nil, err
	}

	vector, err := s.embedding.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed query")
	}

	hits, err := s.store.VectorSearch(ctx, &store.VectorSearchOptions{
		Vector:      vector,
		MaxDistance: opts.Threshold,
		Handled:     filter.Handled,
		MentionBot:  filter.MentionBot,
		Limit:       limit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "vector search failed")
	}
	return hits, nil
}

// resolveTopK applies the default policy: 100 without a threshold, 1000
// with one. The asymmetry is deliberate and matches the observed
// operating point of the system this replaces.
func resolveTopK(opts Options) (int, error) {
	if opts.TopK == nil {
		if opts.Threshold == nil {
			return DefaultTopK, nil
		}
		return ThresholdTopK, nil
	}
	if *opts.TopK <= 0 {
		return 0, ErrInvalidTopK
	}
	return *opts.TopK, nil
}
