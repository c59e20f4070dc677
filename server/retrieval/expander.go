package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/chanticle/chanticle/store"
)

const (
	// neighborLimit is how many chronologically-following messages are
	// pulled in per hit.
	neighborLimit = 5
	// tailLimit is how many of the channel's most recent messages are
	// always included.
	tailLimit = 5
	// maxConcurrentFetches bounds the neighbor fan-out.
	maxConcurrentFetches = 4
)

// ContextSet maps message id to text. Keys are unique; iteration order
// carries no meaning, the set is consumed as an unordered bag of texts.
type ContextSet map[int32]string

// Texts returns the set's texts in ascending id order. The order is for
// reproducible prompts only; consumers must not read meaning into it.
func (cs ContextSet) Texts() []string {
	ids := make([]int32, 0, len(cs))
	for id := range cs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	texts := make([]string, len(ids))
	for i, id := range ids {
		texts[i] = cs[id]
	}
	return texts
}

// Expander reconstructs conversational context around search hits.
//
// Pure top-k similarity misses continuation messages ("yes, let's do
// it") that share nothing lexical with the query. Pulling each hit's
// chronological followers plus the channel tail recovers them without
// a second semantic pass.
type Expander struct {
	store MessageStore
}

// NewExpander creates a new Expander.
func NewExpander(st MessageStore) *Expander {
	return &Expander{store: st}
}

// Expand unions three sources into one id-deduplicated context set:
// the hits themselves, up to 5 messages following each hit in its
// channel, and the 5 most recent channel messages. Fetch failures for
// individual hits or the tail are logged and skipped; partial context
// is acceptable. The result is identical regardless of fetch order
// because the union is keyed by message id.
func (e *Expander) Expand(ctx context.Context, hits []*store.SearchHit, channelID string) ContextSet {
	set := make(ContextSet, len(hits))
	for _, hit := range hits {
		set[hit.MessageID] = hit.Text
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)

	for _, hit := range hits {
		hit := hit
		g.Go(func() error {
			neighbors, err := e.store.ListMessagesAfter(gctx, channelID, hit.CreatedTs, neighborLimit)
			if err != nil {
				slog.Warn("failed to fetch forward neighbors",
					"channel_id", channelID,
					"message_id", hit.MessageID,
					"error", err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, neighbor := range neighbors {
				if _, ok := set[neighbor.ID]; !ok {
					set[neighbor.ID] = neighbor.Text
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	latest, err := e.store.ListLatestMessages(ctx, channelID, tailLimit)
	if err != nil {
		slog.Warn("failed to fetch channel tail", "channel_id", channelID, "error", err)
		return set
	}
	for _, message := range latest {
		if _, ok := set[message.ID]; !ok {
			set[message.ID] = message.Text
		}
	}

	return set
}
