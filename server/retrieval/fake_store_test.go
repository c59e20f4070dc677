package retrieval

import (
	"context"
	"sort"
	"sync"

	"github.com/chanticle/chanticle/store"
)

// fakeMessageStore is an in-memory MessageStore. Vector search returns
// scripted hits filtered the same way the real store filters: by
// channel, by max distance, sorted ascending by distance, capped by
// limit.
type fakeMessageStore struct {
	mu       sync.Mutex
	hits     []*store.SearchHit
	messages []*store.Message

	lastLimit   int
	searchErr   error
	neighborErr error
	latestErr   error
}

func (f *fakeMessageStore) VectorSearch(_ context.Context, opts *store.VectorSearchOptions) ([]*store.SearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = opts.Limit
	if f.searchErr != nil {
		return nil, f.searchErr
	}

	results := []*store.SearchHit{}
	for _, hit := range f.hits {
		if opts.ChannelID != nil && hit.ChannelID != *opts.ChannelID {
			continue
		}
		if opts.MaxDistance != nil && hit.Distance >= *opts.MaxDistance {
			continue
		}
		if opts.Handled != nil && hit.Handled != *opts.Handled {
			continue
		}
		if opts.MentionBot != nil && hit.MentionBot != *opts.MentionBot {
			continue
		}
		results = append(results, hit)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (f *fakeMessageStore) ListMessagesAfter(_ context.Context, channelID string, afterTs int64, limit int) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.neighborErr != nil {
		return nil, f.neighborErr
	}

	results := []*store.Message{}
	for _, message := range f.messages {
		if message.ChannelID == channelID && message.CreatedTs > afterTs {
			results = append(results, message)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CreatedTs < results[j].CreatedTs })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (f *fakeMessageStore) ListLatestMessages(_ context.Context, channelID string, limit int) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latestErr != nil {
		return nil, f.latestErr
	}

	results := []*store.Message{}
	for _, message := range f.messages {
		if message.ChannelID == channelID {
			results = append(results, message)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CreatedTs > results[j].CreatedTs })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
