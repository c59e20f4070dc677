package embedding

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanticle/chanticle/plugin/ai"
	"github.com/chanticle/chanticle/store"
)

// fakeStore is an in-memory Store tracking which messages got vectors.
type fakeStore struct {
	mu       sync.Mutex
	pending  []*store.Message
	vectors  map[int32][]float32
	findErr  error
	storeErr error
}

func newFakeStore(pending ...*store.Message) *fakeStore {
	return &fakeStore{pending: pending, vectors: map[int32][]float32{}}
}

func (f *fakeStore) FindMessagesWithoutEmbedding(_ context.Context, limit int) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	remaining := []*store.Message{}
	for _, message := range f.pending {
		if _, ok := f.vectors[message.ID]; !ok {
			remaining = append(remaining, message)
		}
	}
	if len(remaining) > limit {
		remaining = remaining[:limit]
	}
	return remaining, nil
}

func (f *fakeStore) UpdateMessageEmbedding(_ context.Context, id int32, embedding []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return f.storeErr
	}
	f.vectors[id] = embedding
	return nil
}

func (f *fakeStore) embedded() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.vectors)
}

func TestRunOnceEmbedsPendingMessages(t *testing.T) {
	st := newFakeStore(
		&store.Message{ID: 1, Text: "first"},
		&store.Message{ID: 2, Text: "second"},
		&store.Message{ID: 3, Text: "third"},
	)
	embedding := ai.NewMockEmbeddingService(8)
	runner := NewRunner(st, embedding)

	runner.RunOnce(context.Background())

	assert.Equal(t, 3, st.embedded())
	require.Len(t, st.vectors[1], 8)
}

func TestRunOnceProcessesInBatches(t *testing.T) {
	messages := make([]*store.Message, 40)
	for i := range messages {
		messages[i] = &store.Message{ID: int32(i + 1), Text: "message"}
	}
	st := newFakeStore(messages...)
	embedding := ai.NewMockEmbeddingService(8)
	runner := NewRunner(st, embedding)
	runner.batchSize = 16

	runner.RunOnce(context.Background())

	assert.Equal(t, 40, st.embedded())
	// 40 messages in batches of 16 is three batch calls.
	assert.Equal(t, 3, embedding.Calls())
}

func TestRunOnceNothingPending(t *testing.T) {
	st := newFakeStore()
	embedding := ai.NewMockEmbeddingService(8)
	runner := NewRunner(st, embedding)

	runner.RunOnce(context.Background())

	assert.Zero(t, embedding.Calls())
}

func TestRunOnceSurvivesEmbeddingFailure(t *testing.T) {
	st := newFakeStore(&store.Message{ID: 1, Text: "first"})
	embedding := ai.NewMockEmbeddingService(8)
	embedding.FailWith(assert.AnError)
	runner := NewRunner(st, embedding)

	runner.RunOnce(context.Background())

	assert.Zero(t, st.embedded())
}

func TestRunStopsOnCancel(t *testing.T) {
	st := newFakeStore()
	runner := NewRunner(st, ai.NewMockEmbeddingService(8))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
}
