package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanticle/chanticle/store"
)

func TestMessageStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	created, err := ts.CreateMessage(ctx, &store.Message{
		ChannelID:  "general",
		UserID:     "U100",
		Text:       "the build is red",
		CreatedTs:  100,
		MentionBot: true,
		Metadata:   map[string]any{"thread": "t1"},
	})
	require.NoError(t, err)
	require.Greater(t, created.ID, int32(0))

	messages, err := ts.ListMessages(ctx, &store.FindMessage{ChannelID: stringPtr("general")})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "the build is red", messages[0].Text)
	assert.True(t, messages[0].MentionBot)
	assert.False(t, messages[0].Handled)
	assert.Equal(t, "t1", messages[0].Metadata["thread"])

	handled := true
	require.NoError(t, ts.UpdateMessage(ctx, &store.UpdateMessage{ID: created.ID, Handled: &handled}))
	messages, err = ts.ListMessages(ctx, &store.FindMessage{ID: &created.ID})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.True(t, messages[0].Handled)
}

func TestMessageEmbeddingBackfill(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	first, err := ts.CreateMessage(ctx, &store.Message{ChannelID: "general", UserID: "U1", Text: "first", CreatedTs: 100})
	require.NoError(t, err)
	_, err = ts.CreateMessage(ctx, &store.Message{
		ChannelID: "general", UserID: "U2", Text: "second", CreatedTs: 110,
		Embedding: []float32{0.1, 0.2},
	})
	require.NoError(t, err)

	pending, err := ts.FindMessagesWithoutEmbedding(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)

	require.NoError(t, ts.UpdateMessageEmbedding(ctx, first.ID, []float32{0.3, 0.4}))
	pending, err = ts.FindMessagesWithoutEmbedding(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMessageChronology(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	for i, text := range []string{"one", "two", "three", "four"} {
		_, err := ts.CreateMessage(ctx, &store.Message{
			ChannelID: "general",
			UserID:    "U1",
			Text:      text,
			CreatedTs: int64(100 + i*10),
		})
		require.NoError(t, err)
	}
	_, err := ts.CreateMessage(ctx, &store.Message{ChannelID: "random", UserID: "U2", Text: "elsewhere", CreatedTs: 120})
	require.NoError(t, err)

	after, err := ts.ListMessagesAfter(ctx, "general", 110, 2)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "three", after[0].Text)
	assert.Equal(t, "four", after[1].Text)

	latest, err := ts.ListLatestMessages(ctx, "general", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "four", latest[0].Text)
	assert.Equal(t, "three", latest[1].Text)
}

func TestVectorSearchUnsupportedOnSQLite(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	_, err := ts.VectorSearch(ctx, &store.VectorSearchOptions{Vector: []float32{0.1}, Limit: 10})
	assert.Error(t, err)
}

func TestChannelReporting(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	seed := []*store.Message{
		{ChannelID: "general", UserID: "U1", Text: "a", CreatedTs: 100, Handled: true},
		{ChannelID: "general", UserID: "U2", Text: "b", CreatedTs: 110, MentionBot: true},
		{ChannelID: "general", UserID: "U1", Text: "c", CreatedTs: 120},
		{ChannelID: "random", UserID: "U3", Text: "d", CreatedTs: 130},
	}
	for _, message := range seed {
		_, err := ts.CreateMessage(ctx, message)
		require.NoError(t, err)
	}

	channels, err := ts.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 2)

	stats, err := ts.GetChannelStats(ctx, "general")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, int64(3), stats.TotalMessages)
	assert.Equal(t, int64(2), stats.UniqueUsers)
	assert.Equal(t, int64(100), stats.EarliestTs)
	assert.Equal(t, int64(120), stats.LatestTs)
	assert.Equal(t, int64(1), stats.HandledCount)
	assert.Equal(t, int64(1), stats.MentionCount)
}

func stringPtr(s string) *string {
	return &s
}
