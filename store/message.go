package store

import (
	"context"
)

// Message is an ingested chat message. Once stored it is an immutable
// historical fact; only Handled and Metadata may be updated afterwards.
type Message struct {
	ID         int32
	ChannelID  string
	UserID     string
	Text       string
	CreatedTs  int64
	Embedding  []float32
	Handled    bool
	MentionBot bool
	Metadata   map[string]any
}

// FindMessage is the filter for listing messages.
type FindMessage struct {
	ID         *int32
	ChannelID  *string
	UserID     *string
	Handled    *bool
	MentionBot *bool
	Limit      *int
}

// UpdateMessage holds mutable message fields.
type UpdateMessage struct {
	ID       int32
	Handled  *bool
	Metadata map[string]any
}

// SearchHit is a single vector search result. Distance semantics follow
// the store metric (cosine distance, smaller is more similar). Result
// sets are always ordered ascending by distance.
type SearchHit struct {
	MessageID  int32
	ChannelID  string
	Text       string
	CreatedTs  int64
	Distance   float64
	Handled    bool
	MentionBot bool
}

// VectorSearchOptions controls a nearest-neighbor query.
type VectorSearchOptions struct {
	Vector []float32
	// ChannelID restricts candidates to one channel when set.
	ChannelID *string
	// MaxDistance keeps only hits with distance strictly below it when set.
	MaxDistance *float64
	// Handled / MentionBot filter candidates by flag when set.
	Handled    *bool
	MentionBot *bool
	Limit      int
}

// ChannelStats summarizes the messages of one channel.
type ChannelStats struct {
	ChannelID     string
	TotalMessages int64
	UniqueUsers   int64
	EarliestTs    int64
	LatestTs      int64
	HandledCount  int64
	MentionCount  int64
}

// ChannelInfo pairs a channel with its message count.
type ChannelInfo struct {
	ChannelID    string
	MessageCount int64
}

func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	return s.driver.CreateMessage(ctx, create)
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

func (s *Store) UpdateMessage(ctx context.Context, update *UpdateMessage) error {
	return s.driver.UpdateMessage(ctx, update)
}

func (s *Store) UpdateMessageEmbedding(ctx context.Context, id int32, embedding []float32) error {
	return s.driver.UpdateMessageEmbedding(ctx, id, embedding)
}

func (s *Store) FindMessagesWithoutEmbedding(ctx context.Context, limit int) ([]*Message, error) {
	return s.driver.FindMessagesWithoutEmbedding(ctx, limit)
}

func (s *Store) VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*SearchHit, error) {
	return s.driver.VectorSearch(ctx, opts)
}

// ListMessagesAfter returns up to limit messages in the channel with
// created_ts strictly greater than afterTs, ordered ascending.
func (s *Store) ListMessagesAfter(ctx context.Context, channelID string, afterTs int64, limit int) ([]*Message, error) {
	return s.driver.ListMessagesAfter(ctx, channelID, afterTs, limit)
}

// ListLatestMessages returns up to limit most recent messages in the channel.
func (s *Store) ListLatestMessages(ctx context.Context, channelID string, limit int) ([]*Message, error) {
	return s.driver.ListLatestMessages(ctx, channelID, limit)
}

func (s *Store) GetChannelStats(ctx context.Context, channelID string) (*ChannelStats, error) {
	return s.driver.GetChannelStats(ctx, channelID)
}

func (s *Store) ListChannels(ctx context.Context) ([]*ChannelInfo, error) {
	return s.driver.ListChannels(ctx)
}
