package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that a store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)
	Migrate(ctx context.Context) error

	// Message model related methods.
	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	UpdateMessage(ctx context.Context, update *UpdateMessage) error

	// UpdateMessageEmbedding updates the embedding vector for a message.
	UpdateMessageEmbedding(ctx context.Context, id int32, embedding []float32) error

	// FindMessagesWithoutEmbedding finds messages that don't have an embedding yet.
	FindMessagesWithoutEmbedding(ctx context.Context, limit int) ([]*Message, error)

	// VectorSearch performs nearest-neighbor search over message embeddings.
	// Results are ordered ascending by distance.
	VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*SearchHit, error)

	// ListMessagesAfter returns messages in a channel strictly after the
	// given timestamp, ordered ascending by created_ts.
	ListMessagesAfter(ctx context.Context, channelID string, afterTs int64, limit int) ([]*Message, error)

	// ListLatestMessages returns the most recent messages in a channel.
	ListLatestMessages(ctx context.Context, channelID string, limit int) ([]*Message, error)

	GetChannelStats(ctx context.Context, channelID string) (*ChannelStats, error)
	ListChannels(ctx context.Context) ([]*ChannelInfo, error)

	// PipelineRun model related methods. GetPipelineRun returns
	// (nil, nil) when the run does not exist.
	CreatePipelineRun(ctx context.Context, create *PipelineRun) (*PipelineRun, error)
	GetPipelineRun(ctx context.Context, id string) (*PipelineRun, error)
	ListPipelineRuns(ctx context.Context, find *FindPipelineRun) ([]*PipelineRun, error)
	UpdatePipelineRun(ctx context.Context, update *UpdatePipelineRun) error

	// PipelineStep model related methods.
	UpsertPipelineStep(ctx context.Context, upsert *PipelineStep) (*PipelineStep, error)
	GetPipelineStep(ctx context.Context, runID, name string) (*PipelineStep, error)
	ListPipelineSteps(ctx context.Context, runID string) ([]*PipelineStep, error)
}
