// Package embedding backfills embedding vectors for messages that were
// ingested before a vector could be computed.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chanticle/chanticle/plugin/ai"
	"github.com/chanticle/chanticle/store"
)

// Store is the slice of the message store the runner needs.
type Store interface {
	FindMessagesWithoutEmbedding(ctx context.Context, limit int) ([]*store.Message, error)
	UpdateMessageEmbedding(ctx context.Context, id int32, embedding []float32) error
}

type Runner struct {
	store            Store
	embeddingService ai.EmbeddingService
	interval         time.Duration
	batchSize        int
}

// NewRunner creates a vector embedding backfill runner. Small batches
// keep memory peaks down; the interval keeps the runner off the hot
// path of the request-serving goroutines.
func NewRunner(st Store, embeddingService ai.EmbeddingService) *Runner {
	return &Runner{
		store:            st,
		embeddingService: embeddingService,
		interval:         time.Minute,
		batchSize:        16,
	}
}

// Run starts the background task and blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	// Process once on startup.
	r.processPendingMessages(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.processPendingMessages(ctx)
		case <-ctx.Done():
			slog.Info("embedding runner stopped")
			return
		}
	}
}

// RunOnce processes pending messages once, for manual trigger.
func (r *Runner) RunOnce(ctx context.Context) {
	r.processPendingMessages(ctx)
}

func (r *Runner) processPendingMessages(ctx context.Context) {
	messages, err := r.store.FindMessagesWithoutEmbedding(ctx, r.batchSize*20)
	if err != nil {
		slog.Error("failed to find messages without embedding", "error", err)
		return
	}
	if len(messages) == 0 {
		return
	}

	slog.Info("processing messages for embedding", "count", len(messages))

	for i := 0; i < len(messages); i += r.batchSize {
		select {
		case <-ctx.Done():
			slog.Info("embedding processing cancelled", "processed", i, "total", len(messages))
			return
		default:
		}

		end := i + r.batchSize
		if end > len(messages) {
			end = len(messages)
		}
		batch := messages[i:end]

		if err := r.processBatch(ctx, batch); err != nil {
			slog.Error("failed to process embedding batch", "error", err)
			continue
		}
		slog.Debug("embedding batch processed",
			"count", len(batch), "progress", fmt.Sprintf("%d/%d", end, len(messages)))
	}
}

func (r *Runner) processBatch(ctx context.Context, messages []*store.Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	texts := make([]string, len(messages))
	for i, message := range messages {
		texts[i] = message.Text
	}

	vectors, err := r.embeddingService.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	for i, message := range messages {
		if err := r.store.UpdateMessageEmbedding(ctx, message.ID, vectors[i]); err != nil {
			slog.Error("failed to store embedding", "message_id", message.ID, "error", err)
		}
	}
	return nil
}
