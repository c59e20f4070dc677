package postgres

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/chanticle/chanticle/store"
)

// CreateMessage inserts a message. The embedding may be nil; the
// embedding runner fills it in asynchronously.
func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	metadata, err := marshalMetadata(create.Metadata)
	if err != nil {
		return nil, err
	}

	stmt := `
		INSERT INTO message (channel_id, user_id, content, created_ts, embedding, handled, mention_bot, metadata)
		VALUES (` + placeholders(8) + `)
		RETURNING id
	`

	var embedding any
	if len(create.Embedding) > 0 {
		embedding = pgvector.NewVector(create.Embedding)
	}
	err = d.db.QueryRowContext(ctx, stmt,
		create.ChannelID,
		create.UserID,
		create.Text,
		create.CreatedTs,
		embedding,
		create.Handled,
		create.MentionBot,
		metadata,
	).Scan(&create.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create message")
	}

	return create, nil
}

// ListMessages lists messages ordered by created_ts descending.
// Embeddings are not hydrated; use the vector search and embedding
// methods for those.
func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.ChannelID != nil {
		where, args = append(where, "channel_id = "+placeholder(len(args)+1)), append(args, *find.ChannelID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.Handled != nil {
		where, args = append(where, "handled = "+placeholder(len(args)+1)), append(args, *find.Handled)
	}
	if find.MentionBot != nil {
		where, args = append(where, "mention_bot = "+placeholder(len(args)+1)), append(args, *find.MentionBot)
	}

	query := `
		SELECT id, channel_id, user_id, content, created_ts, handled, mention_bot, metadata
		FROM message
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
	`
	if find.Limit != nil {
		args = append(args, *find.Limit)
		query += " LIMIT " + placeholder(len(args))
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	list := []*store.Message{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateMessage updates the mutable fields of a message.
func (d *DB) UpdateMessage(ctx context.Context, update *store.UpdateMessage) error {
	set, args := []string{}, []any{}

	if update.Handled != nil {
		set, args = append(set, "handled = "+placeholder(len(args)+1)), append(args, *update.Handled)
	}
	if update.Metadata != nil {
		metadata, err := marshalMetadata(update.Metadata)
		if err != nil {
			return err
		}
		set, args = append(set, "metadata = "+placeholder(len(args)+1)), append(args, metadata)
	}
	if len(set) == 0 {
		return nil
	}

	args = append(args, update.ID)
	stmt := `UPDATE message SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to update message")
	}
	return nil
}

// UpdateMessageEmbedding sets the embedding vector for a message.
func (d *DB) UpdateMessageEmbedding(ctx context.Context, id int32, embedding []float32) error {
	stmt := `UPDATE message SET embedding = ` + placeholder(1) + ` WHERE id = ` + placeholder(2)
	result, err := d.db.ExecContext(ctx, stmt, pgvector.NewVector(embedding), id)
	if err != nil {
		return errors.Wrap(err, "failed to update message embedding")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.Errorf("message %d not found", id)
	}
	return nil
}

// FindMessagesWithoutEmbedding finds messages not yet embedded, oldest first.
func (d *DB) FindMessagesWithoutEmbedding(ctx context.Context, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, channel_id, user_id, content, created_ts, handled, mention_bot, metadata
		FROM message
		WHERE embedding IS NULL AND LENGTH(content) > 0
		ORDER BY created_ts ASC
		LIMIT ` + placeholder(1)

	rows, err := d.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find messages without embedding")
	}
	defer rows.Close()

	list := []*store.Message{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// VectorSearch performs nearest-neighbor search using pgvector.
// The <=> operator computes cosine distance, so ordering ascending by
// distance yields most similar first.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.SearchHit, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	vector := pgvector.NewVector(opts.Vector)
	where, args := []string{"embedding IS NOT NULL"}, []any{vector}

	if opts.ChannelID != nil {
		where, args = append(where, "channel_id = "+placeholder(len(args)+1)), append(args, *opts.ChannelID)
	}
	if opts.Handled != nil {
		where, args = append(where, "handled = "+placeholder(len(args)+1)), append(args, *opts.Handled)
	}
	if opts.MentionBot != nil {
		where, args = append(where, "mention_bot = "+placeholder(len(args)+1)), append(args, *opts.MentionBot)
	}
	if opts.MaxDistance != nil {
		where = append(where, "embedding <=> "+placeholder(len(args)+1)+" < "+placeholder(len(args)+2))
		args = append(args, vector, *opts.MaxDistance)
	}

	args = append(args, limit)
	query := `
		SELECT id, channel_id, content, created_ts, handled, mention_bot, embedding <=> ` + placeholder(1) + ` AS distance
		FROM message
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY distance
		LIMIT ` + placeholder(len(args))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search")
	}
	defer rows.Close()

	hits := []*store.SearchHit{}
	for rows.Next() {
		var hit store.SearchHit
		err := rows.Scan(
			&hit.MessageID,
			&hit.ChannelID,
			&hit.Text,
			&hit.CreatedTs,
			&hit.Handled,
			&hit.MentionBot,
			&hit.Distance,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan search hit")
		}
		hits = append(hits, &hit)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return hits, nil
}

// ListMessagesAfter returns the chronologically nearest messages after
// the given timestamp in a channel.
func (d *DB) ListMessagesAfter(ctx context.Context, channelID string, afterTs int64, limit int) ([]*store.Message, error) {
	query := `
		SELECT id, channel_id, user_id, content, created_ts, handled, mention_bot, metadata
		FROM message
		WHERE channel_id = ` + placeholder(1) + ` AND created_ts > ` + placeholder(2) + `
		ORDER BY created_ts ASC
		LIMIT ` + placeholder(3)

	rows, err := d.db.QueryContext(ctx, query, channelID, afterTs, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages after timestamp")
	}
	defer rows.Close()

	list := []*store.Message{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// ListLatestMessages returns the most recent messages in a channel.
func (d *DB) ListLatestMessages(ctx context.Context, channelID string, limit int) ([]*store.Message, error) {
	query := `
		SELECT id, channel_id, user_id, content, created_ts, handled, mention_bot, metadata
		FROM message
		WHERE channel_id = ` + placeholder(1) + `
		ORDER BY created_ts DESC
		LIMIT ` + placeholder(2)

	rows, err := d.db.QueryContext(ctx, query, channelID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list latest messages")
	}
	defer rows.Close()

	list := []*store.Message{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// GetChannelStats summarizes the messages of one channel.
func (d *DB) GetChannelStats(ctx context.Context, channelID string) (*store.ChannelStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(DISTINCT user_id),
			COALESCE(MIN(created_ts), 0),
			COALESCE(MAX(created_ts), 0),
			COUNT(*) FILTER (WHERE handled),
			COUNT(*) FILTER (WHERE mention_bot)
		FROM message
		WHERE channel_id = ` + placeholder(1)

	stats := store.ChannelStats{ChannelID: channelID}
	err := d.db.QueryRowContext(ctx, query, channelID).Scan(
		&stats.TotalMessages,
		&stats.UniqueUsers,
		&stats.EarliestTs,
		&stats.LatestTs,
		&stats.HandledCount,
		&stats.MentionCount,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get channel stats")
	}
	return &stats, nil
}

// ListChannels returns all channels with messages, busiest first.
func (d *DB) ListChannels(ctx context.Context) ([]*store.ChannelInfo, error) {
	query := `
		SELECT channel_id, COUNT(*) AS message_count
		FROM message
		GROUP BY channel_id
		ORDER BY message_count DESC
	`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list channels")
	}
	defer rows.Close()

	list := []*store.ChannelInfo{}
	for rows.Next() {
		var info store.ChannelInfo
		if err := rows.Scan(&info.ChannelID, &info.MessageCount); err != nil {
			return nil, errors.Wrap(err, "failed to scan channel info")
		}
		list = append(list, &info)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var message store.Message
	var metadataBytes []byte
	err := row.Scan(
		&message.ID,
		&message.ChannelID,
		&message.UserID,
		&message.Text,
		&message.CreatedTs,
		&message.Handled,
		&message.MentionBot,
		&metadataBytes,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan message")
	}

	if len(metadataBytes) > 0 {
		if err := json.Unmarshal(metadataBytes, &message.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal message metadata")
		}
	}
	return &message, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	buf, err := json.Marshal(metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal message metadata")
	}
	return buf, nil
}
