package sqlite

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/chanticle/chanticle/store"
)

// CreateMessage inserts a message. The embedding, when present, is
// stored as a JSON array of floats.
func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	metadata, err := json.Marshal(metadataOrEmpty(create.Metadata))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal message metadata")
	}

	var embedding any
	if len(create.Embedding) > 0 {
		buf, err := json.Marshal(create.Embedding)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal embedding")
		}
		embedding = string(buf)
	}

	stmt := `
		INSERT INTO message (channel_id, user_id, content, created_ts, embedding, handled, mention_bot, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	err = d.db.QueryRowContext(ctx, stmt,
		create.ChannelID,
		create.UserID,
		create.Text,
		create.CreatedTs,
		embedding,
		create.Handled,
		create.MentionBot,
		string(metadata),
	).Scan(&create.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create message")
	}

	return create, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.ChannelID != nil {
		where, args = append(where, "channel_id = ?"), append(args, *find.ChannelID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.Handled != nil {
		where, args = append(where, "handled = ?"), append(args, *find.Handled)
	}
	if find.MentionBot != nil {
		where, args = append(where, "mention_bot = ?"), append(args, *find.MentionBot)
	}

	query := `
		SELECT id, channel_id, user_id, content, created_ts, handled, mention_bot, metadata
		FROM message
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
	`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	return d.queryMessages(ctx, query, args...)
}

func (d *DB) UpdateMessage(ctx context.Context, update *store.UpdateMessage) error {
	set, args := []string{}, []any{}

	if update.Handled != nil {
		set, args = append(set, "handled = ?"), append(args, *update.Handled)
	}
	if update.Metadata != nil {
		metadata, err := json.Marshal(update.Metadata)
		if err != nil {
			return errors.Wrap(err, "failed to marshal message metadata")
		}
		set, args = append(set, "metadata = ?"), append(args, string(metadata))
	}
	if len(set) == 0 {
		return nil
	}

	args = append(args, update.ID)
	stmt := `UPDATE message SET ` + strings.Join(set, ", ") + ` WHERE id = ?`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to update message")
	}
	return nil
}

func (d *DB) UpdateMessageEmbedding(ctx context.Context, id int32, embedding []float32) error {
	buf, err := json.Marshal(embedding)
	if err != nil {
		return errors.Wrap(err, "failed to marshal embedding")
	}

	result, err := d.db.ExecContext(ctx, `UPDATE message SET embedding = ? WHERE id = ?`, string(buf), id)
	if err != nil {
		return errors.Wrap(err, "failed to update message embedding")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.Errorf("message %d not found", id)
	}
	return nil
}

func (d *DB) FindMessagesWithoutEmbedding(ctx context.Context, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, channel_id, user_id, content, created_ts, handled, mention_bot, metadata
		FROM message
		WHERE embedding IS NULL AND LENGTH(content) > 0
		ORDER BY created_ts ASC
		LIMIT ?
	`
	return d.queryMessages(ctx, query, limit)
}

// VectorSearch is NOT supported for SQLite.
func (d *DB) VectorSearch(_ context.Context, _ *store.VectorSearchOptions) ([]*store.SearchHit, error) {
	return nil, errVectorNotSupported
}

func (d *DB) ListMessagesAfter(ctx context.Context, channelID string, afterTs int64, limit int) ([]*store.Message, error) {
	query := `
		SELECT id, channel_id, user_id, content, created_ts, handled, mention_bot, metadata
		FROM message
		WHERE channel_id = ? AND created_ts > ?
		ORDER BY created_ts ASC
		LIMIT ?
	`
	return d.queryMessages(ctx, query, channelID, afterTs, limit)
}

func (d *DB) ListLatestMessages(ctx context.Context, channelID string, limit int) ([]*store.Message, error) {
	query := `
		SELECT id, channel_id, user_id, content, created_ts, handled, mention_bot, metadata
		FROM message
		WHERE channel_id = ?
		ORDER BY created_ts DESC
		LIMIT ?
	`
	return d.queryMessages(ctx, query, channelID, limit)
}

func (d *DB) GetChannelStats(ctx context.Context, channelID string) (*store.ChannelStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(DISTINCT user_id),
			COALESCE(MIN(created_ts), 0),
			COALESCE(MAX(created_ts), 0),
			COALESCE(SUM(handled), 0),
			COALESCE(SUM(mention_bot), 0)
		FROM message
		WHERE channel_id = ?
	`

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

func (d *DB) queryMessages(ctx context.Context, query string, args ...any) ([]*store.Message, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query messages")
	}
	defer rows.Close()

	list := []*store.Message{}
	for rows.Next() {
		var message store.Message
		var metadataStr string
		err := rows.Scan(
			&message.ID,
			&message.ChannelID,
			&message.UserID,
			&message.Text,
			&message.CreatedTs,
			&message.Handled,
			&message.MentionBot,
			&metadataStr,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		if metadataStr != "" {
			if err := json.Unmarshal([]byte(metadataStr), &message.Metadata); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal message metadata")
			}
		}
		list = append(list, &message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func metadataOrEmpty(metadata map[string]any) map[string]any {
	if metadata == nil {
		return map[string]any{}
	}
	return metadata
}
