package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/chanticle/chanticle/store"
)

func (d *DB) CreatePipelineRun(ctx context.Context, create *store.PipelineRun) (*store.PipelineRun, error) {
	stmt := `
		INSERT INTO pipeline_run (id, channel_id, query, top_k, threshold, status, context_json, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.ChannelID,
		create.Query,
		create.TopK,
		create.Threshold,
		create.Status,
		create.ContextJSON,
		create.CreatedTs,
		create.UpdatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pipeline run")
	}
	return create, nil
}

func (d *DB) GetPipelineRun(ctx context.Context, id string) (*store.PipelineRun, error) {
	query := `
		SELECT id, channel_id, query, top_k, threshold, status, context_json, created_ts, updated_ts
		FROM pipeline_run
		WHERE id = ?
	`

	var run store.PipelineRun
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.ChannelID,
		&run.Query,
		&run.TopK,
		&run.Threshold,
		&run.Status,
		&run.ContextJSON,
		&run.CreatedTs,
		&run.UpdatedTs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get pipeline run")
	}
	return &run, nil
}

func (d *DB) ListPipelineRuns(ctx context.Context, find *store.FindPipelineRun) ([]*store.PipelineRun, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.ChannelID != nil {
		where, args = append(where, "channel_id = ?"), append(args, *find.ChannelID)
	}
	if find.Status != nil {
		where, args = append(where, "status = ?"), append(args, *find.Status)
	}

	query := `
		SELECT id, channel_id, query, top_k, threshold, status, context_json, created_ts, updated_ts
		FROM pipeline_run
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
	`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pipeline runs")
	}
	defer rows.Close()

	list := []*store.PipelineRun{}
	for rows.Next() {
		var run store.PipelineRun
		err := rows.Scan(
			&run.ID,
			&run.ChannelID,
			&run.Query,
			&run.TopK,
			&run.Threshold,
			&run.Status,
			&run.ContextJSON,
			&run.CreatedTs,
			&run.UpdatedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan pipeline run")
		}
		list = append(list, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) UpdatePipelineRun(ctx context.Context, update *store.UpdatePipelineRun) error {
	set, args := []string{}, []any{}

	if update.Status != nil {
		set, args = append(set, "status = ?"), append(args, *update.Status)
	}
	if update.ContextJSON != nil {
		set, args = append(set, "context_json = ?"), append(args, *update.ContextJSON)
	}
	if len(set) == 0 {
		return nil
	}
	set = append(set, "updated_ts = STRFTIME('%s', 'now')")

	args = append(args, update.ID)
	stmt := `UPDATE pipeline_run SET ` + strings.Join(set, ", ") + ` WHERE id = ?`
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update pipeline run")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.Errorf("pipeline run %s not found", update.ID)
	}
	return nil
}

func (d *DB) UpsertPipelineStep(ctx context.Context, upsert *store.PipelineStep) (*store.PipelineStep, error) {
	stmt := `
		INSERT INTO pipeline_step (run_id, name, status, idempotency_key, result_json, started_ts, completed_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, name)
		DO UPDATE SET
			status = EXCLUDED.status,
			idempotency_key = EXCLUDED.idempotency_key,
			result_json = EXCLUDED.result_json,
			completed_ts = EXCLUDED.completed_ts
	`
	_, err := d.db.ExecContext(ctx, stmt,
		upsert.RunID,
		upsert.Name,
		upsert.Status,
		upsert.IdempotencyKey,
		upsert.ResultJSON,
		upsert.StartedTs,
		upsert.CompletedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert pipeline step")
	}
	return upsert, nil
}

func (d *DB) GetPipelineStep(ctx context.Context, runID, name string) (*store.PipelineStep, error) {
	query := `
		SELECT run_id, name, status, idempotency_key, result_json, started_ts, completed_ts
		FROM pipeline_step
		WHERE run_id = ? AND name = ?
	`

	var step store.PipelineStep
	err := d.db.QueryRowContext(ctx, query, runID, name).Scan(
		&step.RunID,
		&step.Name,
		&step.Status,
		&step.IdempotencyKey,
		&step.ResultJSON,
		&step.StartedTs,
		&step.CompletedTs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get pipeline step")
	}
	return &step, nil
}

func (d *DB) ListPipelineSteps(ctx context.Context, runID string) ([]*store.PipelineStep, error) {
	query := `
		SELECT run_id, name, status, idempotency_key, result_json, started_ts, completed_ts
		FROM pipeline_step
		WHERE run_id = ?
		ORDER BY started_ts ASC
	`

	rows, err := d.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pipeline steps")
	}
	defer rows.Close()

	list := []*store.PipelineStep{}
	for rows.Next() {
		var step store.PipelineStep
		err := rows.Scan(
			&step.RunID,
			&step.Name,
			&step.Status,
			&step.IdempotencyKey,
			&step.ResultJSON,
			&step.StartedTs,
			&step.CompletedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan pipeline step")
		}
		list = append(list, &step)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
