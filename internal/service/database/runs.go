package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/yt-harvester-go/internal/domain"
)

// RunRepository archives finished batch runs and their per-channel outcomes
// so past harvests can be inspected after checkpoint files are pruned.
type RunRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewRunRepository(postgres *PostgresService, logger *zap.Logger) *RunRepository {
	return &RunRepository{
		db:     postgres.GetDB(),
		logger: logger,
	}
}

// EnsureSchema creates the archive tables when missing.
func (r *RunRepository) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS batch_runs (
			batch_id     TEXT PRIMARY KEY,
			finished_at  TIMESTAMPTZ NOT NULL,
			duration_sec DOUBLE PRECISION NOT NULL,
			quota_used   INTEGER NOT NULL,
			totals       JSONB NOT NULL,
			most_common_error TEXT,
			cancelled    BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE TABLE IF NOT EXISTS batch_run_channels (
			batch_id   TEXT NOT NULL REFERENCES batch_runs(batch_id) ON DELETE CASCADE,
			channel_id TEXT NOT NULL,
			title      TEXT,
			state      TEXT NOT NULL,
			total      INTEGER NOT NULL,
			processed  INTEGER NOT NULL,
			successes  INTEGER NOT NULL,
			failures   INTEGER NOT NULL,
			skips      INTEGER NOT NULL,
			error_category TEXT,
			PRIMARY KEY (batch_id, channel_id)
		);
	`
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}
	return nil
}

// SaveResult archives one BatchResult. The insert is idempotent per batch id.
func (r *RunRepository) SaveResult(ctx context.Context, result *domain.BatchResult) error {
	totals, err := json.Marshal(result.Totals)
	if err != nil {
		return fmt.Errorf("failed to encode totals: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batch_runs (batch_id, finished_at, duration_sec, quota_used, totals, most_common_error, cancelled)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		ON CONFLICT (batch_id) DO NOTHING
	`, result.BatchID, time.Now(), result.DurationSec, result.QuotaUsed, totals, string(result.MostCommonError), result.Cancelled)
	if err != nil {
		return fmt.Errorf("failed to insert batch run: %w", err)
	}

	for _, ch := range result.Channels {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO batch_run_channels (batch_id, channel_id, title, state, total, processed, successes, failures, skips, error_category)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''))
			ON CONFLICT (batch_id, channel_id) DO NOTHING
		`, result.BatchID, ch.ChannelID, ch.Title, string(ch.State), ch.Total, ch.Processed, ch.Successes, ch.Failures, ch.Skips, string(ch.ErrorCategory))
		if err != nil {
			return fmt.Errorf("failed to insert channel row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive tx: %w", err)
	}

	r.logger.Info("batch run archived",
		zap.String("batch_id", result.BatchID),
		zap.Int("channels", len(result.Channels)))
	return nil
}

// RecentRuns lists the most recent archived runs.
func (r *RunRepository) RecentRuns(ctx context.Context, limit int) ([]*domain.BatchResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT batch_id, duration_sec, quota_used, totals, COALESCE(most_common_error, ''), cancelled
		FROM batch_runs ORDER BY finished_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch runs: %w", err)
	}
	defer rows.Close()

	var results []*domain.BatchResult
	for rows.Next() {
		var (
			result     domain.BatchResult
			totalsJSON []byte
			category   string
		)
		if err := rows.Scan(&result.BatchID, &result.DurationSec, &result.QuotaUsed, &totalsJSON, &category, &result.Cancelled); err != nil {
			return nil, fmt.Errorf("failed to scan batch run: %w", err)
		}
		if err := json.Unmarshal(totalsJSON, &result.Totals); err != nil {
			return nil, fmt.Errorf("failed to decode totals: %w", err)
		}
		result.MostCommonError = domain.ErrorCategory(category)
		results = append(results, &result)
	}
	return results, rows.Err()
}
