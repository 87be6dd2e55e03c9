package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/kr1s57/feedvalidator/internal/entity"
)

// QuotaRepository stores daily window anchors and the per-call usage log
type QuotaRepository struct {
	conn *Connection
}

// NewQuotaRepository creates a new quota repository
func NewQuotaRepository(conn *Connection) *QuotaRepository {
	return &QuotaRepository{conn: conn}
}

// GetWindow returns the stored daily window of a validator or entity.ErrNotFound
func (r *QuotaRepository) GetWindow(ctx context.Context, validator string) (*entity.QuotaWindow, error) {
	query := `
		SELECT window_start, reset_at, window_limit
		FROM quota_windows FINAL
		WHERE validator = ?
		LIMIT 1
	`

	var limit int32
	w := entity.QuotaWindow{Validator: validator}

	row := r.conn.QueryRow(ctx, query, validator)
	if err := row.Scan(&w.WindowStart, &w.ResetAt, &limit); err != nil {
		if isNoRows(err) {
			return nil, entity.ErrNotFound
		}
		return nil, fmt.Errorf("get quota window: %w", err)
	}

	w.WindowLimit = int(limit)
	return &w, nil
}

// SaveWindow upserts the daily window of a validator
func (r *QuotaRepository) SaveWindow(ctx context.Context, w *entity.QuotaWindow) error {
	query := `
		INSERT INTO quota_windows (validator, window_start, reset_at, window_limit, version)
		VALUES (?, ?, ?, ?, ?)
	`

	if err := r.conn.Exec(ctx, query,
		w.Validator,
		w.WindowStart,
		w.ResetAt,
		int32(w.WindowLimit),
		version(),
	); err != nil {
		return fmt.Errorf("save quota window: %w", err)
	}
	return nil
}

// UsageSince counts calls recorded at or after since
func (r *QuotaRepository) UsageSince(ctx context.Context, validator string, since time.Time) (entity.UsageWindow, error) {
	query := `
		SELECT count(), min(called_at)
		FROM quota_usage
		WHERE validator = ? AND called_at >= ?
	`

	var (
		count  uint64
		oldest time.Time
	)
	row := r.conn.QueryRow(ctx, query, validator, since)
	if err := row.Scan(&count, &oldest); err != nil {
		return entity.UsageWindow{}, fmt.Errorf("count quota usage: %w", err)
	}

	w := entity.UsageWindow{Count: int(count)}
	if count > 0 {
		w.Oldest = oldest
	}
	return w, nil
}

// RecordUsage appends one call to the usage log
func (r *QuotaRepository) RecordUsage(ctx context.Context, validator string, at time.Time) error {
	if err := r.conn.Exec(ctx,
		`INSERT INTO quota_usage (validator, called_at) VALUES (?, ?)`,
		validator, at,
	); err != nil {
		return fmt.Errorf("record quota usage: %w", err)
	}
	return nil
}
