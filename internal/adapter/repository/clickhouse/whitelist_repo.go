package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kr1s57/feedvalidator/internal/entity"
)

// WhitelistRepository reads and refreshes curated allow-lists
type WhitelistRepository struct {
	conn *Connection
}

// NewWhitelistRepository creates a new whitelist repository
func NewWhitelistRepository(conn *Connection) *WhitelistRepository {
	return &WhitelistRepository{conn: conn}
}

// ListWhitelistEntries returns every entry of every list
func (r *WhitelistRepository) ListWhitelistEntries(ctx context.Context) ([]entity.WhitelistEntry, error) {
	query := `
		SELECT toString(id), domain, list_source, rank, updated_at
		FROM whitelist_domains FINAL
		ORDER BY list_source, rank
	`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query whitelist: %w", err)
	}
	defer rows.Close()

	var entries []entity.WhitelistEntry
	for rows.Next() {
		var (
			e    entity.WhitelistEntry
			rank uint32
		)
		if err := rows.Scan(&e.ID, &e.Domain, &e.ListSource, &rank, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Rank = int(rank)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// UpsertWhitelistEntries writes a refreshed allow-list in one batch
func (r *WhitelistRepository) UpsertWhitelistEntries(ctx context.Context, entries []entity.WhitelistEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch, err := r.conn.PrepareBatch(ctx, `
		INSERT INTO whitelist_domains (id, domain, list_source, rank, updated_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	now := time.Now()
	for _, e := range entries {
		id, err := uuid.Parse(e.ID)
		if err != nil {
			id = uuid.New()
		}
		if err := batch.Append(id, e.Domain, e.ListSource, uint32(e.Rank), now); err != nil {
			return fmt.Errorf("append whitelist entry: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}
