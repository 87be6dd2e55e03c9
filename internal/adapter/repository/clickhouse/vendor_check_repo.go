package clickhouse

import (
	"context"
	"fmt"

	"github.com/kr1s57/feedvalidator/internal/entity"
)

// VendorCheckRepository persists TTL-bound vendor responses
type VendorCheckRepository struct {
	conn *Connection
}

// NewVendorCheckRepository creates a new vendor check repository
func NewVendorCheckRepository(conn *Connection) *VendorCheckRepository {
	return &VendorCheckRepository{conn: conn}
}

// GetVendorCheck returns the latest check for (vendor, indicator) or entity.ErrNotFound.
// Freshness is decided by the caller.
func (r *VendorCheckRepository) GetVendorCheck(ctx context.Context, vendor string, ind entity.Indicator) (*entity.VendorCheck, error) {
	query := `
		SELECT score, malicious, country, asn, raw_response, checked_at, expires_at
		FROM vendor_checks FINAL
		WHERE vendor = ? AND indicator = ? AND kind = ?
		LIMIT 1
	`

	var (
		score, malicious uint8
		raw              string
	)
	check := entity.VendorCheck{Vendor: vendor, Indicator: ind}

	row := r.conn.QueryRow(ctx, query, vendor, ind.Value, string(ind.Kind))
	if err := row.Scan(
		&score,
		&malicious,
		&check.Country,
		&check.ASN,
		&raw,
		&check.CheckedAt,
		&check.ExpiresAt,
	); err != nil {
		if isNoRows(err) {
			return nil, entity.ErrNotFound
		}
		return nil, fmt.Errorf("get vendor check: %w", err)
	}

	check.Score = int(score)
	check.Malicious = malicious == 1
	if raw != "" {
		check.Raw = []byte(raw)
	}
	return &check, nil
}

// SaveVendorCheck upserts a check keyed by (vendor, indicator)
func (r *VendorCheckRepository) SaveVendorCheck(ctx context.Context, check *entity.VendorCheck) error {
	query := `
		INSERT INTO vendor_checks (
			vendor, indicator, kind, score, malicious, country, asn,
			raw_response, checked_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if err := r.conn.Exec(ctx, query,
		check.Vendor,
		check.Indicator.Value,
		string(check.Indicator.Kind),
		uint8(entity.ClampScore(check.Score)),
		boolToUInt8(check.Malicious),
		check.Country,
		check.ASN,
		string(check.Raw),
		check.CheckedAt,
		check.ExpiresAt,
	); err != nil {
		return fmt.Errorf("save vendor check: %w", err)
	}
	return nil
}
