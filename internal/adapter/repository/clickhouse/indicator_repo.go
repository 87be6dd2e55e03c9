package clickhouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kr1s57/feedvalidator/internal/entity"
)

// IndicatorRepository holds raw occurrences, working records and the validated set
type IndicatorRepository struct {
	conn *Connection
}

// NewIndicatorRepository creates a new indicator repository
func NewIndicatorRepository(conn *Connection) *IndicatorRepository {
	return &IndicatorRepository{conn: conn}
}

// Ping tests the underlying connection
func (r *IndicatorRepository) Ping(ctx context.Context) error {
	return r.conn.Ping(ctx)
}

// ==================== Raw occurrences / candidates ====================

// FetchCandidates aggregates active occurrences by indicator, most recently seen first.
// When validatedBefore is set, indicators validated after it are skipped.
func (r *IndicatorRepository) FetchCandidates(ctx context.Context, limit int, validatedBefore *time.Time) ([]entity.Candidate, error) {
	// A missing working record joins as the zero DateTime64
	query := `
		SELECT
			o.indicator,
			o.kind,
			count() AS sources,
			min(o.first_seen) AS first_at,
			max(o.last_seen) AS last_at,
			max(w.last_validated) AS validated_at
		FROM (
			SELECT indicator, kind, first_seen, last_seen
			FROM raw_indicators FINAL
			WHERE removed_at IS NULL
		) AS o
		LEFT JOIN (
			SELECT indicator, kind, last_validated
			FROM working_records FINAL
		) AS w ON o.indicator = w.indicator AND o.kind = w.kind
		GROUP BY o.indicator, o.kind
		HAVING ? = 0 OR toUnixTimestamp64Milli(validated_at) = 0 OR validated_at <= ?
		ORDER BY last_at DESC, o.indicator
		LIMIT ?
	`

	useCutoff := uint8(0)
	cutoff := time.Unix(0, 0).UTC()
	if validatedBefore != nil {
		useCutoff = 1
		cutoff = *validatedBefore
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := r.conn.Query(ctx, query, useCutoff, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []entity.Candidate
	for rows.Next() {
		var (
			value, kind   string
			sourceCount   uint64
			c             entity.Candidate
			lastValidated time.Time
		)
		if err := rows.Scan(&value, &kind, &sourceCount, &c.FirstSeen, &c.LastSeen, &lastValidated); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}

		c.Indicator = entity.Indicator{Value: value, Kind: entity.IndicatorKind(kind)}
		c.SourceCount = int(sourceCount)
		if lastValidated.UnixMilli() > 0 {
			lv := lastValidated
			c.LastValidated = &lv
		}
		candidates = append(candidates, c)
	}

	return candidates, rows.Err()
}

// ==================== Working records ====================

// GetWorkingRecord returns the latest record or entity.ErrNotFound
func (r *IndicatorRepository) GetWorkingRecord(ctx context.Context, ind entity.Indicator) (*entity.WorkingRecord, error) {
	query := `
		SELECT
			results, confidence, is_malicious, agreement_count, validators_used,
			whitelisted, whitelist_source, country, asn, last_validated
		FROM working_records FINAL
		WHERE indicator = ? AND kind = ?
		LIMIT 1
	`

	var (
		results                        string
		confidence                     *uint8
		isMalicious, whitelisted       uint8
		agreementCount, validatorsUsed uint8
	)
	rec := entity.NewWorkingRecord(ind)

	row := r.conn.QueryRow(ctx, query, ind.Value, string(ind.Kind))
	if err := row.Scan(
		&results,
		&confidence,
		&isMalicious,
		&agreementCount,
		&validatorsUsed,
		&whitelisted,
		&rec.WhitelistSource,
		&rec.Country,
		&rec.ASN,
		&rec.LastValidated,
	); err != nil {
		if isNoRows(err) {
			return nil, entity.ErrNotFound
		}
		return nil, fmt.Errorf("get working record: %w", err)
	}

	if results != "" {
		if err := json.Unmarshal([]byte(results), &rec.Results); err != nil {
			return nil, fmt.Errorf("decode results of %s: %w", ind, err)
		}
	}
	if confidence != nil {
		c := int(*confidence)
		rec.Confidence = &c
	}
	rec.IsMalicious = isMalicious == 1
	rec.Whitelisted = whitelisted == 1
	rec.AgreementCount = int(agreementCount)
	rec.ValidatorsUsed = int(validatorsUsed)

	return rec, nil
}

// SaveWorkingRecord upserts the record keyed by its indicator
func (r *IndicatorRepository) SaveWorkingRecord(ctx context.Context, rec *entity.WorkingRecord) error {
	results, err := json.Marshal(rec.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}

	var confidence *uint8
	if rec.Confidence != nil {
		c := uint8(entity.ClampScore(*rec.Confidence))
		confidence = &c
	}

	query := `
		INSERT INTO working_records (
			indicator, kind, results, confidence, is_malicious, agreement_count,
			validators_used, whitelisted, whitelist_source, country, asn,
			last_validated, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if err := r.conn.Exec(ctx, query,
		rec.Indicator.Value,
		string(rec.Indicator.Kind),
		string(results),
		confidence,
		boolToUInt8(rec.IsMalicious),
		uint8(rec.AgreementCount),
		uint8(rec.ValidatorsUsed),
		boolToUInt8(rec.Whitelisted),
		rec.WhitelistSource,
		rec.Country,
		rec.ASN,
		rec.LastValidated,
		version(),
	); err != nil {
		return fmt.Errorf("upsert working record: %w", err)
	}
	return nil
}

// ==================== Validated set ====================

// UpsertValidated inserts or replaces the validated row of an indicator
func (r *IndicatorRepository) UpsertValidated(ctx context.Context, v entity.ValidatedIndicator) error {
	return r.writeValidated(ctx, v, false)
}

// DeleteValidated logically removes the validated row and reports whether one existed
func (r *IndicatorRepository) DeleteValidated(ctx context.Context, ind entity.Indicator) (bool, error) {
	existing, err := r.GetValidated(ctx, ind)
	if errors.Is(err, entity.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := r.writeValidated(ctx, *existing, true); err != nil {
		return false, err
	}
	return true, nil
}

func (r *IndicatorRepository) writeValidated(ctx context.Context, v entity.ValidatedIndicator, deleted bool) error {
	query := `
		INSERT INTO validated_indicators (
			indicator, kind, confidence, threat_type, country, asn,
			agreement_count, validators_used, last_validated, is_deleted, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if err := r.conn.Exec(ctx, query,
		v.Indicator.Value,
		string(v.Indicator.Kind),
		uint8(entity.ClampScore(v.Confidence)),
		v.ThreatType,
		v.Country,
		v.ASN,
		uint8(v.AgreementCount),
		uint8(v.ValidatorsUsed),
		v.LastValidated,
		boolToUInt8(deleted),
		version(),
	); err != nil {
		return fmt.Errorf("write validated indicator: %w", err)
	}
	return nil
}

const validatedColumns = `
	indicator, kind, confidence, threat_type, country, asn,
	agreement_count, validators_used, last_validated
`

// GetValidated returns the served row or entity.ErrNotFound
func (r *IndicatorRepository) GetValidated(ctx context.Context, ind entity.Indicator) (*entity.ValidatedIndicator, error) {
	query := `SELECT ` + validatedColumns + `
		FROM validated_indicators FINAL
		WHERE indicator = ? AND kind = ? AND is_deleted = 0
		LIMIT 1
	`

	v, err := scanValidated(r.conn.QueryRow(ctx, query, ind.Value, string(ind.Kind)))
	if err != nil {
		if isNoRows(err) {
			return nil, entity.ErrNotFound
		}
		return nil, fmt.Errorf("get validated indicator: %w", err)
	}
	return v, nil
}

// ListValidated returns every served row ordered by indicator
func (r *IndicatorRepository) ListValidated(ctx context.Context) ([]entity.ValidatedIndicator, error) {
	query := `SELECT ` + validatedColumns + `
		FROM validated_indicators FINAL
		WHERE is_deleted = 0
		ORDER BY kind, indicator
	`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query validated indicators: %w", err)
	}
	defer rows.Close()

	var out []entity.ValidatedIndicator
	for rows.Next() {
		v, err := scanValidated(rows)
		if err != nil {
			return nil, fmt.Errorf("scan validated indicator: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanValidated(row scanner) (*entity.ValidatedIndicator, error) {
	var (
		value, kind                    string
		confidence                     uint8
		agreementCount, validatorsUsed uint8
		v                              entity.ValidatedIndicator
	)
	if err := row.Scan(
		&value,
		&kind,
		&confidence,
		&v.ThreatType,
		&v.Country,
		&v.ASN,
		&agreementCount,
		&validatorsUsed,
		&v.LastValidated,
	); err != nil {
		return nil, err
	}

	v.Indicator = entity.Indicator{Value: value, Kind: entity.IndicatorKind(kind)}
	v.Confidence = int(confidence)
	v.AgreementCount = int(agreementCount)
	v.ValidatorsUsed = int(validatorsUsed)
	return &v, nil
}
