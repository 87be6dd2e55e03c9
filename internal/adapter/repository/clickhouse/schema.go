package clickhouse

import (
	"context"
	"fmt"
)

// tables lists the DDL of every table the validator reads or writes.
// Upserted tables are ReplacingMergeTree keyed on (kind, indicator) and read with FINAL.
var tables = []struct {
	name string
	ddl  string
}{
	{"raw_indicators", `
		CREATE TABLE IF NOT EXISTS raw_indicators (
			indicator   String,
			kind        LowCardinality(String),
			source      LowCardinality(String),
			first_seen  DateTime,
			last_seen   DateTime,
			removed_at  Nullable(DateTime),
			version     UInt64
		) ENGINE = ReplacingMergeTree(version)
		ORDER BY (kind, indicator, source)`},
	{"working_records", `
		CREATE TABLE IF NOT EXISTS working_records (
			indicator        String,
			kind             LowCardinality(String),
			results          String,
			confidence       Nullable(UInt8),
			is_malicious     UInt8,
			agreement_count  UInt8,
			validators_used  UInt8,
			whitelisted      UInt8,
			whitelist_source LowCardinality(String),
			country          LowCardinality(String),
			asn              String,
			last_validated   DateTime64(3),
			version          UInt64
		) ENGINE = ReplacingMergeTree(version)
		ORDER BY (kind, indicator)`},
	{"validated_indicators", `
		CREATE TABLE IF NOT EXISTS validated_indicators (
			indicator       String,
			kind            LowCardinality(String),
			confidence      UInt8,
			threat_type     LowCardinality(String),
			country         LowCardinality(String),
			asn             String,
			agreement_count UInt8,
			validators_used UInt8,
			last_validated  DateTime64(3),
			is_deleted      UInt8,
			version         UInt64
		) ENGINE = ReplacingMergeTree(version)
		ORDER BY (kind, indicator)`},
	{"vendor_checks", `
		CREATE TABLE IF NOT EXISTS vendor_checks (
			vendor       LowCardinality(String),
			indicator    String,
			kind         LowCardinality(String),
			score        UInt8,
			malicious    UInt8,
			country      LowCardinality(String),
			asn          String,
			raw_response String,
			checked_at   DateTime64(3),
			expires_at   DateTime64(3)
		) ENGINE = ReplacingMergeTree(checked_at)
		ORDER BY (vendor, kind, indicator)
		TTL toDateTime(expires_at) + INTERVAL 1 DAY`},
	{"quota_windows", `
		CREATE TABLE IF NOT EXISTS quota_windows (
			validator    LowCardinality(String),
			window_start DateTime64(3),
			reset_at     DateTime64(3),
			window_limit Int32,
			version      UInt64
		) ENGINE = ReplacingMergeTree(version)
		ORDER BY validator`},
	{"quota_usage", `
		CREATE TABLE IF NOT EXISTS quota_usage (
			validator LowCardinality(String),
			called_at DateTime64(3)
		) ENGINE = MergeTree
		ORDER BY (validator, called_at)
		TTL toDateTime(called_at) + INTERVAL 32 DAY`},
	{"whitelist_domains", `
		CREATE TABLE IF NOT EXISTS whitelist_domains (
			id          UUID,
			domain      String,
			list_source LowCardinality(String),
			rank        UInt32,
			updated_at  DateTime
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY (list_source, domain)`},
}

// EnsureSchema creates any missing table
func EnsureSchema(ctx context.Context, conn *Connection) error {
	for _, t := range tables {
		if err := conn.Exec(ctx, t.ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.name, err)
		}
	}
	conn.logger.Info("[CLICKHOUSE] Schema ready", "tables", len(tables))
	return nil
}
