package storage

import (
	"context"
	"fmt"
	"strings"
)

// Plain-table DDL, safe on any PostgreSQL.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS packets (
		timestamp         TIMESTAMPTZ NOT NULL,
		gateway_id        TEXT NOT NULL,
		border_gateway_id TEXT,
		packet_type       TEXT NOT NULL,
		dev_addr          TEXT,
		dev_eui           TEXT,
		join_eui          TEXT,
		operator          TEXT NOT NULL DEFAULT '',
		session_id        TEXT,
		frequency         BIGINT NOT NULL DEFAULT 0,
		spreading_factor  SMALLINT,
		bandwidth         INTEGER NOT NULL DEFAULT 0,
		rssi              INTEGER NOT NULL DEFAULT 0,
		snr               REAL NOT NULL DEFAULT 0,
		payload_size      INTEGER NOT NULL DEFAULT 0,
		airtime_us        BIGINT NOT NULL DEFAULT 0,
		f_cnt             BIGINT,
		f_port            SMALLINT,
		confirmed         BOOLEAN
	)`,
	`CREATE TABLE IF NOT EXISTS cs_packets (
		timestamp        TIMESTAMPTZ NOT NULL,
		dev_eui          TEXT NOT NULL,
		dev_addr         TEXT,
		device_name      TEXT NOT NULL DEFAULT '',
		application_id   TEXT NOT NULL DEFAULT '',
		operator         TEXT NOT NULL DEFAULT '',
		frequency        BIGINT NOT NULL DEFAULT 0,
		spreading_factor SMALLINT,
		bandwidth        INTEGER NOT NULL DEFAULT 0,
		rssi             INTEGER NOT NULL DEFAULT 0,
		snr              REAL NOT NULL DEFAULT 0,
		payload_size     INTEGER NOT NULL DEFAULT 0,
		airtime_us       BIGINT NOT NULL DEFAULT 0,
		f_cnt            BIGINT,
		f_port           SMALLINT,
		confirmed        BOOLEAN
	)`,
	`CREATE TABLE IF NOT EXISTS gateways (
		gateway_id TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		alias      TEXT NOT NULL DEFAULT '',
		group_name TEXT NOT NULL DEFAULT '',
		latitude   DOUBLE PRECISION,
		longitude  DOUBLE PRECISION,
		first_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_seen  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS cs_devices (
		dev_eui          TEXT PRIMARY KEY,
		dev_addr         TEXT NOT NULL DEFAULT '',
		device_name      TEXT NOT NULL DEFAULT '',
		application_id   TEXT NOT NULL DEFAULT '',
		application_name TEXT NOT NULL DEFAULT '',
		first_seen       TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_seen        TIMESTAMPTZ NOT NULL DEFAULT now(),
		packet_count     BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS custom_operators (
		id         BIGSERIAL PRIMARY KEY,
		name       TEXT NOT NULL,
		prefix     TEXT NOT NULL,
		priority   INTEGER NOT NULL DEFAULT 100,
		color      TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS hide_rules (
		id          BIGSERIAL PRIMARY KEY,
		rule_type   TEXT NOT NULL,
		prefix      TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_packets_gateway_time ON packets (gateway_id, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_packets_devaddr_time ON packets (dev_addr, timestamp DESC) WHERE dev_addr IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_packets_type_time ON packets (packet_type, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_cs_packets_eui_time ON cs_packets (dev_eui, timestamp DESC)`,
	// 前缀运算在 SQL 里用 32 位数值
	`CREATE OR REPLACE FUNCTION dev_addr_uint32(addr TEXT) RETURNS BIGINT AS $$
		SELECT ('x' || lpad(addr, 8, '0'))::bit(32)::bigint
	$$ LANGUAGE SQL IMMUTABLE`,
}

// TimescaleDB DDL. Failures here degrade to plain tables.
var timescaleStatements = []string{
	`SELECT create_hypertable('packets', 'timestamp', if_not_exists => TRUE, migrate_data => TRUE)`,
	`SELECT create_hypertable('cs_packets', 'timestamp', if_not_exists => TRUE, migrate_data => TRUE)`,
	`SELECT add_retention_policy('packets', INTERVAL '8 days', if_not_exists => TRUE)`,
	`SELECT add_retention_policy('cs_packets', INTERVAL '8 days', if_not_exists => TRUE)`,
}

var caggStatements = []string{
	`CREATE MATERIALIZED VIEW IF NOT EXISTS packets_hourly
	WITH (timescaledb.continuous) AS
	SELECT time_bucket('1 hour', timestamp) AS bucket,
	       gateway_id,
	       operator,
	       packet_type,
	       COUNT(*) AS packet_count,
	       SUM(airtime_us) AS airtime_us,
	       COUNT(DISTINCT dev_addr) AS unique_devices
	FROM packets
	GROUP BY bucket, gateway_id, operator, packet_type
	WITH NO DATA`,
	`CREATE MATERIALIZED VIEW IF NOT EXISTS packets_channel_sf_hourly
	WITH (timescaledb.continuous) AS
	SELECT time_bucket('1 hour', timestamp) AS bucket,
	       gateway_id,
	       frequency,
	       COALESCE(spreading_factor, 0) AS spreading_factor,
	       COUNT(*) AS packet_count,
	       SUM(airtime_us) AS airtime_us
	FROM packets
	GROUP BY bucket, gateway_id, frequency, COALESCE(spreading_factor, 0)
	WITH NO DATA`,
	`ALTER MATERIALIZED VIEW packets_hourly SET (timescaledb.materialized_only = false)`,
	`ALTER MATERIALIZED VIEW packets_channel_sf_hourly SET (timescaledb.materialized_only = false)`,
	`SELECT add_continuous_aggregate_policy('packets_hourly',
		start_offset => INTERVAL '3 days',
		end_offset => INTERVAL '2 minutes',
		schedule_interval => INTERVAL '2 minutes',
		if_not_exists => TRUE)`,
	`SELECT add_continuous_aggregate_policy('packets_channel_sf_hourly',
		start_offset => INTERVAL '3 days',
		end_offset => INTERVAL '2 minutes',
		schedule_interval => INTERVAL '2 minutes',
		if_not_exists => TRUE)`,
	`SELECT add_retention_policy('packets_hourly', INTERVAL '8 days', if_not_exists => TRUE)`,
	`SELECT add_retention_policy('packets_channel_sf_hourly', INTERVAL '8 days', if_not_exists => TRUE)`,
}

// EnsureSchema creates tables, indexes, hypertables, continuous aggregates
// and retention policies. All DDL is idempotent. A database without
// TimescaleDB keeps the plain tables and the query layer reads raw rows.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: %s: %w", firstLine(stmt), err)
		}
	}

	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS timescaledb`); err != nil {
		s.log.Warn().Err(err).Msg("timescaledb extension unavailable, using plain tables")
		return nil
	}

	for _, stmt := range timescaleStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.log.Warn().Err(err).Str("stmt", firstLine(stmt)).Msg("timescaledb setup failed, using plain tables")
			return nil
		}
	}

	s.hasCaggs = true
	for _, stmt := range caggStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.log.Warn().Err(err).Str("stmt", firstLine(stmt)).Msg("continuous aggregate setup failed, reading raw tables")
			s.hasCaggs = false
			break
		}
	}
	return nil
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if idx := strings.IndexByte(stmt, '\n'); idx > 0 {
		return stmt[:idx]
	}
	return stmt
}
