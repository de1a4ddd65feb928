package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ccall48/lorawan-analyzer/internal/models"
)

// ========== Gateway Methods ==========

const gatewayColumns = `gateway_id, name, alias, group_name, latitude, longitude, first_seen, last_seen`

// UpsertGateway records a sighting. The row is created on first sighting;
// fields left nil preserve whatever the row already holds, last_seen always
// advances. The resulting row is returned so callers can refresh caches.
func (s *PostgresStore) UpsertGateway(ctx context.Context, up *models.GatewayUpsert) (*models.Gateway, error) {
	if up.GatewayID == "" {
		return nil, ErrInvalidData
	}

	query := `
        INSERT INTO gateways (gateway_id, name, alias, group_name, latitude, longitude, first_seen, last_seen)
        VALUES ($1, COALESCE($2, ''), COALESCE($3, ''), COALESCE($4, ''), $5, $6, now(), now())
        ON CONFLICT (gateway_id) DO UPDATE SET
            name       = COALESCE($2, gateways.name),
            alias      = COALESCE($3, gateways.alias),
            group_name = COALESCE($4, gateways.group_name),
            latitude   = COALESCE($5, gateways.latitude),
            longitude  = COALESCE($6, gateways.longitude),
            last_seen  = now()
        RETURNING ` + gatewayColumns

	gw := &models.Gateway{}
	err := s.getDB().QueryRowContext(ctx, query,
		strings.ToLower(up.GatewayID), up.Name, up.Alias, up.GroupName, up.Latitude, up.Longitude,
	).Scan(
		&gw.GatewayID, &gw.Name, &gw.Alias, &gw.GroupName,
		&gw.Latitude, &gw.Longitude, &gw.FirstSeen, &gw.LastSeen,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert gateway: %w", err)
	}
	return gw, nil
}

// GetGateway gets a gateway by its id
func (s *PostgresStore) GetGateway(ctx context.Context, gatewayID string) (*models.Gateway, error) {
	query := `SELECT ` + gatewayColumns + ` FROM gateways WHERE gateway_id = $1`

	gw := &models.Gateway{}
	err := s.getDB().QueryRowContext(ctx, query, strings.ToLower(gatewayID)).Scan(
		&gw.GatewayID, &gw.Name, &gw.Alias, &gw.GroupName,
		&gw.Latitude, &gw.Longitude, &gw.FirstSeen, &gw.LastSeen,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return gw, nil
}

// ListGateways lists every known gateway, most recently seen first
func (s *PostgresStore) ListGateways(ctx context.Context) ([]*models.Gateway, error) {
	query := `SELECT ` + gatewayColumns + ` FROM gateways ORDER BY last_seen DESC`

	rows, err := s.getDB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gateways []*models.Gateway
	for rows.Next() {
		gw := &models.Gateway{}
		err := rows.Scan(
			&gw.GatewayID, &gw.Name, &gw.Alias, &gw.GroupName,
			&gw.Latitude, &gw.Longitude, &gw.FirstSeen, &gw.LastSeen,
		)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, gw)
	}
	return gateways, rows.Err()
}

// UpdateGatewayMeta sets operator-editable fields. Nil fields are left
// untouched.
func (s *PostgresStore) UpdateGatewayMeta(ctx context.Context, gatewayID string, name, alias, group *string) error {
	query := `
        UPDATE gateways SET
            name       = COALESCE($2, name),
            alias      = COALESCE($3, alias),
            group_name = COALESCE($4, group_name)
        WHERE gateway_id = $1`

	result, err := s.getDB().ExecContext(ctx, query, strings.ToLower(gatewayID), name, alias, group)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GatewayActivity joins gateway metadata with traffic counters for the
// window. Packet and airtime totals come from the hourly aggregate when
// available; unique device counts always come from raw packets because
// distinct counts cannot be summed across buckets. Gateways under 10
// packets in the window are hidden. Hide rules force the raw path since
// the aggregate has no dev_addr column to exclude on.
func (s *PostgresStore) GatewayActivity(ctx context.Context, since time.Time, hide []models.HideRule) ([]*models.GatewayActivity, error) {
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	sinceArg := arg(since)

	hideWhere := ""
	if conds := hideConds(hide, arg); len(conds) > 0 {
		hideWhere = " AND " + strings.Join(conds, " AND ")
	}

	var totals string
	if s.hasCaggs && hideWhere == "" {
		totals = `SELECT gateway_id, SUM(packet_count) AS packet_count, SUM(airtime_us) AS airtime_us
            FROM packets_hourly
            WHERE bucket >= ` + sinceArg + `
            GROUP BY gateway_id`
	} else {
		totals = `SELECT gateway_id, COUNT(*) AS packet_count, COALESCE(SUM(airtime_us), 0) AS airtime_us
            FROM packets
            WHERE timestamp >= ` + sinceArg + hideWhere + `
            GROUP BY gateway_id`
	}

	query := `
        WITH totals AS (` + totals + `),
        uniq AS (
            SELECT gateway_id, COUNT(DISTINCT dev_addr) AS unique_devices
            FROM packets
            WHERE timestamp >= ` + sinceArg + ` AND dev_addr IS NOT NULL` + hideWhere + `
            GROUP BY gateway_id
        )
        SELECT g.gateway_id, g.name, g.alias, g.group_name, g.latitude, g.longitude,
               g.first_seen, g.last_seen,
               t.packet_count, t.airtime_us, COALESCE(u.unique_devices, 0)
        FROM gateways g
        JOIN totals t ON t.gateway_id = g.gateway_id
        LEFT JOIN uniq u ON u.gateway_id = g.gateway_id
        WHERE t.packet_count >= 10
        ORDER BY t.packet_count DESC`

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("gateway activity: %w", err)
	}
	defer rows.Close()

	var out []*models.GatewayActivity
	for rows.Next() {
		ga := &models.GatewayActivity{}
		err := rows.Scan(
			&ga.GatewayID, &ga.Name, &ga.Alias, &ga.GroupName,
			&ga.Latitude, &ga.Longitude, &ga.FirstSeen, &ga.LastSeen,
			&ga.PacketCount, &ga.AirtimeUS, &ga.UniqueDevices,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, ga)
	}
	return out, rows.Err()
}
