package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ccall48/lorawan-analyzer/internal/models"
)

// ========== ChirpStack Device Methods ==========

const csDeviceColumns = `dev_eui, dev_addr, device_name, application_id, application_name, first_seen, last_seen, packet_count`

// UpsertCsDevice records one application-bus sighting. Empty strings
// preserve existing values; packet_count is incremented on every call.
func (s *PostgresStore) UpsertCsDevice(ctx context.Context, up *models.CsDeviceUpsert) (*models.CsDevice, error) {
	if up.DevEUI == "" {
		return nil, ErrInvalidData
	}

	query := `
        INSERT INTO cs_devices (dev_eui, dev_addr, device_name, application_id, application_name,
                                first_seen, last_seen, packet_count)
        VALUES ($1, $2, $3, $4, $5, now(), now(), 1)
        ON CONFLICT (dev_eui) DO UPDATE SET
            dev_addr         = COALESCE(NULLIF($2, ''), cs_devices.dev_addr),
            device_name      = COALESCE(NULLIF($3, ''), cs_devices.device_name),
            application_id   = COALESCE(NULLIF($4, ''), cs_devices.application_id),
            application_name = COALESCE(NULLIF($5, ''), cs_devices.application_name),
            last_seen        = now(),
            packet_count     = cs_devices.packet_count + 1
        RETURNING ` + csDeviceColumns

	dev := &models.CsDevice{}
	err := s.getDB().QueryRowContext(ctx, query,
		strings.ToUpper(up.DevEUI), strings.ToUpper(up.DevAddr),
		up.DeviceName, up.ApplicationID, up.ApplicationName,
	).Scan(
		&dev.DevEUI, &dev.DevAddr, &dev.DeviceName, &dev.ApplicationID, &dev.ApplicationName,
		&dev.FirstSeen, &dev.LastSeen, &dev.PacketCount,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert cs_device: %w", err)
	}
	return dev, nil
}

// GetCsDevice gets a device by its DevEUI
func (s *PostgresStore) GetCsDevice(ctx context.Context, devEUI string) (*models.CsDevice, error) {
	query := `SELECT ` + csDeviceColumns + ` FROM cs_devices WHERE dev_eui = $1`

	dev := &models.CsDevice{}
	err := s.getDB().QueryRowContext(ctx, query, strings.ToUpper(devEUI)).Scan(
		&dev.DevEUI, &dev.DevAddr, &dev.DeviceName, &dev.ApplicationID, &dev.ApplicationName,
		&dev.FirstSeen, &dev.LastSeen, &dev.PacketCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// ListCsDevices lists devices seen on the application bus, most recently
// seen first
func (s *PostgresStore) ListCsDevices(ctx context.Context, limit, offset int) ([]*models.CsDevice, int64, error) {
	var count int64
	err := s.getDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM cs_devices").Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + csDeviceColumns + `
        FROM cs_devices
        ORDER BY last_seen DESC
        LIMIT $1 OFFSET $2`

	rows, err := s.getDB().QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var devices []*models.CsDevice
	for rows.Next() {
		dev := &models.CsDevice{}
		err := rows.Scan(
			&dev.DevEUI, &dev.DevAddr, &dev.DeviceName, &dev.ApplicationID, &dev.ApplicationName,
			&dev.FirstSeen, &dev.LastSeen, &dev.PacketCount,
		)
		if err != nil {
			return nil, 0, err
		}
		devices = append(devices, dev)
	}
	return devices, count, rows.Err()
}
