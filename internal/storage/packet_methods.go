package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ccall48/lorawan-analyzer/internal/models"
	"github.com/ccall48/lorawan-analyzer/internal/operators"
)

// ========== Packet Stream Methods ==========

const packetColumns = `timestamp, gateway_id, border_gateway_id, packet_type,
		dev_addr, dev_eui, join_eui, operator, session_id,
		frequency, spreading_factor, bandwidth, rssi, snr,
		payload_size, airtime_us, f_cnt, f_port, confirmed`

// InsertPackets writes a batch with a single multi-row INSERT.
func (s *PostgresStore) InsertPackets(ctx context.Context, packets []*models.ParsedPacket) error {
	if len(packets) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO packets (` + packetColumns + `) VALUES `)

	args := make([]any, 0, len(packets)*19)
	for i, p := range packets {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('(')
		for j := 0; j < 19; j++ {
			if j > 0 {
				sb.WriteByte(',')
			}
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(len(args) + j + 1))
		}
		sb.WriteByte(')')

		args = append(args,
			p.Timestamp, p.GatewayID, nullStr(p.BorderGatewayID), string(p.Type),
			nullStr(p.DevAddr), nullStr(p.DevEUI), nullStr(p.JoinEUI), p.Operator, nullStr(p.SessionID),
			p.Frequency, nullSF(p.SpreadingFactor), p.Bandwidth, p.RSSI, p.SNR,
			p.PayloadSize, p.AirtimeUS, p.FCnt, p.FPort, p.Confirmed,
		)
	}

	if _, err := s.getDB().ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert packets: %w", err)
	}
	return nil
}

// InsertCsPackets writes a batch of application-bus rows.
func (s *PostgresStore) InsertCsPackets(ctx context.Context, packets []*models.CsPacket) error {
	if len(packets) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO cs_packets (
		timestamp, dev_eui, dev_addr, device_name, application_id, operator,
		frequency, spreading_factor, bandwidth, rssi, snr,
		payload_size, airtime_us, f_cnt, f_port, confirmed) VALUES `)

	args := make([]any, 0, len(packets)*16)
	for i, p := range packets {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('(')
		for j := 0; j < 16; j++ {
			if j > 0 {
				sb.WriteByte(',')
			}
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(len(args) + j + 1))
		}
		sb.WriteByte(')')

		args = append(args,
			p.Timestamp, p.DevEUI, nullStr(p.DevAddr), p.DeviceName, p.ApplicationID, p.Operator,
			p.Frequency, nullSF(p.SpreadingFactor), p.Bandwidth, p.RSSI, p.SNR,
			p.PayloadSize, p.AirtimeUS, p.FCnt, p.FPort, p.Confirmed,
		)
	}

	if _, err := s.getDB().ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert cs_packets: %w", err)
	}
	return nil
}

// buildPacketWhere turns a PacketQuery into a parameterized WHERE clause.
// Every value travels as a bind argument.
func buildPacketWhere(q PacketQuery) (string, []any) {
	conds := []string{"1=1"}
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if q.GatewayID != "" {
		conds = append(conds, "gateway_id = "+arg(q.GatewayID))
	}
	if q.DevAddr != "" {
		conds = append(conds, "dev_addr = "+arg(strings.ToUpper(q.DevAddr)))
	}
	if q.DevEUI != "" {
		conds = append(conds, "dev_eui = "+arg(strings.ToUpper(q.DevEUI)))
	}
	if q.JoinEUI != "" {
		conds = append(conds, "join_eui = "+arg(strings.ToUpper(q.JoinEUI)))
	}
	if q.Operator != "" {
		conds = append(conds, "operator = "+arg(q.Operator))
	}
	if len(q.Types) > 0 {
		types := make([]string, len(q.Types))
		for i, t := range q.Types {
			types[i] = string(t)
		}
		conds = append(conds, "packet_type = ANY("+arg(pq.Array(types))+")")
	}
	if !q.Since.IsZero() {
		conds = append(conds, "timestamp >= "+arg(q.Since))
	}
	if !q.Until.IsZero() {
		conds = append(conds, "timestamp < "+arg(q.Until))
	}
	if q.RSSIMin != nil {
		conds = append(conds, "rssi >= "+arg(*q.RSSIMin))
	}
	if q.RSSIMax != nil {
		conds = append(conds, "rssi <= "+arg(*q.RSSIMax))
	}
	if q.Prefix != nil {
		conds = append(conds, "(dev_addr IS NOT NULL AND (dev_addr_uint32(dev_addr) & "+
			arg(int64(q.Prefix.Mask))+") = "+arg(int64(q.Prefix.Prefix))+")")
	}
	conds = append(conds, hideConds(q.Hide, arg)...)

	return strings.Join(conds, " AND "), args
}

// hideConds converts hide rules into exclusion predicates. Rules that fail
// to parse are skipped rather than failing the query.
func hideConds(hide []models.HideRule, arg func(any) string) []string {
	var conds []string
	for _, h := range hide {
		switch h.Type {
		case models.HideRuleDevAddr:
			prefix, mask, _, err := operators.ParsePrefix(h.Prefix)
			if err != nil {
				continue
			}
			conds = append(conds, "(dev_addr IS NULL OR (dev_addr_uint32(dev_addr) & "+
				arg(int64(mask))+") <> "+arg(int64(prefix))+")")
		case models.HideRuleJoinEUI:
			conds = append(conds, "(join_eui IS NULL OR join_eui NOT LIKE "+
				arg(strings.ToUpper(h.Prefix)+"%")+")")
		}
	}
	return conds
}

// RecentPackets returns the newest packets matching the query, newest first.
func (s *PostgresStore) RecentPackets(ctx context.Context, q PacketQuery) ([]*models.ParsedPacket, error) {
	where, args := buildPacketWhere(q)

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + packetColumns + `
		FROM packets
		WHERE ` + where + `
		ORDER BY timestamp DESC
		LIMIT ` + strconv.Itoa(limit) + ` OFFSET ` + strconv.Itoa(offset)

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent packets: %w", err)
	}
	defer rows.Close()

	return scanPackets(rows)
}

// RecentJoins returns join_request packets since the given time.
func (s *PostgresStore) RecentJoins(ctx context.Context, since time.Time, limit int) ([]*models.ParsedPacket, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + packetColumns + `
		FROM packets
		WHERE packet_type = 'join_request' AND timestamp >= $1
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := s.getDB().QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("recent joins: %w", err)
	}
	defer rows.Close()

	return scanPackets(rows)
}

func scanPackets(rows *sql.Rows) ([]*models.ParsedPacket, error) {
	var packets []*models.ParsedPacket
	for rows.Next() {
		p := &models.ParsedPacket{}
		var (
			borderGW, devAddr, devEUI, joinEUI, sessionID sql.NullString
			sf, fCnt, fPort                               sql.NullInt64
			confirmed                                     sql.NullBool
			packetType                                    string
		)
		err := rows.Scan(
			&p.Timestamp, &p.GatewayID, &borderGW, &packetType,
			&devAddr, &devEUI, &joinEUI, &p.Operator, &sessionID,
			&p.Frequency, &sf, &p.Bandwidth, &p.RSSI, &p.SNR,
			&p.PayloadSize, &p.AirtimeUS, &fCnt, &fPort, &confirmed,
		)
		if err != nil {
			return nil, fmt.Errorf("scan packet: %w", err)
		}

		p.Type = models.PacketType(packetType)
		p.BorderGatewayID = borderGW.String
		p.DevAddr = devAddr.String
		p.DevEUI = devEUI.String
		p.JoinEUI = joinEUI.String
		p.SessionID = sessionID.String
		if sf.Valid {
			p.SpreadingFactor = int(sf.Int64)
		}
		if fCnt.Valid {
			v := uint32(fCnt.Int64)
			p.FCnt = &v
		}
		if fPort.Valid {
			v := uint8(fPort.Int64)
			p.FPort = &v
		}
		if confirmed.Valid {
			v := confirmed.Bool
			p.Confirmed = &v
		}
		packets = append(packets, p)
	}
	return packets, rows.Err()
}

// RecentCsPackets returns the newest application-bus rows for a device.
func (s *PostgresStore) RecentCsPackets(ctx context.Context, devEUI string, limit int) ([]*models.CsPacket, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT timestamp, dev_eui, dev_addr, device_name, application_id, operator,
			frequency, spreading_factor, bandwidth, rssi, snr,
			payload_size, airtime_us, f_cnt, f_port, confirmed
		FROM cs_packets
		WHERE dev_eui = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := s.getDB().QueryContext(ctx, query, strings.ToUpper(devEUI), limit)
	if err != nil {
		return nil, fmt.Errorf("recent cs_packets: %w", err)
	}
	defer rows.Close()

	var packets []*models.CsPacket
	for rows.Next() {
		p := &models.CsPacket{Type: models.PacketData}
		var (
			devAddr         sql.NullString
			sf, fCnt, fPort sql.NullInt64
			confirmed       sql.NullBool
		)
		err := rows.Scan(
			&p.Timestamp, &p.DevEUI, &devAddr, &p.DeviceName, &p.ApplicationID, &p.Operator,
			&p.Frequency, &sf, &p.Bandwidth, &p.RSSI, &p.SNR,
			&p.PayloadSize, &p.AirtimeUS, &fCnt, &fPort, &confirmed,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cs_packet: %w", err)
		}

		p.DevAddr = devAddr.String
		if sf.Valid {
			p.SpreadingFactor = int(sf.Int64)
		}
		if fCnt.Valid {
			v := uint32(fCnt.Int64)
			p.FCnt = &v
		}
		if fPort.Valid {
			v := uint8(fPort.Int64)
			p.FPort = &v
		}
		if confirmed.Valid {
			v := confirmed.Bool
			p.Confirmed = &v
		}
		packets = append(packets, p)
	}
	return packets, rows.Err()
}

// nullStr maps "" to SQL NULL.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullSF maps 0 to SQL NULL; FSK and tx_ack rows carry no spreading factor.
func nullSF(sf int) any {
	if sf == 0 {
		return nil
	}
	return sf
}
