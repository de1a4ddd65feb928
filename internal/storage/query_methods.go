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

// ========== Aggregated Read Methods ==========

// TimeSeries returns bucketed packet or airtime totals. Hour and day
// buckets without a device filter read the hourly aggregate; everything
// else buckets raw rows. Raw bucketing floors the epoch so it works on a
// plain PostgreSQL too.
func (s *PostgresStore) TimeSeries(ctx context.Context, q TimeSeriesQuery) ([]models.TimeSeriesPoint, error) {
	bucket := q.Bucket
	if bucket <= 0 {
		bucket = time.Hour
	}

	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	useCagg := s.hasCaggs && q.DevAddr == "" &&
		(bucket == time.Hour || bucket == 24*time.Hour)

	groupExpr := ""
	switch q.GroupBy {
	case GroupGateway:
		groupExpr = "gateway_id"
	case GroupOperator:
		groupExpr = "operator"
	case GroupType:
		groupExpr = "packet_type"
	}

	var tsExpr, valueExpr, from, timeCol string
	if useCagg {
		from = "packets_hourly"
		timeCol = "bucket"
		tsExpr = "time_bucket(make_interval(secs => " + arg(bucket.Seconds()) + "), bucket)"
		if q.Metric == MetricAirtime {
			valueExpr = "SUM(airtime_us)::float8"
		} else {
			valueExpr = "SUM(packet_count)::float8"
		}
	} else {
		from = "packets"
		timeCol = "timestamp"
		secs := arg(int64(bucket.Seconds()))
		tsExpr = "to_timestamp(floor(extract(epoch FROM timestamp) / " + secs + ") * " + secs + ")"
		if q.Metric == MetricAirtime {
			valueExpr = "COALESCE(SUM(airtime_us), 0)::float8"
		} else {
			valueExpr = "COUNT(*)::float8"
		}
	}

	conds := []string{timeCol + " >= " + arg(q.Since)}
	if !q.Until.IsZero() {
		conds = append(conds, timeCol+" < "+arg(q.Until))
	}
	if q.GatewayID != "" {
		conds = append(conds, "gateway_id = "+arg(strings.ToLower(q.GatewayID)))
	}
	if q.DevAddr != "" {
		conds = append(conds, "dev_addr = "+arg(strings.ToUpper(q.DevAddr)))
	}

	selectCols := tsExpr + " AS ts, " + valueExpr
	groupBy := "ts"
	orderBy := "ts"
	if groupExpr != "" {
		selectCols = tsExpr + " AS ts, " + groupExpr + ", " + valueExpr
		groupBy = "ts, " + groupExpr
		orderBy = "ts, " + groupExpr
	}

	query := `SELECT ` + selectCols + `
		FROM ` + from + `
		WHERE ` + strings.Join(conds, " AND ") + `
		GROUP BY ` + groupBy + `
		ORDER BY ` + orderBy

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("time series: %w", err)
	}
	defer rows.Close()

	var points []models.TimeSeriesPoint
	for rows.Next() {
		var p models.TimeSeriesPoint
		if groupExpr != "" {
			if err := rows.Scan(&p.Timestamp, &p.Group, &p.Value); err != nil {
				return nil, err
			}
		} else {
			if err := rows.Scan(&p.Timestamp, &p.Value); err != nil {
				return nil, err
			}
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// distributionSource picks the channel/SF aggregate when the window is at
// least an hour and no device filter applies.
func (s *PostgresStore) distributionSource(q DistributionQuery) (from, timeCol string, cagg bool) {
	if s.hasCaggs && q.DevAddr == "" && time.Since(q.Since) >= time.Hour {
		return "packets_channel_sf_hourly", "bucket", true
	}
	return "packets", "timestamp", false
}

// ChannelDistribution returns packet and airtime totals per frequency.
func (s *PostgresStore) ChannelDistribution(ctx context.Context, q DistributionQuery) ([]models.ChannelCount, error) {
	from, timeCol, cagg := s.distributionSource(q)

	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	countExpr := "COUNT(*)"
	if cagg {
		countExpr = "SUM(packet_count)"
	}

	conds := []string{timeCol + " >= " + arg(q.Since), "frequency > 0"}
	if q.GatewayID != "" {
		conds = append(conds, "gateway_id = "+arg(strings.ToLower(q.GatewayID)))
	}
	if q.DevAddr != "" {
		conds = append(conds, "dev_addr = "+arg(strings.ToUpper(q.DevAddr)))
	}

	query := `SELECT frequency, ` + countExpr + `, COALESCE(SUM(airtime_us), 0)
		FROM ` + from + `
		WHERE ` + strings.Join(conds, " AND ") + `
		GROUP BY frequency
		ORDER BY frequency`

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("channel distribution: %w", err)
	}
	defer rows.Close()

	var out []models.ChannelCount
	for rows.Next() {
		var c models.ChannelCount
		if err := rows.Scan(&c.Frequency, &c.Count, &c.AirtimeUS); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SFDistribution returns packet and airtime totals per spreading factor.
// SF 0 collects rows without LoRa modulation data.
func (s *PostgresStore) SFDistribution(ctx context.Context, q DistributionQuery) ([]models.SFCount, error) {
	from, timeCol, cagg := s.distributionSource(q)

	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	sfExpr := "COALESCE(spreading_factor, 0)"
	countExpr := "COUNT(*)"
	if cagg {
		// the aggregate already folded NULL into 0
		sfExpr = "spreading_factor"
		countExpr = "SUM(packet_count)"
	}

	conds := []string{timeCol + " >= " + arg(q.Since)}
	if q.GatewayID != "" {
		conds = append(conds, "gateway_id = "+arg(strings.ToLower(q.GatewayID)))
	}
	if q.DevAddr != "" {
		conds = append(conds, "dev_addr = "+arg(strings.ToUpper(q.DevAddr)))
	}

	query := `SELECT ` + sfExpr + ` AS sf, ` + countExpr + `, COALESCE(SUM(airtime_us), 0)
		FROM ` + from + `
		WHERE ` + strings.Join(conds, " AND ") + `
		GROUP BY sf
		ORDER BY sf`

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sf distribution: %w", err)
	}
	defer rows.Close()

	var out []models.SFCount
	for rows.Next() {
		var c models.SFCount
		if err := rows.Scan(&c.SpreadingFactor, &c.Count, &c.AirtimeUS); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DutyCycle reports rx airtime and tx duty cycle as percentages of the
// window. Scoped to a gateway it returns that gateway's single row.
// Unscoped it returns a network row first (percentages averaged across
// gateways, never summed) followed by the per-gateway breakdown.
func (s *PostgresStore) DutyCycle(ctx context.Context, since time.Time, gatewayID string) ([]models.DutyCycle, error) {
	windowUS := float64(time.Since(since).Microseconds())
	if windowUS <= 0 {
		return nil, nil
	}

	if gatewayID != "" {
		query := `SELECT
			COALESCE(SUM(airtime_us) FILTER (WHERE packet_type IN ('data', 'join_request')), 0),
			COALESCE(SUM(airtime_us) FILTER (WHERE packet_type = 'downlink'), 0)
			FROM packets
			WHERE timestamp >= $1 AND gateway_id = $2`

		var rxUS, txUS int64
		err := s.getDB().QueryRowContext(ctx, query, since, strings.ToLower(gatewayID)).Scan(&rxUS, &txUS)
		if err != nil {
			return nil, fmt.Errorf("duty cycle: %w", err)
		}
		return []models.DutyCycle{{
			GatewayID:          strings.ToLower(gatewayID),
			RxAirtimePercent:   float64(rxUS) / windowUS * 100,
			TxDutyCyclePercent: float64(txUS) / windowUS * 100,
		}}, nil
	}

	query := `SELECT gateway_id,
		COALESCE(SUM(airtime_us) FILTER (WHERE packet_type IN ('data', 'join_request')), 0),
		COALESCE(SUM(airtime_us) FILTER (WHERE packet_type = 'downlink'), 0)
		FROM packets
		WHERE timestamp >= $1
		GROUP BY gateway_id
		ORDER BY gateway_id`

	rows, err := s.getDB().QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("duty cycle: %w", err)
	}
	defer rows.Close()

	var perGateway []models.DutyCycle
	var rxSum, txSum float64
	for rows.Next() {
		var gw string
		var rxUS, txUS int64
		if err := rows.Scan(&gw, &rxUS, &txUS); err != nil {
			return nil, err
		}
		dc := models.DutyCycle{
			GatewayID:          gw,
			RxAirtimePercent:   float64(rxUS) / windowUS * 100,
			TxDutyCyclePercent: float64(txUS) / windowUS * 100,
		}
		rxSum += dc.RxAirtimePercent
		txSum += dc.TxDutyCyclePercent
		perGateway = append(perGateway, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(perGateway) == 0 {
		return nil, nil
	}

	n := float64(len(perGateway))
	out := make([]models.DutyCycle, 0, len(perGateway)+1)
	out = append(out, models.DutyCycle{
		RxAirtimePercent:   rxSum / n,
		TxDutyCyclePercent: txSum / n,
	})
	return append(out, perGateway...), nil
}

// ========== Per-Device Read Methods ==========

// DeviceProfile summarizes one DevAddr over the window.
func (s *PostgresStore) DeviceProfile(ctx context.Context, devAddr string, since time.Time) (*models.DeviceProfile, error) {
	devAddr = strings.ToUpper(devAddr)

	query := `SELECT COUNT(*), COUNT(DISTINCT gateway_id),
		COALESCE(MIN(timestamp), now()), COALESCE(MAX(timestamp), now()),
		COALESCE(AVG(rssi) FILTER (WHERE packet_type IN ('data', 'join_request')), 0)::float8,
		COALESCE(AVG(snr) FILTER (WHERE packet_type IN ('data', 'join_request')), 0)::float8
		FROM packets
		WHERE dev_addr = $1 AND timestamp >= $2`

	p := &models.DeviceProfile{DevAddr: devAddr}
	err := s.getDB().QueryRowContext(ctx, query, devAddr, since).Scan(
		&p.PacketCount, &p.GatewayCount, &p.FirstSeen, &p.LastSeen, &p.AvgRSSI, &p.AvgSNR,
	)
	if err != nil {
		return nil, fmt.Errorf("device profile: %w", err)
	}
	if p.PacketCount == 0 {
		return nil, ErrNotFound
	}

	latest := `SELECT operator, COALESCE(dev_eui, ''), f_cnt
		FROM packets
		WHERE dev_addr = $1 AND timestamp >= $2 AND packet_type = 'data'
		ORDER BY timestamp DESC
		LIMIT 1`

	var fCnt sql.NullInt64
	err = s.getDB().QueryRowContext(ctx, latest, devAddr, since).Scan(&p.Operator, &p.DevEUI, &fCnt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device profile: %w", err)
	}
	if fCnt.Valid {
		v := uint32(fCnt.Int64)
		p.LastFCnt = &v
	}
	return p, nil
}

// DeviceLoss computes FCnt-gap packet loss for a device, overall and per
// gateway. Multi-gateway receptions of the same uplink are deduplicated
// on (session, f_cnt) for the overall figure; within a session FCnt
// ordering matches arrival order, so gaps are derived from the counter
// itself.
func (s *PostgresStore) DeviceLoss(ctx context.Context, devAddr string, since time.Time) (*models.DeviceLoss, error) {
	devAddr = strings.ToUpper(devAddr)

	overall := `WITH uplinks AS (
			SELECT DISTINCT COALESCE(session_id, '') AS sid, f_cnt
			FROM packets
			WHERE dev_addr = $1 AND timestamp >= $2
			  AND packet_type = 'data' AND f_cnt IS NOT NULL
		),
		gaps AS (
			SELECT f_cnt - LAG(f_cnt) OVER (PARTITION BY sid ORDER BY f_cnt) - 1 AS gap
			FROM uplinks
		)
		SELECT (SELECT COUNT(*) FROM uplinks),
		       COALESCE(SUM(gap) FILTER (WHERE gap > 0), 0)
		FROM gaps`

	loss := &models.DeviceLoss{DevAddr: devAddr}
	err := s.getDB().QueryRowContext(ctx, overall, devAddr, since).Scan(&loss.Received, &loss.Missed)
	if err != nil {
		return nil, fmt.Errorf("device loss: %w", err)
	}
	loss.LossPercent = models.LossPercent(loss.Received, loss.Missed)

	perGateway := `WITH uplinks AS (
			SELECT DISTINCT gateway_id, COALESCE(session_id, '') AS sid, f_cnt
			FROM packets
			WHERE dev_addr = $1 AND timestamp >= $2
			  AND packet_type = 'data' AND f_cnt IS NOT NULL
		),
		gaps AS (
			SELECT gateway_id,
			       f_cnt - LAG(f_cnt) OVER (PARTITION BY gateway_id, sid ORDER BY f_cnt) - 1 AS gap
			FROM uplinks
		)
		SELECT gateway_id, COUNT(*),
		       COALESCE(SUM(gap) FILTER (WHERE gap > 0), 0)
		FROM gaps
		GROUP BY gateway_id
		ORDER BY gateway_id`

	rows, err := s.getDB().QueryContext(ctx, perGateway, devAddr, since)
	if err != nil {
		return nil, fmt.Errorf("device loss: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var gl models.GatewayLoss
		if err := rows.Scan(&gl.GatewayID, &gl.Received, &gl.Missed); err != nil {
			return nil, err
		}
		gl.LossPercent = models.LossPercent(gl.Received, gl.Missed)
		loss.PerGateway = append(loss.PerGateway, gl)
	}
	return loss, rows.Err()
}

// DeviceIntervals summarizes the spacing between a device's uplinks.
// Duplicate receptions collapse to the earliest per (session, f_cnt).
func (s *PostgresStore) DeviceIntervals(ctx context.Context, devAddr string, since time.Time) (*models.DeviceIntervals, error) {
	devAddr = strings.ToUpper(devAddr)

	query := `WITH uplinks AS (
			SELECT DISTINCT ON (COALESCE(session_id, ''), f_cnt) timestamp
			FROM packets
			WHERE dev_addr = $1 AND timestamp >= $2
			  AND packet_type = 'data' AND f_cnt IS NOT NULL
			ORDER BY COALESCE(session_id, ''), f_cnt, timestamp
		),
		deltas AS (
			SELECT EXTRACT(EPOCH FROM timestamp - LAG(timestamp) OVER (ORDER BY timestamp))::float8 AS delta
			FROM uplinks
		)
		SELECT COUNT(*),
		       COALESCE(AVG(delta), 0),
		       COALESCE(PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY delta), 0),
		       COALESCE(MIN(delta), 0),
		       COALESCE(MAX(delta), 0)
		FROM deltas
		WHERE delta IS NOT NULL`

	iv := &models.DeviceIntervals{DevAddr: devAddr}
	err := s.getDB().QueryRowContext(ctx, query, devAddr, since).Scan(
		&iv.Samples, &iv.MeanSeconds, &iv.MedianSeconds, &iv.MinSeconds, &iv.MaxSeconds,
	)
	if err != nil {
		return nil, fmt.Errorf("device intervals: %w", err)
	}
	return iv, nil
}
