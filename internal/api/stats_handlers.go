package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/ccall48/lorawan-analyzer/internal/models"
	"github.com/ccall48/lorawan-analyzer/internal/storage"
)

// ========== Stats handlers ==========

// HandleTimeSeries returns bucketed packet or airtime series, optionally
// split by gateway, operator or packet type.
func (s *Server) HandleTimeSeries(w http.ResponseWriter, r *http.Request) {
	q := storage.TimeSeriesQuery{
		Since:     parseWindow(r, "since", 24*time.Hour),
		Until:     parseTimeParam(r, "until"),
		Bucket:    time.Hour,
		GatewayID: strings.ToLower(r.URL.Query().Get("gateway")),
		DevAddr:   strings.ToUpper(r.URL.Query().Get("dev_addr")),
	}

	switch r.URL.Query().Get("metric") {
	case "", "packets":
		q.Metric = storage.MetricPackets
	case "airtime":
		q.Metric = storage.MetricAirtime
	default:
		s.respondError(w, http.StatusBadRequest, "metric must be packets or airtime")
		return
	}

	switch g := storage.TimeSeriesGroup(r.URL.Query().Get("group")); g {
	case storage.GroupNone, storage.GroupGateway, storage.GroupOperator, storage.GroupType:
		q.GroupBy = g
	default:
		s.respondError(w, http.StatusBadRequest, "group must be gateway, operator or type")
		return
	}

	if v := r.URL.Query().Get("bucket"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < time.Minute {
			s.respondError(w, http.StatusBadRequest, "invalid bucket")
			return
		}
		q.Bucket = d
	}

	points, err := s.store.TimeSeries(r.Context(), q)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if points == nil {
		points = []models.TimeSeriesPoint{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"series": points,
	})
}

// HandleChannelStats returns the per-frequency packet distribution
func (s *Server) HandleChannelStats(w http.ResponseWriter, r *http.Request) {
	q := storage.DistributionQuery{
		Since:     parseWindow(r, "since", 24*time.Hour),
		GatewayID: strings.ToLower(r.URL.Query().Get("gateway")),
		DevAddr:   strings.ToUpper(r.URL.Query().Get("dev_addr")),
	}

	channels, err := s.store.ChannelDistribution(r.Context(), q)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if channels == nil {
		channels = []models.ChannelCount{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"channels": channels,
	})
}

// HandleSFStats returns the per-spreading-factor packet distribution
func (s *Server) HandleSFStats(w http.ResponseWriter, r *http.Request) {
	q := storage.DistributionQuery{
		Since:     parseWindow(r, "since", 24*time.Hour),
		GatewayID: strings.ToLower(r.URL.Query().Get("gateway")),
		DevAddr:   strings.ToUpper(r.URL.Query().Get("dev_addr")),
	}

	sf, err := s.store.SFDistribution(r.Context(), q)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sf == nil {
		sf = []models.SFCount{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sf": sf,
	})
}

// HandleDutyCycle reports airtime utilization (default window 1h). With
// no gateway parameter, percentages are averaged across gateways.
func (s *Server) HandleDutyCycle(w http.ResponseWriter, r *http.Request) {
	since := parseWindow(r, "since", time.Hour)
	gatewayID := strings.ToLower(r.URL.Query().Get("gateway"))

	entries, err := s.store.DutyCycle(r.Context(), since, gatewayID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []models.DutyCycle{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"dutyCycle": entries,
		"since":     since,
	})
}
