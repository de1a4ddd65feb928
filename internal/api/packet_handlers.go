package api

import (
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ccall48/lorawan-analyzer/internal/models"
	"github.com/ccall48/lorawan-analyzer/internal/operators"
	"github.com/ccall48/lorawan-analyzer/internal/storage"
)

// ========== Packet handlers ==========

// HandleRecentPackets returns the newest packets matching the query
// parameters, newest first. Unknown parameters are ignored.
func (s *Server) HandleRecentPackets(w http.ResponseWriter, r *http.Request) {
	q := storage.PacketQuery{
		GatewayID: strings.ToLower(r.URL.Query().Get("gateway")),
		DevAddr:   strings.ToUpper(r.URL.Query().Get("dev_addr")),
		DevEUI:    strings.ToUpper(r.URL.Query().Get("dev_eui")),
		JoinEUI:   strings.ToUpper(r.URL.Query().Get("join_eui")),
		Operator:  r.URL.Query().Get("operator"),
		Since:     parseWindow(r, "since", 24*time.Hour),
		Until:     parseTimeParam(r, "until"),
		Limit:     clampLimit(queryInt(r, "limit", 0), 100, 1000),
		Offset:    queryInt(r, "offset", 0),
		Hide:      s.currentHideRules(),
	}

	if v := r.URL.Query().Get("types"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				q.Types = append(q.Types, models.PacketType(t))
			}
		}
	}

	if v := r.URL.Query().Get("rssi_min"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid rssi_min")
			return
		}
		q.RSSIMin = &n
	}
	if v := r.URL.Query().Get("rssi_max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid rssi_max")
			return
		}
		q.RSSIMax = &n
	}

	if v := r.URL.Query().Get("prefix"); v != "" {
		prefix, mask, _, err := operators.ParsePrefix(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid prefix")
			return
		}
		q.Prefix = &storage.PrefixFilter{Prefix: prefix, Mask: mask}
	}

	packets, err := s.store.RecentPackets(r.Context(), q)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if packets == nil {
		packets = []*models.ParsedPacket{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"packets": packets,
		"count":   len(packets),
	})
}

// HandleRecentJoins returns recent join requests. join_eui hide rules are
// applied here since the join query runs without hide support.
func (s *Server) HandleRecentJoins(w http.ResponseWriter, r *http.Request) {
	since := parseWindow(r, "since", 24*time.Hour)
	limit := clampLimit(queryInt(r, "limit", 0), 100, 1000)

	joins, err := s.store.RecentJoins(r.Context(), since, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	joins = filterHiddenJoins(joins, s.currentHideRules())
	if joins == nil {
		joins = []*models.ParsedPacket{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"joins": joins,
		"count": len(joins),
	})
}

func filterHiddenJoins(joins []*models.ParsedPacket, hide []models.HideRule) []*models.ParsedPacket {
	if len(hide) == 0 {
		return joins
	}
	out := joins[:0]
	for _, j := range joins {
		hidden := false
		for _, h := range hide {
			if h.Type == models.HideRuleJoinEUI && strings.HasPrefix(j.JoinEUI, strings.ToUpper(h.Prefix)) {
				hidden = true
				break
			}
		}
		if !hidden {
			out = append(out, j)
		}
	}
	return out
}

// ========== ChirpStack device handlers ==========

// HandleListCsDevices lists devices observed on the application bus
func (s *Server) HandleListCsDevices(w http.ResponseWriter, r *http.Request) {
	limit := clampLimit(queryInt(r, "limit", 0), 50, 500)
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	devices, total, err := s.store.ListCsDevices(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if devices == nil {
		devices = []*models.CsDevice{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// HandleCsDevicePackets returns recent application-bus packets for one
// device, newest first.
func (s *Server) HandleCsDevicePackets(w http.ResponseWriter, r *http.Request) {
	devEUI := strings.ToUpper(chi.URLParam(r, "devEUI"))
	if len(devEUI) != 16 {
		s.respondError(w, http.StatusBadRequest, "invalid device EUI")
		return
	}
	if _, err := hex.DecodeString(devEUI); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device EUI")
		return
	}

	limit := clampLimit(queryInt(r, "limit", 0), 100, 1000)

	packets, err := s.store.RecentCsPackets(r.Context(), devEUI, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if packets == nil {
		packets = []*models.CsPacket{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devEui":  devEUI,
		"packets": packets,
		"count":   len(packets),
	})
}
