package api

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ccall48/lorawan-analyzer/internal/models"
	"github.com/ccall48/lorawan-analyzer/internal/storage"
)

// ========== Device handlers ==========

// parseDevAddrParam validates the {devAddr} path segment and returns it in
// the canonical uppercase form.
func parseDevAddrParam(r *http.Request) (string, error) {
	addr := strings.ToUpper(chi.URLParam(r, "devAddr"))
	if len(addr) != 8 {
		return "", fmt.Errorf("invalid length")
	}
	if _, err := hex.DecodeString(addr); err != nil {
		return "", err
	}
	return addr, nil
}

// HandleDeviceProfile summarizes one DevAddr over a window (default 24h)
func (s *Server) HandleDeviceProfile(w http.ResponseWriter, r *http.Request) {
	devAddr, err := parseDevAddrParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device address")
		return
	}
	since := parseWindow(r, "since", 24*time.Hour)

	profile, err := s.store.DeviceProfile(r.Context(), devAddr, since)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, profile)
}

// HandleDeviceTimeline returns the device's recent packets, newest first
func (s *Server) HandleDeviceTimeline(w http.ResponseWriter, r *http.Request) {
	devAddr, err := parseDevAddrParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device address")
		return
	}

	q := storage.PacketQuery{
		DevAddr: devAddr,
		Since:   parseWindow(r, "since", 24*time.Hour),
		Limit:   clampLimit(queryInt(r, "limit", 0), 200, 1000),
		Hide:    s.currentHideRules(),
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
		"devAddr": devAddr,
		"packets": packets,
		"count":   len(packets),
	})
}

// HandleDeviceLoss reports FCnt-gap packet loss, overall and per gateway
func (s *Server) HandleDeviceLoss(w http.ResponseWriter, r *http.Request) {
	devAddr, err := parseDevAddrParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device address")
		return
	}
	since := parseWindow(r, "since", 24*time.Hour)

	loss, err := s.store.DeviceLoss(r.Context(), devAddr, since)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, loss)
}

// HandleDeviceIntervals reports the spacing between the device's uplinks
func (s *Server) HandleDeviceIntervals(w http.ResponseWriter, r *http.Request) {
	devAddr, err := parseDevAddrParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device address")
		return
	}
	since := parseWindow(r, "since", 24*time.Hour)

	intervals, err := s.store.DeviceIntervals(r.Context(), devAddr, since)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, intervals)
}
