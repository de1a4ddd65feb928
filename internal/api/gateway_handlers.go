package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ccall48/lorawan-analyzer/internal/models"
	"github.com/ccall48/lorawan-analyzer/internal/storage"
)

// ========== Gateway handlers ==========

// HandleListGateways lists gateways with their traffic counters for a
// window (default 24h). Quiet gateways are filtered by the query layer.
func (s *Server) HandleListGateways(w http.ResponseWriter, r *http.Request) {
	since := parseWindow(r, "since", 24*time.Hour)

	gateways, err := s.store.GatewayActivity(r.Context(), since, s.currentHideRules())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if gateways == nil {
		gateways = []*models.GatewayActivity{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"gateways": gateways,
		"count":    len(gateways),
	})
}

// gatewayGroup is one branch of the gateway tree: a named group with its
// gateways and rolled-up counters.
type gatewayGroup struct {
	Name          string                    `json:"name"`
	Gateways      []*models.GatewayActivity `json:"gateways"`
	PacketCount   int64                     `json:"packetCount"`
	AirtimeUS     int64                     `json:"airtimeUs"`
	UniqueDevices int64                     `json:"uniqueDevices"`
}

// HandleGatewayTree returns gateways grouped by their assigned group name.
// Gateways without a group land under "ungrouped". Device counts are
// per-gateway sums, so a device heard by two gateways counts twice.
func (s *Server) HandleGatewayTree(w http.ResponseWriter, r *http.Request) {
	since := parseWindow(r, "since", 24*time.Hour)

	gateways, err := s.store.GatewayActivity(r.Context(), since, s.currentHideRules())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	byGroup := make(map[string]*gatewayGroup)
	for _, gw := range gateways {
		name := gw.GroupName
		if name == "" {
			name = "ungrouped"
		}
		g, ok := byGroup[name]
		if !ok {
			g = &gatewayGroup{Name: name}
			byGroup[name] = g
		}
		g.Gateways = append(g.Gateways, gw)
		g.PacketCount += gw.PacketCount
		g.AirtimeUS += gw.AirtimeUS
		g.UniqueDevices += gw.UniqueDevices
	}

	groups := make([]*gatewayGroup, 0, len(byGroup))
	for _, g := range byGroup {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"groups": groups,
	})
}

// HandleGetGateway gets one gateway row
func (s *Server) HandleGetGateway(w http.ResponseWriter, r *http.Request) {
	gatewayID := strings.ToLower(chi.URLParam(r, "gatewayID"))

	gw, err := s.store.GetGateway(r.Context(), gatewayID)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "gateway not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, gw)
}

// HandleUpdateGateway sets operator-assigned metadata: display name, alias
// and group. Absent fields are left untouched.
func (s *Server) HandleUpdateGateway(w http.ResponseWriter, r *http.Request) {
	gatewayID := strings.ToLower(chi.URLParam(r, "gatewayID"))

	var req struct {
		Name  *string `json:"name" validate:"max=120"`
		Alias *string `json:"alias" validate:"max=120"`
		Group *string `json:"group" validate:"max=120"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.UpdateGatewayMeta(r.Context(), gatewayID, req.Name, req.Alias, req.Group); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "gateway not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	gw, err := s.store.GetGateway(r.Context(), gatewayID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// live filters see the new alias immediately
	s.bcast.SetGateway(gw)

	s.respondJSON(w, http.StatusOK, gw)
}
