package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ccall48/lorawan-analyzer/internal/models"
	"github.com/ccall48/lorawan-analyzer/internal/storage"
)

// ========== Operator handlers ==========

// HandleListOperators returns the active rule set alongside the persisted
// custom operators (which carry ids for deletion).
func (s *Server) HandleListOperators(w http.ResponseWriter, r *http.Request) {
	custom, err := s.store.ListCustomOperators(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if custom == nil {
		custom = []*models.CustomOperator{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  s.matcher.Rules(),
		"colors": s.matcher.Colors(),
		"custom": custom,
	})
}

// HandleCreateOperator persists a custom operator rule and swaps in a
// rebuilt matcher snapshot.
func (s *Server) HandleCreateOperator(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name" validate:"required,max=64"`
		Prefix   string `json:"prefix" validate:"required,prefix"`
		Priority int    `json:"priority"`
		Color    string `json:"color" validate:"color"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	op := &models.CustomOperator{
		Name:     req.Name,
		Prefix:   req.Prefix,
		Priority: req.Priority,
		Color:    req.Color,
	}

	if err := s.store.CreateCustomOperator(r.Context(), op); err != nil {
		if errors.Is(err, storage.ErrInvalidData) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err == storage.ErrDuplicateKey {
			s.respondError(w, http.StatusConflict, "operator already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.ReloadOperators(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("operator reload failed")
	}

	s.respondJSON(w, http.StatusCreated, op)
}

// HandleDeleteOperator removes a custom operator rule by id
func (s *Server) HandleDeleteOperator(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid operator id")
		return
	}

	if err := s.store.DeleteCustomOperator(r.Context(), id); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "operator not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.ReloadOperators(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("operator reload failed")
	}

	w.WriteHeader(http.StatusNoContent)
}

// ========== Hide rule handlers ==========

// HandleListHideRules returns the persisted rules plus the config-sourced
// ones (which have id 0 and cannot be deleted here).
func (s *Server) HandleListHideRules(w http.ResponseWriter, r *http.Request) {
	persisted, err := s.store.ListHideRules(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if persisted == nil {
		persisted = []*models.HideRule{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  persisted,
		"config": configHideRules(s.cfg.HideRules),
	})
}

// HandleCreateHideRule persists a hide rule and refreshes the merged set
func (s *Server) HandleCreateHideRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type        string `json:"type" validate:"required,oneof=dev_addr join_eui"`
		Prefix      string `json:"prefix" validate:"required,prefix"`
		Description string `json:"description" validate:"max=200"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule := &models.HideRule{
		Type:        req.Type,
		Prefix:      req.Prefix,
		Description: req.Description,
	}

	if err := s.store.CreateHideRule(r.Context(), rule); err != nil {
		if errors.Is(err, storage.ErrInvalidData) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.ReloadHideRules(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("hide rule reload failed")
	}

	s.respondJSON(w, http.StatusCreated, rule)
}

// HandleDeleteHideRule removes a persisted hide rule by id
func (s *Server) HandleDeleteHideRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	if err := s.store.DeleteHideRule(r.Context(), id); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "hide rule not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.ReloadHideRules(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("hide rule reload failed")
	}

	w.WriteHeader(http.StatusNoContent)
}
