package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ccall48/lorawan-analyzer/internal/auth"
)

// ========== Auth handlers ==========

// HandleLogin verifies the admin password and issues a session token
func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Enabled() {
		s.respondError(w, http.StatusNotFound, "auth is not configured")
		return
	}

	var req struct {
		Password string `json:"password" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.auth.VerifyPassword(req.Password) {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.auth.GenerateToken()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_in": int(auth.TokenTTL.Seconds()),
		"token_type": "Bearer",
	})
}

// HandleHealth health check
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now(),
	})
}

// ========== Response helpers ==========

// respondJSON responds with JSON
func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// ========== Parameter helpers ==========

// parseWindow reads a lookback parameter. It accepts a duration ("24h")
// or an RFC3339 timestamp; anything else falls back to now-def.
func parseWindow(r *http.Request, name string, def time.Duration) time.Time {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Now().UTC().Add(-def)
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return time.Now().UTC().Add(-d)
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC()
	}
	return time.Now().UTC().Add(-def)
}

// parseTimeParam reads an RFC3339 parameter; zero when absent or invalid
func parseTimeParam(r *http.Request, name string) time.Time {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// queryInt reads an integer parameter with a default
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// clampLimit bounds a limit parameter; non-positive values get the default
func clampLimit(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
