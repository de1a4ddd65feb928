package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ccall48/lorawan-analyzer/internal/broadcast"
	"github.com/ccall48/lorawan-analyzer/internal/operators"
)

const (
	wsWriteDeadline = 5 * time.Second
	wsPingInterval  = 30 * time.Second
)

// checkOrigin mirrors the CORS origin list for websocket upgrades
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// same-origin requests carry no Origin header
	if origin == "" {
		return true
	}

	for _, allowed := range s.corsOrigins() {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}

	s.log.Debug().Str("origin", origin).Msg("websocket origin rejected")
	return false
}

// parseLiveFilter compiles the query string into a subscriber filter
func parseLiveFilter(q url.Values) (broadcast.Filter, error) {
	f := broadcast.Filter{
		GatewayID: strings.ToLower(q.Get("gateway")),
		Search:    strings.ToLower(strings.TrimSpace(q.Get("search"))),
	}

	if v := q.Get("gateways"); v != "" {
		f.GatewayIDs = make(map[string]bool)
		for _, id := range strings.Split(v, ",") {
			if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
				f.GatewayIDs[id] = true
			}
		}
	}

	if v := q.Get("types"); v != "" {
		f.Types = make(map[string]bool)
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.Types[t] = true
			}
		}
	}

	if v := q.Get("rssi_min"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, fmt.Errorf("invalid rssi_min %q", v)
		}
		f.RSSIMin = &n
	}
	if v := q.Get("rssi_max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, fmt.Errorf("invalid rssi_max %q", v)
		}
		f.RSSIMax = &n
	}

	switch mode := q.Get("filter_mode"); mode {
	case "", broadcast.FilterOwned, broadcast.FilterForeign:
		f.FilterMode = mode
	default:
		return f, fmt.Errorf("invalid filter_mode %q", mode)
	}

	if v := q.Get("prefixes"); v != "" {
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			prefix, mask, _, err := operators.ParsePrefix(p)
			if err != nil {
				return f, fmt.Errorf("invalid prefix %q", p)
			}
			f.Prefixes = append(f.Prefixes, broadcast.Prefix{Prefix: prefix, Mask: mask})
		}
	}

	switch src := q.Get("source"); src {
	case "", broadcast.SourceGateway, broadcast.SourceChirpstack:
		f.SourceMode = src
	default:
		return f, fmt.Errorf("invalid source %q", src)
	}

	return f, nil
}

// HandleLiveWS upgrades to WebSocket and streams filtered live packets as
// JSON. A subscriber that falls behind is dropped by the broadcaster; the
// pipeline never waits for a socket.
func (s *Server) HandleLiveWS(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLiveFilter(r.URL.Query())
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := s.bcast.Subscribe(filter)
	defer s.bcast.Unsubscribe(sub)
	defer conn.Close()

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("live subscriber connected")

	// reader goroutine: clients send nothing, but reads surface close
	// frames and dead connections
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case lp := <-sub.Packets():
			conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteJSON(lp); err != nil {
				return
			}
		case <-sub.Closed():
			// dropped by the broadcaster for falling behind
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber too slow"),
				time.Now().Add(wsWriteDeadline))
			return
		case <-gone:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteDeadline)); err != nil {
				return
			}
		}
	}
}
