// Package api is the snapshot boundary between the simulation engine and
// external clients: read-only GET endpoints serving copy-out snapshots, a
// websocket stream fanning out bus notifications, and a bearer-token admin
// control plane.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/talgya/lumenworld/internal/beacon"
	"github.com/talgya/lumenworld/internal/bus"
	"github.com/talgya/lumenworld/internal/engine"
	"github.com/talgya/lumenworld/internal/event"
	"github.com/talgya/lumenworld/internal/guardian"
	"github.com/talgya/lumenworld/internal/progress"
	"github.com/talgya/lumenworld/internal/warmth"
	"github.com/talgya/lumenworld/internal/world"
)

// Server serves world-state snapshots over HTTP.
type Server struct {
	Ticker    *engine.Ticker
	Bus       *bus.Bus
	Beacons   *beacon.Registry
	Warmth    *warmth.Simulator
	Events    *event.Scheduler
	Guardians *guardian.Director
	Progress  *progress.Tracker

	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	started time.Time
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	s.started = time.Now()
	streamLimiter := NewRateLimiter(30, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/beacons", s.handleBeacons)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/events/history", s.handleEventHistory)
	mux.HandleFunc("/api/v1/guardians", s.handleGuardians)
	mux.HandleFunc("/api/v1/warmth/", s.handleWarmth)
	mux.HandleFunc("/api/v1/progress/", s.handleProgress)

	// Notification stream (websocket).
	mux.HandleFunc("/api/v1/stream", RateLimitMiddleware(streamLimiter, s.handleStream))

	// Admin endpoints (POST, bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))

	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"name":          "Lumenworld",
		"tick":          s.Ticker.Tick(),
		"paused":        s.Ticker.Paused(),
		"uptime_sec":    int(time.Since(s.started).Seconds()),
		"players":       s.Warmth.PlayerCount(),
		"guardians":     s.Guardians.Count(),
		"beacons":       s.Beacons.Count(),
		"active_events": s.Events.ActiveCount(),
		"bus_dropped":   s.Bus.Dropped(),
	})
}

// handleBeacons returns the beacons in one realm (?realm=, default all
// known via the genesis realm).
func (s *Server) handleBeacons(w http.ResponseWriter, r *http.Request) {
	realm := r.URL.Query().Get("realm")
	if realm == "" {
		realm = "genesis"
	}
	writeJSON(w, map[string]any{
		"realm":   realm,
		"beacons": s.Beacons.BeaconsInRealm(realm),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	realm := r.URL.Query().Get("realm")
	if realm == "" {
		realm = world.RealmAll
	}
	writeJSON(w, map[string]any{
		"realm":         realm,
		"xp_mult":       s.Events.XPMultiplier(realm),
		"stardust_mult": s.Events.StardustMultiplier(realm),
		"events":        s.Events.ActiveEvents(realm),
	})
}

func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"history": s.Events.History()})
}

func (s *Server) handleGuardians(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"guardians": s.Guardians.ActiveGuardians()})
}

// handleWarmth serves GET /api/v1/warmth/{playerID}.
func (s *Server) handleWarmth(w http.ResponseWriter, r *http.Request) {
	playerID := strings.TrimPrefix(r.URL.Path, "/api/v1/warmth/")
	if playerID == "" {
		http.Error(w, "player id required", http.StatusBadRequest)
		return
	}
	snap, err := s.Warmth.GetFullState(playerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

// handleProgress serves GET /api/v1/progress/{playerID}.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	playerID := strings.TrimPrefix(r.URL.Path, "/api/v1/progress/")
	if playerID == "" {
		http.Error(w, "player id required", http.StatusBadRequest)
		return
	}
	snap, err := s.Progress.Get(playerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

// handleSpeed pauses or resumes the ticker: POST {"paused": true|false}.
func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Paused bool `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	s.Ticker.SetPaused(req.Paused)
	writeJSON(w, map[string]any{"paused": req.Paused})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no LUMENWORLD_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
