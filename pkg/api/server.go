package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/LipPkg/LipIndex/pkg/core"
	"github.com/LipPkg/LipIndex/pkg/index"
	"github.com/LipPkg/LipIndex/pkg/log"
	"github.com/LipPkg/LipIndex/pkg/realtime"
	"github.com/LipPkg/LipIndex/pkg/sources/levilamina"
)

var logger = log.ForService("api")

// ToothLookup answers live, version-pinned tooth lookups against upstream.
// Implemented by levilamina.ToothResolver; faked in tests.
type ToothLookup interface {
	Lookup(ctx context.Context, owner, repo, version string) (*levilamina.ToothDetail, error)
}

type Server struct {
	registry *core.Registry
	index    *index.Index
	teeth    ToothLookup
	hub      *realtime.FirehoseHub
}

func NewServer(registry *core.Registry, ix *index.Index) *Server {
	return &Server{
		registry: registry,
		index:    ix,
	}
}

// SetToothLookup wires the resolver behind /api/teeth. Without it the
// endpoint answers 503.
func (s *Server) SetToothLookup(l ToothLookup) {
	s.teeth = l
}

// SetFirehoseHub enables push mode on the websocket firehose. Without a
// hub connected clients fall back to polling the index.
func (s *Server) SetFirehoseHub(hub *realtime.FirehoseHub) {
	s.hub = hub
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("Encoding JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, error, message string) {
	response := ErrorResponse{
		Error:   error,
		Message: message,
	}
	s.writeJSON(w, status, response)
}

// platformList returns the distinct platforms of the configured sources,
// sorted for stable stats output.
func (s *Server) platformList() []string {
	seen := make(map[string]bool)
	for _, src := range s.registry.GetAllSources() {
		seen[src.Platform()] = true
	}
	platforms := make([]string, 0, len(seen))
	for p := range seen {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)
	return platforms
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
