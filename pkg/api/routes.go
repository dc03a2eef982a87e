package api

import (
	"net/http"
)

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// API routes with method-specific routing
	mux.HandleFunc("GET /api/search", s.HandleSearch)
	mux.HandleFunc("GET /api/packages/{host}/{owner}/{repo}", s.HandleGetPackage)
	mux.HandleFunc("GET /api/teeth/{owner}/{repo}/{version}", s.HandleToothLookup)
	mux.HandleFunc("GET /api/firehose", s.HandleFirehose)
	mux.HandleFunc("GET /api/firehose/ws", s.HandleFirehoseWS)
	mux.HandleFunc("GET /api/stats", s.HandleStats)
	mux.HandleFunc("GET /health", s.HandleHealth)
}
