package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/LipPkg/LipIndex/pkg/core"
	"github.com/LipPkg/LipIndex/pkg/index"
	"github.com/LipPkg/LipIndex/pkg/query"
	"github.com/LipPkg/LipIndex/pkg/upstream"
	"github.com/LipPkg/LipIndex/pkg/version"
)

func (s *Server) HandleSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	sortKey := params.Get("sort")
	if sortKey == "" {
		sortKey = index.SortHotness
	}
	if !index.ValidSort(sortKey) {
		s.writeError(w, http.StatusBadRequest, "Invalid sort", fmt.Sprintf("Unsupported sort key %q", sortKey))
		return
	}

	order := params.Get("order")
	if order == "" {
		order = index.OrderDesc
	}
	if !index.ValidOrder(order) {
		s.writeError(w, http.StatusBadRequest, "Invalid order", fmt.Sprintf("Unsupported sort order %q", order))
		return
	}

	// Unparseable numbers are not an error; they fall back to defaults.
	page, _ := strconv.Atoi(params.Get("page"))
	perPage, _ := strconv.Atoi(params.Get("perPage"))

	queryString := params.Get("q")
	result, err := s.index.Search(index.SearchOptions{
		Predicate: query.Parse(queryString),
		Page:      page,
		PerPage:   perPage,
		Sort:      sortKey,
		Order:     order,
	})
	if err != nil {
		logger.Errorf("Search %q failed: %v", queryString, err)
		s.writeError(w, http.StatusInternalServerError, "Search failed", "The index query failed")
		return
	}

	s.writeJSON(w, http.StatusOK, SearchResponse{
		Query:      queryString,
		Packages:   result.Packages,
		Count:      result.TotalCount,
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalPages: result.TotalPages,
	})
}

func (s *Server) HandleGetPackage(w http.ResponseWriter, r *http.Request) {
	identifier := r.PathValue("host") + "/" + r.PathValue("owner") + "/" + r.PathValue("repo")
	if _, err := core.ParseIdentifier(identifier); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid identifier", err.Error())
		return
	}

	pkg, err := s.index.GetPackage(identifier)
	if errors.Is(err, index.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Package not found", fmt.Sprintf("Package '%s' is not indexed", identifier))
		return
	}
	if err != nil {
		logger.Errorf("Loading package %s: %v", identifier, err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load package", "The index query failed")
		return
	}

	s.writeJSON(w, http.StatusOK, pkg)
}

// HandleToothLookup resolves one tooth version live from upstream rather
// than from the index, so freshly tagged releases are visible immediately.
func (s *Server) HandleToothLookup(w http.ResponseWriter, r *http.Request) {
	if s.teeth == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Lookup unavailable", "Live tooth lookups are not configured")
		return
	}

	owner := r.PathValue("owner")
	repo := r.PathValue("repo")
	toothVersion := r.PathValue("version")

	if _, err := core.ParseIdentifier("github.com/" + owner + "/" + repo); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid identifier", err.Error())
		return
	}
	if !core.ValidVersion(toothVersion) {
		s.writeError(w, http.StatusBadRequest, "Invalid version", fmt.Sprintf("%q is not a valid semantic version", toothVersion))
		return
	}

	detail, err := s.teeth.Lookup(r.Context(), owner, repo, toothVersion)
	switch {
	case err == nil:
	case errors.Is(err, upstream.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Tooth not found",
			fmt.Sprintf("No tooth.json for %s/%s at v%s", owner, repo, toothVersion))
		return
	case errors.Is(err, upstream.ErrRateLimited):
		s.writeError(w, http.StatusTooManyRequests, "Upstream rate limited", "The upstream host is rate limiting requests, try again later")
		return
	case errors.Is(err, upstream.ErrUpstreamDown):
		s.writeError(w, http.StatusBadGateway, "Upstream unavailable", "The upstream host did not answer")
		return
	default:
		logger.Errorf("Tooth lookup %s/%s@%s: %v", owner, repo, toothVersion, err)
		s.writeError(w, http.StatusInternalServerError, "Lookup failed", "An unexpected error occurred")
		return
	}

	s.writeJSON(w, http.StatusOK, ToothResponse{Code: http.StatusOK, Data: detail})
}

func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.index.Stats(s.platformList())
	if err != nil {
		logger.Errorf("Collecting stats: %v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to get stats", "The index query failed")
		return
	}

	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   version.APIVersion(),
	}

	s.writeJSON(w, http.StatusOK, health)
}
