package api

import (
	"time"

	"github.com/LipPkg/LipIndex/pkg/core"
	"github.com/LipPkg/LipIndex/pkg/sources/levilamina"
)

type SearchResponse struct {
	Query      string          `json:"query"`
	Packages   []*core.Package `json:"packages"`
	Count      int             `json:"count"`
	Page       int             `json:"page"`
	PerPage    int             `json:"perPage"`
	TotalPages int             `json:"totalPages"`
}

// ToothResponse is the envelope for live tooth lookups. The code field
// duplicates the HTTP status for clients that only read the body.
type ToothResponse struct {
	Code int                     `json:"code"`
	Data *levilamina.ToothDetail `json:"data"`
}

type FirehoseResponse struct {
	Packages   []*core.Package `json:"packages"`
	Count      int             `json:"count"`
	Page       int             `json:"page"`
	PerPage    int             `json:"perPage"`
	TotalPages int             `json:"totalPages"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}
