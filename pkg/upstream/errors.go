package upstream

import "errors"

var (
	// ErrNotFound marks a 404 from an upstream: the requested entity does
	// not exist. Never retried; for manifests and registry entries this is
	// a normal outcome.
	ErrNotFound = errors.New("not found upstream")

	// ErrRateLimited marks a 429 from an upstream. Retried with backoff.
	ErrRateLimited = errors.New("rate limited by upstream")

	// ErrUpstreamDown marks an upstream that answered with a server error
	// repeatedly or whose circuit breaker is open.
	ErrUpstreamDown = errors.New("upstream unavailable")
)
