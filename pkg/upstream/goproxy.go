package upstream

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/mod/module"
	"golang.org/x/mod/semver"
)

// DefaultGoProxyURL is the canonical public Go module proxy.
const DefaultGoProxyURL = "https://proxy.golang.org"

// GoProxy queries a Go module proxy for tagged versions and their publish
// times. Module paths with capital letters are escaped per the proxy
// protocol ("!" + lowercase).
type GoProxy struct {
	client  *Client
	baseURL string
}

// NewGoProxy creates a proxy client on top of the shared HTTP client.
// An empty baseURL selects DefaultGoProxyURL.
func NewGoProxy(client *Client, baseURL string) *GoProxy {
	if baseURL == "" {
		baseURL = DefaultGoProxyURL
	}
	return &GoProxy{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// List returns the tagged versions of a module, stripped of the leading
// "v". Pseudo-versions, versions carrying build metadata and anything
// non-semver are dropped. A module unknown to the proxy yields
// ErrNotFound.
func (g *GoProxy) List(ctx context.Context, modulePath string) ([]string, error) {
	escaped, err := module.EscapePath(modulePath)
	if err != nil {
		return nil, fmt.Errorf("invalid module path %q: %w", modulePath, err)
	}
	body, err := g.client.GetText(ctx, fmt.Sprintf("%s/%s/@v/list", g.baseURL, escaped))
	if err != nil {
		return nil, err
	}

	var versions []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		v := strings.TrimSpace(sc.Text())
		if v == "" || !semver.IsValid(v) || semver.Build(v) != "" {
			continue
		}
		if module.IsPseudoVersion(v) {
			continue
		}
		versions = append(versions, strings.TrimPrefix(v, "v"))
	}
	return versions, sc.Err()
}

// Info returns the publish time the proxy records for a version (given
// without the leading "v"). Results are immutable per version, so they
// go through the revision cache when one is configured.
func (g *GoProxy) Info(ctx context.Context, modulePath, version string) (time.Time, error) {
	escaped, err := module.EscapePath(modulePath)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid module path %q: %w", modulePath, err)
	}
	url := fmt.Sprintf("%s/%s/@v/v%s.info", g.baseURL, escaped, version)

	var info proxyVersionInfo
	if err := g.client.CachedJSON(ctx, "goproxy:info:"+modulePath+"@"+version, url, &info); err != nil {
		return time.Time{}, err
	}
	return info.Time, nil
}

type proxyVersionInfo struct {
	Version string    `json:"Version"`
	Time    time.Time `json:"Time"`
}
