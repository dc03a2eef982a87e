package levilamina

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/LipPkg/LipIndex/pkg/core"
	"github.com/LipPkg/LipIndex/pkg/upstream"
)

// ToothDetail is the direct-lookup view of one tooth version, assembled
// live from upstream rather than from the index.
type ToothDetail struct {
	Tooth             string            `json:"tooth"`
	Version           string            `json:"version"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Author            string            `json:"author"`
	AvailableVersions []string          `json:"available_versions"`
	Readme            string            `json:"readme"`
	Tags              []string          `json:"tags"`
	Dependencies      map[string]string `json:"dependencies"`
}

// ToothResolver answers version-pinned tooth lookups. The manifest at the
// version tag is the one required piece; readme and the proxy version
// list degrade to empty when absent.
type ToothResolver struct {
	raw     *upstream.Client
	proxy   *upstream.GoProxy
	rawBase string
}

func NewToothResolver(client *upstream.Client, proxy *upstream.GoProxy) *ToothResolver {
	return &ToothResolver{
		raw:     client,
		proxy:   proxy,
		rawBase: rawContentBase,
	}
}

// Lookup fetches manifest, readme and version list for owner/repo at the
// given version concurrently. A missing manifest surfaces as
// upstream.ErrNotFound; exhausted upstream retries surface as
// upstream.ErrUpstreamDown.
func (r *ToothResolver) Lookup(ctx context.Context, owner, repo, version string) (*ToothDetail, error) {
	identifier := "github.com/" + owner + "/" + repo
	ref := "v" + version

	var (
		manifest  *Manifest
		readme    string
		available []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		url := fmt.Sprintf("%s/%s/%s/%s/tooth.json", r.rawBase, owner, repo, ref)
		text, err := r.raw.CachedText(gctx, "raw:"+identifier+"@"+ref+":tooth.json", url)
		if err != nil {
			return err
		}
		m, err := ParseManifest([]byte(text))
		if err != nil {
			return err
		}
		manifest = m
		return nil
	})
	g.Go(func() error {
		url := fmt.Sprintf("%s/%s/%s/%s/README.md", r.rawBase, owner, repo, ref)
		text, err := r.raw.CachedText(gctx, "raw:"+identifier+"@"+ref+":README.md", url)
		if err != nil {
			if errors.Is(err, upstream.ErrNotFound) {
				return nil
			}
			return err
		}
		readme = text
		return nil
	})
	g.Go(func() error {
		list, err := r.proxy.List(gctx, identifier)
		if err != nil {
			if errors.Is(err, upstream.ErrNotFound) {
				return nil
			}
			return err
		}
		sort.Slice(list, func(i, j int) bool {
			return core.CompareVersions(list[i], list[j]) > 0
		})
		available = list
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	author := manifest.Info.Author
	if author == "" {
		author = owner
	}

	return &ToothDetail{
		Tooth:             manifest.Tooth,
		Version:           version,
		Name:              manifest.Info.Name,
		Description:       manifest.Info.Description,
		Author:            author,
		AvailableVersions: available,
		Readme:            readme,
		Tags:              manifest.CanonicalTags(),
		Dependencies:      manifest.Dependencies,
	}, nil
}
