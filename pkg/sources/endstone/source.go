// Package endstone indexes Endstone server plugins. Repositories are
// discovered through GitHub code search, described by their
// pyproject.toml and versioned from the PyPI registry alongside GitHub
// releases.
package endstone

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v73/github"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/LipPkg/LipIndex/pkg/core"
	"github.com/LipPkg/LipIndex/pkg/log"
	"github.com/LipPkg/LipIndex/pkg/upstream"
)

func init() {
	prototype := &Source{}
	core.RegisterSourcePrototype("endstone", prototype)
}

var logger = log.ForService("endstone")

const rawContentBase = "https://raw.githubusercontent.com"

// defaultSearchQuery finds repositories whose root pyproject.toml
// mentions the endstone distribution.
const defaultSearchQuery = `"endstone" path:/ filename:pyproject.toml`

const versionWorkers = 4

type Config struct {
	// Token is a GitHub API token for discovery and repository metadata.
	Token string `toml:"token"`
	// SearchQuery overrides the discovery code-search query.
	SearchQuery string `toml:"search_query"`
	// PyPIURL overrides the package registry endpoint.
	PyPIURL string `toml:"pypi_url"`
	// CacheDir enables the revision cache for per-release fetches.
	CacheDir string `toml:"cache_dir"`
}

func (c *Config) Validate() error {
	return nil
}

// SetCacheDir applies the shared cache directory unless the instance
// config pins its own.
func (c *Config) SetCacheDir(dir string) {
	if c.CacheDir == "" {
		c.CacheDir = dir
	}
}

type Source struct {
	config       *Config
	instanceName string

	gh      *github.Client
	raw     *upstream.Client
	pypi    *upstream.PyPI
	rawBase string
}

func NewSource(instanceName string, config interface{}) (core.Source, error) {
	var cfg *Config
	if config == nil {
		cfg = &Config{}
	} else {
		var ok bool
		cfg, ok = config.(*Config)
		if !ok {
			return nil, fmt.Errorf("invalid config type for endstone source")
		}
	}

	s := &Source{
		config:       cfg,
		instanceName: instanceName,
		rawBase:      rawContentBase,
	}
	s.rebuildClients()
	return s, nil
}

func (s *Source) rebuildClients() {
	if s.config.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: s.config.Token})
		s.gh = github.NewClient(oauth2.NewClient(context.Background(), ts))
	} else {
		s.gh = github.NewClient(nil)
	}

	var opts []upstream.Option
	if s.config.CacheDir != "" {
		cache, err := upstream.NewCache(s.config.CacheDir, 0)
		if err != nil {
			logger.Warnf("Revision cache disabled: %v", err)
		} else {
			opts = append(opts, upstream.WithCache(cache))
		}
	}
	s.raw = upstream.NewClient(opts...)
	s.pypi = upstream.NewPyPI(s.raw, s.config.PyPIURL)
}

func (s *Source) Type() string {
	return "endstone"
}

func (s *Source) Name() string {
	return s.instanceName
}

func (s *Source) Platform() string {
	return "endstone"
}

func (s *Source) ConfigType() interface{} {
	return &Config{}
}

func (s *Source) SetConfig(config interface{}) error {
	cfg, ok := config.(*Config)
	if !ok {
		return fmt.Errorf("invalid config type for endstone source")
	}
	s.config = cfg
	s.rebuildClients()
	return cfg.Validate()
}

func (s *Source) GetConfig() interface{} {
	return s.config
}

func (s *Source) Close() error {
	return nil
}

func (s *Source) Factory(instanceName string, config interface{}) (core.Source, error) {
	return NewSource(instanceName, config)
}

// Discover streams every repository the code search turns up, one
// descriptor per repository.
func (s *Source) Discover(ctx context.Context, out chan<- core.RepositoryDescriptor) error {
	query := s.config.SearchQuery
	if query == "" {
		query = defaultSearchQuery
	}

	opts := &github.SearchOptions{
		ListOptions: github.ListOptions{Page: 1, PerPage: 100},
	}
	seen := make(map[string]bool)
	pages := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, resp, err := s.gh.Search.Code(ctx, query, opts)
		if err != nil {
			return fmt.Errorf("searching for plugin projects: %w", err)
		}
		pages++

		for _, res := range result.CodeResults {
			repo := res.GetRepository()
			desc := core.RepositoryDescriptor{
				Host:  "github.com",
				Owner: repo.GetOwner().GetLogin(),
				Repo:  repo.GetName(),
			}
			if desc.Owner == "" || desc.Repo == "" || seen[desc.Identifier()] {
				continue
			}
			seen[desc.Identifier()] = true

			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- desc:
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage

		// Code search allows 30 requests per minute.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	logger.Debugf("Discovered %d candidate repositories across %d search pages", len(seen), pages)
	return nil
}

// Resolve fans out the repository sub-fetches, then pulls the PyPI
// project record for the distribution the pyproject names. A repository
// without a parseable pyproject.toml, or with no resolvable version, is
// absent.
func (s *Source) Resolve(ctx context.Context, desc core.RepositoryDescriptor) (*core.Package, error) {
	identifier := desc.Identifier()

	var (
		repo         *github.Repository
		contributors []core.Contributor
		manifest     *Manifest
		releases     []*github.RepositoryRelease
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		repo, _, err = s.gh.Repositories.Get(gctx, desc.Owner, desc.Repo)
		if err != nil {
			return fmt.Errorf("fetching repository %s: %w", identifier, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		contributors, err = s.fetchContributors(gctx, desc)
		return err
	})
	g.Go(func() error {
		m, err := s.fetchManifest(gctx, desc, "HEAD")
		switch {
		case err == nil:
			manifest = m
		case errors.Is(err, upstream.ErrNotFound):
			// No pyproject.toml, not a plugin project.
		case errors.Is(err, errMalformedManifest):
			logger.Warnf("Dropping %s: %v", identifier, err)
		default:
			return err
		}
		return nil
	})
	g.Go(func() error {
		var err error
		releases, _, err = s.gh.Repositories.ListReleases(gctx, desc.Owner, desc.Repo, &github.ListOptions{PerPage: 100})
		if err != nil {
			return fmt.Errorf("listing releases for %s: %w", identifier, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if manifest == nil {
		return nil, nil
	}

	// The registry record depends on the distribution name, so it has
	// to wait for the manifest.
	project, err := s.fetchProject(ctx, manifest.Name)
	if err != nil {
		return nil, err
	}

	versions := s.resolveVersions(ctx, desc, manifest.Name, releases, project)
	if len(versions) == 0 {
		return nil, nil
	}

	description := manifest.Description
	if description == "" && project != nil {
		description = project.Summary
	}
	if description == "" {
		description = repo.GetDescription()
	}
	author := manifest.Author
	if author == "" && project != nil {
		author = project.Author
	}
	if author == "" {
		author = desc.Owner
	}

	tags := append([]string{"platform:" + s.Platform()}, manifest.CanonicalTags()...)

	return &core.Package{
		Identifier:   identifier,
		Name:         manifest.Name,
		Description:  description,
		Author:       author,
		Tags:         tags,
		AvatarURL:    repo.GetOwner().GetAvatarURL(),
		ProjectURL:   repo.GetHTMLURL(),
		Hotness:      repo.GetStargazersCount(),
		Contributors: contributors,
		Versions:     versions,
	}, nil
}

func (s *Source) fetchContributors(ctx context.Context, desc core.RepositoryDescriptor) ([]core.Contributor, error) {
	opts := &github.ListContributorsOptions{
		ListOptions: github.ListOptions{PerPage: 30},
	}
	raw, _, err := s.gh.Repositories.ListContributors(ctx, desc.Owner, desc.Repo, opts)
	if err != nil {
		return nil, fmt.Errorf("listing contributors for %s: %w", desc.Identifier(), err)
	}

	var contributors []core.Contributor
	for _, c := range raw {
		if isBot(c) {
			continue
		}
		contributors = append(contributors, core.Contributor{
			Username:      c.GetLogin(),
			Contributions: c.GetContributions(),
		})
	}
	return contributors, nil
}

func isBot(c *github.Contributor) bool {
	return c.GetType() == "Bot" || strings.HasSuffix(c.GetLogin(), "[bot]")
}

// fetchProject loads the PyPI record for a distribution. One that was
// never published to the registry is not an error.
func (s *Source) fetchProject(ctx context.Context, name string) (*upstream.PyPIProject, error) {
	project, err := s.pypi.Project(ctx, name)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return project, nil
}

var errMalformedManifest = errors.New("malformed manifest")

// fetchManifest loads pyproject.toml at a ref. Pinned refs are immutable
// and go through the revision cache; HEAD is always fetched fresh.
func (s *Source) fetchManifest(ctx context.Context, desc core.RepositoryDescriptor, ref string) (*Manifest, error) {
	url := fmt.Sprintf("%s/%s/%s/%s/pyproject.toml", s.rawBase, desc.Owner, desc.Repo, ref)

	var (
		text string
		err  error
	)
	if ref == "HEAD" {
		text, err = s.raw.GetText(ctx, url)
	} else {
		key := "raw:" + desc.Identifier() + "@" + ref + ":pyproject.toml"
		text, err = s.raw.CachedText(ctx, key, url)
	}
	if err != nil {
		return nil, err
	}

	m, err := ParseManifest([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errMalformedManifest, err)
	}
	return m, nil
}

type versionCandidate struct {
	version    string
	ref        string
	origin     core.VersionOrigin
	releasedAt time.Time
}

// resolveVersions merges GitHub releases with registry uploads and fans
// out the per-version requirement lookup. Yanked registry releases stay
// out of the index.
func (s *Source) resolveVersions(ctx context.Context, desc core.RepositoryDescriptor, name string, releases []*github.RepositoryRelease, project *upstream.PyPIProject) []core.Version {
	var candidates []versionCandidate
	for _, rel := range releases {
		if rel.GetDraft() {
			continue
		}
		tag := rel.GetTagName()
		version, ok := core.CanonicalVersion(tag)
		if !ok {
			continue
		}
		published := rel.GetPublishedAt().Time
		if published.IsZero() {
			continue
		}
		candidates = append(candidates, versionCandidate{
			version:    version,
			ref:        tag,
			origin:     core.OriginRepositoryHost,
			releasedAt: published.UTC(),
		})
	}
	if project != nil {
		for _, rel := range project.Releases {
			if rel.Yanked || !core.ValidVersion(rel.Version) {
				continue
			}
			candidates = append(candidates, versionCandidate{
				version:    rel.Version,
				origin:     core.OriginPackageRegistry,
				releasedAt: rel.UploadedAt.UTC(),
			})
		}
	}

	results := make([]*core.Version, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(versionWorkers)
	for i, cand := range candidates {
		g.Go(func() error {
			results[i] = s.resolveVersion(gctx, desc, name, cand)
			return nil
		})
	}
	_ = g.Wait()

	var versions []core.Version
	for _, v := range results {
		if v != nil {
			versions = append(versions, *v)
		}
	}
	return versions
}

// resolveVersion fills in the platform requirement: requires_dist for
// registry uploads, the pinned pyproject for repository releases. A
// version whose manifest fetch fails is dropped, never fatal.
func (s *Source) resolveVersion(ctx context.Context, desc core.RepositoryDescriptor, name string, cand versionCandidate) *core.Version {
	var requirement string
	switch cand.origin {
	case core.OriginPackageRegistry:
		detail, err := s.pypi.Release(ctx, name, cand.version)
		if err != nil {
			logger.Debugf("Dropping %s@%s: %v", desc.Identifier(), cand.version, err)
			return nil
		}
		requirement = RequirementFor(detail.RequiresDist, PlatformPackage)
	default:
		manifest, err := s.fetchManifest(ctx, desc, cand.ref)
		if err != nil {
			logger.Debugf("Dropping %s@%s: %v", desc.Identifier(), cand.version, err)
			return nil
		}
		requirement = manifest.PlatformRequirement()
	}

	return &core.Version{
		Version:                    cand.version,
		ReleasedAt:                 cand.releasedAt,
		Source:                     cand.origin,
		PackageManager:             core.ManagerPip,
		PlatformVersionRequirement: requirement,
	}
}
