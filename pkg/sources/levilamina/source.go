package levilamina

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
	core.RegisterSourcePrototype("levilamina", prototype)
}

var logger = log.ForService("levilamina")

// defaultSearchQuery finds repositories carrying a tooth.json manifest at
// their root.
const defaultSearchQuery = `"format_version" "tooth" path:/ filename:tooth.json`

// versionWorkers bounds the per-version sub-fetch fan-out inside one
// candidate.
const versionWorkers = 4

type Config struct {
	// Token is a GitHub API token. Anonymous access works but runs into
	// rate limits quickly.
	Token string `toml:"token"`
	// SearchQuery overrides the discovery code-search query.
	SearchQuery string `toml:"search_query"`
	// GoProxyURL overrides the Go module proxy endpoint.
	GoProxyURL string `toml:"goproxy_url"`
	// PlatformModule is the dependency key read as the platform
	// requirement. Defaults to DefaultPlatformModule.
	PlatformModule string `toml:"platform_module"`
	// CacheDir enables the revision cache for version-pinned fetches.
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
	proxy   *upstream.GoProxy
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
			return nil, fmt.Errorf("invalid config type for levilamina source")
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

// rebuildClients recreates the API clients after a config change.
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
	s.proxy = upstream.NewGoProxy(s.raw, s.config.GoProxyURL)
}

func (s *Source) Type() string {
	return "levilamina"
}

func (s *Source) Name() string {
	return s.instanceName
}

func (s *Source) Platform() string {
	return "levilamina"
}

func (s *Source) ConfigType() interface{} {
	return &Config{}
}

func (s *Source) SetConfig(config interface{}) error {
	cfg, ok := config.(*Config)
	if !ok {
		return fmt.Errorf("invalid config type for levilamina source")
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
			return fmt.Errorf("searching for tooth manifests: %w", err)
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

// Resolve fans out the candidate sub-fetches, joins them and builds the
// Package. A repository without a parseable root manifest, a manifest
// naming a different tooth path, or an empty resolved version list make
// the candidate absent.
func (s *Source) Resolve(ctx context.Context, desc core.RepositoryDescriptor) (*core.Package, error) {
	identifier := desc.Identifier()

	var (
		repo         *github.Repository
		contributors []core.Contributor
		manifest     *Manifest
		releases     []*github.RepositoryRelease
		proxyList    []string
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
			// No tooth.json, not a tooth.
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
	g.Go(func() error {
		list, err := s.proxy.List(gctx, identifier)
		if err != nil {
			if errors.Is(err, upstream.ErrNotFound) {
				// Never fetched as a Go module; releases may still
				// carry versions.
				return nil
			}
			return err
		}
		proxyList = list
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if manifest == nil {
		return nil, nil
	}
	if !strings.EqualFold(manifest.Tooth, identifier) {
		logger.Debugf("Skipping %s: manifest names tooth %q", identifier, manifest.Tooth)
		return nil, nil
	}

	versions := s.resolveVersions(ctx, desc, releases, proxyList)
	if len(versions) == 0 {
		return nil, nil
	}

	description := manifest.Info.Description
	if description == "" {
		description = repo.GetDescription()
	}
	author := manifest.Info.Author
	if author == "" {
		author = desc.Owner
	}
	avatar := manifest.ResolveAvatarURL(desc.Owner, desc.Repo)
	if avatar == "" {
		avatar = repo.GetOwner().GetAvatarURL()
	}

	// Every package carries its ecosystem marker; manifest tags follow.
	tags := append([]string{"platform:" + s.Platform()}, manifest.CanonicalTags()...)

	return &core.Package{
		Identifier:   identifier,
		Name:         manifest.Info.Name,
		Description:  description,
		Author:       author,
		Tags:         tags,
		AvatarURL:    avatar,
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

var errMalformedManifest = errors.New("malformed manifest")

// fetchManifest loads tooth.json at a ref. Pinned refs are immutable and
// go through the revision cache; HEAD is always fetched fresh.
func (s *Source) fetchManifest(ctx context.Context, desc core.RepositoryDescriptor, ref string) (*Manifest, error) {
	url := fmt.Sprintf("%s/%s/%s/%s/tooth.json", s.rawBase, desc.Owner, desc.Repo, ref)

	var (
		text string
		err  error
	)
	if ref == "HEAD" {
		text, err = s.raw.GetText(ctx, url)
	} else {
		key := "raw:" + desc.Identifier() + "@" + ref + ":tooth.json"
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

// versionCandidate is one tag awaiting per-version resolution.
type versionCandidate struct {
	version    string
	ref        string
	origin     core.VersionOrigin
	releasedAt time.Time
	timeKnown  bool
}

// resolveVersions fans out per-version sub-fetches: the publish time for
// module-proxy versions and the pinned manifest for every version. A
// version missing either piece is dropped, never fatal to the package.
func (s *Source) resolveVersions(ctx context.Context, desc core.RepositoryDescriptor, releases []*github.RepositoryRelease, proxyList []string) []core.Version {
	identifier := desc.Identifier()
	platformModule := s.config.PlatformModule
	if platformModule == "" {
		platformModule = DefaultPlatformModule
	}

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
			timeKnown:  true,
		})
	}
	for _, version := range proxyList {
		if !core.ValidVersion(version) {
			continue
		}
		candidates = append(candidates, versionCandidate{
			version: version,
			ref:     "v" + version,
			origin:  core.OriginModuleProxy,
		})
	}

	results := make([]*core.Version, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(versionWorkers)
	for i, cand := range candidates {
		g.Go(func() error {
			results[i] = s.resolveVersion(gctx, desc, identifier, platformModule, cand)
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

func (s *Source) resolveVersion(ctx context.Context, desc core.RepositoryDescriptor, identifier, platformModule string, cand versionCandidate) *core.Version {
	releasedAt := cand.releasedAt
	if !cand.timeKnown {
		ts, err := s.proxy.Info(ctx, identifier, cand.version)
		if err != nil {
			logger.Debugf("Dropping %s@%s: no publish time: %v", identifier, cand.version, err)
			return nil
		}
		releasedAt = ts.UTC()
	}

	manifest, err := s.fetchManifest(ctx, desc, cand.ref)
	if err != nil {
		logger.Debugf("Dropping %s@%s: %v", identifier, cand.version, err)
		return nil
	}

	return &core.Version{
		Version:                    cand.version,
		ReleasedAt:                 releasedAt,
		Source:                     cand.origin,
		PackageManager:             core.ManagerLip,
		PlatformVersionRequirement: manifest.PlatformRequirement(platformModule),
	}
}
