package upstream

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// DefaultPyPIURL is the public PyPI JSON API root.
const DefaultPyPIURL = "https://pypi.org/pypi"

// PyPI queries a Python package registry through its JSON API. Package
// names are normalized per PEP 503 before building URLs.
type PyPI struct {
	client  *Client
	baseURL string
}

// NewPyPI creates a registry client on top of the shared HTTP client.
// An empty baseURL selects DefaultPyPIURL.
func NewPyPI(client *Client, baseURL string) *PyPI {
	if baseURL == "" {
		baseURL = DefaultPyPIURL
	}
	return &PyPI{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// PyPIProject is the project-level view: identity fields plus every
// published release with its earliest upload time.
type PyPIProject struct {
	Name        string
	Summary     string
	Author      string
	ProjectURLs map[string]string
	Releases    []PyPIRelease
}

// PyPIRelease is one published version of a project. Yanked reports
// whether every file of the release has been yanked.
type PyPIRelease struct {
	Version    string
	UploadedAt time.Time
	Yanked     bool
}

// ReleaseDetail is the version-pinned view, the registry's stand-in for
// a manifest at a fixed revision. RequiresDist carries the raw PEP 508
// dependency lines.
type ReleaseDetail struct {
	Name         string
	Version      string
	Summary      string
	Author       string
	RequiresDist []string
	UploadedAt   time.Time
}

// Project fetches the project-level metadata for name. Release versions
// come back sorted by upload time descending; releases without files are
// dropped since they carry no timestamp. Unknown projects yield
// ErrNotFound.
func (p *PyPI) Project(ctx context.Context, name string) (*PyPIProject, error) {
	name = NormalizePyPIName(name)

	var data pypiProjectResponse
	if err := p.client.GetJSON(ctx, fmt.Sprintf("%s/%s/json", p.baseURL, name), &data); err != nil {
		return nil, err
	}

	proj := &PyPIProject{
		Name:        NormalizePyPIName(data.Info.Name),
		Summary:     data.Info.Summary,
		Author:      data.Info.Author,
		ProjectURLs: stringURLs(data.Info.ProjectURLs),
	}
	for version, files := range data.Releases {
		uploaded, yanked, ok := summarizeFiles(files)
		if !ok {
			continue
		}
		proj.Releases = append(proj.Releases, PyPIRelease{
			Version:    version,
			UploadedAt: uploaded,
			Yanked:     yanked,
		})
	}
	sort.Slice(proj.Releases, func(i, j int) bool {
		return proj.Releases[i].UploadedAt.After(proj.Releases[j].UploadedAt)
	})
	return proj, nil
}

// Release fetches the version-pinned metadata for one release. Pinned
// responses are immutable, so they go through the revision cache when
// one is configured.
func (p *PyPI) Release(ctx context.Context, name, version string) (*ReleaseDetail, error) {
	name = NormalizePyPIName(name)
	url := fmt.Sprintf("%s/%s/%s/json", p.baseURL, name, version)

	var data pypiReleaseResponse
	if err := p.client.CachedJSON(ctx, "pypi:release:"+name+"@"+version, url, &data); err != nil {
		return nil, err
	}

	detail := &ReleaseDetail{
		Name:         NormalizePyPIName(data.Info.Name),
		Version:      data.Info.Version,
		Summary:      data.Info.Summary,
		Author:       data.Info.Author,
		RequiresDist: data.Info.RequiresDist,
	}
	if uploaded, _, ok := summarizeFiles(data.URLs); ok {
		detail.UploadedAt = uploaded
	}
	return detail, nil
}

// summarizeFiles reduces a release's file list to its earliest upload
// time and whether the whole release is yanked. ok is false when there
// are no files or none carries a usable timestamp.
func summarizeFiles(files []pypiFile) (uploaded time.Time, yanked bool, ok bool) {
	if len(files) == 0 {
		return time.Time{}, false, false
	}
	yanked = true
	for _, f := range files {
		if !f.Yanked {
			yanked = false
		}
		if f.UploadTime.IsZero() {
			continue
		}
		if !ok || f.UploadTime.Before(uploaded) {
			uploaded = f.UploadTime
			ok = true
		}
	}
	return uploaded.UTC(), yanked, ok
}

var pep503Separators = regexp.MustCompile(`[-_.]+`)

// NormalizePyPIName canonicalizes a package name per PEP 503: lowercase
// with runs of hyphens, underscores and dots collapsed to one hyphen.
func NormalizePyPIName(name string) string {
	return pep503Separators.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

// Requirement is one parsed PEP 508 dependency line, reduced to the
// normalized package name and its version specifier.
type Requirement struct {
	Name      string
	Specifier string
}

var requirementNameRe = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)`)

// ParseRequirement splits a requires_dist line such as
// "endstone (>=0.5, <0.6) ; python_version >= '3.9'" into name and
// specifier. Environment markers and extras are discarded; whitespace
// inside the specifier is squeezed out. Lines with no leading package
// name report ok=false.
func ParseRequirement(line string) (Requirement, bool) {
	if i := strings.Index(line, ";"); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)

	m := requirementNameRe.FindString(line)
	if m == "" {
		return Requirement{}, false
	}
	rest := strings.TrimSpace(line[len(m):])
	if strings.HasPrefix(rest, "[") {
		if j := strings.Index(rest, "]"); j >= 0 {
			rest = strings.TrimSpace(rest[j+1:])
		}
	}
	rest = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(rest, "("), ")"))
	rest = strings.ReplaceAll(rest, " ", "")

	return Requirement{Name: NormalizePyPIName(m), Specifier: rest}, true
}

type pypiProjectResponse struct {
	Info     pypiInfo              `json:"info"`
	Releases map[string][]pypiFile `json:"releases"`
}

type pypiReleaseResponse struct {
	Info pypiInfo   `json:"info"`
	URLs []pypiFile `json:"urls"`
}

type pypiInfo struct {
	Name         string         `json:"name"`
	Version      string         `json:"version"`
	Summary      string         `json:"summary"`
	Author       string         `json:"author"`
	RequiresDist []string       `json:"requires_dist"`
	ProjectURLs  map[string]any `json:"project_urls"`
}

type pypiFile struct {
	UploadTime time.Time `json:"upload_time_iso_8601"`
	Yanked     bool      `json:"yanked"`
}

func stringURLs(raw map[string]any) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	urls := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			urls[k] = s
		}
	}
	return urls
}
