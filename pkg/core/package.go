package core

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// VersionOrigin identifies which kind of upstream a version entry was
// resolved from. When the same version string is reported by more than one
// upstream, the normalizer keeps a single entry according to the configured
// origin priority.
type VersionOrigin string

const (
	// OriginRepositoryHost marks versions resolved from the hosting
	// platform itself (GitHub releases and tags).
	OriginRepositoryHost VersionOrigin = "repository-host"

	// OriginModuleProxy marks versions resolved from a Go module proxy.
	OriginModuleProxy VersionOrigin = "module-proxy"

	// OriginPackageRegistry marks versions resolved from a language
	// package registry (PyPI).
	OriginPackageRegistry VersionOrigin = "package-registry"
)

// DefaultOriginPriority is the dedup order used when none is configured:
// earlier origins win when the same version string appears twice.
var DefaultOriginPriority = []VersionOrigin{
	OriginRepositoryHost,
	OriginModuleProxy,
	OriginPackageRegistry,
}

// ParseOriginPriority converts configured origin names into a dedup order.
// An empty list is valid and selects DefaultOriginPriority downstream.
func ParseOriginPriority(names []string) ([]VersionOrigin, error) {
	if len(names) == 0 {
		return nil, nil
	}

	known := map[VersionOrigin]bool{
		OriginRepositoryHost:  true,
		OriginModuleProxy:     true,
		OriginPackageRegistry: true,
	}
	out := make([]VersionOrigin, 0, len(names))
	seen := make(map[VersionOrigin]bool, len(names))
	for _, name := range names {
		origin := VersionOrigin(strings.ToLower(strings.TrimSpace(name)))
		if !known[origin] {
			return nil, fmt.Errorf("unknown version origin %q", name)
		}
		if seen[origin] {
			return nil, fmt.Errorf("duplicate version origin %q", name)
		}
		seen[origin] = true
		out = append(out, origin)
	}
	return out, nil
}

// PackageManager identifies the tool end users install a package with.
type PackageManager string

const (
	ManagerLip PackageManager = "lip"
	ManagerPip PackageManager = "pip"
)

// Package is the canonical record every source produces and the index
// stores. One Package describes one repository-hosted project across all
// the upstreams that know about it.
type Package struct {
	// Identifier is "<host>/<owner>/<repo>", e.g. "github.com/LiteLDev/LegacyScriptEngine".
	// It is the primary key of the index.
	Identifier string `json:"identifier"`

	Name        string `json:"name"`
	Description string `json:"description"`
	Author      string `json:"author"`

	// Tags are lowercase labels, deduplicated preserving first-seen order.
	// Sources always contribute a "platform:<ecosystem>" tag.
	Tags []string `json:"tags"`

	AvatarURL  string `json:"avatarUrl"`
	ProjectURL string `json:"projectUrl"`

	// Hotness is a popularity measure (repository stars).
	Hotness int `json:"hotness"`

	// Updated mirrors the release time of the newest version. Derived by
	// the normalizer, never set directly by sources.
	Updated time.Time `json:"updated"`

	Contributors []Contributor `json:"contributors"`

	// Versions is sorted by ReleasedAt descending and holds at most one
	// entry per version string. Emitted packages always have at least one.
	Versions []Version `json:"versions"`
}

// Version is one released version of a package as seen from one upstream.
type Version struct {
	// Version is a semantic version without the leading "v" and without
	// build metadata, e.g. "1.2.0" or "0.3.0-rc.1".
	Version string `json:"version"`

	ReleasedAt time.Time `json:"releasedAt"`

	Source         VersionOrigin  `json:"source"`
	PackageManager PackageManager `json:"packageManager"`

	// PlatformVersionRequirement is the version range of the platform
	// loader this version declares it needs, empty when undeclared.
	PlatformVersionRequirement string `json:"platformVersionRequirement,omitempty"`
}

// Contributor is a repository contributor. Username may be empty when the
// hosting platform reports an anonymous contribution.
type Contributor struct {
	Username      string `json:"username"`
	Contributions int    `json:"contributions"`
}

// Identifier is a parsed package identifier.
type Identifier struct {
	Host  string
	Owner string
	Repo  string
}

func (id Identifier) String() string {
	return id.Host + "/" + id.Owner + "/" + id.Repo
}

// ParseIdentifier splits and validates a "<host>/<owner>/<repo>" identifier.
func ParseIdentifier(s string) (Identifier, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Identifier{}, fmt.Errorf("identifier %q: want <host>/<owner>/<repo>", s)
	}
	id := Identifier{Host: parts[0], Owner: parts[1], Repo: parts[2]}
	if id.Host == "" || !strings.Contains(id.Host, ".") {
		return Identifier{}, fmt.Errorf("identifier %q: invalid host %q", s, id.Host)
	}
	if !validPathSegment(id.Owner) {
		return Identifier{}, fmt.Errorf("identifier %q: invalid owner %q", s, id.Owner)
	}
	if !validPathSegment(id.Repo) {
		return Identifier{}, fmt.Errorf("identifier %q: invalid repo %q", s, id.Repo)
	}
	return id, nil
}

// validPathSegment reports whether s is a plausible owner or repository
// name: non-empty, limited to the characters hosting platforms allow.
func validPathSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

// ValidVersion reports whether v is an acceptable canonical version string:
// valid semver, no leading "v", no build metadata.
func ValidVersion(v string) bool {
	if v == "" || strings.HasPrefix(v, "v") || strings.HasPrefix(v, "V") {
		return false
	}
	vv := "v" + v
	return semver.IsValid(vv) && semver.Build(vv) == "" && semver.Canonical(vv) == vv
}

// CanonicalVersion strips a single leading "v" and reports whether the
// result is a valid canonical version. Upstreams tag releases both ways;
// the index stores only the bare form.
func CanonicalVersion(tag string) (string, bool) {
	v := strings.TrimPrefix(tag, "v")
	if !ValidVersion(v) {
		return "", false
	}
	return v, true
}

// CompareVersions orders two canonical version strings, newest last,
// following semantic version precedence.
func CompareVersions(a, b string) int {
	return semver.Compare("v"+a, "v"+b)
}

// RepositoryDescriptor identifies a repository candidate produced by
// source discovery, before resolution decides whether it is a real package.
type RepositoryDescriptor struct {
	Host  string
	Owner string
	Repo  string
}

func (d RepositoryDescriptor) Identifier() string {
	return d.Host + "/" + d.Owner + "/" + d.Repo
}
