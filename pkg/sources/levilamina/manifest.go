// Package levilamina indexes LeviLamina mods ("teeth") published on
// GitHub. Candidates are discovered through code search for tooth.json
// manifests; versions come from GitHub releases and the Go module proxy,
// since teeth are addressed by Go-style module paths.
package levilamina

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// DefaultPlatformModule is the dependency key whose version range becomes
// a tooth's platform requirement.
const DefaultPlatformModule = "github.com/LiteLDev/LeviLamina"

const rawContentBase = "https://raw.githubusercontent.com"

// Manifest is a parsed tooth.json.
type Manifest struct {
	FormatVersion int               `json:"format_version"`
	Tooth         string            `json:"tooth"`
	Version       string            `json:"version"`
	Info          ManifestInfo      `json:"info"`
	Dependencies  map[string]string `json:"dependencies"`
	Prerequisites map[string]string `json:"prerequisites"`
}

// ManifestInfo is the descriptive block of a tooth.json.
type ManifestInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Author      string   `json:"author"`
	Tags        []string `json:"tags"`
	AvatarURL   string   `json:"avatar_url"`
}

// ParseManifest decodes and validates a tooth.json. A manifest without a
// format_version, tooth path or name is malformed; the caller drops the
// candidate or version it belongs to.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing tooth.json: %w", err)
	}
	if m.FormatVersion < 1 {
		return nil, fmt.Errorf("tooth.json missing format_version")
	}
	if strings.TrimSpace(m.Tooth) == "" {
		return nil, fmt.Errorf("tooth.json missing tooth path")
	}
	if strings.TrimSpace(m.Info.Name) == "" {
		return nil, fmt.Errorf("tooth.json missing info.name")
	}
	return &m, nil
}

// PlatformRequirement returns the version range declared against the
// platform module, checking dependencies first and prerequisites second.
// Empty when the manifest declares neither.
func (m *Manifest) PlatformRequirement(platformModule string) string {
	if v, ok := m.Dependencies[platformModule]; ok {
		return v
	}
	if v, ok := m.Prerequisites[platformModule]; ok {
		return v
	}
	return ""
}

var tagRe = regexp.MustCompile(`^[a-z0-9-]+(:[a-z0-9-]+)?$`)

// CanonicalTags lowercases the manifest's tags and drops anything outside
// the tag grammar (lowercase letters, digits, hyphens, one optional colon).
func (m *Manifest) CanonicalTags() []string {
	var tags []string
	for _, tag := range m.Info.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tagRe.MatchString(tag) {
			tags = append(tags, tag)
		}
	}
	return tags
}

// ResolveAvatarURL turns the manifest's avatar_url into an absolute
// raw-content URL. Relative paths resolve against the repository's HEAD
// tree; absolute github.com blob links are rewritten to their
// raw.githubusercontent.com form. Empty stays empty.
func (m *Manifest) ResolveAvatarURL(owner, repo string) string {
	raw := strings.TrimSpace(m.Info.AvatarURL)
	if raw == "" {
		return ""
	}
	if u, err := url.Parse(raw); err == nil && u.IsAbs() {
		return rewriteBlobURL(raw)
	}
	raw = strings.TrimPrefix(raw, "./")
	raw = strings.TrimPrefix(raw, "/")
	return fmt.Sprintf("%s/%s/%s/HEAD/%s", rawContentBase, owner, repo, raw)
}

// rewriteBlobURL maps https://github.com/<owner>/<repo>/blob/<ref>/<path>
// to the raw content host. Anything else passes through unchanged.
func rewriteBlobURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host != "github.com" {
		return raw
	}
	parts := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(parts) < 5 || parts[2] != "blob" {
		return raw
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s", rawContentBase, parts[0], parts[1], parts[3], strings.Join(parts[4:], "/"))
}
