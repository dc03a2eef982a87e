package endstone

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/LipPkg/LipIndex/pkg/upstream"
)

// PlatformPackage is the PyPI distribution every plugin depends on.
const PlatformPackage = "endstone"

// Manifest carries the [project] table of a pyproject.toml, PEP 621
// style. Only the fields the index needs are decoded.
type Manifest struct {
	Name         string
	Description  string
	Author       string
	Keywords     []string
	Dependencies []string
}

type pyprojectFile struct {
	Project pyprojectProject `toml:"project"`
}

type pyprojectProject struct {
	Name         string            `toml:"name"`
	Description  string            `toml:"description"`
	Keywords     []string          `toml:"keywords"`
	Dependencies []string          `toml:"dependencies"`
	Authors      []pyprojectAuthor `toml:"authors"`
}

type pyprojectAuthor struct {
	Name  string `toml:"name"`
	Email string `toml:"email"`
}

// ParseManifest decodes a pyproject.toml. A file without a [project]
// name does not describe a distribution and is rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	var file pyprojectFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing pyproject.toml: %w", err)
	}
	if file.Project.Name == "" {
		return nil, fmt.Errorf("pyproject.toml carries no project name")
	}

	m := &Manifest{
		Name:         file.Project.Name,
		Description:  file.Project.Description,
		Keywords:     file.Project.Keywords,
		Dependencies: file.Project.Dependencies,
	}
	if len(file.Project.Authors) > 0 {
		m.Author = file.Project.Authors[0].Name
	}
	return m, nil
}

// PlatformRequirement returns the endstone version specifier from the
// project dependencies, or "" when the project does not pin one.
func (m *Manifest) PlatformRequirement() string {
	return RequirementFor(m.Dependencies, PlatformPackage)
}

// RequirementFor scans PEP 508 requirement lines for the named
// distribution and returns its version specifier.
func RequirementFor(lines []string, name string) string {
	want := upstream.NormalizePyPIName(name)
	for _, line := range lines {
		req, ok := upstream.ParseRequirement(line)
		if !ok {
			continue
		}
		if req.Name == want {
			return req.Specifier
		}
	}
	return ""
}

var tagRe = regexp.MustCompile(`^[a-z0-9-]+(:[a-z0-9-]+)?$`)

// CanonicalTags lowercases the project keywords and keeps the ones that
// fit the tag grammar.
func (m *Manifest) CanonicalTags() []string {
	var tags []string
	for _, kw := range m.Keywords {
		tag := strings.ToLower(strings.TrimSpace(kw))
		if tag == "" || !tagRe.MatchString(tag) {
			continue
		}
		tags = append(tags, tag)
	}
	return tags
}
