package endstone

import (
	"testing"
)

const testPyproject = `
[build-system]
requires = ["scikit-build-core>=0.5"]
build-backend = "scikit_build_core.build"

[project]
name = "endstone-shop"
description = "An in-game shop plugin"
keywords = ["endstone", "Plugin", "Bedrock Edition", "economy"]
dependencies = [
    "endstone>=0.5,<0.6",
    "requests>=2.0",
]

[[project.authors]]
name = "Alice Example"
email = "alice@example.com"

[tool.pytest.ini_options]
addopts = "-ra"
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(testPyproject))
	if err != nil {
		t.Fatalf("ParseManifest() error: %v", err)
	}

	if m.Name != "endstone-shop" {
		t.Errorf("Name = %q", m.Name)
	}
	if m.Description != "An in-game shop plugin" {
		t.Errorf("Description = %q", m.Description)
	}
	if m.Author != "Alice Example" {
		t.Errorf("Author = %q, want the first project author", m.Author)
	}
	if got := m.PlatformRequirement(); got != ">=0.5,<0.6" {
		t.Errorf("PlatformRequirement() = %q", got)
	}

	tags := m.CanonicalTags()
	want := []string{"endstone", "plugin", "economy"}
	if len(tags) != len(want) {
		t.Fatalf("CanonicalTags() = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("CanonicalTags()[%d] = %q, want %q", i, tags[i], want[i])
		}
	}
}

func TestParseManifestRejectsIncomplete(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"no project table", "[build-system]\nrequires = []\n"},
		{"missing name", "[project]\ndescription = \"nameless\"\n"},
		{"invalid toml", "[project\nname = \"broken\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseManifest([]byte(tc.data)); err == nil {
				t.Error("ParseManifest() accepted an incomplete pyproject.toml")
			}
		})
	}
}

func TestRequirementFor(t *testing.T) {
	cases := []struct {
		name  string
		lines []string
		want  string
	}{
		{
			name:  "plain",
			lines: []string{"requests>=2.0", "endstone>=0.5,<0.6"},
			want:  ">=0.5,<0.6",
		},
		{
			name:  "normalized and with extras",
			lines: []string{"Endstone[full] >= 0.5 ; python_version >= '3.10'"},
			want:  ">=0.5",
		},
		{
			name:  "no pin",
			lines: []string{"endstone"},
			want:  "",
		},
		{
			name:  "absent",
			lines: []string{"requests>=2.0", "numpy"},
			want:  "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RequirementFor(tc.lines, PlatformPackage); got != tc.want {
				t.Errorf("RequirementFor() = %q, want %q", got, tc.want)
			}
		})
	}
}
