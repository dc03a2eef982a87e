package query

import (
	"strings"
	"testing"

	"github.com/LipPkg/LipIndex/pkg/core"
)

func TestTextTermSubstringFields(t *testing.T) {
	pkg := &core.Package{
		Name:        "FloraCraft",
		Description: "Adds decorative plants",
		Author:      "GreenThumb",
		Tags:        []string{"platform:levilamina", "decoration"},
	}

	hits := []string{"flora", "CRAFT", "plants", "thumb", "decor", "levi"}
	for _, term := range hits {
		if !(TextTerm{Term: strings.ToLower(term)}).Match(pkg) {
			t.Errorf("TextTerm(%q) should match", term)
		}
	}

	if (TextTerm{Term: "redstone"}).Match(pkg) {
		t.Error("TextTerm(redstone) should not match")
	}
}

func TestTagTermExactOnly(t *testing.T) {
	pkg := &core.Package{
		Name: "FloraCraft",
		Tags: []string{"platform:levilamina", "type:mod"},
	}

	if !(TagTerm{Tag: "type:mod"}).Match(pkg) {
		t.Error("TagTerm(type:mod) should match exact tag")
	}
	// Tag terms never match by substring or field content.
	if (TagTerm{Tag: "type:mo"}).Match(pkg) {
		t.Error("TagTerm(type:mo) must not match by prefix")
	}
	if (TagTerm{Tag: "flora:craft"}).Match(pkg) {
		t.Error("TagTerm must only consult the tag set")
	}
}

func TestAndOrComposition(t *testing.T) {
	pkg := &core.Package{Name: "FloraCraft", Tags: []string{"type:mod"}}

	yes := TextTerm{Term: "flora"}
	no := TextTerm{Term: "missing"}

	if !(And{Children: []Predicate{yes, TagTerm{Tag: "type:mod"}}}).Match(pkg) {
		t.Error("And with all matching children should match")
	}
	if (And{Children: []Predicate{yes, no}}).Match(pkg) {
		t.Error("And with one failing child should not match")
	}
	if !(Or{Children: []Predicate{no, yes}}).Match(pkg) {
		t.Error("Or with one matching child should match")
	}
	if (Or{Children: []Predicate{no, no}}).Match(pkg) {
		t.Error("Or with no matching children should not match")
	}
	if !(MatchAll{}).Match(pkg) {
		t.Error("MatchAll should match anything")
	}
	if !(And{}).Match(pkg) {
		t.Error("empty And matches vacuously")
	}
	if (Or{}).Match(pkg) {
		t.Error("empty Or matches nothing")
	}
}
