// Package query turns free-text search input into a predicate tree that can
// be evaluated in memory against a package record or compiled to SQL by the
// index. The grammar is deliberately small: bare words match name,
// description, author or any tag by substring; "key:value" words match a
// tag exactly; a "+" prefix makes a word required.
package query

import (
	"strings"

	"github.com/LipPkg/LipIndex/pkg/core"
)

// Predicate is one node of a parsed query tree.
type Predicate interface {
	// Match evaluates the predicate against a single package in memory.
	// The index compiles predicates to SQL instead; Match is the
	// reference semantics and serves filtering outside the database.
	Match(pkg *core.Package) bool
}

// MatchAll accepts every package. Parse returns it for empty and
// single-character queries.
type MatchAll struct{}

func (MatchAll) Match(*core.Package) bool { return true }

// And requires every child predicate to match.
type And struct {
	Children []Predicate
}

func (a And) Match(pkg *core.Package) bool {
	for _, c := range a.Children {
		if !c.Match(pkg) {
			return false
		}
	}
	return true
}

// Or requires at least one child predicate to match.
type Or struct {
	Children []Predicate
}

func (o Or) Match(pkg *core.Package) bool {
	for _, c := range o.Children {
		if c.Match(pkg) {
			return true
		}
	}
	return false
}

// TextTerm matches a term case-insensitively as a substring of the package
// name, description, author or any tag. Term is stored lowercase.
type TextTerm struct {
	Term string
}

func (t TextTerm) Match(pkg *core.Package) bool {
	needle := t.Term
	if needle == "" {
		return true
	}
	if strings.Contains(strings.ToLower(pkg.Name), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(pkg.Description), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(pkg.Author), needle) {
		return true
	}
	for _, tag := range pkg.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// TagTerm matches a "key:value" tag by exact membership in the package tag
// set. Tag is stored lowercase in "key:value" form.
type TagTerm struct {
	Tag string
}

func (t TagTerm) Match(pkg *core.Package) bool {
	for _, tag := range pkg.Tags {
		if strings.ToLower(tag) == t.Tag {
			return true
		}
	}
	return false
}
