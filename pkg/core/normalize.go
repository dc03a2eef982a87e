package core

import (
	"sort"
	"strings"
)

// NormalizeOptions tunes normalization. The zero value uses
// DefaultOriginPriority.
type NormalizeOptions struct {
	// OriginPriority is the version dedup order: when the same version
	// string is reported by several upstreams, the entry whose origin
	// appears earliest here wins. Unknown origins rank last.
	OriginPriority []VersionOrigin
}

func (o NormalizeOptions) priorityRank(origin VersionOrigin) int {
	prio := o.OriginPriority
	if len(prio) == 0 {
		prio = DefaultOriginPriority
	}
	for i, p := range prio {
		if p == origin {
			return i
		}
	}
	return len(prio)
}

// Normalize brings a freshly resolved package into canonical form:
//
//   - versions deduplicated by version string (configured origin priority,
//     then first-seen)
//   - versions sorted by release time, newest first
//   - Updated derived from the newest version
//   - tags trimmed, lowercased and deduplicated preserving first-seen order
//
// Normalize mutates and returns p. It is idempotent: normalizing an
// already-normalized package changes nothing. Packages with no versions
// pass through unchanged; callers are expected not to emit them.
func Normalize(p *Package, opts NormalizeOptions) *Package {
	if p == nil {
		return nil
	}

	p.Tags = canonicalTags(p.Tags)
	p.Versions = dedupVersions(p.Versions, opts)

	if len(p.Versions) == 0 {
		return p
	}

	// Stable sort so the priority-dedup outcome decides ties.
	sort.SliceStable(p.Versions, func(i, j int) bool {
		vi, vj := p.Versions[i], p.Versions[j]
		if !vi.ReleasedAt.Equal(vj.ReleasedAt) {
			return vi.ReleasedAt.After(vj.ReleasedAt)
		}
		return CompareVersions(vi.Version, vj.Version) > 0
	})

	for i := range p.Versions {
		p.Versions[i].ReleasedAt = p.Versions[i].ReleasedAt.UTC()
	}
	p.Updated = p.Versions[0].ReleasedAt

	return p
}

// dedupVersions keeps one entry per version string. The winner is the
// entry with the best origin priority; among equals the first seen wins.
func dedupVersions(versions []Version, opts NormalizeOptions) []Version {
	if len(versions) <= 1 {
		return versions
	}

	best := make(map[string]int, len(versions)) // version string -> index into out
	out := versions[:0]
	for _, v := range versions {
		idx, seen := best[v.Version]
		if !seen {
			best[v.Version] = len(out)
			out = append(out, v)
			continue
		}
		if opts.priorityRank(v.Source) < opts.priorityRank(out[idx].Source) {
			out[idx] = v
		}
	}
	return out
}

// canonicalTags trims, lowercases and deduplicates tags, preserving the
// order in which each tag was first contributed.
func canonicalTags(tags []string) []string {
	if len(tags) == 0 {
		return tags
	}
	seen := make(map[string]bool, len(tags))
	out := tags[:0]
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
