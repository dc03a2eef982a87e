package index

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/LipPkg/LipIndex/pkg/core"
	"github.com/LipPkg/LipIndex/pkg/query"
)

// Sort keys accepted by Search.
const (
	SortHotness = "hotness"
	SortUpdated = "updated"
)

// Sort orders accepted by Search.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// SearchOptions selects, orders and paginates a search.
type SearchOptions struct {
	// Predicate filters packages; nil means match everything.
	Predicate query.Predicate

	// Page is 1-based. Values below 1 fall back to 1.
	Page int

	// PerPage is clamped to [1, MaxPerPage]; 0 means DefaultPerPage.
	PerPage int

	// Sort is SortHotness (default) or SortUpdated.
	Sort string

	// Order is OrderDesc (default) or OrderAsc.
	Order string
}

// SearchResult is one page of matches plus pagination totals.
type SearchResult struct {
	Packages   []*core.Package
	TotalCount int
	TotalPages int
	Page       int
	PerPage    int
}

// ValidSort reports whether s names a supported sort key.
func ValidSort(s string) bool {
	return s == SortHotness || s == SortUpdated
}

// ValidOrder reports whether s names a supported sort order.
func ValidOrder(s string) bool {
	return s == OrderAsc || s == OrderDesc
}

// Search runs a compiled predicate against the index and returns the
// requested page. Pages beyond the last return an empty page together
// with the real totals. Results are ordered by the sort key with the
// identifier as a deterministic tie break, so paginating a stable index
// never skips or repeats records.
func (ix *Index) Search(opts SearchOptions) (*SearchResult, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	sortKey := opts.Sort
	if sortKey == "" {
		sortKey = SortHotness
	}
	if !ValidSort(sortKey) {
		return nil, fmt.Errorf("unsupported sort key %q", sortKey)
	}
	order := opts.Order
	if order == "" {
		order = OrderDesc
	}
	if !ValidOrder(order) {
		return nil, fmt.Errorf("unsupported sort order %q", order)
	}

	pred := opts.Predicate
	if pred == nil {
		pred = query.MatchAll{}
	}
	where, args, err := compilePredicate(pred)
	if err != nil {
		return nil, err
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM packages WHERE " + where
	if err := ix.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting matches: %w", err)
	}

	result := &SearchResult{
		Packages:   []*core.Package{},
		TotalCount: total,
		TotalPages: (total + perPage - 1) / perPage,
		Page:       page,
		PerPage:    perPage,
	}
	if total == 0 {
		return result, nil
	}

	// sortKey and order are validated against the constant sets above,
	// never interpolated from raw input.
	direction := "DESC"
	if order == OrderAsc {
		direction = "ASC"
	}
	pageQuery := fmt.Sprintf(`
		SELECT data FROM packages
		WHERE %s
		ORDER BY %s %s, identifier ASC
		LIMIT ? OFFSET ?
	`, where, sortKey, direction)
	pageArgs := append(append([]interface{}{}, args...), perPage, (page-1)*perPage)

	rows, err := ix.db.Query(pageQuery, pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("querying packages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		var pkg core.Package
		if err := json.Unmarshal([]byte(data), &pkg); err != nil {
			return nil, fmt.Errorf("unmarshaling package: %w", err)
		}
		result.Packages = append(result.Packages, &pkg)
	}
	return result, rows.Err()
}

// compilePredicate translates a predicate tree into a parameterized SQL
// condition over the packages table. The translation mirrors the in-memory
// Match semantics: text terms probe name, description, author and each tag
// by substring; tag terms require exact membership in the tag set.
func compilePredicate(pred query.Predicate) (string, []interface{}, error) {
	switch p := pred.(type) {
	case query.MatchAll:
		return "1=1", nil, nil

	case query.And:
		return compileGroup(p.Children, " AND ")

	case query.Or:
		if len(p.Children) == 0 {
			// An empty disjunction matches nothing.
			return "1=0", nil, nil
		}
		return compileGroup(p.Children, " OR ")

	case query.TextTerm:
		term := strings.ToLower(p.Term)
		// Tags are stored lowercase; the json_each probe checks each tag
		// individually so a substring never spans two tags.
		cond := `(instr(lower(name), ?) > 0
			OR instr(lower(description), ?) > 0
			OR instr(lower(author), ?) > 0
			OR EXISTS (SELECT 1 FROM json_each(packages.data, '$.tags') WHERE instr(json_each.value, ?) > 0))`
		return cond, []interface{}{term, term, term, term}, nil

	case query.TagTerm:
		cond := `EXISTS (SELECT 1 FROM json_each(packages.data, '$.tags') WHERE json_each.value = ?)`
		return cond, []interface{}{strings.ToLower(p.Tag)}, nil

	default:
		return "", nil, fmt.Errorf("unsupported predicate type %T", pred)
	}
}

func compileGroup(children []query.Predicate, sep string) (string, []interface{}, error) {
	if len(children) == 0 {
		return "1=1", nil, nil
	}
	conds := make([]string, 0, len(children))
	var args []interface{}
	for _, child := range children {
		cond, childArgs, err := compilePredicate(child)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, "("+cond+")")
		args = append(args, childArgs...)
	}
	return strings.Join(conds, sep), args, nil
}
