package query

import (
	"regexp"
	"strings"
)

// tagTermRe matches a tag-qualified word after lowercasing, e.g.
// "platform:levilamina" or "type:mod".
var tagTermRe = regexp.MustCompile(`^[a-z0-9-]+:[a-z0-9-]+$`)

// Parse turns a raw query string into a predicate tree.
//
// Rules, in order:
//   - the trimmed query must be longer than one character, otherwise the
//     result matches everything (single characters generate noise, not
//     selectivity)
//   - "*" acts as a word separator and is replaced by whitespace
//   - words prefixed with "+" are required, the rest are optional
//   - a word shaped like "key:value" (lowercase letters, digits and
//     dashes on both sides) matches a tag exactly; any other word matches
//     name, description, author or tags by case-insensitive substring
//
// The final predicate requires all required words and, when any optional
// words exist, at least one of them.
func Parse(q string) Predicate {
	trimmed := strings.TrimSpace(q)
	if len(trimmed) <= 1 {
		return MatchAll{}
	}

	trimmed = strings.ReplaceAll(trimmed, "*", " ")

	var required []Predicate
	var optional []Predicate
	for _, word := range strings.Fields(trimmed) {
		isRequired := false
		if strings.HasPrefix(word, "+") {
			isRequired = true
			word = strings.TrimPrefix(word, "+")
		}
		if word == "" {
			continue
		}

		term := termPredicate(word)
		if isRequired {
			required = append(required, term)
		} else {
			optional = append(optional, term)
		}
	}

	switch {
	case len(required) == 0 && len(optional) == 0:
		return MatchAll{}
	case len(optional) == 0:
		return And{Children: required}
	case len(required) == 0:
		return Or{Children: optional}
	default:
		return And{Children: append(required, Or{Children: optional})}
	}
}

// termPredicate classifies a single word as a tag term or a text term.
func termPredicate(word string) Predicate {
	lower := strings.ToLower(word)
	if tagTermRe.MatchString(lower) {
		return TagTerm{Tag: lower}
	}
	return TextTerm{Term: lower}
}
