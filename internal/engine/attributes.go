package engine

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// normalize folds case and composes Unicode so "Ålidhem" typed on two
// different keyboards compares equal. A Caser is stateful, so each call gets
// its own.
func normalize(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

// MissingAttribute returns the first required key (in sorted order) that the
// youth's attributes do not satisfy. Keys and values are compared after
// normalization. ok is true when every requirement is met.
func MissingAttribute(have, required map[string]string) (key string, ok bool) {
	if len(required) == 0 {
		return "", true
	}
	normalized := make(map[string]string, len(have))
	for k, v := range have {
		normalized[normalize(k)] = normalize(v)
	}

	keys := make([]string, 0, len(required))
	for k := range required {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		want := normalize(required[k])
		if want == "" {
			continue
		}
		got, present := normalized[normalize(k)]
		if !present || got != want {
			return k, false
		}
	}
	return "", true
}
