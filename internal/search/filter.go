// Package search finds questions by text: a plain substring filter over an
// in-memory snapshot, and an optional Meilisearch index for ranked results.
package search

import (
	"strings"

	"github.com/sakif/qanda/internal/model"
)

// Filter returns the questions whose text contains term, ignoring case, in
// their original order.
//
// An empty (or all-space) term returns every question. A question without
// text never matches a non-empty term.
//
// Narrowing holds: if term2 contains term1, Filter(qs, term2) is a subset of
// Filter(qs, term1).
func Filter(questions []model.Question, term string) []model.Question {
	needle := strings.ToLower(strings.TrimSpace(term))
	out := make([]model.Question, 0, len(questions))
	for _, q := range questions {
		if needle == "" || matches(q, needle) {
			out = append(out, q)
		}
	}
	return out
}

func matches(q model.Question, needle string) bool {
	if q.Text == nil {
		return false
	}
	return strings.Contains(strings.ToLower(*q.Text), needle)
}
