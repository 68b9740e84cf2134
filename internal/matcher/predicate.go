package matcher

import (
	"strings"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Predicate judges whether two listings resolve identically and how sure
// it is, in [0, 1].
type Predicate interface {
	Match(a, b domain.Listing) (confidence float64, ok bool)
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(a, b domain.Listing) (float64, bool)

func (f PredicateFunc) Match(a, b domain.Listing) (float64, bool) { return f(a, b) }

// ExplicitMap matches listings named in an operator-maintained map from
// venue-A market id to venue-B market id.
type ExplicitMap map[string]string

func (m ExplicitMap) Match(a, b domain.Listing) (float64, bool) {
	if want, ok := m[a.Ref.MarketID]; ok && want == b.Ref.MarketID {
		return 1, true
	}
	if want, ok := m[b.Ref.MarketID]; ok && want == a.Ref.MarketID {
		return 1, true
	}
	return 0, false
}

// KeywordPredicate scores titles by token Jaccard similarity after dropping
// stop words and short tokens. Listings with close times further apart
// than CloseTolerance never match.
type KeywordPredicate struct {
	MinShared      int
	MinScore       float64
	CloseTolerance time.Duration
}

func (k KeywordPredicate) Match(a, b domain.Listing) (float64, bool) {
	if k.CloseTolerance > 0 && !a.CloseTime.IsZero() && !b.CloseTime.IsZero() {
		d := a.CloseTime.Sub(b.CloseTime)
		if d < 0 {
			d = -d
		}
		if d > k.CloseTolerance {
			return 0, false
		}
	}

	ta, tb := tokenize(a.Title), tokenize(b.Title)
	if len(ta) == 0 || len(tb) == 0 {
		return 0, false
	}
	shared := 0
	for w := range ta {
		if tb[w] {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	score := float64(shared) / float64(union)
	if shared < k.MinShared || score < k.MinScore {
		return score, false
	}
	return score, true
}

// Chain returns the first matching predicate's verdict.
type Chain []Predicate

func (c Chain) Match(a, b domain.Listing) (float64, bool) {
	for _, p := range c {
		if score, ok := p.Match(a, b); ok {
			return score, true
		}
	}
	return 0, false
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "in": true, "to": true, "for": true, "is": true,
	"on": true, "at": true, "by": true, "be": true, "it": true,
	"will": true, "vs": true, "with": true, "this": true, "that": true,
	"who": true, "what": true, "before": true, "after": true,
}

func tokenize(title string) map[string]bool {
	tokens := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(title)) {
		word = strings.Trim(word, ".,!?;:\"'()-$%")
		if len(word) < 3 || stopWords[word] {
			continue
		}
		tokens[word] = true
	}
	return tokens
}
