// Package matcher maintains the set of cross-venue market pairs that are
// judged to resolve identically.
package matcher

import (
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Matcher is a thread-safe registry of MatchedPairs with an injected
// equivalence predicate used by Match.
type Matcher struct {
	predicate     Predicate
	minConfidence float64

	mu       sync.RWMutex
	pairs    map[string]domain.MatchedPair
	byMarket map[domain.MarketRef]map[string]struct{}
}

// New creates a Matcher. Candidate matches scoring below minConfidence are
// ignored by Match.
func New(predicate Predicate, minConfidence float64) *Matcher {
	return &Matcher{
		predicate:     predicate,
		minConfidence: minConfidence,
		pairs:         make(map[string]domain.MatchedPair),
		byMarket:      make(map[domain.MarketRef]map[string]struct{}),
	}
}

// Register adds or replaces a pair. Both sides must be on different venues.
func (m *Matcher) Register(p domain.MatchedPair) error {
	if p.A.Venue == p.B.Venue {
		return fmt.Errorf("matcher: pair %s: both markets on venue %s", p.Key(), p.A.Venue)
	}
	if p.A.MarketID == "" || p.B.MarketID == "" {
		return fmt.Errorf("matcher: pair %s: empty market id", p.Key())
	}

	key := p.Key()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs[key] = p
	for _, ref := range []domain.MarketRef{p.A, p.B} {
		set, ok := m.byMarket[ref]
		if !ok {
			set = make(map[string]struct{})
			m.byMarket[ref] = set
		}
		set[key] = struct{}{}
	}
	return nil
}

// Unregister removes a pair. Unknown pairs are ignored.
func (m *Matcher) Unregister(p domain.MatchedPair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(p.Key())
}

// RemoveMarket unregisters every pair touching ref and returns them. It is
// the delisting path: once it returns, Contains reports false for those
// pairs and any pending opportunity on them is discarded by the executor.
func (m *Matcher) RemoveMarket(ref domain.MarketRef) []domain.MatchedPair {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []domain.MatchedPair
	for key := range m.byMarket[ref] {
		removed = append(removed, m.pairs[key])
		m.removeLocked(key)
	}
	sortPairs(removed)
	return removed
}

func (m *Matcher) removeLocked(key string) {
	p, ok := m.pairs[key]
	if !ok {
		return
	}
	delete(m.pairs, key)
	for _, ref := range []domain.MarketRef{p.A, p.B} {
		if set, ok := m.byMarket[ref]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(m.byMarket, ref)
			}
		}
	}
}

// Contains reports whether p is currently registered.
func (m *Matcher) Contains(p domain.MatchedPair) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pairs[p.Key()]
	return ok
}

// Pairs returns a sequence over the pairs registered at call time, ordered
// by key. Registrations made while the sequence is being consumed are not
// visible to it, and the sequence can be ranged over more than once.
func (m *Matcher) Pairs() iter.Seq[domain.MatchedPair] {
	snapshot := m.List()
	return func(yield func(domain.MatchedPair) bool) {
		for _, p := range snapshot {
			if !yield(p) {
				return
			}
		}
	}
}

// List returns a sorted copy of all registered pairs.
func (m *Matcher) List() []domain.MatchedPair {
	m.mu.RLock()
	out := make([]domain.MatchedPair, 0, len(m.pairs))
	for _, p := range m.pairs {
		out = append(out, p)
	}
	m.mu.RUnlock()
	sortPairs(out)
	return out
}

// PairsFor returns the pairs that include ref.
func (m *Matcher) PairsFor(ref domain.MarketRef) []domain.MatchedPair {
	m.mu.RLock()
	out := make([]domain.MatchedPair, 0, len(m.byMarket[ref]))
	for key := range m.byMarket[ref] {
		out = append(out, m.pairs[key])
	}
	m.mu.RUnlock()
	sortPairs(out)
	return out
}

// Markets returns every market referenced by a registered pair.
func (m *Matcher) Markets() []domain.MarketRef {
	m.mu.RLock()
	out := make([]domain.MarketRef, 0, len(m.byMarket))
	for ref := range m.byMarket {
		out = append(out, ref)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Len returns the number of registered pairs.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pairs)
}

// Match proposes pairs between two venue catalogs using the predicate.
// Each listing in as is paired with at most one listing in bs, the one
// with the highest confidence, and each b is used at most once. Inactive
// listings are skipped. Match does not register anything.
func (m *Matcher) Match(as, bs []domain.Listing) []domain.MatchedPair {
	type candidate struct {
		a, b  int
		score float64
	}
	var cands []candidate
	for i, a := range as {
		if !a.Active {
			continue
		}
		for j, b := range bs {
			if !b.Active || a.Ref.Venue == b.Ref.Venue {
				continue
			}
			score, ok := m.predicate.Match(a, b)
			if !ok || score < m.minConfidence {
				continue
			}
			cands = append(cands, candidate{a: i, b: j, score: score})
		}
	}

	// Greedy assignment, best score first.
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	usedA := make(map[int]bool)
	usedB := make(map[int]bool)
	var out []domain.MatchedPair
	for _, c := range cands {
		if usedA[c.a] || usedB[c.b] {
			continue
		}
		usedA[c.a], usedB[c.b] = true, true
		out = append(out, domain.MatchedPair{
			A:          as[c.a].Ref,
			B:          bs[c.b].Ref,
			Confidence: c.score,
			Title:      as[c.a].Title,
		})
	}
	sortPairs(out)
	return out
}

func sortPairs(ps []domain.MatchedPair) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Key() < ps[j].Key() })
}
