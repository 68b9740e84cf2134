package detector

import (
	"sync"
	"time"
)

// suppressor drops repeats of the same fingerprint seen within a window.
type suppressor struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func newSuppressor(window time.Duration, now func() time.Time) *suppressor {
	return &suppressor{
		window: window,
		now:    now,
		seen:   make(map[string]time.Time),
	}
}

// suppress reports whether fp was recorded less than window ago. If not, fp
// is recorded now.
func (s *suppressor) suppress(fp string) bool {
	if s.window <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if last, ok := s.seen[fp]; ok && now.Sub(last) < s.window {
		return true
	}
	s.seen[fp] = now
	return false
}

// sweep forgets expired fingerprints.
func (s *suppressor) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for fp, ts := range s.seen {
		if now.Sub(ts) >= s.window {
			delete(s.seen, fp)
		}
	}
}

func (s *suppressor) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
