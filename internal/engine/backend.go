package engine

import "sync"

// SharedBackend refcounts a Backend across engines. The wrapped Init runs for
// the first acquirer only and Free runs when the last one releases.
type SharedBackend struct {
	mu   sync.Mutex
	b    Backend
	refs int
}

// Shared wraps b. A nil b behaves like NopBackend.
func Shared(b Backend) *SharedBackend {
	if b == nil {
		b = NopBackend{}
	}
	return &SharedBackend{b: b}
}

// Init acquires a reference. A failed first Init leaves the count at zero.
func (s *SharedBackend) Init(p Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == 0 {
		if err := s.b.Init(p); err != nil {
			return err
		}
	}
	s.refs++
	return nil
}

// Free releases a reference. Extra calls are ignored.
func (s *SharedBackend) Free() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == 0 {
		return
	}
	s.refs--
	if s.refs == 0 {
		s.b.Free()
	}
}

// Refs returns the number of live references.
func (s *SharedBackend) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}
