package profile

import (
	"sync/atomic"
)

// Store holds the active profile snapshot. Current never blocks and always
// returns a complete profile, either the old one or the new one.
type Store struct {
	current  atomic.Pointer[Profile]
	degraded atomic.Bool
}

// NewStore installs initial, falling back to Default when initial is nil or invalid.
func NewStore(initial *Profile) *Store {
	s := &Store{}
	if initial == nil || initial.Validate() != nil {
		s.current.Store(Default())
		s.degraded.Store(true)
		return s
	}
	s.current.Store(initial)
	return s
}

func (s *Store) Current() *Profile {
	return s.current.Load()
}

// Swap validates p and installs it. On error the current snapshot is kept.
func (s *Store) Swap(p *Profile) (*Profile, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	old := s.current.Swap(p)
	s.degraded.Store(false)
	return old, nil
}

// Degraded reports whether the built-in default is in use because no profile could be loaded.
func (s *Store) Degraded() bool {
	return s.degraded.Load()
}
