package ncm

import (
	"sync/atomic"
	"time"
)

// Snapshot is a published registry plus where it came from.
type Snapshot struct {
	Registry *Registry
	Source   string
	Checksum string
	LoadedAt time.Time
}

// Store holds the current snapshot. Writers build a complete registry first
// and then Publish it; readers call Current once per request and keep using
// that value.
type Store struct {
	current atomic.Pointer[Snapshot]
}

func NewStore() *Store {
	return &Store{}
}

// Publish replaces the current snapshot and returns the previous one.
func (s *Store) Publish(snap *Snapshot) *Snapshot {
	return s.current.Swap(snap)
}

// Current returns nil until something is published.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Registry returns the current registry or nil.
func (s *Store) Registry() *Registry {
	if snap := s.current.Load(); snap != nil {
		return snap.Registry
	}
	return nil
}
