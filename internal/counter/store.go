package counter

import (
	"errors"
	"sort"
	"sync"

	"github.com/roach88/tally/internal/event"
)

// ErrUnregistered is returned by Apply when a counted record names a user
// that was never registered. The record has no effect.
var ErrUnregistered = errors.New("counted event for unregistered user")

// Entry is one row of a leaderboard snapshot.
type Entry struct {
	Name   string `json:"name"`
	Length int64  `json:"length"`
}

// Store maps users to counters.
//
// Thread-safety: all methods are safe for concurrent use. Writers are
// expected to be serialized per user by the caller so that log order and
// apply order agree.
type Store struct {
	mu      sync.RWMutex
	counts  map[string]int64
	order   []string // registration order, for stable ties
	counted map[event.Kind]struct{}
}

// New creates an empty store. Records whose kind is in counted increment the
// user's counter; with no kinds given, only increment is counted.
func New(counted ...event.Kind) *Store {
	if len(counted) == 0 {
		counted = []event.Kind{event.KindIncrement}
	}
	s := &Store{
		counts:  make(map[string]int64),
		counted: make(map[event.Kind]struct{}, len(counted)),
	}
	for _, k := range counted {
		if k.IsLifecycle() {
			continue
		}
		s.counted[k] = struct{}{}
	}
	return s
}

// Counts reports whether records of kind k increment a counter.
func (s *Store) Counts(k event.Kind) bool {
	_, ok := s.counted[k]
	return ok
}

// Apply folds one record into the store.
//
// register creates the counter at zero unless it already exists. A counted
// kind adds one, or returns ErrUnregistered without change when the user is
// unknown. Every other kind is ignored.
func (s *Store) Apply(rec event.Record) error {
	switch {
	case rec.Type == event.KindRegister:
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.counts[rec.User]; !ok {
			s.counts[rec.User] = 0
			s.order = append(s.order, rec.User)
		}
		return nil

	case s.Counts(rec.Type):
		s.mu.Lock()
		defer s.mu.Unlock()
		n, ok := s.counts[rec.User]
		if !ok {
			return ErrUnregistered
		}
		s.counts[rec.User] = n + 1
		return nil

	default:
		return nil
	}
}

// Has reports whether user is registered.
func (s *Store) Has(user string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.counts[user]
	return ok
}

// Count returns the user's counter and whether the user is registered.
func (s *Store) Count(user string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.counts[user]
	return n, ok
}

// Len returns the number of registered users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.counts)
}

// Snapshot returns a copy of every counter, ascending by count.
// Users with equal counts keep their registration order.
func (s *Store) Snapshot() []Entry {
	s.mu.RLock()
	entries := make([]Entry, 0, len(s.order))
	for _, user := range s.order {
		entries = append(entries, Entry{Name: user, Length: s.counts[user]})
	}
	s.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Length < entries[j].Length
	})
	return entries
}
