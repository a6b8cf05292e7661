// Package mock provides an in-memory test double for the store package
// interfaces. It records calls for assertion and honours the same
// first-writer-wins semantics as the postgres implementation, so the cache
// convergence tests exercise realistic behaviour.
package mock

import (
	"context"
	"sync"

	"github.com/mooner92/onvoice/pkg/store"
	"github.com/mooner92/onvoice/pkg/types"
)

// Store is an in-memory implementation of store.Store.
//
// The zero value is ready to use. Set the Err fields to inject storage
// failures. All methods are safe for concurrent use.
type Store struct {
	mu sync.Mutex

	// AppendErr, LookupErr, and InsertErr are returned by the matching
	// methods when non-nil.
	AppendErr error
	LookupErr error
	InsertErr error

	segments     map[string][]types.TranscriptSegment
	translations map[store.TranslationKey]store.TranslationEntry
	calls        map[string]int
}

var _ store.Store = (*Store)(nil)

// AppendSegment implements store.SegmentStore.
func (s *Store) AppendSegment(_ context.Context, seg types.TranscriptSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("AppendSegment")

	if s.AppendErr != nil {
		return s.AppendErr
	}
	if s.segments == nil {
		s.segments = make(map[string][]types.TranscriptSegment)
	}
	s.segments[seg.SessionID] = append(s.segments[seg.SessionID], seg)
	return nil
}

// SessionSegments implements store.SegmentStore.
func (s *Store) SessionSegments(_ context.Context, sessionID string) ([]types.TranscriptSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("SessionSegments")

	out := make([]types.TranscriptSegment, len(s.segments[sessionID]))
	copy(out, s.segments[sessionID])
	return out, nil
}

// LookupTranslation implements store.TranslationStore.
func (s *Store) LookupTranslation(_ context.Context, key store.TranslationKey) (store.TranslationEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("LookupTranslation")

	if s.LookupErr != nil {
		return store.TranslationEntry{}, false, s.LookupErr
	}
	entry, ok := s.translations[key]
	return entry, ok, nil
}

// InsertTranslation implements store.TranslationStore. The first insert for
// a key wins; later inserts are dropped without error, matching the postgres
// ON CONFLICT DO NOTHING behaviour.
func (s *Store) InsertTranslation(_ context.Context, entry store.TranslationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("InsertTranslation")

	if s.InsertErr != nil {
		return s.InsertErr
	}
	if s.translations == nil {
		s.translations = make(map[store.TranslationKey]store.TranslationEntry)
	}
	if _, exists := s.translations[entry.Key]; !exists {
		s.translations[entry.Key] = entry
	}
	return nil
}

// CallCount returns how many times the named method was invoked.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// TranslationCount returns the number of distinct cached translation rows.
func (s *Store) TranslationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.translations)
}

// SegmentCount returns the number of persisted segments for a session.
func (s *Store) SegmentCount(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.segments[sessionID])
}

// Reset clears recorded calls but keeps stored data.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// record bumps the counter for method. Must be called with s.mu held.
func (s *Store) record(method string) {
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[method]++
}
