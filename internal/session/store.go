// Package session holds the mutable per-session working state consulted and
// updated by the dedup pipeline: the accumulated transcript, the rolling
// window of recently accepted segments, and the seen-hash set.
//
// The [Store] is an explicit, constructor-injected registry with a
// Start/End lifecycle — no process-wide singletons. Each session carries its
// own lock so work on different sessions never contends; all reads and
// writes for one session are serialised through [Store.Update], which is
// what guarantees accepted segments land on the transcript in admission
// order.
package session

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mooner92/onvoice/pkg/types"
)

// ErrNotFound is returned for operations on an unknown or already-ended
// session. Callers surface it as a 404-equivalent; it is never fatal.
var ErrNotFound = errors.New("session: not found")

// Working-state caps. The recent window and hash set are deliberately small:
// they only need to cover the overlap horizon of the audio buffers, not the
// whole session.
const (
	maxRecentSegments = 50
	recentMaxAge      = 5 * time.Minute
	maxSeenHashes     = 200
)

// defaultIdleTimeout is how long a session may sit without traffic before
// the reaper evicts it.
const defaultIdleTimeout = 10 * time.Minute

// Segment is one accepted segment in the rolling recent window.
type Segment struct {
	// Text is the cleaned accepted text.
	Text string

	// NormalizedHash is the FNV-1a hash of the dedup-normalised text.
	NormalizedHash uint64

	// AcceptedAt is when the segment was accepted.
	AcceptedAt time.Time
}

// Working is the per-session working state. It is only ever touched inside
// a [Store.Update] callback, which holds the session's lock; Working itself
// performs no locking.
type Working struct {
	primaryLanguage string
	targetLanguages []string

	transcript strings.Builder
	recent     []Segment
	seen       map[uint64]struct{}
	seenOrder  []uint64

	segmentCount int
	lastActivity time.Time
	now          func() time.Time
}

// PrimaryLanguage returns the session's primary spoken language.
func (w *Working) PrimaryLanguage() string { return w.primaryLanguage }

// TargetLanguages returns the session's translation targets.
func (w *Working) TargetLanguages() []string { return w.targetLanguages }

// FullTranscript returns the ordered concatenation of all accepted texts.
func (w *Working) FullTranscript() string { return w.transcript.String() }

// SegmentCount returns the number of accepted segments.
func (w *Working) SegmentCount() int { return w.segmentCount }

// SeenHash reports whether h is in the session's seen-hash set.
func (w *Working) SeenHash(h uint64) bool {
	_, ok := w.seen[h]
	return ok
}

// LastSegment returns the most recently accepted segment, if any.
func (w *Working) LastSegment() (Segment, bool) {
	if len(w.recent) == 0 {
		return Segment{}, false
	}
	return w.recent[len(w.recent)-1], true
}

// Recent returns up to n recent segments no older than maxAge, newest last.
// maxAge <= 0 disables the age filter.
func (w *Working) Recent(n int, maxAge time.Duration) []Segment {
	if n <= 0 || len(w.recent) == 0 {
		return nil
	}
	start := len(w.recent) - n
	if start < 0 {
		start = 0
	}
	window := w.recent[start:]
	if maxAge <= 0 {
		return window
	}
	cutoff := w.now().Add(-maxAge)
	for i, seg := range window {
		if seg.AcceptedAt.After(cutoff) {
			return window[i:]
		}
	}
	return nil
}

// Append records an accepted segment: the text is appended to the full
// transcript, pushed onto the recent window, and its hash added to the
// seen set, evicting per the documented caps.
func (w *Working) Append(text string, normalizedHash uint64) {
	now := w.now()

	if w.transcript.Len() > 0 {
		w.transcript.WriteByte(' ')
	}
	w.transcript.WriteString(text)
	w.segmentCount++

	w.recent = append(w.recent, Segment{
		Text:           text,
		NormalizedHash: normalizedHash,
		AcceptedAt:     now,
	})
	w.pruneRecent(now)

	if _, dup := w.seen[normalizedHash]; !dup {
		w.seen[normalizedHash] = struct{}{}
		w.seenOrder = append(w.seenOrder, normalizedHash)
		for len(w.seenOrder) > maxSeenHashes {
			oldest := w.seenOrder[0]
			w.seenOrder = w.seenOrder[1:]
			delete(w.seen, oldest)
		}
	}
}

// pruneRecent drops entries beyond the count cap or older than recentMaxAge.
func (w *Working) pruneRecent(now time.Time) {
	if n := len(w.recent) - maxRecentSegments; n > 0 {
		w.recent = append(w.recent[:0:0], w.recent[n:]...)
	}
	cutoff := now.Add(-recentMaxAge)
	i := 0
	for i < len(w.recent) && !w.recent[i].AcceptedAt.After(cutoff) {
		i++
	}
	if i > 0 {
		w.recent = append(w.recent[:0:0], w.recent[i:]...)
	}
}

// Hash returns the FNV-1a hash of s. Dedup needs a stable, well-distributed
// string hash, not a cryptographic one.
func Hash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// entry pairs a Working with its serialisation lock.
type entry struct {
	mu sync.Mutex
	w  *Working
}

// Store is the thread-safe registry of per-session working state.
type Store struct {
	idleTimeout time.Duration
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry

	onReap func(sessionID string, stats types.SessionStats)

	done     chan struct{}
	stopOnce sync.Once
}

// Option is a functional option for [New].
type Option func(*Store)

// WithIdleTimeout sets how long a session may be idle before the reaper
// evicts it. Default: 10 minutes.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty session registry.
func New(opts ...Option) *Store {
	s := &Store{
		idleTimeout: defaultIdleTimeout,
		now:         time.Now,
		sessions:    make(map[string]*entry),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start creates the working state for sessionID, or resets it if one
// already exists. It reports whether an existing session was reset.
func (s *Store) Start(sessionID, primaryLanguage string, targetLanguages []string) (reset bool) {
	targets := make([]string, len(targetLanguages))
	copy(targets, targetLanguages)

	w := &Working{
		primaryLanguage: primaryLanguage,
		targetLanguages: targets,
		seen:            make(map[uint64]struct{}),
		lastActivity:    s.now(),
		now:             s.now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.sessions[sessionID]
	if exists {
		e.mu.Lock()
		e.w = w
		e.mu.Unlock()
		return true
	}
	s.sessions[sessionID] = &entry{w: w}
	return false
}

// Update runs fn with the session's lock held. Everything fn does — reading
// the recent window, hash checks, appending — is atomic with respect to
// other Update calls for the same session. Sessions other than sessionID
// are unaffected and never block.
//
// Returns [ErrNotFound] when the session does not exist or has ended.
func (s *Store) Update(sessionID string, fn func(w *Working) error) error {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// The entry may have been ended between the map read and the lock
	// acquisition; treat it as gone so late results are dropped.
	if e.w == nil {
		return ErrNotFound
	}
	e.w.lastActivity = s.now()
	return fn(e.w)
}

// End removes the working state for sessionID and returns its final
// statistics. A second End for the same ID reports [ErrNotFound].
func (s *Store) End(sessionID string) (types.SessionStats, error) {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return types.SessionStats{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.w == nil {
		return types.SessionStats{}, ErrNotFound
	}

	stats := types.SessionStats{
		SegmentCount:     e.w.segmentCount,
		HashSetSize:      len(e.w.seen),
		TranscriptLength: e.w.transcript.Len(),
	}
	// Mark ended so an Update that already holds the entry pointer sees
	// the session as gone rather than appending to dead state.
	e.w = nil
	return stats, nil
}

// Len returns the number of active sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// OnReap registers fn to be called for every session the reaper evicts, so
// owners of per-session state keyed by ID (audio buffers, counters) can
// release it. Must be called before [Store.StartReaper].
func (s *Store) OnReap(fn func(sessionID string, stats types.SessionStats)) {
	s.onReap = fn
}

// StartReaper launches the idle-session reaper in a background goroutine.
// The goroutine runs until [Store.Close] is called or ctx is cancelled.
func (s *Store) StartReaper(ctx context.Context) {
	go s.reapLoop(ctx)
}

// Close halts the reaper. Safe to call multiple times.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// reapLoop periodically evicts sessions idle beyond the timeout so
// abandoned sessions do not leak memory.
func (s *Store) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(s.idleTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			for _, id := range s.idleSessions() {
				stats, err := s.End(id)
				if err != nil {
					continue
				}
				if s.onReap != nil {
					s.onReap(id, stats)
				}
				slog.Info("reaped idle session",
					"session_id", id,
					"segments", stats.SegmentCount,
					"transcript_bytes", stats.TranscriptLength,
				)
			}
		}
	}
}

// idleSessions returns the IDs of sessions whose last activity is older
// than the idle timeout.
func (s *Store) idleSessions() []string {
	cutoff := s.now().Add(-s.idleTimeout)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var idle []string
	for id, e := range s.sessions {
		e.mu.Lock()
		if e.w != nil && e.w.lastActivity.Before(cutoff) {
			idle = append(idle, id)
		}
		e.mu.Unlock()
	}
	return idle
}
