package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mooner92/onvoice/pkg/types"
)

func TestStoreLifecycle(t *testing.T) {
	t.Run("start is idempotent and resets state", func(t *testing.T) {
		s := New()
		if reset := s.Start("s1", "en", []string{"ko"}); reset {
			t.Error("first Start reported reset")
		}

		_ = s.Update("s1", func(w *Working) error {
			w.Append("hello there", Hash("hello there"))
			return nil
		})

		if reset := s.Start("s1", "en", []string{"ko"}); !reset {
			t.Error("second Start did not report reset")
		}
		_ = s.Update("s1", func(w *Working) error {
			if w.FullTranscript() != "" {
				t.Errorf("transcript survived reset: %q", w.FullTranscript())
			}
			if w.SegmentCount() != 0 {
				t.Errorf("segment count survived reset: %d", w.SegmentCount())
			}
			return nil
		})
	})

	t.Run("update on unknown session reports not found", func(t *testing.T) {
		s := New()
		err := s.Update("ghost", func(*Working) error { return nil })
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("end returns stats and double end reports not found", func(t *testing.T) {
		s := New()
		s.Start("s1", "en", nil)
		_ = s.Update("s1", func(w *Working) error {
			w.Append("first part", Hash("first part"))
			w.Append("second part", Hash("second part"))
			return nil
		})

		stats, err := s.End("s1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stats.SegmentCount != 2 {
			t.Errorf("SegmentCount = %d, want 2", stats.SegmentCount)
		}
		if stats.HashSetSize != 2 {
			t.Errorf("HashSetSize = %d, want 2", stats.HashSetSize)
		}
		if stats.TranscriptLength != len("first part second part") {
			t.Errorf("TranscriptLength = %d, want %d", stats.TranscriptLength, len("first part second part"))
		}

		if _, err := s.End("s1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("double End err = %v, want ErrNotFound", err)
		}
		if err := s.Update("s1", func(*Working) error { return nil }); !errors.Is(err, ErrNotFound) {
			t.Errorf("Update after End err = %v, want ErrNotFound", err)
		}
	})
}

func TestWorkingCaps(t *testing.T) {
	t.Run("recent window is capped", func(t *testing.T) {
		s := New()
		s.Start("s1", "en", nil)
		_ = s.Update("s1", func(w *Working) error {
			for i := 0; i < maxRecentSegments+20; i++ {
				text := fmt.Sprintf("segment number %d", i)
				w.Append(text, Hash(text))
			}
			if got := len(w.Recent(maxRecentSegments+20, 0)); got != maxRecentSegments {
				t.Errorf("recent window = %d entries, want %d", got, maxRecentSegments)
			}
			last, ok := w.LastSegment()
			if !ok || last.Text != fmt.Sprintf("segment number %d", maxRecentSegments+19) {
				t.Errorf("last segment = %q", last.Text)
			}
			return nil
		})
	})

	t.Run("seen hashes evict FIFO beyond the cap", func(t *testing.T) {
		s := New()
		s.Start("s1", "en", nil)
		_ = s.Update("s1", func(w *Working) error {
			first := Hash("segment number 0")
			for i := 0; i < maxSeenHashes+1; i++ {
				text := fmt.Sprintf("segment number %d", i)
				w.Append(text, Hash(text))
			}
			if w.SeenHash(first) {
				t.Error("oldest hash should have been evicted")
			}
			if !w.SeenHash(Hash("segment number 1")) {
				t.Error("second hash should still be present")
			}
			return nil
		})
	})

	t.Run("recent honours the age filter", func(t *testing.T) {
		now := time.Now()
		clock := func() time.Time { return now }
		s := New(WithClock(clock))
		s.Start("s1", "en", nil)

		_ = s.Update("s1", func(w *Working) error {
			w.Append("old text", Hash("old text"))
			return nil
		})
		now = now.Add(30 * time.Second)
		_ = s.Update("s1", func(w *Working) error {
			w.Append("new text", Hash("new text"))
			return nil
		})

		_ = s.Update("s1", func(w *Working) error {
			recent := w.Recent(10, 10*time.Second)
			if len(recent) != 1 || recent[0].Text != "new text" {
				t.Errorf("age-filtered recent = %+v, want only the new text", recent)
			}
			if got := len(w.Recent(10, 0)); got != 2 {
				t.Errorf("unfiltered recent = %d entries, want 2", got)
			}
			return nil
		})
	})
}

func TestStoreConcurrency(t *testing.T) {
	t.Run("appends are serialised per session", func(t *testing.T) {
		s := New()
		s.Start("s1", "en", nil)

		const goroutines = 16
		var wg sync.WaitGroup
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				text := fmt.Sprintf("chunk-%02d", n)
				_ = s.Update("s1", func(w *Working) error {
					w.Append(text, Hash(text))
					return nil
				})
			}(i)
		}
		wg.Wait()

		_ = s.Update("s1", func(w *Working) error {
			if w.SegmentCount() != goroutines {
				t.Errorf("SegmentCount = %d, want %d", w.SegmentCount(), goroutines)
			}
			// Each append is atomic: the transcript must split cleanly into
			// whole chunk tokens, never interleaved mid-string.
			if got := len(w.FullTranscript()); got != goroutines*8+goroutines-1 {
				t.Errorf("transcript length = %d, want %d", got, goroutines*8+goroutines-1)
			}
			return nil
		})
	})
}

func TestReaper(t *testing.T) {
	t.Run("evicts idle sessions", func(t *testing.T) {
		now := time.Now()
		var mu sync.Mutex
		clock := func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}

		s := New(WithIdleTimeout(40*time.Millisecond), WithClock(clock))
		defer s.Close()
		s.Start("idle", "en", nil)
		s.StartReaper(context.Background())

		mu.Lock()
		now = now.Add(time.Minute)
		mu.Unlock()

		deadline := time.After(2 * time.Second)
		for s.Len() > 0 {
			select {
			case <-deadline:
				t.Fatal("idle session was not reaped")
			case <-time.After(5 * time.Millisecond):
			}
		}
	})

	t.Run("notifies the reap hook", func(t *testing.T) {
		now := time.Now()
		var mu sync.Mutex
		clock := func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}

		s := New(WithIdleTimeout(40*time.Millisecond), WithClock(clock))
		defer s.Close()
		s.Start("idle", "en", nil)
		_ = s.Update("idle", func(w *Working) error {
			w.Append("last words", Hash("last words"))
			return nil
		})

		reaped := make(chan string, 1)
		s.OnReap(func(sessionID string, stats types.SessionStats) {
			if stats.SegmentCount != 1 {
				t.Errorf("hook stats.SegmentCount = %d, want 1", stats.SegmentCount)
			}
			reaped <- sessionID
		})
		s.StartReaper(context.Background())

		mu.Lock()
		now = now.Add(time.Minute)
		mu.Unlock()

		select {
		case id := <-reaped:
			if id != "idle" {
				t.Errorf("hook session ID = %q, want %q", id, "idle")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("reap hook was not called")
		}
	})
}
