package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mooner92/onvoice/internal/dedup"
	"github.com/mooner92/onvoice/internal/resilience"
	"github.com/mooner92/onvoice/internal/session"
	"github.com/mooner92/onvoice/internal/translate"
	"github.com/mooner92/onvoice/internal/vad"
	"github.com/mooner92/onvoice/pkg/provider/asr"
	asrmock "github.com/mooner92/onvoice/pkg/provider/asr/mock"
	mtmock "github.com/mooner92/onvoice/pkg/provider/mt/mock"
	storemock "github.com/mooner92/onvoice/pkg/store/mock"
	"github.com/mooner92/onvoice/pkg/types"
)

type fixture struct {
	pipeline *Pipeline
	sessions *session.Store
	asr      *asrmock.Provider
	mt       *mtmock.Provider
	store    *storemock.Store
}

// newFixture builds a pipeline over mocks. The segmenter cuts on a 1s cap
// so a single one-second chunk deterministically triggers recognition.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	sessions := session.New()
	asrMock := &asrmock.Provider{}
	mtMock := &mtmock.Provider{}
	st := &storemock.Store{}

	segmenter := vad.New(vad.Config{
		NewDetector:   func() vad.Detector { return vad.NewEnergyDetector(0) },
		MaxBuffer:     time.Second,
		FlushInterval: time.Hour,
		SilenceHold:   time.Hour,
		Overlap:       -1,
	})

	p, err := New(Config{
		Sessions:       sessions,
		Deduper:        dedup.New(),
		Segmenter:      segmenter,
		Translator:     translate.New(mtMock, st),
		Recognizer:     asrMock,
		Segments:       st,
		DefaultTargets: []string{"fr"},
		ASRRetry:       resilience.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{pipeline: p, sessions: sessions, asr: asrMock, mt: mtMock, store: st}
}

func oneSecondChunk() types.AudioChunk {
	return types.AudioChunk{Data: []byte{1, 2, 3, 4}, Duration: time.Second, CapturedAt: time.Now()}
}

func (f *fixture) transcript(t *testing.T, sessionID string) string {
	t.Helper()
	var out string
	if err := f.sessions.Update(sessionID, func(w *session.Working) error {
		out = w.FullTranscript()
		return nil
	}); err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	return out
}

func TestSubmitRecognizedText(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted text is persisted and fanned out", func(t *testing.T) {
		f := newFixture(t)
		f.pipeline.StartSession(ctx, "sess", "en", []string{"ko", "hi"})

		resp, err := f.pipeline.SubmitRecognizedText(ctx, "sess", "Hello everyone", false)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if !resp.Accepted || resp.CleanedText != "Hello everyone" {
			t.Fatalf("response = %+v", resp)
		}
		if len(resp.Translations) != 2 {
			t.Errorf("translations = %v, want ko and hi", resp.Translations)
		}
		if got := f.store.SegmentCount("sess"); got != 1 {
			t.Errorf("persisted segments = %d, want 1", got)
		}
	})

	t.Run("duplicate submission accepts exactly once", func(t *testing.T) {
		f := newFixture(t)
		f.pipeline.StartSession(ctx, "sess", "en", []string{"ko"})

		first, _ := f.pipeline.SubmitRecognizedText(ctx, "sess", "we begin now", false)
		second, _ := f.pipeline.SubmitRecognizedText(ctx, "sess", "we begin now", false)
		if !first.Accepted {
			t.Fatal("first submission should be accepted")
		}
		if second.Accepted {
			t.Fatal("second identical submission must be rejected")
		}
		if second.Reason != string(dedup.ReasonExactDuplicate) {
			t.Errorf("reason = %q", second.Reason)
		}
		if got := f.store.SegmentCount("sess"); got != 1 {
			t.Errorf("persisted segments = %d, want 1", got)
		}
	})

	t.Run("partial text bypasses dedup and persistence", func(t *testing.T) {
		f := newFixture(t)
		f.pipeline.StartSession(ctx, "sess", "en", []string{"ko"})

		for range 3 {
			resp, err := f.pipeline.SubmitRecognizedText(ctx, "sess", "typing in progress", true)
			if err != nil {
				t.Fatalf("partial submit: %v", err)
			}
			if !resp.Partial || resp.Accepted {
				t.Fatalf("response = %+v, want partial, not accepted", resp)
			}
		}
		if got := f.store.SegmentCount("sess"); got != 0 {
			t.Errorf("persisted segments = %d, want 0 for partials", got)
		}
		// The identical final text must still be acceptable afterwards.
		resp, _ := f.pipeline.SubmitRecognizedText(ctx, "sess", "typing in progress", false)
		if !resp.Accepted {
			t.Error("final text must not have been consumed by partials")
		}
	})

	t.Run("persistence failure does not roll back acceptance", func(t *testing.T) {
		f := newFixture(t)
		f.store.AppendErr = errors.New("disk full")
		f.pipeline.StartSession(ctx, "sess", "en", []string{"ko"})

		resp, err := f.pipeline.SubmitRecognizedText(ctx, "sess", "still accepted", false)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if !resp.Accepted {
			t.Fatal("write failure must not reject the segment")
		}
		if got := f.transcript(t, "sess"); got != "still accepted" {
			t.Errorf("transcript = %q", got)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.pipeline.SubmitRecognizedText(ctx, "ghost", "hello", false); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("err = %v, want ErrSessionNotFound", err)
		}
	})
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if reset := f.pipeline.StartSession(ctx, "sess", "en", []string{"ko"}); reset {
		t.Fatal("first start must not report a reset")
	}
	if reset := f.pipeline.StartSession(ctx, "sess", "en", []string{"ko"}); !reset {
		t.Fatal("second start must report an idempotent reset")
	}

	f.pipeline.SubmitRecognizedText(ctx, "sess", "one two three", false)
	stats, err := f.pipeline.EndSession(ctx, "sess")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if stats.SegmentCount != 1 {
		t.Errorf("segment count = %d, want 1", stats.SegmentCount)
	}

	if _, err := f.pipeline.SubmitRecognizedText(ctx, "sess", "too late", false); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("submit after end: err = %v, want ErrSessionNotFound", err)
	}
	if _, err := f.pipeline.EndSession(ctx, "sess"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("double end: err = %v, want ErrSessionNotFound", err)
	}
}

func TestReapReleasesAudioBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	sessions := session.New(
		session.WithIdleTimeout(40*time.Millisecond),
		session.WithClock(clock),
	)
	segmenter := vad.New(vad.Config{
		NewDetector:   func() vad.Detector { return vad.NewEnergyDetector(0) },
		MaxBuffer:     time.Hour,
		FlushInterval: time.Hour,
		SilenceHold:   time.Hour,
		Overlap:       -1,
	})
	st := &storemock.Store{}
	p, err := New(Config{
		Sessions:   sessions,
		Deduper:    dedup.New(),
		Segmenter:  segmenter,
		Translator: translate.New(&mtmock.Provider{}, st),
		Recognizer: &asrmock.Provider{},
		Segments:   st,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Start(ctx)
	defer p.Close()

	p.StartSession(ctx, "sess", "en", []string{"ko"})
	chunk := types.AudioChunk{Data: []byte{1, 2, 3, 4}, Duration: 100 * time.Millisecond, CapturedAt: time.Now()}
	if err := p.SubmitAudioChunk(ctx, "sess", chunk); err != nil {
		t.Fatalf("submit chunk: %v", err)
	}

	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()

	deadline := time.After(2 * time.Second)
	for sessions.Len() > 0 {
		select {
		case <-deadline:
			t.Fatal("idle session was not reaped")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The reap hook fires just after the registry delete; give it a beat
	// before probing the buffer.
	time.Sleep(50 * time.Millisecond)

	if _, ok := segmenter.Flush("sess"); ok {
		t.Error("reaped session still holds a buffered audio segment")
	}
}

func TestStartSessionDefaultTargets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.pipeline.StartSession(ctx, "sess", "en", nil)

	var targets []string
	if err := f.sessions.Update("sess", func(w *session.Working) error {
		targets = w.TargetLanguages()
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(targets) != 1 || targets[0] != "fr" {
		t.Errorf("target languages = %v, want [fr]", targets)
	}
}

func TestSubmitAudioChunk(t *testing.T) {
	ctx := context.Background()

	t.Run("flush runs recognition into the transcript", func(t *testing.T) {
		f := newFixture(t)
		f.asr.Results = []asr.Result{{Text: "hello from audio", Confidence: 0.9}}
		f.pipeline.StartSession(ctx, "sess", "en", []string{"ko"})

		if err := f.pipeline.SubmitAudioChunk(ctx, "sess", oneSecondChunk()); err != nil {
			t.Fatalf("submit chunk: %v", err)
		}
		if f.asr.CallCount() != 1 {
			t.Fatalf("asr calls = %d, want 1 after the cap flush", f.asr.CallCount())
		}
		if got := f.transcript(t, "sess"); got != "hello from audio" {
			t.Errorf("transcript = %q", got)
		}
		if got := f.store.SegmentCount("sess"); got != 1 {
			t.Errorf("persisted segments = %d, want 1", got)
		}
	})

	t.Run("recognition failure drops the segment silently", func(t *testing.T) {
		f := newFixture(t)
		f.asr.Err = &asr.ProviderError{Provider: "mock", Kind: asr.FailureFormat, Err: errors.New("bad audio")}
		f.pipeline.StartSession(ctx, "sess", "en", []string{"ko"})

		if err := f.pipeline.SubmitAudioChunk(ctx, "sess", oneSecondChunk()); err != nil {
			t.Fatalf("submit chunk: %v", err)
		}
		if got := f.transcript(t, "sess"); got != "" {
			t.Errorf("transcript = %q, want empty after a dropped segment", got)
		}
	})

	t.Run("malformed input", func(t *testing.T) {
		f := newFixture(t)
		f.pipeline.StartSession(ctx, "sess", "en", []string{"ko"})

		if err := f.pipeline.SubmitAudioChunk(ctx, "sess", types.AudioChunk{}); !errors.Is(err, ErrInputRejected) {
			t.Errorf("empty chunk: err = %v, want ErrInputRejected", err)
		}
		big := types.AudioChunk{Data: make([]byte, maxChunkBytes+1)}
		if err := f.pipeline.SubmitAudioChunk(ctx, "sess", big); !errors.Is(err, ErrInputRejected) {
			t.Errorf("oversized chunk: err = %v, want ErrInputRejected", err)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t)
		if err := f.pipeline.SubmitAudioChunk(ctx, "ghost", oneSecondChunk()); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("err = %v, want ErrSessionNotFound", err)
		}
	})
}

func TestEndSessionFlushesPendingAudio(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.asr.Results = []asr.Result{{Text: "final words"}}
	f.pipeline.StartSession(ctx, "sess", "en", []string{"ko"})

	half := types.AudioChunk{Data: []byte{9, 9}, Duration: 400 * time.Millisecond}
	if err := f.pipeline.SubmitAudioChunk(ctx, "sess", half); err != nil {
		t.Fatalf("submit chunk: %v", err)
	}
	if f.asr.CallCount() != 0 {
		t.Fatal("no flush expected below the cap")
	}

	stats, err := f.pipeline.EndSession(ctx, "sess")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if f.asr.CallCount() != 1 {
		t.Errorf("asr calls = %d, want the final flush to recognise", f.asr.CallCount())
	}
	if stats.SegmentCount != 1 {
		t.Errorf("segment count = %d, want the final words counted", stats.SegmentCount)
	}
}

func TestGetTranslation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mt.Responses = map[string]string{"ko": "안녕"}

	first, err := f.pipeline.GetTranslation(ctx, "hi there", "ko")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first.TranslatedText != "안녕" || first.CacheHit {
		t.Errorf("first = %+v", first)
	}

	second, err := f.pipeline.GetTranslation(ctx, "hi there", "ko")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !second.CacheHit {
		t.Errorf("second = %+v, want cache hit", second)
	}
}

func TestOrderingUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.pipeline.StartSession(ctx, "sess", "en", []string{"ko"})

	texts := []string{
		"alpha bravo charlie delta",
		"echo foxtrot golf hotel",
	}
	var wg sync.WaitGroup
	for _, text := range texts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.pipeline.SubmitRecognizedText(ctx, "sess", text, false)
		}()
	}
	wg.Wait()

	got := f.transcript(t, "sess")
	for _, text := range texts {
		if !strings.Contains(got, text) {
			t.Errorf("transcript %q missing intact %q", got, text)
		}
	}
}
