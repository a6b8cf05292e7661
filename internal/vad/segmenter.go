package vad

import (
	"context"
	"sync"
	"time"

	"github.com/mooner92/onvoice/pkg/types"
)

// Segmenter defaults.
const (
	defaultSilenceHold   = 1500 * time.Millisecond
	defaultMaxBuffer     = 30 * time.Second
	defaultFlushInterval = 5 * time.Second
	defaultOverlap       = time.Second
	defaultMinPending    = 500 * time.Millisecond

	// assumedChunkDuration stands in for chunks that do not declare their
	// duration, which is the norm for compressed media-recorder chunks
	// emitted on a fixed timeslice.
	assumedChunkDuration = 250 * time.Millisecond
)

// FlushReason records which trigger cut a segment.
type FlushReason string

const (
	// FlushSilence fires when speech ends and the silence hold elapses.
	FlushSilence FlushReason = "silence"

	// FlushBufferFull fires when the buffer hits its duration cap, which
	// bounds memory on long monologues that never pause.
	FlushBufferFull FlushReason = "buffer full"

	// FlushInterval fires when the flush interval elapses with a
	// non-trivial buffer still pending, which covers run-on speech.
	FlushInterval FlushReason = "interval"

	// FlushFinal fires on an explicit end-of-session flush.
	FlushFinal FlushReason = "final"
)

// Segment is one cut buffer ready for recognition.
type Segment struct {
	// Audio is the concatenated chunk data in arrival order.
	Audio []byte

	// Start is the capture timestamp of the segment's first chunk.
	Start time.Time

	// Duration is the summed (or assumed) duration of the chunks.
	Duration time.Duration

	// Reason is the trigger that cut the segment.
	Reason FlushReason
}

// Config holds the parameters for a [Segmenter]. Zero values select the
// documented defaults.
type Config struct {
	// NewDetector builds a per-session [Detector]. Required.
	NewDetector func() Detector

	// SilenceHold is how long the signal must stay silent before an active
	// speech run is considered ended. Short pauses inside a sentence must
	// not cut a segment. Default: 1.5s.
	SilenceHold time.Duration

	// MaxBuffer caps the buffered duration regardless of silence.
	// Default: 30s.
	MaxBuffer time.Duration

	// FlushInterval cuts a pending buffer that never goes silent.
	// Default: 5s.
	FlushInterval time.Duration

	// Overlap is how much trailing audio is retained as the start of the
	// next buffer, so words straddling a cut are recognised twice rather
	// than lost. The duplicated text is trimmed downstream. Negative
	// disables retention. Default: 1s.
	Overlap time.Duration

	// MinPending is the minimum buffered duration the interval trigger
	// considers worth recognising. Default: 500ms.
	MinPending time.Duration

	// Clock overrides time.Now in tests. Nil means time.Now.
	Clock func() time.Time
}

func (c *Config) applyDefaults() {
	if c.SilenceHold <= 0 {
		c.SilenceHold = defaultSilenceHold
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = defaultMaxBuffer
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.Overlap == 0 {
		c.Overlap = defaultOverlap
	}
	if c.MinPending <= 0 {
		c.MinPending = defaultMinPending
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// buffer is the rolling per-session state. Guarded by the Segmenter mutex.
type buffer struct {
	chunks   []types.AudioChunk
	duration time.Duration

	detector    Detector
	speaking    bool
	silentSince time.Time

	lastFlush  time.Time
	sinceFlush int
}

// Segmenter accumulates audio chunks per session and cuts them into
// segments. Safe for concurrent use across sessions; calls for one session
// are expected to arrive serialised by the caller.
type Segmenter struct {
	cfg Config

	mu      sync.Mutex
	buffers map[string]*buffer

	stopOnce sync.Once
	done     chan struct{}
}

// New returns a Segmenter for the given configuration. A nil NewDetector
// defaults to [NewEnergyDetector] with default thresholds.
func New(cfg Config) *Segmenter {
	cfg.applyDefaults()
	if cfg.NewDetector == nil {
		cfg.NewDetector = func() Detector { return NewEnergyDetector(0) }
	}
	return &Segmenter{
		cfg:     cfg,
		buffers: make(map[string]*buffer),
		done:    make(chan struct{}),
	}
}

// Add folds one chunk into the session's buffer and reports whether a flush
// trigger fired. The returned Segment is valid only when ok is true.
func (s *Segmenter) Add(sessionID string, chunk types.AudioChunk) (Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Clock()
	b := s.buffers[sessionID]
	if b == nil {
		b = &buffer{detector: s.cfg.NewDetector(), lastFlush: now}
		s.buffers[sessionID] = b
	}

	voiced := b.detector.Voiced(chunk)
	b.chunks = append(b.chunks, chunk)
	b.duration += chunkDuration(chunk)
	b.sinceFlush++

	silenceEnded := false
	if voiced {
		b.speaking = true
		b.silentSince = time.Time{}
	} else if b.speaking {
		if b.silentSince.IsZero() {
			b.silentSince = now
		} else if now.Sub(b.silentSince) >= s.cfg.SilenceHold {
			silenceEnded = true
		}
	}

	switch {
	case silenceEnded:
		b.speaking = false
		b.silentSince = time.Time{}
		return s.flushLocked(b, now, FlushSilence), true
	case b.duration >= s.cfg.MaxBuffer:
		return s.flushLocked(b, now, FlushBufferFull), true
	case now.Sub(b.lastFlush) >= s.cfg.FlushInterval && b.duration >= s.cfg.MinPending:
		return s.flushLocked(b, now, FlushInterval), true
	}
	return Segment{}, false
}

// Flush cuts whatever the session has buffered, including retained overlap,
// and reports whether there was anything to cut. Use on session end.
func (s *Segmenter) Flush(sessionID string) (Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.buffers[sessionID]
	if b == nil || len(b.chunks) == 0 || b.sinceFlush == 0 {
		return Segment{}, false
	}
	seg := concat(b.chunks, FlushFinal)
	b.chunks = nil
	b.duration = 0
	b.sinceFlush = 0
	b.lastFlush = s.cfg.Clock()
	return seg, true
}

// Remove discards the session's buffer.
func (s *Segmenter) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, sessionID)
}

// StartFlusher runs the interval trigger in the background for sessions that
// stop receiving chunks with audio still pending. emit is called outside the
// Segmenter lock. The loop stops when ctx is done or Close is called.
func (s *Segmenter) StartFlusher(ctx context.Context, emit func(sessionID string, seg Segment)) {
	go s.flushLoop(ctx, emit)
}

// Close stops the background flusher.
func (s *Segmenter) Close() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Segmenter) flushLoop(ctx context.Context, emit func(string, Segment)) {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			for id, seg := range s.pendingFlushes() {
				emit(id, seg)
			}
		}
	}
}

// pendingFlushes cuts every buffer the interval trigger applies to.
func (s *Segmenter) pendingFlushes() map[string]Segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Clock()
	var out map[string]Segment
	for id, b := range s.buffers {
		if b.sinceFlush == 0 || b.duration < s.cfg.MinPending {
			continue
		}
		if now.Sub(b.lastFlush) < s.cfg.FlushInterval {
			continue
		}
		if out == nil {
			out = make(map[string]Segment)
		}
		out[id] = s.flushLocked(b, now, FlushInterval)
	}
	return out
}

// flushLocked cuts the buffer and retains the trailing overlap as the start
// of the next one. Caller holds the mutex.
func (s *Segmenter) flushLocked(b *buffer, now time.Time, reason FlushReason) Segment {
	seg := concat(b.chunks, reason)

	var retained []types.AudioChunk
	var retainedDur time.Duration
	if s.cfg.Overlap > 0 {
		for i := len(b.chunks) - 1; i >= 0; i-- {
			d := chunkDuration(b.chunks[i])
			if retainedDur+d > s.cfg.Overlap {
				break
			}
			retained = append([]types.AudioChunk{b.chunks[i]}, retained...)
			retainedDur += d
		}
	}

	b.chunks = retained
	b.duration = retainedDur
	b.sinceFlush = 0
	b.lastFlush = now
	return seg
}

func concat(chunks []types.AudioChunk, reason FlushReason) Segment {
	seg := Segment{Reason: reason}
	total := 0
	for _, c := range chunks {
		total += len(c.Data)
	}
	seg.Audio = make([]byte, 0, total)
	for i, c := range chunks {
		if i == 0 {
			seg.Start = c.CapturedAt
		}
		seg.Audio = append(seg.Audio, c.Data...)
		seg.Duration += chunkDuration(c)
	}
	return seg
}

func chunkDuration(c types.AudioChunk) time.Duration {
	if c.Duration > 0 {
		return c.Duration
	}
	return assumedChunkDuration
}
