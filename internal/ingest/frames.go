// Package ingest exposes the pipeline over a websocket connection.
//
// Clients send tagged JSON frames ({"type": "start" | "audio" | "text" |
// "translate" | "end"}) or raw binary frames carrying audio for the
// connection's session. Every inbound frame passes through one canonical
// decode step with strict validation; unrecognised shapes are rejected with
// an error frame instead of being guessed at.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mooner92/onvoice/pkg/types"
)

// Client frame types.
const (
	FrameStart     = "start"
	FrameAudio     = "audio"
	FrameText      = "text"
	FrameTranslate = "translate"
	FrameEnd       = "end"
)

// Frame is the tagged union for every JSON client frame. Which fields are
// required depends on Type; [DecodeFrame] enforces that.
type Frame struct {
	Type string `json:"type"`

	// SessionID binds the connection to a session. Required on "start".
	SessionID string `json:"session_id,omitempty"`

	// PrimaryLanguage and TargetLanguages configure a "start" frame.
	PrimaryLanguage string   `json:"primary_language,omitempty"`
	TargetLanguages []string `json:"target_languages,omitempty"`

	// Audio carries base64 chunk data on an "audio" frame. Binary websocket
	// frames are the preferred transport; this exists for clients that can
	// only send text frames.
	Audio      []byte `json:"audio,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`

	// Text carries recognised text on "text" frames and source text on
	// "translate" frames.
	Text    string `json:"text,omitempty"`
	Partial bool   `json:"partial,omitempty"`

	// TargetLanguage is the "translate" frame's target.
	TargetLanguage string `json:"target_language,omitempty"`
}

// DecodeFrame is the single decode step for JSON client frames. Unknown
// fields and unknown types are errors, as are frames missing the fields
// their type requires.
func DecodeFrame(data []byte) (Frame, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var f Frame
	if err := dec.Decode(&f); err != nil {
		return Frame{}, fmt.Errorf("ingest: malformed frame: %w", err)
	}

	switch f.Type {
	case FrameStart:
		if f.SessionID == "" {
			return Frame{}, fmt.Errorf("ingest: start frame requires session_id")
		}
		if f.PrimaryLanguage == "" {
			return Frame{}, fmt.Errorf("ingest: start frame requires primary_language")
		}
	case FrameAudio:
		if len(f.Audio) == 0 {
			return Frame{}, fmt.Errorf("ingest: audio frame requires audio data")
		}
	case FrameText:
		if f.Text == "" {
			return Frame{}, fmt.Errorf("ingest: text frame requires text")
		}
	case FrameTranslate:
		if f.Text == "" || f.TargetLanguage == "" {
			return Frame{}, fmt.Errorf("ingest: translate frame requires text and target_language")
		}
	case FrameEnd:
	case "":
		return Frame{}, fmt.Errorf("ingest: frame missing type")
	default:
		return Frame{}, fmt.Errorf("ingest: unknown frame type %q", f.Type)
	}
	return f, nil
}

// Chunk converts an "audio" frame into the pipeline's chunk type.
func (f Frame) Chunk() types.AudioChunk {
	return types.AudioChunk{
		Data:       f.Audio,
		CapturedAt: time.Now(),
		Duration:   time.Duration(f.DurationMs) * time.Millisecond,
	}
}

// Server frame types.
const (
	ServerStarted     = "started"
	ServerSegment     = "segment"
	ServerPartial     = "partial"
	ServerRejected    = "rejected"
	ServerEnded       = "ended"
	ServerTranslation = "translation"
	ServerError       = "error"
)

// ServerFrame is the tagged union for every frame the server sends.
type ServerFrame struct {
	Type string `json:"type"`

	// Reset reports an idempotent session reset on a "started" frame.
	Reset bool `json:"reset,omitempty"`

	// Text is the cleaned segment text, partial echo, or translated text.
	Text string `json:"text,omitempty"`

	// Reason is the dedup rejection reason on a "rejected" frame.
	Reason string `json:"reason,omitempty"`

	// Translations maps target language to text on a "segment" frame.
	Translations map[string]string `json:"translations,omitempty"`

	// TargetLanguage and CacheHit annotate a "translation" frame.
	TargetLanguage string `json:"target_language,omitempty"`
	CacheHit       bool   `json:"cache_hit,omitempty"`

	// Final session statistics on an "ended" frame.
	SegmentCount     int `json:"segment_count,omitempty"`
	HashSetSize      int `json:"hash_set_size,omitempty"`
	TranscriptLength int `json:"transcript_length,omitempty"`

	// Code and Error describe a failure on an "error" frame. Code is one of
	// "session_not_found", "input_rejected", "bad_frame", "internal".
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}
