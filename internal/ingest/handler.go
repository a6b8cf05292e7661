package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/mooner92/onvoice/internal/pipeline"
	"github.com/mooner92/onvoice/pkg/types"
)

// writeTimeout bounds a single outbound frame write.
const writeTimeout = 5 * time.Second

// Handler serves one websocket connection per speaker. The connection is
// bound to a session by the first "start" frame; binary frames then carry
// raw audio for that session.
type Handler struct {
	pipeline *pipeline.Pipeline

	// InsecureSkipVerify disables origin checking. For tests.
	InsecureSkipVerify bool
}

// NewHandler returns a websocket handler over the given pipeline.
func NewHandler(p *pipeline.Pipeline) *Handler {
	return &Handler{pipeline: p}
}

// ServeHTTP upgrades the request and runs the frame loop until the client
// disconnects. A disconnect does not end the session: speakers may
// reconnect, and abandoned sessions are reclaimed by the idle reaper.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.InsecureSkipVerify,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection abandoned")

	ctx := r.Context()
	var sessionID string

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			// Normal closure or dropped connection.
			slog.Debug("websocket read ended", "session_id", sessionID, "err", err)
			return
		}

		switch typ {
		case websocket.MessageBinary:
			if sessionID == "" {
				h.writeError(ctx, conn, "bad_frame", errors.New("audio before start"))
				continue
			}
			chunk := types.AudioChunk{Data: data, CapturedAt: time.Now()}
			if err := h.pipeline.SubmitAudioChunk(ctx, sessionID, chunk); err != nil {
				h.writeError(ctx, conn, codeFor(err), err)
			}

		case websocket.MessageText:
			frame, err := DecodeFrame(data)
			if err != nil {
				h.writeError(ctx, conn, "bad_frame", err)
				continue
			}
			sessionID = h.dispatch(ctx, conn, sessionID, frame)
		}
	}
}

// dispatch handles one decoded frame and returns the (possibly updated)
// session ID bound to the connection.
func (h *Handler) dispatch(ctx context.Context, conn *websocket.Conn, sessionID string, f Frame) string {
	switch f.Type {
	case FrameStart:
		reset := h.pipeline.StartSession(ctx, f.SessionID, f.PrimaryLanguage, f.TargetLanguages)
		h.write(ctx, conn, ServerFrame{Type: ServerStarted, Reset: reset})
		return f.SessionID

	case FrameAudio:
		if sessionID == "" {
			h.writeError(ctx, conn, "bad_frame", errors.New("audio before start"))
			return sessionID
		}
		if err := h.pipeline.SubmitAudioChunk(ctx, sessionID, f.Chunk()); err != nil {
			h.writeError(ctx, conn, codeFor(err), err)
		}

	case FrameText:
		if sessionID == "" {
			h.writeError(ctx, conn, "bad_frame", errors.New("text before start"))
			return sessionID
		}
		resp, err := h.pipeline.SubmitRecognizedText(ctx, sessionID, f.Text, f.Partial)
		if err != nil {
			h.writeError(ctx, conn, codeFor(err), err)
			return sessionID
		}
		switch {
		case resp.Partial:
			h.write(ctx, conn, ServerFrame{Type: ServerPartial, Text: resp.CleanedText})
		case resp.Accepted:
			h.write(ctx, conn, ServerFrame{
				Type:         ServerSegment,
				Text:         resp.CleanedText,
				Translations: resp.Translations,
			})
		default:
			h.write(ctx, conn, ServerFrame{Type: ServerRejected, Reason: resp.Reason})
		}

	case FrameTranslate:
		tr, err := h.pipeline.GetTranslation(ctx, f.Text, f.TargetLanguage)
		if err != nil {
			h.writeError(ctx, conn, "internal", err)
			return sessionID
		}
		h.write(ctx, conn, ServerFrame{
			Type:           ServerTranslation,
			Text:           tr.TranslatedText,
			TargetLanguage: tr.TargetLang,
			CacheHit:       tr.CacheHit,
		})

	case FrameEnd:
		if sessionID == "" {
			h.writeError(ctx, conn, "bad_frame", errors.New("end before start"))
			return sessionID
		}
		stats, err := h.pipeline.EndSession(ctx, sessionID)
		if err != nil {
			h.writeError(ctx, conn, codeFor(err), err)
			return sessionID
		}
		h.write(ctx, conn, ServerFrame{
			Type:             ServerEnded,
			SegmentCount:     stats.SegmentCount,
			HashSetSize:      stats.HashSetSize,
			TranscriptLength: stats.TranscriptLength,
		})
		return ""
	}
	return sessionID
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, f ServerFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		slog.Error("marshal server frame", "err", err)
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		slog.Debug("websocket write failed", "err", err)
	}
}

func (h *Handler) writeError(ctx context.Context, conn *websocket.Conn, code string, err error) {
	h.write(ctx, conn, ServerFrame{Type: ServerError, Code: code, Error: err.Error()})
}

// codeFor maps pipeline errors onto wire error codes.
func codeFor(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, pipeline.ErrInputRejected):
		return "input_rejected"
	default:
		return "internal"
	}
}
