package ingest

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mooner92/onvoice/internal/dedup"
	"github.com/mooner92/onvoice/internal/pipeline"
	"github.com/mooner92/onvoice/internal/session"
	"github.com/mooner92/onvoice/internal/translate"
	"github.com/mooner92/onvoice/internal/vad"
	asrmock "github.com/mooner92/onvoice/pkg/provider/asr/mock"
	mtmock "github.com/mooner92/onvoice/pkg/provider/mt/mock"
	storemock "github.com/mooner92/onvoice/pkg/store/mock"
)

// dialTestServer starts the handler over a mock-backed pipeline and dials
// it. The connection is closed on test cleanup.
func dialTestServer(t *testing.T) *websocket.Conn {
	t.Helper()

	st := &storemock.Store{}
	p, err := pipeline.New(pipeline.Config{
		Sessions:   session.New(),
		Deduper:    dedup.New(),
		Segmenter:  vad.New(vad.Config{}),
		Translator: translate.New(&mtmock.Provider{}, st),
		Recognizer: &asrmock.Provider{},
		Segments:   st,
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	h := NewHandler(p)
	h.InsecureSkipVerify = true
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, conn *websocket.Conn) ServerFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f ServerFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return f
}

func TestHandlerSessionFlow(t *testing.T) {
	conn := dialTestServer(t)

	send(t, conn, `{"type":"start","session_id":"s1","primary_language":"en","target_languages":["ko"]}`)
	if f := recv(t, conn); f.Type != ServerStarted || f.Reset {
		t.Fatalf("frame = %+v, want fresh started", f)
	}

	send(t, conn, `{"type":"text","text":"hello everyone"}`)
	f := recv(t, conn)
	if f.Type != ServerSegment || f.Text != "hello everyone" {
		t.Fatalf("frame = %+v, want accepted segment", f)
	}
	if f.Translations["ko"] != "[ko] hello everyone" {
		t.Errorf("translations = %v", f.Translations)
	}

	send(t, conn, `{"type":"text","text":"hello everyone"}`)
	if f := recv(t, conn); f.Type != ServerRejected || f.Reason == "" {
		t.Fatalf("frame = %+v, want rejection with reason", f)
	}

	send(t, conn, `{"type":"text","text":"now typing","partial":true}`)
	if f := recv(t, conn); f.Type != ServerPartial || f.Text != "now typing" {
		t.Fatalf("frame = %+v, want partial echo", f)
	}

	send(t, conn, `{"type":"end"}`)
	f = recv(t, conn)
	if f.Type != ServerEnded || f.SegmentCount != 1 {
		t.Fatalf("frame = %+v, want ended with one segment", f)
	}
}

func TestHandlerErrors(t *testing.T) {
	t.Run("unknown frame type", func(t *testing.T) {
		conn := dialTestServer(t)
		send(t, conn, `{"type":"reboot"}`)
		if f := recv(t, conn); f.Type != ServerError || f.Code != "bad_frame" {
			t.Errorf("frame = %+v, want bad_frame error", f)
		}
	})

	t.Run("audio before start", func(t *testing.T) {
		conn := dialTestServer(t)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := conn.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if f := recv(t, conn); f.Type != ServerError || f.Code != "bad_frame" {
			t.Errorf("frame = %+v, want bad_frame error", f)
		}
	})

	t.Run("text after end", func(t *testing.T) {
		conn := dialTestServer(t)
		send(t, conn, `{"type":"start","session_id":"s2","primary_language":"en"}`)
		recv(t, conn)
		send(t, conn, `{"type":"end"}`)
		recv(t, conn)

		// The connection is unbound after end: text needs a new start.
		send(t, conn, `{"type":"text","text":"too late"}`)
		if f := recv(t, conn); f.Type != ServerError || f.Code != "bad_frame" {
			t.Errorf("frame = %+v, want bad_frame error", f)
		}
	})
}

func TestHandlerTranslate(t *testing.T) {
	conn := dialTestServer(t)

	send(t, conn, `{"type":"translate","text":"good evening","target_language":"ko"}`)
	f := recv(t, conn)
	if f.Type != ServerTranslation || f.TargetLanguage != "ko" {
		t.Fatalf("frame = %+v, want translation", f)
	}
	if f.Text != "[ko] good evening" {
		t.Errorf("text = %q", f.Text)
	}
	if f.CacheHit {
		t.Error("first request must not be a cache hit")
	}

	send(t, conn, `{"type":"translate","text":"good evening","target_language":"ko"}`)
	if f := recv(t, conn); !f.CacheHit {
		t.Errorf("frame = %+v, want cache hit on repeat", f)
	}
}
