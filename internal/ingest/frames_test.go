package ingest

import (
	"testing"
	"time"
)

func TestDecodeFrame(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"start", `{"type":"start","session_id":"s1","primary_language":"en","target_languages":["ko"]}`, false},
		{"start without session", `{"type":"start","primary_language":"en"}`, true},
		{"start without language", `{"type":"start","session_id":"s1"}`, true},
		{"audio", `{"type":"audio","audio":"AQID","duration_ms":250}`, false},
		{"audio without data", `{"type":"audio"}`, true},
		{"text", `{"type":"text","text":"hello","partial":true}`, false},
		{"text without text", `{"type":"text"}`, true},
		{"translate", `{"type":"translate","text":"hello","target_language":"ko"}`, false},
		{"translate without target", `{"type":"translate","text":"hello"}`, true},
		{"end", `{"type":"end"}`, false},
		{"unknown type", `{"type":"reboot"}`, true},
		{"missing type", `{"text":"hello"}`, true},
		{"unknown field", `{"type":"end","color":"red"}`, true},
		{"not json", `audio=yes`, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := DecodeFrame([]byte(c.payload))
			if (err != nil) != c.wantErr {
				t.Errorf("DecodeFrame(%s) error = %v, wantErr %v", c.payload, err, c.wantErr)
			}
		})
	}
}

func TestFrameChunk(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"type":"audio","audio":"AQID","duration_ms":250}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	chunk := f.Chunk()
	if string(chunk.Data) != "\x01\x02\x03" {
		t.Errorf("data = %v, want decoded base64", chunk.Data)
	}
	if chunk.Duration != 250*time.Millisecond {
		t.Errorf("duration = %v", chunk.Duration)
	}
	if chunk.CapturedAt.IsZero() {
		t.Error("captured-at must be stamped")
	}
}
