// Package openai provides a recognition provider backed by the OpenAI audio
// transcriptions API (Whisper). It implements the asr.Provider interface.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mooner92/onvoice/pkg/provider/asr"
)

const providerName = "openai"

// config holds optional configuration for the provider.
type config struct {
	baseURL  string
	model    string
	timeout  time.Duration
	mimeType string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible transcription servers (e.g. a local whisper server).
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel selects the transcription model. Default: whisper-1.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMIMEType declares the content type of the audio payloads this provider
// will receive (e.g. "audio/webm" for browser MediaRecorder chunks).
// Default: "audio/wav".
func WithMIMEType(mime string) Option {
	return func(c *config) {
		c.mimeType = mime
	}
}

// Provider implements asr.Provider using the OpenAI audio transcriptions API.
type Provider struct {
	client   oai.Client
	model    string
	mimeType string
}

var _ asr.Provider = (*Provider)(nil)

// New constructs a new OpenAI recognition Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{
		model:    string(oai.AudioModelWhisper1),
		timeout:  30 * time.Second,
		mimeType: "audio/wav",
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    cfg.model,
		mimeType: cfg.mimeType,
	}, nil
}

// Transcribe implements asr.Provider. The audio bytes are uploaded as a
// single file; the filename extension is derived from the configured MIME
// type so the API can pick a decoder.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, languageHint string) (asr.Result, error) {
	if len(audio) == 0 {
		return asr.Result{}, asr.ErrEmptyAudio
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio), "segment"+extensionFor(p.mimeType), p.mimeType),
		Model: oai.AudioModel(p.model),
	}
	if languageHint != "" {
		params.Language = oai.String(languageHint)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return asr.Result{}, &asr.ProviderError{
			Provider: providerName,
			Kind:     classify(err),
			Err:      err,
		}
	}

	return asr.Result{
		Text: resp.Text,
		// The transcriptions endpoint reports no segment-level confidence;
		// leave it zero and let the hint stand in for the detected language.
		Language: languageHint,
	}, nil
}

// classify maps an openai-go error to an asr.FailureKind.
func classify(err error) asr.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return asr.FailureTimeout
	}
	var apierr *oai.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusTooManyRequests, http.StatusPaymentRequired:
			return asr.FailureQuota
		case http.StatusBadRequest, http.StatusUnsupportedMediaType:
			return asr.FailureFormat
		}
	}
	return asr.FailureOther
}

// extensionFor returns a filename extension matching the MIME type.
func extensionFor(mime string) string {
	switch mime {
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4":
		return ".mp4"
	default:
		return ".wav"
	}
}
