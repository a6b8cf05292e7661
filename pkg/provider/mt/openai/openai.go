// Package openai provides a translation provider backed by OpenAI chat
// completions. It implements the mt.Provider interface.
//
// Translation-by-LLM keeps the provider surface identical to dedicated MT
// services while allowing register instructions (keep casing, no commentary)
// to travel in the system prompt.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mooner92/onvoice/pkg/provider/mt"
)

const (
	providerName = "openai"
	defaultModel = "gpt-4o-mini"
)

// systemPrompt instructs the model to behave like a plain MT engine.
const systemPrompt = "You are a translation engine. Translate the user's text from %s to %s. " +
	"Preserve meaning, tone, and casing. Output only the translation, with no quotes, " +
	"notes, or commentary."

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel selects the chat model used for translation. Default: gpt-4o-mini.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout. Default: 15s.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Provider implements mt.Provider using OpenAI chat completions.
type Provider struct {
	client oai.Client
	model  string
}

var _ mt.Provider = (*Provider)(nil)

// New constructs a new OpenAI translation Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{
		model:   defaultModel,
		timeout: 15 * time.Second,
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
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
	}, nil
}

// Translate implements mt.Provider.
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: oai.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(fmt.Sprintf(systemPrompt, languageName(sourceLang), languageName(targetLang))),
			oai.UserMessage(text),
		},
		Temperature: oai.Float(0.2),
	})
	if err != nil {
		return "", &mt.ProviderError{Provider: providerName, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &mt.ProviderError{Provider: providerName, Err: fmt.Errorf("empty choices in response")}
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", &mt.ProviderError{Provider: providerName, Err: fmt.Errorf("empty translation for %q → %s", text, targetLang)}
	}
	return out, nil
}

// Name implements mt.Provider.
func (p *Provider) Name() string { return providerName }

// languageName expands common ISO 639-1 codes to English names, which chat
// models follow more reliably than bare codes. Unknown codes pass through.
func languageName(code string) string {
	switch strings.ToLower(code) {
	case "en":
		return "English"
	case "ko":
		return "Korean"
	case "zh":
		return "Chinese"
	case "hi":
		return "Hindi"
	case "ja":
		return "Japanese"
	case "es":
		return "Spanish"
	case "fr":
		return "French"
	case "de":
		return "German"
	case "pt":
		return "Portuguese"
	case "vi":
		return "Vietnamese"
	case "th":
		return "Thai"
	case "id":
		return "Indonesian"
	case "ru":
		return "Russian"
	case "ar":
		return "Arabic"
	default:
		return code
	}
}
