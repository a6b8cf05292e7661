package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults] for zero-valued fields.
const (
	defaultListenAddr          = ":8080"
	defaultSessionIdleTimeout  = 10 * time.Minute
	defaultSimilarityThreshold = 0.85
	defaultSimilarityWindow    = 8
	defaultSimilarityMaxAge    = 10 * time.Second
	defaultSilenceHold         = 1500 * time.Millisecond
	defaultMaxBuffer           = 30 * time.Second
	defaultFlushInterval       = 5 * time.Second
	defaultOverlap             = 1 * time.Second
	defaultParallelism         = 3
	defaultRetryMaxAttempts    = 4
	defaultRetryBaseDelay      = 250 * time.Millisecond
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"recognition": {"openai"},
	"translation": {"openai", "anyllm"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals. Errors are unprefixed, matching the validation messages;
// [Load] adds the package and file context.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued tuning fields with their documented
// defaults. Called by [LoadFromReader]; exported so tests and the in-memory
// server path can build configs programmatically.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Pipeline.SessionIdleTimeout <= 0 {
		cfg.Pipeline.SessionIdleTimeout = defaultSessionIdleTimeout
	}

	d := &cfg.Pipeline.Dedup
	if d.SimilarityThreshold <= 0 {
		d.SimilarityThreshold = defaultSimilarityThreshold
	}
	if d.SimilarityWindow <= 0 {
		d.SimilarityWindow = defaultSimilarityWindow
	}
	if d.SimilarityMaxAge < 0 {
		d.SimilarityMaxAge = defaultSimilarityMaxAge
	}

	v := &cfg.Pipeline.VAD
	if v.Mode == "" {
		v.Mode = VADChunkSize
	}
	if v.SilenceHold <= 0 {
		v.SilenceHold = defaultSilenceHold
	}
	if v.MaxBuffer <= 0 {
		v.MaxBuffer = defaultMaxBuffer
	}
	if v.FlushInterval <= 0 {
		v.FlushInterval = defaultFlushInterval
	}
	if v.Overlap < 0 {
		v.Overlap = defaultOverlap
	}

	t := &cfg.Pipeline.Translation
	if t.Parallelism <= 0 {
		t.Parallelism = defaultParallelism
	}
	if t.RetryMaxAttempts <= 0 {
		t.RetryMaxAttempts = defaultRetryMaxAttempts
	}
	if t.RetryBaseDelay <= 0 {
		t.RetryBaseDelay = defaultRetryBaseDelay
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("recognition", cfg.Providers.Recognition.Name)
	validateProviderName("translation", cfg.Providers.Translation.Name)

	if cfg.Providers.Translation.Name == "anyllm" && cfg.Providers.Translation.Backend == "" {
		errs = append(errs, fmt.Errorf("providers.translation.backend must be set when name is \"anyllm\""))
	}

	if cfg.Pipeline.Dedup.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.dedup.similarity_threshold %v is out of range (0, 1]", cfg.Pipeline.Dedup.SimilarityThreshold))
	}
	if !cfg.Pipeline.VAD.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("pipeline.vad.mode %q is invalid; valid values: energy, chunk_size", cfg.Pipeline.VAD.Mode))
	}
	if cfg.Pipeline.VAD.Overlap >= cfg.Pipeline.VAD.MaxBuffer {
		errs = append(errs, fmt.Errorf("pipeline.vad.overlap (%v) must be smaller than pipeline.vad.max_buffer (%v)", cfg.Pipeline.VAD.Overlap, cfg.Pipeline.VAD.MaxBuffer))
	}

	seen := make(map[string]struct{}, len(cfg.Pipeline.TargetLanguages))
	for i, lang := range cfg.Pipeline.TargetLanguages {
		if lang == "" {
			errs = append(errs, fmt.Errorf("pipeline.target_languages[%d] is empty", i))
			continue
		}
		if _, dup := seen[lang]; dup {
			errs = append(errs, fmt.Errorf("pipeline.target_languages contains %q more than once", lang))
		}
		seen[lang] = struct{}{}
	}

	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; transcripts and the translation cache will not survive restarts")
	}

	return errors.Join(errs...)
}

// validateProviderName warns (but does not fail) when a provider name is not
// in the known list, so experimental builds with new providers still start.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	for _, known := range ValidProviderNames[kind] {
		if name == known {
			return
		}
	}
	slog.Warn("unknown provider name", "kind", kind, "name", name, "known", ValidProviderNames[kind])
}
