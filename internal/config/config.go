// Package config provides the configuration schema and loader for the
// onvoice pipeline server.
package config

import "time"

// LogLevel controls log verbosity for the onvoice server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// VADMode selects how the voice activity segmenter interprets audio chunks.
type VADMode string

const (
	// VADEnergy analyses raw PCM frames (RMS + zero-crossing rate).
	VADEnergy VADMode = "energy"

	// VADChunkSize treats compressed chunk sizes as an energy proxy. Used
	// when only encoded blobs (e.g. MediaRecorder webm) are observable.
	VADChunkSize VADMode = "chunk_size"
)

// IsValid reports whether m is a recognised VAD mode.
func (m VADMode) IsValid() bool {
	return m == VADEnergy || m == VADChunkSize
}

// Config is the root configuration structure for the onvoice server.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares the external recognition and translation backends.
type ProvidersConfig struct {
	Recognition ProviderEntry `yaml:"recognition"`
	Translation ProviderEntry `yaml:"translation"`
}

// ProviderEntry is the common configuration block shared by both provider
// kinds.
type ProviderEntry struct {
	// Name selects the provider implementation. Recognition: "openai".
	// Translation: "openai" or "anyllm".
	Name string `yaml:"name"`

	// Backend selects the underlying any-llm-go backend when Name is
	// "anyllm" (e.g. "ollama", "groq"). Ignored otherwise.
	Backend string `yaml:"backend"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// MIMEType declares the audio content type delivered to a recognition
	// provider (e.g. "audio/webm"). Ignored for translation.
	MIMEType string `yaml:"mime_type"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// PostgresDSN is the connection string for the durable store. When
	// empty, the server runs with an in-memory store (transcripts and cache
	// are lost on restart — suitable for development only).
	PostgresDSN string `yaml:"postgres_dsn"`
}

// PipelineConfig tunes the dedup, VAD, translation, and session components.
type PipelineConfig struct {
	// TargetLanguages is the default set of translation targets offered to
	// sessions that do not specify their own.
	TargetLanguages []string `yaml:"target_languages"`

	// SessionIdleTimeout is how long a session may sit without traffic
	// before the reaper evicts its working state. Default: 10m.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`

	Dedup       DedupConfig       `yaml:"dedup"`
	VAD         VADConfig         `yaml:"vad"`
	Translation TranslationConfig `yaml:"translation"`
}

// DedupConfig tunes the segment deduper.
type DedupConfig struct {
	// SimilarityThreshold is the normalised-similarity score at or above
	// which a candidate is rejected as a near-duplicate. Range (0,1].
	// Default: 0.85.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// SimilarityWindow is how many recent accepted segments the candidate is
	// compared against. Default: 8.
	SimilarityWindow int `yaml:"similarity_window"`

	// SimilarityMaxAge restricts the comparison window to segments accepted
	// within this duration. Zero disables the age filter (loose variant).
	// Default: 10s.
	SimilarityMaxAge time.Duration `yaml:"similarity_max_age"`
}

// VADConfig tunes the voice activity segmenter.
type VADConfig struct {
	// Mode selects the detector. Default: chunk_size.
	Mode VADMode `yaml:"mode"`

	// SilenceHold is how long the signal must stay below threshold before a
	// speech segment is considered ended. Default: 1500ms.
	SilenceHold time.Duration `yaml:"silence_hold"`

	// MaxBuffer caps accumulated audio duration before a forced flush.
	// Default: 30s.
	MaxBuffer time.Duration `yaml:"max_buffer"`

	// FlushInterval forces a flush when a non-trivial buffer has been
	// pending this long, covering run-on speech that never pauses.
	// Default: 5s.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// Overlap is how much trailing audio is retained as the start of the
	// next buffer to reduce boundary word loss. The matching text overlap
	// is removed downstream by the deduper. Default: 1s.
	Overlap time.Duration `yaml:"overlap"`
}

// TranslationConfig tunes the fan-out.
type TranslationConfig struct {
	// Parallelism bounds concurrent provider calls per fan-out. Default: 3.
	Parallelism int `yaml:"parallelism"`

	// RetryMaxAttempts bounds the polling loop for providers that answer
	// "still processing". Default: 4.
	RetryMaxAttempts int `yaml:"retry_max_attempts"`

	// RetryBaseDelay is the initial backoff delay between attempts,
	// doubling per attempt with jitter. Default: 250ms.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}
