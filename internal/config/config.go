// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full service configuration.
type Config struct {
	Service       ServiceConfig
	STT           STTConfig
	Kafka         KafkaConfig
	Transcoder    TranscoderConfig
	Stream        StreamConfig
	Interim       InterimConfig
	Sentence      SentenceConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Principal             string `env:"SERVICE_PRINCIPAL" envDefault:"svc-speech-relay"`
	HTTPPort              string `env:"HTTP_PORT" envDefault:"3000"`
	GRPCPort              string `env:"GRPC_PORT" envDefault:"50051"`
	StreamingEndpointBase string `env:"STREAMING_ENDPOINT_BASE" envDefault:"ws://localhost:8000/ws"`
}

// STTConfig holds recognizer settings.
type STTConfig struct {
	Provider            string   `env:"STT_PROVIDER" envDefault:"mock"`
	ProjectID           string   `env:"GOOGLE_CLOUD_PROJECT_ID"`
	CredentialsJSON     string   `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	Location            string   `env:"STT_LOCATION" envDefault:"us-central1"`
	RecognizerID        string   `env:"STT_RECOGNIZER_ID" envDefault:"_"`
	Model               string   `env:"STT_MODEL" envDefault:"latest_long"`
	LanguageCodes       []string `env:"STT_LANGUAGE_CODES" envDefault:"ko-KR" envSeparator:","`
	MinInterimStability float64  `env:"STT_MIN_INTERIM_STABILITY" envDefault:"0.85"`
}

// KafkaConfig holds message bus settings.
type KafkaConfig struct {
	Enabled      bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	Brokers      []string `env:"KAFKA_BROKERS" envSeparator:","`
	TopicPartial string   `env:"KAFKA_TOPIC_PARTIAL" envDefault:"transcript.session.partial"`
	TopicFinal   string   `env:"KAFKA_TOPIC_FINAL" envDefault:"transcript.session.final"`
	Principal    string   `env:"KAFKA_PRINCIPAL"`
}

// TranscoderConfig holds transcoder process supervision settings.
type TranscoderConfig struct {
	Binary           string        `env:"TRANSCODER_BINARY" envDefault:"ffmpeg"`
	Input            string        `env:"TRANSCODER_INPUT" envDefault:"pipe:0"`
	// SourceCommand, when set, is run per session and its stdout is fed to
	// the transcoder's stdin.
	SourceCommand    []string      `env:"AUDIO_SOURCE_COMMAND" envSeparator:" "`
	WatchdogInterval time.Duration `env:"TRANSCODER_WATCHDOG_INTERVAL" envDefault:"5s"`
	StallThreshold   time.Duration `env:"TRANSCODER_STALL_THRESHOLD" envDefault:"10s"`
	StartupGrace     time.Duration `env:"TRANSCODER_STARTUP_GRACE" envDefault:"15s"`
	KillGrace        time.Duration `env:"TRANSCODER_KILL_GRACE" envDefault:"2s"`
}

// StreamConfig holds recognition stream rotation settings.
type StreamConfig struct {
	RestartInterval time.Duration `env:"STREAM_RESTART_INTERVAL" envDefault:"285s"`
	RetryInterval   time.Duration `env:"STREAM_RETRY_INTERVAL" envDefault:"2s"`
}

// InterimConfig holds interim chunk flushing settings.
type InterimConfig struct {
	Throttle     time.Duration `env:"INTERIM_THROTTLE" envDefault:"50ms"`
	Debounce     time.Duration `env:"INTERIM_DEBOUNCE" envDefault:"200ms"`
	HardLatency  time.Duration `env:"INTERIM_HARD_LATENCY" envDefault:"300ms"`
	MaxQueue     int           `env:"INTERIM_MAX_QUEUE" envDefault:"300"`
	Mode         string        `env:"INTERIM_MODE" envDefault:"delta"`
	SuffixWindow int           `env:"INTERIM_SUFFIX_WINDOW" envDefault:"4"`
}

// SentenceConfig holds sentence gating settings.
type SentenceConfig struct {
	MaxEmitsPerSecond       float64 `env:"SENTENCE_MAX_EMITS_PER_SECOND" envDefault:"3"`
	MinimumGrowthCharacters int     `env:"SENTENCE_MIN_GROWTH_CHARACTERS" envDefault:"50"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// Load parses the environment into a validated Config.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("environment variables are invalid: %w", err)
	}
	if cfg.Kafka.Principal == "" {
		cfg.Kafka.Principal = cfg.Service.Principal
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.STT.Provider {
	case "mock":
	case "google":
		if c.STT.ProjectID == "" {
			return errors.New("GOOGLE_CLOUD_PROJECT_ID is required when STT_PROVIDER=google")
		}
	default:
		return fmt.Errorf("STT_PROVIDER %q is not supported", c.STT.Provider)
	}
	if len(c.STT.LanguageCodes) == 0 {
		return errors.New("STT_LANGUAGE_CODES must not be empty")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}
	switch c.Interim.Mode {
	case "delta", "lcp":
	default:
		return fmt.Errorf("INTERIM_MODE %q is not supported", c.Interim.Mode)
	}
	positive := []struct {
		name  string
		value time.Duration
	}{
		{"TRANSCODER_WATCHDOG_INTERVAL", c.Transcoder.WatchdogInterval},
		{"TRANSCODER_STALL_THRESHOLD", c.Transcoder.StallThreshold},
		{"TRANSCODER_KILL_GRACE", c.Transcoder.KillGrace},
		{"STREAM_RESTART_INTERVAL", c.Stream.RestartInterval},
		{"STREAM_RETRY_INTERVAL", c.Stream.RetryInterval},
		{"INTERIM_THROTTLE", c.Interim.Throttle},
		{"INTERIM_DEBOUNCE", c.Interim.Debounce},
		{"INTERIM_HARD_LATENCY", c.Interim.HardLatency},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %v", p.name, p.value)
		}
	}
	if c.Sentence.MaxEmitsPerSecond <= 0 {
		return fmt.Errorf("SENTENCE_MAX_EMITS_PER_SECOND must be positive, got %v", c.Sentence.MaxEmitsPerSecond)
	}
	return nil
}
