package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-morse/internal/synth"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	TraceStdout  bool   `yaml:"trace_stdout"`
}

// SlogLevel maps log_level onto a slog level, defaulting to info.
func (t TelemetryConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(t.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Tone        ToneConfig       `yaml:"tone"`
	Playback    PlaybackConfig   `yaml:"playback"`
	Render      RenderConfig     `yaml:"render"`
	TTS         TTSConfig        `yaml:"tts"`
	Stream      StreamConfig     `yaml:"stream"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type EventStoreConfig struct {
	Path            string `yaml:"path"`
	RetentionMode   string `yaml:"retention_mode"`
	RetentionDays   int    `yaml:"retention_days"`
	MaxConversions  int    `yaml:"max_conversions"`
	VacuumOnStart   bool   `yaml:"vacuum_on_start"`
	PruneIntervalMS int    `yaml:"prune_interval_ms"` // 0 prunes only at startup
}

// ToneConfig holds the generator defaults.
type ToneConfig struct {
	SampleRate      int     `yaml:"sample_rate"`
	Frequency       float64 `yaml:"frequency"`
	Amplitude       float64 `yaml:"amplitude"`
	ChunkDurationMS int     `yaml:"chunk_duration_ms"`
}

type PlaybackConfig struct {
	Backend  string `yaml:"backend"` // oto, exec
	Command  string `yaml:"command"`
	BufferMS int    `yaml:"buffer_ms"`
}

type RenderConfig struct {
	OutputDir         string `yaml:"output_dir"`
	DefaultDurationMS int    `yaml:"default_duration_ms"`
	MaxDurationMS     int    `yaml:"max_duration_ms"`
}

type TTSConfig struct {
	Enabled   bool `yaml:"enabled"`
	TimeoutMS int  `yaml:"timeout_ms"`
}

type StreamConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Bitrate   int      `yaml:"bitrate"`
	ICEServer []string `yaml:"ice_servers"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-morse",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "morse-node-1",
			Role:              "tts",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		EventStore: EventStoreConfig{
			Path:            "./data/morse-conversions.db",
			RetentionMode:   "persistent",
			RetentionDays:   30,
			MaxConversions:  10000,
			PruneIntervalMS: 3600000,
		},
		Tone: ToneConfig{
			SampleRate:      44100,
			Frequency:       440,
			Amplitude:       0.5,
			ChunkDurationMS: 400,
		},
		Playback: PlaybackConfig{
			Backend:  "oto",
			BufferMS: 100,
		},
		Render: RenderConfig{
			OutputDir:         ".",
			DefaultDurationMS: 0,
			MaxDurationMS:     600000,
		},
		TTS: TTSConfig{
			Enabled:   true,
			TimeoutMS: 45000,
		},
		Stream: StreamConfig{
			Enabled: true,
			Bitrate: 32000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "MORSE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MORSE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MORSE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MORSE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MORSE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MORSE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MORSE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "MORSE_TELEMETRY_TRACE_STDOUT")
	overrideBool(&cfg.Bus.Enabled, "MORSE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "MORSE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MORSE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "MORSE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "MORSE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MORSE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MORSE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MORSE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MORSE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MORSE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "MORSE_NODE_ID")
	overrideString(&cfg.Node.Role, "MORSE_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "MORSE_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "MORSE_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "MORSE_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "MORSE_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "MORSE_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxConversions, "MORSE_EVENT_STORE_MAX_CONVERSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "MORSE_EVENT_STORE_VACUUM_ON_START")
	overrideInt(&cfg.EventStore.PruneIntervalMS, "MORSE_EVENT_STORE_PRUNE_INTERVAL_MS")
	overrideInt(&cfg.Tone.SampleRate, "MORSE_TONE_SAMPLE_RATE")
	overrideFloat(&cfg.Tone.Frequency, "MORSE_TONE_FREQUENCY")
	overrideFloat(&cfg.Tone.Amplitude, "MORSE_TONE_AMPLITUDE")
	overrideInt(&cfg.Tone.ChunkDurationMS, "MORSE_TONE_CHUNK_DURATION_MS")
	overrideString(&cfg.Playback.Backend, "MORSE_PLAYBACK_BACKEND")
	overrideString(&cfg.Playback.Command, "MORSE_PLAYBACK_COMMAND")
	overrideInt(&cfg.Playback.BufferMS, "MORSE_PLAYBACK_BUFFER_MS")
	overrideString(&cfg.Render.OutputDir, "MORSE_RENDER_OUTPUT_DIR")
	overrideInt(&cfg.Render.DefaultDurationMS, "MORSE_RENDER_DEFAULT_DURATION_MS")
	overrideInt(&cfg.Render.MaxDurationMS, "MORSE_RENDER_MAX_DURATION_MS")
	overrideBool(&cfg.TTS.Enabled, "MORSE_TTS_ENABLED")
	overrideInt(&cfg.TTS.TimeoutMS, "MORSE_TTS_TIMEOUT_MS")
	overrideBool(&cfg.Stream.Enabled, "MORSE_STREAM_ENABLED")
	overrideInt(&cfg.Stream.Bitrate, "MORSE_STREAM_BITRATE")
	overrideStringSlice(&cfg.Stream.ICEServer, "MORSE_STREAM_ICE_SERVERS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Tone.SampleRate < synth.MinSampleRate || cfg.Tone.SampleRate > synth.MaxSampleRate {
		return fmt.Errorf("tone.sample_rate must be between %d and %d", synth.MinSampleRate, synth.MaxSampleRate)
	}
	if cfg.Tone.Frequency <= 0 {
		return errors.New("tone.frequency must be positive")
	}
	if cfg.Tone.Amplitude <= 0 || cfg.Tone.Amplitude > 1 {
		return errors.New("tone.amplitude must be in (0,1]")
	}
	if cfg.Tone.ChunkDurationMS <= 0 {
		return errors.New("tone.chunk_duration_ms must be positive")
	}
	switch cfg.Playback.Backend {
	case "oto", "exec":
	default:
		return errors.New("playback.backend must be one of oto|exec")
	}
	if cfg.Render.DefaultDurationMS < 0 {
		return errors.New("render.default_duration_ms must be >= 0")
	}
	if cfg.Render.MaxDurationMS <= 0 {
		return errors.New("render.max_duration_ms must be positive")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.EventStore.RetentionMode == "persistent" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.EventStore.PruneIntervalMS < 0 {
		return errors.New("event_store.prune_interval_ms must be >= 0")
	}
	if cfg.TTS.Enabled && cfg.TTS.TimeoutMS <= 0 {
		return errors.New("tts.timeout_ms must be positive")
	}
	if cfg.Stream.Enabled && cfg.Stream.Bitrate <= 0 {
		return errors.New("stream.bitrate must be positive")
	}
	return nil
}
