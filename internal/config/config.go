package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	Traces       bool   `yaml:"traces"`
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
	EventStore  EventStoreConfig `yaml:"event_store"`
	STT         STTConfig        `yaml:"stt"`
	TTS         TTSConfig        `yaml:"tts"`
	Grading     GradingConfig    `yaml:"grading"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type STTConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	ModelPath  string `yaml:"model_path"`
	Language   string `yaml:"language"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

// GradingConfig holds the dictation defaults. Scales can still be changed
// between copies through the control subject.
type GradingConfig struct {
	Scale           float64 `yaml:"scale"`
	ConversionScale float64 `yaml:"conversion_scale"`
	Locale          string  `yaml:"locale"`
	Voice           string  `yaml:"voice"`
	Conjunction     string  `yaml:"conjunction"`
	OKBehavior      string  `yaml:"ok_behavior"`
	Target          string  `yaml:"target"`
	QueueSize       int     `yaml:"queue_size"`
}

func Default() Config {
	return Config{
		RuntimeName: "totali",
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
			Embedded:       true,
			Host:           "127.0.0.1",
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/totali-events.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		STT: STTConfig{
			Enabled:    true,
			Mode:       "mock",
			Language:   "fr-FR",
			SampleRate: 16000,
			Channels:   1,
			TimeoutMS:  45000,
		},
		TTS: TTSConfig{
			Enabled:    true,
			Mode:       "mock",
			SampleRate: 22050,
			Channels:   1,
			TimeoutMS:  45000,
		},
		Grading: GradingConfig{
			Scale:       20,
			Locale:      "fr-FR",
			Conjunction: "plus",
			OKBehavior:  "finalize-and-stop",
			Target:      "default",
			QueueSize:   64,
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
	overrideString(&cfg.RuntimeName, "TOTALI_RUNTIME_NAME")
	overrideString(&cfg.Environment, "TOTALI_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "TOTALI_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "TOTALI_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "TOTALI_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "TOTALI_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "TOTALI_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.Traces, "TOTALI_TELEMETRY_TRACES")
	overrideBool(&cfg.Bus.Embedded, "TOTALI_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "TOTALI_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "TOTALI_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "TOTALI_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "TOTALI_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "TOTALI_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "TOTALI_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "TOTALI_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "TOTALI_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "TOTALI_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "TOTALI_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "TOTALI_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "TOTALI_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "TOTALI_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.STT.Enabled, "TOTALI_STT_ENABLED")
	overrideString(&cfg.STT.Mode, "TOTALI_STT_MODE")
	overrideString(&cfg.STT.Command, "TOTALI_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "TOTALI_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "TOTALI_STT_LANGUAGE")
	overrideInt(&cfg.STT.SampleRate, "TOTALI_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "TOTALI_STT_CHANNELS")
	overrideInt(&cfg.STT.TimeoutMS, "TOTALI_STT_TIMEOUT_MS")
	overrideBool(&cfg.TTS.Enabled, "TOTALI_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "TOTALI_TTS_MODE")
	overrideString(&cfg.TTS.Command, "TOTALI_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "TOTALI_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "TOTALI_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "TOTALI_TTS_CHANNELS")
	overrideInt(&cfg.TTS.TimeoutMS, "TOTALI_TTS_TIMEOUT_MS")
	overrideFloat(&cfg.Grading.Scale, "TOTALI_GRADING_SCALE")
	overrideFloat(&cfg.Grading.ConversionScale, "TOTALI_GRADING_CONVERSION_SCALE")
	overrideString(&cfg.Grading.Locale, "TOTALI_GRADING_LOCALE")
	overrideString(&cfg.Grading.Voice, "TOTALI_GRADING_VOICE")
	overrideString(&cfg.Grading.Conjunction, "TOTALI_GRADING_CONJUNCTION")
	overrideString(&cfg.Grading.OKBehavior, "TOTALI_GRADING_OK_BEHAVIOR")
	overrideString(&cfg.Grading.Target, "TOTALI_GRADING_TARGET")
	overrideInt(&cfg.Grading.QueueSize, "TOTALI_GRADING_QUEUE_SIZE")
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
		if parsed, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64); err == nil {
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
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.STT.Enabled {
		switch cfg.STT.Mode {
		case "mock", "exec":
		default:
			return errors.New("stt.mode must be one of mock|exec")
		}
		if cfg.STT.SampleRate <= 0 {
			return errors.New("stt.sample_rate must be positive")
		}
		if cfg.STT.Channels <= 0 {
			return errors.New("stt.channels must be positive")
		}
		if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "exec":
		default:
			return errors.New("tts.mode must be one of mock|exec")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
		if cfg.TTS.Channels <= 0 {
			return errors.New("tts.channels must be positive")
		}
	}
	if !(cfg.Grading.Scale > 0) {
		return errors.New("grading.scale must be a positive number")
	}
	if cfg.Grading.ConversionScale < 0 {
		return errors.New("grading.conversion_scale must be >= 0 (0 disables conversion)")
	}
	switch cfg.Grading.OKBehavior {
	case "finalize-and-stop", "finalize-and-continue":
	default:
		return errors.New("grading.ok_behavior must be one of finalize-and-stop|finalize-and-continue")
	}
	if cfg.Grading.QueueSize <= 0 {
		return errors.New("grading.queue_size must be >= 1")
	}
	return nil
}
