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
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	StdoutTraces   bool   `yaml:"stdout_traces"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	AppName     string          `yaml:"app_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Journal     JournalConfig   `yaml:"journal"`
	Audio       AudioConfig     `yaml:"audio"`
	STT         STTConfig       `yaml:"stt"`
	TTS         TTSConfig       `yaml:"tts"`
	Voices      VoicesConfig    `yaml:"voices"`
	Hotkeys     HotkeyConfig    `yaml:"hotkeys"`
	Session     SessionConfig   `yaml:"session"`
	Retry       RetryConfig     `yaml:"retry"`
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

type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// AudioConfig selects the capture source. Mode is one of portaudio, wav or mock.
type AudioConfig struct {
	Mode            string `yaml:"mode"`
	WAVPath         string `yaml:"wav_path"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FrameDurationMS int    `yaml:"frame_duration_ms"`
}

type STTConfig struct {
	Mode            string `yaml:"mode"` // google, exec, mock
	Command         string `yaml:"command"`
	ModelPath       string `yaml:"model_path"`
	Model           string `yaml:"model"`
	Language        string `yaml:"language"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
	InterimResults  bool   `yaml:"interim_results"`
	PartialEveryMS  int    `yaml:"partial_every_ms"`
}

type TTSConfig struct {
	Mode            string `yaml:"mode"` // exec, google, mock
	Command         string `yaml:"command"`
	VoicesCommand   string `yaml:"voices_command"`
	Voice           string `yaml:"voice"`
	Language        string `yaml:"language"`
	CredentialsFile string `yaml:"credentials_file"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	Player          string `yaml:"player"` // beep, discard
	TimeoutMS       int    `yaml:"timeout_ms"`
}

type VoicesConfig struct {
	File string `yaml:"file"`
}

type HotkeyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Mute    string `yaml:"mute"`
	Listen  string `yaml:"listen"`
	Reset   string `yaml:"reset"`
}

type SessionConfig struct {
	BudgetMS       int  `yaml:"budget_ms"`
	StartListening bool `yaml:"start_listening"`
	StartMuted     bool `yaml:"start_muted"`
}

type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	InitialMS   int `yaml:"initial_ms"`
	MaxMS       int `yaml:"max_ms"`
}

func Default() Config {
	return Config{
		AppName:     "loqa-parrot",
		Environment: "desktop",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    8087,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "warn",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: "127.0.0.1:9097",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Journal: JournalConfig{
			Path:          "./data/parrot-journal.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Audio: AudioConfig{
			Mode:            "portaudio",
			SampleRate:      16000,
			Channels:        1,
			FrameDurationMS: 100,
		},
		STT: STTConfig{
			Mode:           "google",
			Language:       "en-US",
			InterimResults: true,
			PartialEveryMS: 800,
		},
		TTS: TTSConfig{
			Mode:       "exec",
			Command:    "espeak-ng-json",
			SampleRate: 22050,
			Channels:   1,
			Player:     "beep",
			TimeoutMS:  45000,
		},
		Voices: VoicesConfig{
			File: "voices.txt",
		},
		Hotkeys: HotkeyConfig{
			Enabled: true,
			Mute:    "z",
			Listen:  "q",
			Reset:   "r",
		},
		Session: SessionConfig{
			BudgetMS:       55000,
			StartListening: true,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			InitialMS:   500,
			MaxMS:       8000,
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
	overrideString(&cfg.AppName, "LOQA_PARROT_APP_NAME")
	overrideString(&cfg.Environment, "LOQA_PARROT_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "LOQA_PARROT_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "LOQA_PARROT_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_PARROT_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_PARROT_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_PARROT_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_PARROT_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "LOQA_PARROT_TELEMETRY_STDOUT_TRACES")
	overrideBool(&cfg.Bus.Enabled, "LOQA_PARROT_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_PARROT_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_PARROT_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_PARROT_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_PARROT_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_PARROT_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_PARROT_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_PARROT_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_PARROT_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Journal.Path, "LOQA_PARROT_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "LOQA_PARROT_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "LOQA_PARROT_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxSessions, "LOQA_PARROT_JOURNAL_MAX_SESSIONS")
	overrideBool(&cfg.Journal.VacuumOnStart, "LOQA_PARROT_JOURNAL_VACUUM_ON_START")
	overrideString(&cfg.Audio.Mode, "LOQA_PARROT_AUDIO_MODE")
	overrideString(&cfg.Audio.WAVPath, "LOQA_PARROT_AUDIO_WAV_PATH")
	overrideInt(&cfg.Audio.SampleRate, "LOQA_PARROT_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.FrameDurationMS, "LOQA_PARROT_AUDIO_FRAME_DURATION_MS")
	overrideString(&cfg.STT.Mode, "LOQA_PARROT_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_PARROT_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_PARROT_STT_MODEL_PATH")
	overrideString(&cfg.STT.Model, "LOQA_PARROT_STT_MODEL")
	overrideString(&cfg.STT.Language, "LOQA_PARROT_STT_LANGUAGE")
	overrideString(&cfg.STT.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	overrideString(&cfg.STT.CredentialsFile, "LOQA_PARROT_STT_CREDENTIALS_FILE")
	overrideString(&cfg.STT.Endpoint, "LOQA_PARROT_STT_ENDPOINT")
	overrideBool(&cfg.STT.InterimResults, "LOQA_PARROT_STT_INTERIM_RESULTS")
	overrideInt(&cfg.STT.PartialEveryMS, "LOQA_PARROT_STT_PARTIAL_EVERY_MS")
	overrideString(&cfg.TTS.Mode, "LOQA_PARROT_TTS_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_PARROT_TTS_COMMAND")
	overrideString(&cfg.TTS.VoicesCommand, "LOQA_PARROT_TTS_VOICES_COMMAND")
	overrideString(&cfg.TTS.Voice, "LOQA_PARROT_TTS_VOICE")
	overrideString(&cfg.TTS.Language, "LOQA_PARROT_TTS_LANGUAGE")
	overrideString(&cfg.TTS.CredentialsFile, "LOQA_PARROT_TTS_CREDENTIALS_FILE")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_PARROT_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "LOQA_PARROT_TTS_CHANNELS")
	overrideString(&cfg.TTS.Player, "LOQA_PARROT_TTS_PLAYER")
	overrideString(&cfg.Voices.File, "LOQA_PARROT_VOICES_FILE")
	overrideBool(&cfg.Hotkeys.Enabled, "LOQA_PARROT_HOTKEYS_ENABLED")
	overrideInt(&cfg.Session.BudgetMS, "LOQA_PARROT_SESSION_BUDGET_MS")
	overrideBool(&cfg.Session.StartListening, "LOQA_PARROT_SESSION_START_LISTENING")
	overrideBool(&cfg.Session.StartMuted, "LOQA_PARROT_SESSION_START_MUTED")
	overrideInt(&cfg.Retry.MaxAttempts, "LOQA_PARROT_RETRY_MAX_ATTEMPTS")
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

func validate(cfg Config) error {
	if cfg.AppName == "" {
		return errors.New("app_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
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
	switch cfg.Journal.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Journal.RetentionMode != "ephemeral" && cfg.Journal.Path == "" {
		return errors.New("journal.path must not be empty")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	switch cfg.Audio.Mode {
	case "portaudio", "mock":
	case "wav":
		if cfg.Audio.WAVPath == "" {
			return errors.New("audio.wav_path must be set when mode=wav")
		}
	default:
		return errors.New("audio.mode must be one of portaudio|wav|mock")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels != 1 {
		return errors.New("audio.channels must be 1")
	}
	if cfg.Audio.FrameDurationMS <= 0 {
		return errors.New("audio.frame_duration_ms must be positive")
	}
	switch cfg.STT.Mode {
	case "google", "mock":
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	default:
		return errors.New("stt.mode must be one of google|exec|mock")
	}
	if cfg.STT.Language == "" {
		return errors.New("stt.language must not be empty")
	}
	switch cfg.TTS.Mode {
	case "google", "mock":
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	default:
		return errors.New("tts.mode must be one of exec|google|mock")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	switch cfg.TTS.Player {
	case "beep", "discard":
	default:
		return errors.New("tts.player must be one of beep|discard")
	}
	if cfg.Voices.File == "" {
		return errors.New("voices.file must not be empty")
	}
	if cfg.Hotkeys.Enabled {
		for name, key := range map[string]string{"mute": cfg.Hotkeys.Mute, "listen": cfg.Hotkeys.Listen, "reset": cfg.Hotkeys.Reset} {
			if len([]rune(key)) != 1 {
				return fmt.Errorf("hotkeys.%s must be a single character", name)
			}
		}
	}
	if cfg.Session.BudgetMS <= 0 {
		return errors.New("session.budget_ms must be positive")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	return nil
}
