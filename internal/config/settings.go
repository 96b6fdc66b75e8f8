package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xpanvictor/migoto-coach/pkg/io/stt/vad"
)

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
}

// DSN builds a MySQL data source name.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.Username, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Pass          string `mapstructure:"pass"`
	TranscriptTTL int64  `mapstructure:"transcript_ttl_hours"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	SessionTimeout  time.Duration `mapstructure:"session_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	// Optional disables token checks; development only.
	Optional bool `mapstructure:"optional"`
}

// ChatServiceConfig points at the remote dialogue orchestration service.
type ChatServiceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	StreamTimeout  time.Duration `mapstructure:"stream_timeout"`
}

type VoiceConfig struct {
	STTBackend      string `mapstructure:"stt_backend"` // "whisper" or "openai"
	STTURL          string `mapstructure:"stt_url"`
	OpenAIKey       string `mapstructure:"openai_api_key"`
	OpenAIBaseURL   string `mapstructure:"openai_base_url"`
	SampleRate      int32  `mapstructure:"sample_rate"`
	CaptureBytes    int    `mapstructure:"capture_buffer_bytes"`
	DefaultLanguage string `mapstructure:"default_language"`

	VADMode string     `mapstructure:"vad_mode"` // "off", "energy" or "silero"
	VADURL  string     `mapstructure:"vad_url"`
	VAD     vad.Config `mapstructure:"vad"`
}

type Settings struct {
	Server   ServerConfig      `mapstructure:"server"`
	DB       DBConfig          `mapstructure:"database"`
	Redis    RedisConfig       `mapstructure:"redis"`
	Auth     AuthConfig        `mapstructure:"auth"`
	Chat     ChatServiceConfig `mapstructure:"chat"`
	Voice    VoiceConfig       `mapstructure:"voice"`
	Env      string            `mapstructure:"env"`
	Debug    bool              `mapstructure:"debug"`
	LogLevel string            `mapstructure:"log_level"`
}

// Validate reports settings the service cannot start without.
func (s *Settings) Validate() error {
	if s.Chat.BaseURL == "" {
		return errors.New("chat.base_url is required")
	}
	switch s.Voice.STTBackend {
	case "whisper":
		if s.Voice.STTURL == "" {
			return errors.New("voice.stt_url is required for the whisper backend")
		}
	case "openai":
		if s.Voice.OpenAIKey == "" {
			return errors.New("voice.openai_api_key is required for the openai backend")
		}
	default:
		return fmt.Errorf("unknown voice.stt_backend %q", s.Voice.STTBackend)
	}
	switch s.Voice.VADMode {
	case "off", "energy":
	case "silero":
		if s.Voice.VADURL == "" {
			return errors.New("voice.vad_url is required for the silero gate")
		}
	default:
		return fmt.Errorf("unknown voice.vad_mode %q", s.Voice.VADMode)
	}
	if !s.Auth.Optional && s.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required unless auth.optional is set")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.session_timeout", 30*time.Minute)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("redis.transcript_ttl_hours", 72)
	v.SetDefault("chat.request_timeout", 20*time.Second)
	v.SetDefault("chat.stream_timeout", 45*time.Second)
	v.SetDefault("voice.stt_backend", "whisper")
	v.SetDefault("voice.sample_rate", 16000)
	v.SetDefault("voice.capture_buffer_bytes", 4<<20)
	v.SetDefault("voice.default_language", "en")
	v.SetDefault("voice.vad_mode", "energy")
	vd := vad.DefaultConfig()
	v.SetDefault("voice.vad.threshold", vd.Threshold)
	v.SetDefault("voice.vad.energy_threshold", vd.EnergyThreshold)
	v.SetDefault("voice.vad.min_speech_ms", vd.MinSpeechMs)
	v.SetDefault("voice.vad.min_silence_ms", vd.MinSilenceMs)
	v.SetDefault("log_level", "info")
}

// keys without a default are bound explicitly so Unmarshal sees COACH_* values
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"chat.base_url", "auth.jwt_secret", "auth.optional", "voice.stt_url",
		"voice.openai_api_key", "voice.openai_base_url", "voice.vad_url", "database.host",
		"database.username", "database.password", "database.name", "redis.addr", "redis.pass",
		"debug", "env",
	} {
		_ = v.BindEnv(key)
	}
}

func Load() (*Settings, error) {
	return LoadFrom(viper.New(), ".")
}

// LoadFrom reads config_<env>.yaml from dir into v. A missing file is not an
// error: defaults and COACH_* environment variables still apply.
func LoadFrom(v *viper.Viper, dir string) (*Settings, error) {
	setDefaults(v)
	v.SetEnvPrefix("coach")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	v.SetConfigName("config_" + genEnv(v))
	v.AddConfigPath(dir)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &settings, nil
}

func genEnv(v *viper.Viper) string {
	env := v.GetString("ENV")
	if env == "" {
		return "dev"
	}
	return env
}
