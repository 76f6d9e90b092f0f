// Package config loads the daemon configuration from flags, an optional
// kina.yaml, KINA_* environment variables and a dotenv file.
package config

import (
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel string `mapstructure:"log"`
	EnvFile  string `mapstructure:"env"`

	HTTP     HTTPConfig     `mapstructure:"http"`
	IPC      IPCConfig      `mapstructure:"ipc"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Decision DecisionConfig `mapstructure:"decision"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	STT      STTConfig      `mapstructure:"stt"`
	TTS      TTSConfig      `mapstructure:"tts"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Wake     WakeConfig     `mapstructure:"wake"`
	Apps     AppsConfig     `mapstructure:"apps"`
	Actions  ActionsConfig  `mapstructure:"actions"`
	Journal  JournalConfig  `mapstructure:"journal"`
}

type HTTPConfig struct {
	Addr       string        `mapstructure:"addr"` // empty disables the API
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

type IPCConfig struct {
	Socket string `mapstructure:"socket"`
}

type LLMConfig struct {
	Model   string        `mapstructure:"model"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Proxy   string        `mapstructure:"proxy"` // SOCKS5 host:port, empty = direct
	Timeout time.Duration `mapstructure:"timeout"`
}

type DecisionConfig struct {
	Mode      string        `mapstructure:"mode"` // llm, rules, llm+rules
	IdleReset time.Duration `mapstructure:"idle_reset"`
}

type CaptureConfig struct {
	Mode     string        `mapstructure:"mode"` // fixed, auto
	Duration time.Duration `mapstructure:"duration"`

	// KeepDir, when set, receives every captured utterance as a WAV file.
	KeepDir string `mapstructure:"keep_dir"`
}

type STTConfig struct {
	ModelPath string        `mapstructure:"model_path"`
	Language  string        `mapstructure:"language"`
	Threads   int           `mapstructure:"threads"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type TTSConfig struct {
	Provider   string        `mapstructure:"provider"` // xtts, espeak
	URL        string        `mapstructure:"url"`
	SpeakerWav string        `mapstructure:"speaker_wav"`
	Language   string        `mapstructure:"language"`
	Voice      string        `mapstructure:"voice"`
	OutputDir  string        `mapstructure:"output_dir"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type NotifyConfig struct {
	ToneHz       float64       `mapstructure:"tone_hz"`
	ToneDuration time.Duration `mapstructure:"tone_duration"`
	SoundFile    string        `mapstructure:"sound_file"`
	Desktop      bool          `mapstructure:"desktop"`
}

type PlaybackConfig struct {
	Duck       bool    `mapstructure:"duck"`
	DuckFactor float64 `mapstructure:"duck_factor"`
}

type WakeConfig struct {
	Mode    string   `mapstructure:"mode"` // off, phrase, command
	Phrases []string `mapstructure:"phrases"`
	Command []string `mapstructure:"command"` // external detector, one trigger per stdout line
}

type AppsConfig struct {
	IndexPath      string `mapstructure:"index_path"`
	FuzzyThreshold int    `mapstructure:"fuzzy_threshold"`
}

type ActionsConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	SearchURL           string        `mapstructure:"search_url"`
	ScreenshotDir       string        `mapstructure:"screenshot_dir"`
	BrowserReadyTimeout time.Duration `mapstructure:"browser_ready_timeout"`
	BrowserDelay        time.Duration `mapstructure:"browser_delay"`
}

type JournalConfig struct {
	Path string `mapstructure:"path"` // empty disables the journal
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	home, _ := os.UserHomeDir()

	return Config{
		LogLevel: "info",
		EnvFile:  ".env",
		HTTP:     HTTPConfig{Addr: "127.0.0.1:5000", SessionTTL: 30 * time.Minute},
		IPC:      IPCConfig{Socket: "/tmp/kina.sock"},
		LLM: LLMConfig{
			Model:   "gpt-5-nano",
			Timeout: 30 * time.Second,
		},
		Decision: DecisionConfig{
			Mode:      "llm",
			IdleReset: 10 * time.Minute,
		},
		Capture: CaptureConfig{
			Mode:     "fixed",
			Duration: 5 * time.Second,
		},
		STT: STTConfig{
			ModelPath: "third_party/whisper.cpp/models/ggml-base.bin",
			Language:  "auto",
			Timeout:   60 * time.Second,
		},
		TTS: TTSConfig{
			Provider:   "xtts",
			URL:        "http://localhost:5002",
			SpeakerWav: "youtube_voice.wav",
			Language:   "en",
			Voice:      "id",
			OutputDir:  "outputs",
			Timeout:    60 * time.Second,
		},
		Notify: NotifyConfig{
			ToneHz:       880,
			ToneDuration: 200 * time.Millisecond,
			Desktop:      true,
		},
		Playback: PlaybackConfig{
			Duck:       true,
			DuckFactor: 0.3,
		},
		Wake: WakeConfig{
			Mode:    "phrase",
			Phrases: []string{"halo kina", "hello kina"},
		},
		Apps: AppsConfig{
			IndexPath:      "app_index.json",
			FuzzyThreshold: 75,
		},
		Actions: ActionsConfig{
			Timeout:             15 * time.Second,
			SearchURL:           "https://www.google.com/search?q=%s",
			ScreenshotDir:       filepath.Join(home, "Desktop"),
			BrowserReadyTimeout: 10 * time.Second,
			BrowserDelay:        3 * time.Second,
		},
	}
}

// Flags registers the command line flags that override configuration keys.
func Flags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Config file (default ./kina.yaml)")
	fs.StringP("env", "e", ".env", "Env file path")
	fs.StringP("log", "l", "info", "Log level")
	fs.String("http", "127.0.0.1:5000", "HTTP API listen address, empty to disable")
	fs.StringP("proxy", "p", "", "Socks proxy address for the language model")
	fs.String("socket", "/tmp/kina.sock", "Control socket path")
}

// Load merges defaults, the config file, the environment and fs.
func Load(fs *pflag.FlagSet) (Config, error) {
	cfg := Default()

	v := viper.New()
	setDefaults(v, cfg)

	v.SetEnvPrefix("KINA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "+", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for key, flag := range map[string]string{
			"env":        "env",
			"log":        "log",
			"http.addr":  "http",
			"llm.proxy":  "proxy",
			"ipc.socket": "socket",
		} {
			if f := fs.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return cfg, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}

	if envFile := v.GetString("env"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("Failed to load env file", "path", envFile, "err", err)
		}
	}

	configFile := ""
	if fs != nil {
		configFile, _ = fs.GetString("config")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("kina")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}

	return cfg, cfg.Validate()
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("log", cfg.LogLevel)
	v.SetDefault("env", cfg.EnvFile)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.session_ttl", cfg.HTTP.SessionTTL)
	v.SetDefault("ipc.socket", cfg.IPC.Socket)
	v.SetDefault("llm.model", cfg.LLM.Model)
	v.SetDefault("llm.base_url", cfg.LLM.BaseURL)
	v.SetDefault("llm.api_key", cfg.LLM.APIKey)
	v.SetDefault("llm.proxy", cfg.LLM.Proxy)
	v.SetDefault("llm.timeout", cfg.LLM.Timeout)
	v.SetDefault("decision.mode", cfg.Decision.Mode)
	v.SetDefault("decision.idle_reset", cfg.Decision.IdleReset)
	v.SetDefault("capture.mode", cfg.Capture.Mode)
	v.SetDefault("capture.duration", cfg.Capture.Duration)
	v.SetDefault("capture.keep_dir", cfg.Capture.KeepDir)
	v.SetDefault("stt.model_path", cfg.STT.ModelPath)
	v.SetDefault("stt.language", cfg.STT.Language)
	v.SetDefault("stt.threads", cfg.STT.Threads)
	v.SetDefault("stt.timeout", cfg.STT.Timeout)
	v.SetDefault("tts.provider", cfg.TTS.Provider)
	v.SetDefault("tts.url", cfg.TTS.URL)
	v.SetDefault("tts.speaker_wav", cfg.TTS.SpeakerWav)
	v.SetDefault("tts.language", cfg.TTS.Language)
	v.SetDefault("tts.voice", cfg.TTS.Voice)
	v.SetDefault("tts.output_dir", cfg.TTS.OutputDir)
	v.SetDefault("tts.timeout", cfg.TTS.Timeout)
	v.SetDefault("notify.tone_hz", cfg.Notify.ToneHz)
	v.SetDefault("notify.tone_duration", cfg.Notify.ToneDuration)
	v.SetDefault("notify.sound_file", cfg.Notify.SoundFile)
	v.SetDefault("notify.desktop", cfg.Notify.Desktop)
	v.SetDefault("playback.duck", cfg.Playback.Duck)
	v.SetDefault("playback.duck_factor", cfg.Playback.DuckFactor)
	v.SetDefault("wake.mode", cfg.Wake.Mode)
	v.SetDefault("wake.phrases", cfg.Wake.Phrases)
	v.SetDefault("wake.command", cfg.Wake.Command)
	v.SetDefault("apps.index_path", cfg.Apps.IndexPath)
	v.SetDefault("apps.fuzzy_threshold", cfg.Apps.FuzzyThreshold)
	v.SetDefault("actions.timeout", cfg.Actions.Timeout)
	v.SetDefault("actions.search_url", cfg.Actions.SearchURL)
	v.SetDefault("actions.screenshot_dir", cfg.Actions.ScreenshotDir)
	v.SetDefault("actions.browser_ready_timeout", cfg.Actions.BrowserReadyTimeout)
	v.SetDefault("actions.browser_delay", cfg.Actions.BrowserDelay)
	v.SetDefault("journal.path", cfg.Journal.Path)
}

func (c Config) Validate() error {
	if c.Apps.FuzzyThreshold < 1 || c.Apps.FuzzyThreshold > 100 {
		return fmt.Errorf("apps.fuzzy_threshold must be within 1..100, got %d", c.Apps.FuzzyThreshold)
	}
	if c.Capture.Duration <= 0 {
		return fmt.Errorf("capture.duration must be positive")
	}
	switch c.Capture.Mode {
	case "fixed", "auto":
	default:
		return fmt.Errorf("capture.mode must be fixed or auto, got %q", c.Capture.Mode)
	}
	switch c.Decision.Mode {
	case "llm", "rules", "llm+rules":
	default:
		return fmt.Errorf("decision.mode must be llm, rules or llm+rules, got %q", c.Decision.Mode)
	}
	switch c.TTS.Provider {
	case "xtts", "espeak":
	default:
		return fmt.Errorf("tts.provider must be xtts or espeak, got %q", c.TTS.Provider)
	}
	switch c.Wake.Mode {
	case "off", "phrase":
	case "command":
		if len(c.Wake.Command) == 0 {
			return fmt.Errorf("wake.command is required when wake.mode is command")
		}
	default:
		return fmt.Errorf("wake.mode must be off, phrase or command, got %q", c.Wake.Mode)
	}
	if c.Playback.DuckFactor < 0 || c.Playback.DuckFactor > 1 {
		return fmt.Errorf("playback.duck_factor must be within 0..1")
	}
	if !strings.Contains(c.Actions.SearchURL, "%s") {
		return fmt.Errorf("actions.search_url must contain %%s")
	}
	return nil
}

// LogLevel maps a level name to slog, defaulting to info.
func LogLevel(name string) log.Level {
	switch strings.ToLower(name) {
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}
