// Package config handles voice loop configuration
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Provider names accepted by LLM_PROVIDER and STT_PROVIDER.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderGoogle = "google"
)

type Config struct {
	Env      string
	LogLevel string

	HTTPAddr      string
	GRPCAddr      string
	ProxyGRPCAddr string
	CORSOrigins   []string

	AutoListen         bool
	SampleRate         int
	InputDevice        int
	ListenTimeout      time.Duration
	ErrorRecoveryDelay time.Duration
	VADSilence         time.Duration
	VADMinSpeech       time.Duration
	ChunkMinLength     int
	TTSConcurrency     int

	LLMProvider     string
	STTProvider     string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIChatModel string
	OpenAISTTModel  string
	GeminiAPIKey    string
	GeminiModel     string
	STTLanguage     string
	SystemPrompt    string

	TTSModel        string
	TTSVoice        string
	TTSFormat       string
	TTSSampleRate   int
	TTSInstructions string

	MongoURI      string
	MongoDatabase string
	AudioDir      string

	// Initial values for the per-turn settings snapshot.
	Settings Settings
}

// Load reads an optional .env file and then the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env:      getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		HTTPAddr:      getEnv("HTTP_ADDR", ":8765"),
		GRPCAddr:      getEnv("GRPC_ADDR", ":8766"),
		ProxyGRPCAddr: getEnv("PROXY_GRPC_ADDR", ""),
		CORSOrigins:   getEnvList("CORS_ORIGINS", []string{"http://localhost:5173"}),

		AutoListen:         getEnvBool("AUTO_LISTEN", true),
		SampleRate:         getEnvInt("SAMPLE_RATE", 16000),
		InputDevice:        getEnvInt("INPUT_DEVICE", -1),
		ListenTimeout:      getEnvDuration("LISTEN_TIMEOUT", 60*time.Second),
		ErrorRecoveryDelay: getEnvDuration("ERROR_RECOVERY_DELAY", 1500*time.Millisecond),
		VADSilence:         getEnvDuration("VAD_SILENCE_DURATION", 800*time.Millisecond),
		VADMinSpeech:       getEnvDuration("VAD_MIN_SPEECH", 250*time.Millisecond),
		ChunkMinLength:     getEnvInt("CHUNK_MIN_LENGTH", 60),
		TTSConcurrency:     getEnvInt("TTS_CONCURRENCY", 3),

		LLMProvider:     strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI)),
		STTProvider:     strings.ToLower(getEnv("STT_PROVIDER", ProviderOpenAI)),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		OpenAIChatModel: getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		OpenAISTTModel:  getEnv("OPENAI_STT_MODEL", "whisper-1"),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		STTLanguage:     getEnv("STT_LANGUAGE", "en-US"),
		SystemPrompt:    getEnv("SYSTEM_PROMPT", "You are a helpful voice assistant. Answer briefly in plain spoken sentences."),

		TTSModel:        getEnv("TTS_MODEL", "tts-1"),
		TTSVoice:        getEnv("TTS_VOICE", "alloy"),
		TTSFormat:       getEnv("TTS_FORMAT", "pcm"),
		TTSSampleRate:   getEnvInt("TTS_SAMPLE_RATE", 24000),
		TTSInstructions: getEnv("TTS_INSTRUCTIONS", ""),

		MongoURI:      getEnv("MONGODB_URI", ""),
		MongoDatabase: getEnv("MONGODB_DATABASE", "handsfree"),
		AudioDir:      getEnv("AUDIO_DIR", "data/audio"),

		Settings: Settings{
			MinChunkScale:  getEnvFloat("CHUNK_MIN_SCALE", 1.0),
			MaxChunkLength: getEnvInt("CHUNK_MAX_LENGTH", 250),
			PlaybackSpeed:  getEnvFloat("PLAYBACK_SPEED", 1.0),
			VADThreshold:   getEnvFloat("VAD_THRESHOLD", 0.02),
			Cooldown:       getEnvDuration("COOLDOWN_DURATION", 700*time.Millisecond),
		},
	}
}

// Validate checks ranges and provider names.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.ListenTimeout <= 0 {
		return fmt.Errorf("LISTEN_TIMEOUT must be positive, got %s", c.ListenTimeout)
	}
	if c.ChunkMinLength <= 0 {
		return fmt.Errorf("CHUNK_MIN_LENGTH must be positive, got %d", c.ChunkMinLength)
	}
	if c.TTSConcurrency <= 0 {
		return fmt.Errorf("TTS_CONCURRENCY must be positive, got %d", c.TTSConcurrency)
	}
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	switch c.STTProvider {
	case ProviderOpenAI, ProviderGoogle:
	default:
		return fmt.Errorf("unknown STT_PROVIDER %q", c.STTProvider)
	}
	if c.LLMProvider == ProviderGemini && c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
	}
	return c.Settings.Validate()
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

// getEnvDuration accepts Go durations ("750ms") or plain seconds ("1.5").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
