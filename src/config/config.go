package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	DefaultAPIKeyPath     = "/run/secrets/api_keys/openrouter"
	APIKeyPathEnvVar      = "OPENROUTER_API_KEY_FILE"
	ConfigPathEnvVar      = "SCREEN_OCR_TRANSLATE"
	DefaultOllamaURL      = "http://localhost:11434"
	DefaultTranslateModel = "lauchacarro/qwen2.5-translator:latest"
	DefaultRegionStore    = "region_config.json"
	DefaultTesseractLang  = "jpn+jpn_vert"

	BackendVision    = "vision"
	BackendTesseract = "tesseract"
)

type LoadOptions struct {
	APIKeyPathOverride     string
	OllamaURLOverride      string
	TranslateModelOverride string
	ChunkMaxLengthOverride int
}

type Config struct {
	OCRBackend    string `validate:"oneof=vision tesseract"`
	APIKey        string `validate:"required_if=OCRBackend vision"`
	APIKeyPath    string
	OCRModel      string `validate:"required_if=OCRBackend vision"`
	Providers     []string
	TesseractLang string `validate:"required_if=OCRBackend tesseract"`

	OllamaURL      string `validate:"required,url"`
	TranslateModel string `validate:"required"`

	ChunkMaxLength       int           `validate:"gt=0"`
	TranslationCacheSize int           `validate:"gte=0"`
	OCRDeadline          time.Duration `validate:"gt=0"`
	TranslateDeadline    time.Duration `validate:"gt=0"`
	WatchInterval        time.Duration `validate:"gte=100ms"`

	RegionStorePath   string `validate:"required"`
	EnableFileLogging bool
	SaveDebugImages   bool
}

var validate = validator.New()

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Sources in priority order:
	// 1) .env next to the executable
	// 2) otherwise the file named by SCREEN_OCR_TRANSLATE
	envPath := resolveEnvPath()
	dotenvValues := readDotenvValues(envPath)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}

	var providers []string
	if providersStr := os.Getenv("PROVIDERS"); providersStr != "" {
		for _, provider := range strings.Split(providersStr, ",") {
			if trimmed := strings.TrimSpace(provider); trimmed != "" {
				providers = append(providers, trimmed)
			}
		}
	}

	apiKeyPath := resolveAPIKeyPath(opts, dotenvValues)

	cfg := &Config{
		OCRBackend:           resolveBackend(os.Getenv("OCR_BACKEND")),
		APIKey:               resolveAPIKey(apiKeyPath),
		APIKeyPath:           apiKeyPath,
		OCRModel:             getEnvWithDefault("OCR_MODEL", os.Getenv("MODEL")),
		Providers:            providers,
		TesseractLang:        getEnvWithDefault("TESSERACT_LANG", DefaultTesseractLang),
		OllamaURL:            firstNonEmpty(opts.OllamaURLOverride, os.Getenv("OLLAMA_URL"), DefaultOllamaURL),
		TranslateModel:       firstNonEmpty(opts.TranslateModelOverride, os.Getenv("TRANSLATE_MODEL"), DefaultTranslateModel),
		ChunkMaxLength:       getPositiveInt("CHUNK_MAX_LENGTH", 500),
		TranslationCacheSize: getNonNegativeInt("TRANSLATION_CACHE_SIZE", 256),
		OCRDeadline:          time.Duration(getPositiveInt("OCR_DEADLINE_SEC", 20)) * time.Second,
		TranslateDeadline:    time.Duration(getPositiveInt("TRANSLATE_DEADLINE_SEC", 60)) * time.Second,
		WatchInterval:        time.Duration(getPositiveInt("WATCH_INTERVAL_MS", 2000)) * time.Millisecond,
		RegionStorePath:      getEnvWithDefault("REGION_STORE", DefaultRegionStore),
		EnableFileLogging:    strings.ToLower(os.Getenv("ENABLE_FILE_LOGGING")) == "true",
		SaveDebugImages:      os.Getenv("OCR_DEBUG_SAVE_IMAGES") == "true",
	}
	if opts.ChunkMaxLengthOverride > 0 {
		cfg.ChunkMaxLength = opts.ChunkMaxLengthOverride
	}

	return cfg, nil
}

// Validate checks the settings needed by the configured OCR backend and translator.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ValidateTranslation checks only the settings the translator needs, for
// commands that never run OCR.
func (c *Config) ValidateTranslation() error {
	if err := validate.StructPartial(c, "OllamaURL", "TranslateModel", "ChunkMaxLength", "TranslationCacheSize", "TranslateDeadline"); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func resolveEnvPath() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}

	exeEnv := filepath.Join(filepath.Dir(execPath), ".env")
	if _, err := os.Stat(exeEnv); err == nil {
		return exeEnv
	}

	if alt := os.Getenv(ConfigPathEnvVar); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}

func readDotenvValues(envPath string) map[string]string {
	if envPath == "" {
		return map[string]string{}
	}

	values, err := godotenv.Read(envPath)
	if err != nil {
		return map[string]string{}
	}

	return values
}

func resolveAPIKeyPath(opts LoadOptions, dotenvValues map[string]string) string {
	keyPath := DefaultAPIKeyPath

	if envPath := strings.TrimSpace(os.Getenv(APIKeyPathEnvVar)); envPath != "" {
		keyPath = envPath
	}

	if dotenvPath := strings.TrimSpace(dotenvValues[APIKeyPathEnvVar]); dotenvPath != "" {
		keyPath = dotenvPath
	}

	if overridePath := strings.TrimSpace(opts.APIKeyPathOverride); overridePath != "" {
		keyPath = overridePath
	}

	return keyPath
}

func resolveAPIKey(keyPath string) string {
	if data, err := os.ReadFile(keyPath); err == nil {
		if fileKey := strings.TrimSpace(string(data)); fileKey != "" {
			return fileKey
		}
	}

	return os.Getenv("OPENROUTER_API_KEY")
}

func resolveBackend(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case BackendTesseract, "local":
		return BackendTesseract
	default:
		return BackendVision
	}
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getPositiveInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getNonNegativeInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return defaultValue
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
