package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	UploadURLTTL   time.Duration
	DownloadURLTTL time.Duration

	FALKey                 string
	FALBaseURL             string
	FALPhotoToVideoApp     string
	FALVideoTranslationApp string
	ModalKeyID             string
	ModalKeySecret         string
	ModalEmotionEndpoint   string
	ModalAudioEndpoint     string

	CallbackBaseURL string
	CallbackToken   string

	DefaultLocale  string
	GeoIPDBPath    string
	AllowedOrigins []string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int

	WorkerPollInterval time.Duration
	WorkerStaleAfter   time.Duration
	WorkerBatchSize    int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "generation-assets"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		UploadURLTTL:   time.Minute * time.Duration(getEnvInt("UPLOAD_URL_TTL_MINUTES", 15)),
		DownloadURLTTL: time.Minute * time.Duration(getEnvInt("DOWNLOAD_URL_TTL_MINUTES", 60)),

		FALKey:                 os.Getenv("FAL_KEY"),
		FALBaseURL:             getEnv("FAL_BASE_URL", "https://queue.fal.run"),
		FALPhotoToVideoApp:     getEnv("FAL_PHOTO_TO_VIDEO_APP", "workflows/studio/photo-to-video"),
		FALVideoTranslationApp: getEnv("FAL_VIDEO_TRANSLATION_APP", "workflows/studio/video-translation"),
		ModalKeyID:             os.Getenv("MODAL_KEY"),
		ModalKeySecret:         os.Getenv("MODAL_SECRET"),
		ModalEmotionEndpoint:   os.Getenv("MODAL_EMOTION_CONTROL_URL"),
		ModalAudioEndpoint:     os.Getenv("MODAL_AUDIO_REPLACEMENT_URL"),

		CallbackBaseURL: getEnv("CALLBACK_BASE_URL", "http://localhost:8080"),
		CallbackToken:   os.Getenv("CALLBACK_TOKEN"),

		DefaultLocale:  getEnv("DEFAULT_LOCALE", "en"),
		GeoIPDBPath:    os.Getenv("GEOIP_DB_PATH"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		WorkerPollInterval: time.Second * time.Duration(getEnvInt("WORKER_POLL_INTERVAL_SECONDS", 15)),
		WorkerStaleAfter:   time.Second * time.Duration(getEnvInt("WORKER_STALE_AFTER_SECONDS", 60)),
		WorkerBatchSize:    getEnvInt("WORKER_BATCH_SIZE", 20),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
