package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultAlbumsSubDir = "albums"
	ResizedDirSuffix    = "_resized"
)

const (
	defaultMaxWidth              = 1920
	defaultMaxHeight             = 1080
	defaultJPEGQuality           = 90
	defaultConversionWorkers     = 2
	defaultConversionQueueSize   = 50
	defaultRequestTimeoutSeconds = 900
	defaultMaxUploadBytes        = 2 << 30
	defaultMaxUploadMemoryBytes  = 32 << 20
	defaultMaxUploadFiles        = 1000
	defaultRetentionDays         = 14
	defaultSessionTTLHours       = 24
	defaultAuthRatePerMinute     = 20
)

type Config struct {
	Port string

	// storage
	MediaRoot  string // absolute root for everything written to disk
	AlbumsPath string // full-calculated path for album directories

	// database
	DatabasePath string
	DBLogLevel   string

	// conversion settings
	MaxWidth    int
	MaxHeight   int
	JPEGQuality int

	// worker settings
	ConversionWorkers   int
	ConversionQueueSize int

	// request limits
	RequestTimeout       time.Duration
	MaxUploadBytes       int64
	MaxUploadMemoryBytes int64
	MaxUploadFiles       int

	// retention
	RetentionDays          int
	RetentionSweepInterval time.Duration // zero disables the in-process sweeper

	// auth
	JWTSecret              string
	SessionTTL             time.Duration
	AuthRateLimitPerMinute int

	CORSAllowedOrigins []string

	// logging
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

// getEnvNonNegativeInt is like getEnvIntOrDefault but accepts zero, used for
// switches where 0 means "off".
func getEnvNonNegativeInt(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val < 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvInt64OrDefault(envVar string, defaultVal int64) int64 {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseInt(valStr, 10, 64)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvBool(envVar string, defaultVal bool) bool {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		log.Printf("Warning: Invalid %s '%s'. Using default %t.", envVar, valStr, defaultVal)
		return defaultVal
	}
	return val
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func LoadConfig() (Config, error) {
	mediaRoot := getEnvOrDefault("MEDIA_ROOT", filepath.Join(".", "media"))
	absMediaRoot, err := filepath.Abs(mediaRoot)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for media root '%s': %w", mediaRoot, err)
	}

	albumsSubDir := getEnvOrDefault("ALBUMS_SUBDIR", DefaultAlbumsSubDir)
	absAlbumsPath := filepath.Join(absMediaRoot, albumsSubDir)
	if !strings.HasPrefix(filepath.Clean(absAlbumsPath), absMediaRoot) {
		return Config{}, fmt.Errorf("albums subdirectory '%s' resolves outside media root '%s'", albumsSubDir, absMediaRoot)
	}

	cfg := Config{
		Port:         getEnvOrDefault("PORT", "8080"),
		MediaRoot:    absMediaRoot,
		AlbumsPath:   absAlbumsPath,
		DatabasePath: getEnvOrDefault("DATABASE_PATH", "converter.db"),
		DBLogLevel:   getEnvOrDefault("DB_LOG_LEVEL", "warn"),

		MaxWidth:    getEnvIntOrDefault("MAX_WIDTH", defaultMaxWidth),
		MaxHeight:   getEnvIntOrDefault("MAX_HEIGHT", defaultMaxHeight),
		JPEGQuality: getEnvIntOrDefault("JPEG_QUALITY", defaultJPEGQuality),

		ConversionWorkers:   getEnvIntOrDefault("CONVERSION_WORKERS", defaultConversionWorkers),
		ConversionQueueSize: getEnvIntOrDefault("CONVERSION_QUEUE_SIZE", defaultConversionQueueSize),

		RequestTimeout:       time.Duration(getEnvIntOrDefault("REQUEST_TIMEOUT_SECONDS", defaultRequestTimeoutSeconds)) * time.Second,
		MaxUploadBytes:       getEnvInt64OrDefault("MAX_UPLOAD_BYTES", defaultMaxUploadBytes),
		MaxUploadMemoryBytes: getEnvInt64OrDefault("MAX_UPLOAD_MEMORY_BYTES", defaultMaxUploadMemoryBytes),
		MaxUploadFiles:       getEnvIntOrDefault("MAX_UPLOAD_FILES", defaultMaxUploadFiles),

		RetentionDays:          getEnvIntOrDefault("RETENTION_DAYS", defaultRetentionDays),
		RetentionSweepInterval: time.Duration(getEnvNonNegativeInt("RETENTION_SWEEP_INTERVAL_MINUTES", 0)) * time.Minute,

		JWTSecret:              os.Getenv("JWT_SECRET"),
		SessionTTL:             time.Duration(getEnvIntOrDefault("SESSION_TTL_HOURS", defaultSessionTTLHours)) * time.Hour,
		AuthRateLimitPerMinute: getEnvIntOrDefault("AUTH_RATE_LIMIT_PER_MINUTE", defaultAuthRatePerMinute),

		CORSAllowedOrigins: splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),

		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
		LogPath:       os.Getenv("LOG_PATH"),
		LogMaxSizeMB:  getEnvIntOrDefault("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvIntOrDefault("LOG_MAX_BACKUPS", 3),
		LogMaxAgeDays: getEnvIntOrDefault("LOG_MAX_AGE_DAYS", 7),
		LogCompress:   getEnvBool("LOG_COMPRESS", false),
	}

	if cfg.JPEGQuality > 100 {
		log.Printf("Warning: JPEG_QUALITY %d out of range. Using default %d.", cfg.JPEGQuality, defaultJPEGQuality)
		cfg.JPEGQuality = defaultJPEGQuality
	}

	return cfg, nil
}
