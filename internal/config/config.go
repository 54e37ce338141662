package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"invoiceguard/internal/logger"
)

// Config is resolved once at process startup. Nothing below internal/pipeline
// reads the environment itself.
type Config struct {
	// Rasterization
	RasterDPI         int
	RasterJPEGQuality int
	PdftoppmPath      string

	// Text extraction
	OCREngine          string
	OCRLanguages       []string
	TessdataPrefix     string
	BinarizeThreshold  int
	GoogleCloudProject string

	// Checks
	FieldMinMatches int
	ELAQuality      int
	ELAThreshold    int
	RulesFile       string
	Rules           *Rules

	// Artifact storage
	ArtifactBackend   string
	ArtifactDir       string
	GCSArtifactBucket string
	GCSArtifactPrefix string

	// Execution
	PipelineTimeout time.Duration
	BatchWorkers    int

	// HTTP server
	ServerAddr         string
	UploadDir          string
	MaxUploadBytes     int64
	CORSAllowedOrigins []string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	config := &Config{
		RasterDPI:          getEnvInt("RASTER_DPI", 300),
		RasterJPEGQuality:  getEnvInt("RASTER_JPEG_QUALITY", 75),
		PdftoppmPath:       getEnv("PDFTOPPM_PATH", "pdftoppm"),
		OCREngine:          strings.ToLower(getEnv("OCR_ENGINE", "tesseract")),
		OCRLanguages:       getEnvList("OCR_LANGUAGES", []string{"eng"}),
		TessdataPrefix:     getEnv("TESSDATA_PREFIX", ""),
		BinarizeThreshold:  getEnvInt("OCR_BINARIZE_THRESHOLD", 180),
		GoogleCloudProject: getEnv("GOOGLE_CLOUD_PROJECT", ""),
		FieldMinMatches:    getEnvInt("FIELD_MIN_MATCHES", 4),
		ELAQuality:         getEnvInt("ELA_QUALITY", 90),
		ELAThreshold:       getEnvInt("ELA_THRESHOLD", 50),
		RulesFile:          getEnv("RULES_FILE", ""),
		ArtifactBackend:    strings.ToLower(getEnv("ARTIFACT_BACKEND", "local")),
		ArtifactDir:        getEnv("ARTIFACT_DIR", "artifacts"),
		GCSArtifactBucket:  getEnv("GCS_ARTIFACT_BUCKET", ""),
		GCSArtifactPrefix:  getEnv("GCS_ARTIFACT_PREFIX", "ela"),
		PipelineTimeout:    time.Duration(getEnvInt("PIPELINE_TIMEOUT_SECONDS", 120)) * time.Second,
		BatchWorkers:       getEnvInt("BATCH_WORKERS", 4),
		ServerAddr:         getEnv("SERVER_ADDR", ":8080"),
		UploadDir:          getEnv("UPLOAD_DIR", os.TempDir()),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_MB", 20)) * 1024 * 1024,
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:      getEnv("LOG_TIME_FORMAT", time.RFC3339),
		LogOutput:          getEnv("LOG_OUTPUT", "stderr"),
	}

	if config.RulesFile != "" {
		rules, err := ReadRules(config.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
		config.Rules = rules
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.RasterDPI < 72 || c.RasterDPI > 1200 {
		return fmt.Errorf("RASTER_DPI must be between 72 and 1200, got %d", c.RasterDPI)
	}
	if c.RasterJPEGQuality < 1 || c.RasterJPEGQuality > 100 {
		return fmt.Errorf("RASTER_JPEG_QUALITY must be between 1 and 100, got %d", c.RasterJPEGQuality)
	}
	if c.OCREngine != "tesseract" && c.OCREngine != "vision" {
		return fmt.Errorf("OCR_ENGINE must be tesseract or vision, got %q", c.OCREngine)
	}
	if c.BinarizeThreshold < 0 || c.BinarizeThreshold > 255 {
		return fmt.Errorf("OCR_BINARIZE_THRESHOLD must be between 0 and 255, got %d", c.BinarizeThreshold)
	}
	if c.FieldMinMatches < 0 || c.FieldMinMatches > 6 {
		return fmt.Errorf("FIELD_MIN_MATCHES must be between 0 and 6, got %d", c.FieldMinMatches)
	}
	if c.ELAQuality < 1 || c.ELAQuality > 100 {
		return fmt.Errorf("ELA_QUALITY must be between 1 and 100, got %d", c.ELAQuality)
	}
	if c.ELAThreshold < 0 || c.ELAThreshold > 255 {
		return fmt.Errorf("ELA_THRESHOLD must be between 0 and 255, got %d", c.ELAThreshold)
	}
	switch c.ArtifactBackend {
	case "local":
		if c.ArtifactDir == "" {
			return fmt.Errorf("ARTIFACT_DIR is required for the local artifact backend")
		}
	case "gcs":
		if c.GCSArtifactBucket == "" {
			return fmt.Errorf("GCS_ARTIFACT_BUCKET is required for the gcs artifact backend")
		}
	default:
		return fmt.Errorf("ARTIFACT_BACKEND must be local or gcs, got %q", c.ArtifactBackend)
	}
	if c.PipelineTimeout <= 0 {
		return fmt.Errorf("PIPELINE_TIMEOUT_SECONDS must be positive")
	}
	if c.BatchWorkers < 1 {
		return fmt.Errorf("BATCH_WORKERS must be at least 1, got %d", c.BatchWorkers)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt keeps the default when the variable is unset or not a number.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
