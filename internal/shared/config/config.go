package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds worker configuration.
type Config struct {
	Env         string
	DatabaseURL string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	S3EndpointURL   string
	SSEKMSKeyID     string

	QueueBackend             string
	SQSQueueURL              string
	SQSVisibilityTimeoutSecs int
	RedisURL                 string
	QueueName                string

	WorkerConcurrency int
	ShutdownTimeout   time.Duration
	MetricsPort       string

	OCRProvider         string
	OCRLanguages        []string
	QualityMode         string
	OCREngineMode       *int
	OCRPageSegMode      *int
	OCRTesseractExtra   string
	OCRMyPDFExtra       []string
	OCRMyPDFRecommended []string
	OCRMyPDFTimeout     time.Duration
	OCRMyPDFBinary      string
	JobStaleAfter       time.Duration
	JobSweepInterval    time.Duration
	DefaultTenantID     string
	DefaultUserID       string
	MaxObjectBytes      int64
}

var defaults = map[string]any{
	"ENV":                            "dev",
	"OBJECT_STORE":                   "local",
	"LOCAL_STORE_DIR":                "./data",
	"QUEUE_BACKEND":                  "memory",
	"QUEUE_NAME":                     "docpipe:jobs",
	"SQS_VISIBILITY_TIMEOUT_SECONDS": 1200,
	"WORKER_CONCURRENCY":             4,
	"WORKER_SHUTDOWN_TIMEOUT":        "30s",
	"OCR_PROVIDER":                   "auto",
	"OCR_LANG":                       "eng",
	"QUALITY_MODE":                   "recommended",
	"OCR_OCRMYPDF_TIMEOUT":           "180s",
	"OCR_OCRMYPDF_BINARY":            "ocrmypdf",
	"JOB_STALE_AFTER":                "30m",
	"JOB_SWEEP_INTERVAL":             "1m",
	"MAX_OBJECT_BYTES":               50 << 20,
}

// Load reads configuration from environment variables, a local .env file and defaults.
func Load() Config {
	cfg, err := LoadFile("")
	if err != nil {
		log.Printf("config: %v", err)
	}
	return cfg
}

// LoadFile is Load with an explicit config file. An empty path falls back to .env
// in the working directory when present.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	var readErr error
	file := strings.TrimSpace(path)
	if file == "" {
		if _, err := os.Stat(".env"); err == nil {
			file = ".env"
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if strings.HasSuffix(file, ".env") {
			v.SetConfigType("env")
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				readErr = err
			}
		}
	}

	env := normalizeEnv(v.GetString("ENV"))
	dbURL := strings.TrimSpace(v.GetString("DATABASE_URL"))
	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	cfg := Config{
		Env:         env,
		DatabaseURL: dbURL,

		ObjectStoreType: normalizeStoreType(v.GetString("OBJECT_STORE")),
		LocalStoreDir:   v.GetString("LOCAL_STORE_DIR"),
		AWSRegion:       v.GetString("AWS_REGION"),
		S3Bucket:        v.GetString("S3_BUCKET"),
		S3Prefix:        v.GetString("S3_PREFIX"),
		S3EndpointURL:   v.GetString("S3_ENDPOINT_URL"),
		SSEKMSKeyID:     v.GetString("SSE_KMS_KEY_ID"),

		QueueBackend:             normalizeQueueBackend(v.GetString("QUEUE_BACKEND")),
		SQSQueueURL:              strings.TrimSpace(v.GetString("SQS_QUEUE_URL")),
		SQSVisibilityTimeoutSecs: v.GetInt("SQS_VISIBILITY_TIMEOUT_SECONDS"),
		RedisURL:                 strings.TrimSpace(v.GetString("REDIS_URL")),
		QueueName:                v.GetString("QUEUE_NAME"),

		WorkerConcurrency: max(1, v.GetInt("WORKER_CONCURRENCY")),
		ShutdownTimeout:   durationValue(v, "WORKER_SHUTDOWN_TIMEOUT", 30*time.Second),
		MetricsPort:       strings.TrimSpace(v.GetString("METRICS_PORT")),

		OCRProvider:         normalizeProvider(v.GetString("OCR_PROVIDER")),
		OCRLanguages:        SplitLanguages(v.GetString("OCR_LANG")),
		QualityMode:         strings.ToLower(strings.TrimSpace(v.GetString("QUALITY_MODE"))),
		OCREngineMode:       optionalInt(v, "OCR_OEM"),
		OCRPageSegMode:      optionalInt(v, "OCR_PSM"),
		OCRTesseractExtra:   strings.TrimSpace(v.GetString("OCR_TESSERACT_EXTRA")),
		OCRMyPDFExtra:       strings.Fields(v.GetString("OCR_OCRMYPDF_EXTRA")),
		OCRMyPDFRecommended: strings.Fields(v.GetString("OCR_OCRMYPDF_RECOMMENDED")),
		OCRMyPDFTimeout:     durationValue(v, "OCR_OCRMYPDF_TIMEOUT", 180*time.Second),
		OCRMyPDFBinary:      v.GetString("OCR_OCRMYPDF_BINARY"),
		JobStaleAfter:       durationValue(v, "JOB_STALE_AFTER", 30*time.Minute),
		JobSweepInterval:    durationValue(v, "JOB_SWEEP_INTERVAL", time.Minute),
		DefaultTenantID:     v.GetString("DEFAULT_TENANT_ID"),
		DefaultUserID:       v.GetString("DEFAULT_USER_ID"),
		MaxObjectBytes:      v.GetInt64("MAX_OBJECT_BYTES"),
	}
	return cfg, readErr
}

// SplitLanguages parses "eng+hin" or "eng,hin" into an ordered, de-duplicated list.
func SplitLanguages(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '+' || r == ',' || r == ' '
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	if len(out) == 0 {
		return []string{"eng"}
	}
	return out
}

func optionalInt(v *viper.Viper, key string) *int {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config %s invalid int: %v", key, err)
		return nil
	}
	return &n
}

// durationValue accepts Go durations ("90s") and bare integers as seconds.
func durationValue(v *viper.Viper, key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return def
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("config %s invalid duration %q", key, raw)
		return def
	}
	return d
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "test":
		return "test"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3", "minio":
		return "s3"
	default:
		return "local"
	}
}

func normalizeQueueBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqs":
		return "sqs"
	case "redis":
		return "redis"
	default:
		return "memory"
	}
}

func normalizeProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "stub", "none", "disabled":
		return "stub"
	default:
		return "auto"
	}
}

// IsDevLike reports whether the environment tolerates in-memory fallbacks.
func (c Config) IsDevLike() bool {
	switch c.Env {
	case "dev", "local", "test":
		return true
	default:
		return false
	}
}
