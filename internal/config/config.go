package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds runtime configuration for the intake server.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string

	// DataDir roots blobs/, meta.db and models/ unless overridden.
	DataDir string

	// Admission control.
	MaxInputBytes int64
	QueueDepth    int
	Workers       int

	// Scanner thresholds. AMLThreshold comes from the model sidecar
	// file; these are the process defaults before tuner overrides.
	IDSThreshold    int
	IDSScoreCeiling int

	// Per-stage deadlines.
	FormatDeadline  time.Duration
	IDSDeadline     time.Duration
	AMLDeadline     time.Duration
	PersistDeadline time.Duration
	AnalyzeDeadline time.Duration

	// Retention before artifacts are deleted and jobs pruned.
	RetentionPeriod time.Duration
	JanitorInterval time.Duration

	// Object store.
	ServerSecret string
	Algorithm    string
	BlobBackend  string
	BlobDir      string
	S3Bucket     string
	S3Region     string
	S3Endpoint   string
	S3PathStyle  bool

	// Metadata store.
	MetaBackend string
	MetaPath    string
	PostgresDSN string

	// AML model files and the externally published GA parameter tuple.
	ModelPath      string
	ThresholdPath  string
	GAParamsPath   string
	GAPollInterval time.Duration

	// Optional Redis-backed upload rate limiting.
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RateLimitCapacity int
	RateLimitRefill   float64

	// Registry subscriber buffer size.
	SubscriberBuffer int
}

// Load reads configuration from environment variables with defaults for
// local development, then applies the optional TOML file named by
// GENOMEVAULT_CONFIG on top.
func Load() (Config, error) {
	dataDir := getEnv("DATA_DIR", "./data")
	cfg := Config{
		Env:         getEnv("APP_ENV", "dev"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		DataDir: dataDir,

		MaxInputBytes: getEnvInt64("MAX_INPUT_BYTES", 50<<20),
		QueueDepth:    getEnvInt("QUEUE_DEPTH", 64),
		Workers:       getEnvInt("WORKERS", 4),

		IDSThreshold:    getEnvInt("IDS_THRESHOLD", 5),
		IDSScoreCeiling: getEnvInt("IDS_SCORE_CEILING", 100),

		FormatDeadline:  getEnvDuration("STAGE_DEADLINE_FORMAT", 2*time.Second),
		IDSDeadline:     getEnvDuration("STAGE_DEADLINE_IDS", 5*time.Second),
		AMLDeadline:     getEnvDuration("STAGE_DEADLINE_AML", 10*time.Second),
		PersistDeadline: getEnvDuration("STAGE_DEADLINE_PERSIST", 30*time.Second),
		AnalyzeDeadline: getEnvDuration("STAGE_DEADLINE_ANALYZE", 30*time.Second),

		RetentionPeriod: getEnvDuration("RETENTION_PERIOD", 604800*time.Second),
		JanitorInterval: getEnvDuration("JANITOR_INTERVAL", time.Minute),

		ServerSecret: getEnv("SERVER_SECRET", ""),
		Algorithm:    getEnv("STORE_ALGORITHM", "aes256gcm"),
		BlobBackend:  getEnv("BLOB_BACKEND", "filesystem"),
		BlobDir:      getEnv("BLOB_DIR", filepath.Join(dataDir, "blobs")),
		S3Bucket:     getEnv("S3_BUCKET", ""),
		S3Region:     getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
		S3PathStyle:  getEnvBool("S3_PATH_STYLE", false),

		MetaBackend: getEnv("META_BACKEND", "sqlite"),
		MetaPath:    getEnv("META_PATH", filepath.Join(dataDir, "meta.db")),
		PostgresDSN: getEnv("POSTGRES_DSN", ""),

		ModelPath:      getEnv("AML_MODEL_PATH", filepath.Join(dataDir, "models", "aml.bin")),
		ThresholdPath:  getEnv("AML_THRESHOLD_PATH", filepath.Join(dataDir, "models", "aml.threshold")),
		GAParamsPath:   getEnv("GA_PARAMS_PATH", filepath.Join(dataDir, "models", "ga_params.json")),
		GAPollInterval: getEnvDuration("GA_POLL_INTERVAL", 30*time.Second),

		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 20),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 5),

		SubscriberBuffer: getEnvInt("SUBSCRIBER_BUFFER", 8),
	}

	if path := os.Getenv("GENOMEVAULT_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// fileConfig mirrors the TOML file layout. Zero values leave the
// env-derived setting untouched.
type fileConfig struct {
	DataDir       string `toml:"data_dir"`
	HTTPPort      string `toml:"http_port"`
	MaxInputBytes int64  `toml:"max_input_bytes"`
	QueueDepth    int    `toml:"queue_depth"`
	Workers       int    `toml:"workers"`
	IDSThreshold  int    `toml:"ids_threshold"`
	ServerSecret  string `toml:"server_secret"`

	Store struct {
		Algorithm   string `toml:"algorithm"`
		BlobBackend string `toml:"blob_backend"`
		BlobDir     string `toml:"blob_dir"`
		S3Bucket    string `toml:"s3_bucket"`
		S3Region    string `toml:"s3_region"`
		S3Endpoint  string `toml:"s3_endpoint"`
		S3PathStyle bool   `toml:"s3_path_style"`
	} `toml:"store"`

	Metadata struct {
		Backend     string `toml:"backend"`
		Path        string `toml:"path"`
		PostgresDSN string `toml:"postgres_dsn"`
	} `toml:"metadata"`
}

func (c *Config) applyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	if fc.DataDir != "" {
		c.DataDir = fc.DataDir
		// Re-root the derived paths; explicit env paths still win.
		c.BlobDir = getEnv("BLOB_DIR", filepath.Join(fc.DataDir, "blobs"))
		c.MetaPath = getEnv("META_PATH", filepath.Join(fc.DataDir, "meta.db"))
		c.ModelPath = getEnv("AML_MODEL_PATH", filepath.Join(fc.DataDir, "models", "aml.bin"))
		c.ThresholdPath = getEnv("AML_THRESHOLD_PATH", filepath.Join(fc.DataDir, "models", "aml.threshold"))
		c.GAParamsPath = getEnv("GA_PARAMS_PATH", filepath.Join(fc.DataDir, "models", "ga_params.json"))
	}
	if fc.HTTPPort != "" {
		c.HTTPPort = fc.HTTPPort
	}
	if fc.MaxInputBytes > 0 {
		c.MaxInputBytes = fc.MaxInputBytes
	}
	if fc.QueueDepth > 0 {
		c.QueueDepth = fc.QueueDepth
	}
	if fc.Workers > 0 {
		c.Workers = fc.Workers
	}
	if fc.IDSThreshold > 0 {
		c.IDSThreshold = fc.IDSThreshold
	}
	if fc.ServerSecret != "" {
		c.ServerSecret = fc.ServerSecret
	}
	if fc.Store.Algorithm != "" {
		c.Algorithm = fc.Store.Algorithm
	}
	if fc.Store.BlobBackend != "" {
		c.BlobBackend = fc.Store.BlobBackend
	}
	if fc.Store.BlobDir != "" {
		c.BlobDir = fc.Store.BlobDir
	}
	if fc.Store.S3Bucket != "" {
		c.S3Bucket = fc.Store.S3Bucket
	}
	if fc.Store.S3Region != "" {
		c.S3Region = fc.Store.S3Region
	}
	if fc.Store.S3Endpoint != "" {
		c.S3Endpoint = fc.Store.S3Endpoint
	}
	if fc.Store.S3PathStyle {
		c.S3PathStyle = true
	}
	if fc.Metadata.Backend != "" {
		c.MetaBackend = fc.Metadata.Backend
	}
	if fc.Metadata.Path != "" {
		c.MetaPath = fc.Metadata.Path
	}
	if fc.Metadata.PostgresDSN != "" {
		c.PostgresDSN = fc.Metadata.PostgresDSN
	}
	return nil
}

// StageDeadline returns the configured deadline for a stage name, or
// zero when the stage has none (admit, finalize).
func (c Config) StageDeadline(stage string) time.Duration {
	switch stage {
	case "format":
		return c.FormatDeadline
	case "ids":
		return c.IDSDeadline
	case "aml":
		return c.AMLDeadline
	case "persist":
		return c.PersistDeadline
	case "analyze":
		return c.AnalyzeDeadline
	}
	return 0
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

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
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
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
