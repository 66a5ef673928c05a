// Package config loads the application config (YAML with environment
// overrides) and per-task configs (YAML or JSON, validated).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Models    ModelsConfig    `yaml:"models"`
	Execution ExecutionConfig `yaml:"execution"`
	Pool      PoolConfig      `yaml:"pool"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Output    OutputConfig    `yaml:"output"`
	Server    ServerConfig    `yaml:"server"`
	Events    EventsConfig    `yaml:"events"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Identity  IdentityConfig  `yaml:"identity"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ModelsConfig struct {
	Dir           string `yaml:"dir"`
	CatalogPath   string `yaml:"catalog_path"`
	CheckpointDir string `yaml:"checkpoint_dir"`
	MetricsDir    string `yaml:"metrics_dir"`
	OrtLibPath    string `yaml:"ort_lib_path"`
	AutoDownload  bool   `yaml:"auto_download"`
}

type ExecutionConfig struct {
	// Providers in preference order; unavailable ones are skipped.
	Providers      []string `yaml:"providers"`
	DeviceID       int      `yaml:"device_id"`
	TRTWorkspaceMB int      `yaml:"trt_workspace_mb"`
	TRTEmbedEngine bool     `yaml:"trt_embed_engine"`
	TRTEngineCache bool     `yaml:"trt_engine_cache"`
	TRTCachePath   string   `yaml:"trt_cache_path"`
	IntraOpThreads int      `yaml:"intra_op_threads"`
	InterOpThreads int      `yaml:"inter_op_threads"`
}

type PoolConfig struct {
	// Disable bypasses the session cache entirely.
	Disable     bool          `yaml:"disable"`
	MaxEntries  int           `yaml:"max_entries"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	SweepEvery  time.Duration `yaml:"sweep_every"`
}

type PipelineConfig struct {
	ThreadCount  int `yaml:"thread_count"`
	MaxQueueSize int `yaml:"max_queue_size"`
}

type AnalysisConfig struct {
	DetectorScore   float64 `yaml:"detector_score"`
	LandmarkerScore float64 `yaml:"landmarker_score"`
	DistanceLimit   float64 `yaml:"distance_limit"`
	StoreCapacity   int     `yaml:"store_capacity"`
	StoreHash       string  `yaml:"store_hash"` // fnv1a | sha1
}

type OutputConfig struct {
	ImageFormat    string `yaml:"image_format"`    // jpg|png|bmp
	VideoEncoder   string `yaml:"video_encoder"`   // e.g. libx264
	VideoQuality   int    `yaml:"video_quality"`   // percent of encoder scale
	AudioPolicy    string `yaml:"audio_policy"`    // Copy|Skip
	ConflictPolicy string `yaml:"conflict_policy"` // Error|Overwrite|Rename
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	APIKey  string `yaml:"api_key"`
}

type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
}

type ArtifactsConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type IdentityConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d IdentityConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// Enabled reports whether an identity database is configured at all.
func (d IdentityConfig) Enabled() bool { return d.Host != "" }

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the app config from a YAML file and applies environment
// variable overrides. A missing path yields defaults only.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Models.Dir == "" {
		cfg.Models.Dir = "models"
	}
	if cfg.Models.CatalogPath == "" {
		cfg.Models.CatalogPath = "models/models_info.json"
	}
	if cfg.Models.CheckpointDir == "" {
		cfg.Models.CheckpointDir = ".checkpoints"
	}
	if cfg.Models.MetricsDir == "" {
		cfg.Models.MetricsDir = ".metrics"
	}
	if len(cfg.Execution.Providers) == 0 {
		cfg.Execution.Providers = []string{"cpu"}
	}
	if cfg.Execution.TRTWorkspaceMB == 0 {
		cfg.Execution.TRTWorkspaceMB = 2048
	}
	if cfg.Pool.MaxEntries == 0 {
		cfg.Pool.MaxEntries = 8
	}
	if cfg.Pool.IdleTimeout == 0 {
		cfg.Pool.IdleTimeout = 10 * time.Minute
	}
	if cfg.Pool.SweepEvery == 0 {
		cfg.Pool.SweepEvery = time.Minute
	}
	if cfg.Pipeline.ThreadCount == 0 {
		cfg.Pipeline.ThreadCount = 4
	}
	if cfg.Pipeline.MaxQueueSize == 0 {
		cfg.Pipeline.MaxQueueSize = 16
	}
	if cfg.Analysis.DetectorScore == 0 {
		cfg.Analysis.DetectorScore = 0.5
	}
	if cfg.Analysis.LandmarkerScore == 0 {
		cfg.Analysis.LandmarkerScore = 0.5
	}
	if cfg.Analysis.DistanceLimit == 0 {
		cfg.Analysis.DistanceLimit = 0.6
	}
	if cfg.Analysis.StoreCapacity == 0 {
		cfg.Analysis.StoreCapacity = 64
	}
	if cfg.Analysis.StoreHash == "" {
		cfg.Analysis.StoreHash = "fnv1a"
	}
	if cfg.Output.ImageFormat == "" {
		cfg.Output.ImageFormat = "jpg"
	}
	if cfg.Output.VideoEncoder == "" {
		cfg.Output.VideoEncoder = "libx264"
	}
	if cfg.Output.VideoQuality == 0 {
		cfg.Output.VideoQuality = 80
	}
	if cfg.Output.AudioPolicy == "" {
		cfg.Output.AudioPolicy = "Copy"
	}
	if cfg.Output.ConflictPolicy == "" {
		cfg.Output.ConflictPolicy = "Error"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Identity.Port == 0 {
		cfg.Identity.Port = 5432
	}
	if cfg.Identity.MaxConns == 0 {
		cfg.Identity.MaxConns = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACEFORGE_MODELS_DIR"); v != "" {
		cfg.Models.Dir = v
	}
	if v := os.Getenv("FACEFORGE_CATALOG_PATH"); v != "" {
		cfg.Models.CatalogPath = v
	}
	if v := os.Getenv("FACEFORGE_ORT_LIB"); v != "" {
		cfg.Models.OrtLibPath = v
	}
	if v := os.Getenv("FACEFORGE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FACEFORGE_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FACEFORGE_NATS_URL"); v != "" {
		cfg.Events.NATSURL = v
	}
	if v := os.Getenv("FACEFORGE_MINIO_ENDPOINT"); v != "" {
		cfg.Artifacts.Endpoint = v
	}
	if v := os.Getenv("FACEFORGE_MINIO_ACCESS_KEY"); v != "" {
		cfg.Artifacts.AccessKey = v
	}
	if v := os.Getenv("FACEFORGE_MINIO_SECRET_KEY"); v != "" {
		cfg.Artifacts.SecretKey = v
	}
	if v := os.Getenv("FACEFORGE_MINIO_BUCKET"); v != "" {
		cfg.Artifacts.Bucket = v
	}
	if v := os.Getenv("FACEFORGE_DB_HOST"); v != "" {
		cfg.Identity.Host = v
	}
	if v := os.Getenv("FACEFORGE_DB_PASSWORD"); v != "" {
		cfg.Identity.Password = v
	}
	if v := os.Getenv("FACEFORGE_THREAD_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.ThreadCount = n
		}
	}
}
