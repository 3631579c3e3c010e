// Package config provides configuration management for mediaflow using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort            = 8080
	defaultServerTimeout         = 30 * time.Second
	defaultShutdownTimeout       = 10 * time.Second
	defaultMaxOpenConns          = 25
	defaultMaxIdleConns          = 10
	defaultConnMaxIdleTime       = 30 * time.Minute
	defaultMaxActiveUploadReqs   = 3
	defaultMaxChunkSize          = 16 * 1024 * 1024  // 16MB
	defaultMaxUserQuotaBytes     = 2 * 1024 * 1024 * 1024 // 2GB
	defaultPipelineWorkers       = 4
	defaultPipelineBufSize       = 1 << 20 // 1MB scratch read/write buffer
	defaultHLSSegmentDuration    = 6 * time.Second
	defaultHLSMaxSegmentDigits   = 7
	defaultHLSKeyBits            = 128
	defaultHLSFlushBufSize       = 256 * 1024
	defaultRPCDialTimeout        = 5 * time.Second
	defaultImageMaxWidth         = 1920
	defaultImageMaxHeight        = 1080
	defaultStreamCacheMaxAge     = 5 * time.Minute
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	HLS      HLSConfig      `mapstructure:"hls"`
	Image    ImageConfig    `mapstructure:"image"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
	RPC      RPCConfig      `mapstructure:"rpc"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Stream   StreamConfig   `mapstructure:"stream"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds AsyncStorage sandbox configuration.
// BaseDir corresponds to SYS_BASE_PATH: every per-user, per-request layout
// (chunks, transcoding/, committed/, discarding/) is anchored under it.
type StorageConfig struct {
	BaseDir   string `mapstructure:"base_dir"`
	TempDir   string `mapstructure:"temp_dir"`
	OutputDir string `mapstructure:"output_dir"`
}

// UploadConfig holds chunked-upload limits enforced by the upload handlers
// and UploadRequest/FileChunk repositories.
type UploadConfig struct {
	// MaxActiveRequests is MAX_NUM_ACTIVE_UPLOAD_REQUESTS: the cap on
	// uncommitted upload requests per user.
	MaxActiveRequests int `mapstructure:"max_active_requests"`
	// MaxChunkSize bounds a single upload-part body.
	MaxChunkSize ByteSize `mapstructure:"max_chunk_size"`
	// MaxUserQuotaBytes bounds total bytes across a user's in-flight chunks.
	MaxUserQuotaBytes ByteSize `mapstructure:"max_user_quota_bytes"`
}

// PipelineConfig holds FileProcessor (ATFP) pipeline configuration.
type PipelineConfig struct {
	// Workers must be at least 1 (Validate rejects less). No component
	// reads it, so it does not limit how many ATFP pipeline runs (one per
	// upload commit) proceed at once.
	Workers int `mapstructure:"workers"`
	// ScratchBufferSize sizes the source/destination read-write buffer used
	// while streaming chunks through a processor.
	ScratchBufferSize ByteSize `mapstructure:"scratch_buffer_size"`
}

// HLSConfig holds HLSEngine transcode and serving configuration.
type HLSConfig struct {
	// SegmentDuration is the target duration passed to ffmpeg's
	// -hls_time for each HLS segment.
	SegmentDuration time.Duration `mapstructure:"segment_duration"`
	// MaxSegmentDigits is max_num_digits: the zero-padded width of
	// segment filenames (dataseg_%0Nd).
	MaxSegmentDigits int `mapstructure:"max_segment_digits"`
	// KeyBits selects AES-128 vs AES-256 for crypto_key.json entries.
	KeyBits int `mapstructure:"key_bits"`
	// FlushBufferSize bounds one TryFlushToStorage read/write call.
	FlushBufferSize ByteSize `mapstructure:"flush_buffer_size"`
}

// ImageConfig holds the bound-and-format defaults applied to the
// image-transcode destination variant's re-encode of image assets.
type ImageConfig struct {
	// MaxWidth and MaxHeight bound the re-encoded image; ffmpeg's scale
	// filter (force_original_aspect_ratio=decrease) preserves aspect ratio
	// while fitting the image inside that box, so a source smaller than
	// the box is scaled up to it.
	MaxWidth  int    `mapstructure:"max_width"`
	MaxHeight int    `mapstructure:"max_height"`
	// Format is the output container/codec ffmpeg targets, e.g. "webp".
	Format string `mapstructure:"format"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath  string `mapstructure:"binary_path"`  // Path to ffmpeg binary (empty = auto-detect)
	ProbePath   string `mapstructure:"probe_path"`   // Path to ffprobe binary (empty = auto-detect)
	UseEmbedded bool   `mapstructure:"use_embedded"` // Use embedded binary if available
}

// StreamConfig holds the fetch-streaming-element serving parameters: the
// configurable query-parameter labels spec.md §6 names (doc_id/detail by
// default) and the public-cache lifetime applied when a resource's
// file-level ACL marks it visible.
type StreamConfig struct {
	DocIDParam  string        `mapstructure:"doc_id_param"`
	DetailParam string        `mapstructure:"detail_param"`
	CacheMaxAge time.Duration `mapstructure:"cache_max_age"`
}

// RPCConfig holds configuration for the transcode-complete/failed gRPC
// notifier that stands in for the out-of-scope RPC/AMQP reply boundary.
// The daemon hosts both sides: an rpc.Server consuming events and an
// rpc.Client the pipeline runner dials, connected over SocketPath.
type RPCConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	SocketPath  string        `mapstructure:"socket_path"`
	ListenAddr  string        `mapstructure:"listen_addr"` // optional TCP address for remote consumers
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with MEDIAFLOW_ and use underscores for nesting.
// Example: MEDIAFLOW_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/mediaflow")
		v.AddConfigPath("$HOME/.mediaflow")
	}

	// Environment variable settings
	v.SetEnvPrefix("MEDIAFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "mediaflow.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.temp_dir", "temp")
	v.SetDefault("storage.output_dir", "output")

	// Upload defaults
	v.SetDefault("upload.max_active_requests", defaultMaxActiveUploadReqs)
	v.SetDefault("upload.max_chunk_size", defaultMaxChunkSize)
	v.SetDefault("upload.max_user_quota_bytes", defaultMaxUserQuotaBytes)

	// Pipeline defaults
	v.SetDefault("pipeline.workers", defaultPipelineWorkers)
	v.SetDefault("pipeline.scratch_buffer_size", defaultPipelineBufSize)

	// HLS defaults
	v.SetDefault("hls.segment_duration", defaultHLSSegmentDuration)
	v.SetDefault("hls.max_segment_digits", defaultHLSMaxSegmentDigits)
	v.SetDefault("hls.key_bits", defaultHLSKeyBits)
	v.SetDefault("hls.flush_buffer_size", defaultHLSFlushBufSize)

	// Image defaults
	v.SetDefault("image.max_width", defaultImageMaxWidth)
	v.SetDefault("image.max_height", defaultImageMaxHeight)
	v.SetDefault("image.format", "webp")

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.use_embedded", false)

	// RPC defaults
	v.SetDefault("rpc.enabled", false)
	v.SetDefault("rpc.socket_path", "/run/mediaflow/notifier.sock")
	v.SetDefault("rpc.listen_addr", "")
	v.SetDefault("rpc.dial_timeout", defaultRPCDialTimeout)

	// Stream defaults
	v.SetDefault("stream.doc_id_param", "doc_id")
	v.SetDefault("stream.detail_param", "detail")
	v.SetDefault("stream.cache_max_age", defaultStreamCacheMaxAge)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	// Storage validation
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	// Upload validation
	if c.Upload.MaxActiveRequests < 1 {
		return fmt.Errorf("upload.max_active_requests must be at least 1")
	}
	if c.Upload.MaxChunkSize <= 0 {
		return fmt.Errorf("upload.max_chunk_size must be positive")
	}

	// Pipeline validation
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1")
	}

	// HLS validation
	if c.HLS.KeyBits != 128 && c.HLS.KeyBits != 256 {
		return fmt.Errorf("hls.key_bits must be 128 or 256")
	}
	if c.HLS.MaxSegmentDigits < 1 {
		return fmt.Errorf("hls.max_segment_digits must be at least 1")
	}

	// Image validation
	if c.Image.MaxWidth < 1 || c.Image.MaxHeight < 1 {
		return fmt.Errorf("image.max_width and image.max_height must be at least 1")
	}
	if c.Image.Format == "" {
		return fmt.Errorf("image.format is required")
	}

	// Stream validation
	if c.Stream.DocIDParam == "" || c.Stream.DetailParam == "" {
		return fmt.Errorf("stream.doc_id_param and stream.detail_param are required")
	}

	// RPC validation
	if c.RPC.Enabled && c.RPC.SocketPath == "" {
		return fmt.Errorf("rpc.socket_path is required when rpc.enabled is true")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TempPath returns the full path to the temp/scratch directory.
func (c *StorageConfig) TempPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.TempDir)
}

// OutputPath returns the full path to the output directory.
func (c *StorageConfig) OutputPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.OutputDir)
}
