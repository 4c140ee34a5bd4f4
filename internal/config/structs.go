//nolint:lll
package config

// Config represents the complete configuration of the defectscan application.
// It covers every command (serve, detect, batch, client) and supports loading
// from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Persistence
	Database DatabaseConfig `mapstructure:"database" yaml:"database" json:"database"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth" json:"auth"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage" json:"storage"`

	// Detection models and rendering
	Detection DetectionConfig `mapstructure:"detection" yaml:"detection" json:"detection"`
	Annotate  AnnotateConfig  `mapstructure:"annotate" yaml:"annotate" json:"annotate"`

	// Batch processing configuration
	Batch BatchConfig `mapstructure:"batch" yaml:"batch" json:"batch"`

	// GPU configuration
	GPU GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`

	// API client (for client command)
	Client ClientConfig `mapstructure:"client" yaml:"client" json:"client"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	PublicURL       string          `mapstructure:"public_url" yaml:"public_url" json:"public_url"`
	StaticDir       string          `mapstructure:"static_dir" yaml:"static_dir" json:"static_dir"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client limits for detection routes.
type RateLimitConfig struct {
	Enabled           bool  `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDay     int64 `mapstructure:"max_data_per_day" yaml:"max_data_per_day" json:"max_data_per_day"`
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path          string `mapstructure:"path" yaml:"path" json:"path"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms" yaml:"busy_timeout_ms" json:"busy_timeout_ms"`
}

// AuthConfig contains token and password hashing settings.
type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwt_secret" yaml:"jwt_secret" json:"-"`
	TokenTTL   string `mapstructure:"token_ttl" yaml:"token_ttl" json:"token_ttl"`
	BcryptCost int    `mapstructure:"bcrypt_cost" yaml:"bcrypt_cost" json:"bcrypt_cost"`
}

// StorageConfig contains file storage locations.
type StorageConfig struct {
	UploadDir    string `mapstructure:"upload_dir" yaml:"upload_dir" json:"upload_dir"`
	TmpDir       string `mapstructure:"tmp_dir" yaml:"tmp_dir" json:"tmp_dir"`
	DownloadFile string `mapstructure:"download_file" yaml:"download_file" json:"download_file"`
}

// DetectionConfig lists the model versions to load.
type DetectionConfig struct {
	DefaultVersion   string        `mapstructure:"default_version" yaml:"default_version" json:"default_version"`
	Models           []ModelConfig `mapstructure:"models" yaml:"models" json:"models"`
	NumThreads       int           `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	WarmupIterations int           `mapstructure:"warmup_iterations" yaml:"warmup_iterations" json:"warmup_iterations"`
}

// ModelConfig holds one model version with its tiling and merge parameters.
type ModelConfig struct {
	Version         string  `mapstructure:"version" yaml:"version" json:"version"`
	ModelPath       string  `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	ClassesFile     string  `mapstructure:"classes_file" yaml:"classes_file,omitempty" json:"classes_file,omitempty"`
	TilePolicy      string  `mapstructure:"tile_policy" yaml:"tile_policy" json:"tile_policy"`
	TileSize        int     `mapstructure:"tile_size" yaml:"tile_size" json:"tile_size"`
	Overlap         float64 `mapstructure:"overlap" yaml:"overlap" json:"overlap"`
	Confidence      float64 `mapstructure:"confidence" yaml:"confidence" json:"confidence"`
	MergeIoU        float64 `mapstructure:"merge_iou" yaml:"merge_iou" json:"merge_iou"`
	MergeConfidence float64 `mapstructure:"merge_confidence" yaml:"merge_confidence" json:"merge_confidence"`
	ClassAware      bool    `mapstructure:"class_aware" yaml:"class_aware" json:"class_aware"`
}

// AnnotateConfig controls how detections are drawn.
type AnnotateConfig struct {
	BoxColor  string `mapstructure:"box_color" yaml:"box_color" json:"box_color"`
	Thickness int    `mapstructure:"thickness" yaml:"thickness" json:"thickness"`
}

// BatchConfig contains batch processing settings.
type BatchConfig struct {
	Workers   int      `mapstructure:"workers" yaml:"workers" json:"workers"`
	OutputDir string   `mapstructure:"output_dir" yaml:"output_dir" json:"output_dir"`
	Recursive bool     `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
	Include   []string `mapstructure:"include" yaml:"include" json:"include"`
	Exclude   []string `mapstructure:"exclude" yaml:"exclude" json:"exclude"`
	Format    string   `mapstructure:"format" yaml:"format" json:"format"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}

// ClientConfig contains defaults for the API client.
type ClientConfig struct {
	ServerURL string `mapstructure:"server_url" yaml:"server_url" json:"server_url"`
	Username  string `mapstructure:"username" yaml:"username" json:"username"`
	Password  string `mapstructure:"password" yaml:"password" json:"-"`
	TokenFile string `mapstructure:"token_file" yaml:"token_file" json:"token_file"`
}
