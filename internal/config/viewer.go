package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ViewerConfig holds the tunable settings of a playback session. Every field
// is optional. Omitted fields fall back to the defaults returned by the Get*
// accessors, so partial config files are safe.
type ViewerConfig struct {
	// Playback
	FPS        *float64 `mapstructure:"fps" json:"fps,omitempty"`
	Background *string  `mapstructure:"background" json:"background,omitempty"` // "black" or "white"

	// Viewer hints forwarded to connected clients
	PointSize    *float64 `mapstructure:"point_size" json:"point_size,omitempty"`
	WindowWidth  *int     `mapstructure:"window_width" json:"window_width,omitempty"`
	WindowHeight *int     `mapstructure:"window_height" json:"window_height,omitempty"`

	// Streaming
	ListenAddr   *string `mapstructure:"listen_addr" json:"listen_addr,omitempty"`
	HTTPAddr     *string `mapstructure:"http_addr" json:"http_addr,omitempty"`
	MaxClients   *int    `mapstructure:"max_clients" json:"max_clients,omitempty"`
	ClientBuffer *int    `mapstructure:"client_buffer" json:"client_buffer,omitempty"`

	// Decimation applied before frames leave the process
	DecimationMode  *string  `mapstructure:"decimation_mode" json:"decimation_mode,omitempty"` // none, uniform, voxel
	DecimationRatio *float64 `mapstructure:"decimation_ratio" json:"decimation_ratio,omitempty"`
	VoxelSize       *float64 `mapstructure:"voxel_size" json:"voxel_size,omitempty"`

	// Recording
	Compression *string `mapstructure:"compression" json:"compression,omitempty"` // snappy, lz4, none
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyViewerConfig returns a ViewerConfig with all fields set to nil.
func EmptyViewerConfig() *ViewerConfig {
	return &ViewerConfig{}
}

var configExtensions = map[string]bool{
	".json": true,
	".yaml": true,
	".yml":  true,
	".toml": true,
}

// LoadViewerConfig reads a JSON, YAML or TOML config file through viper.
// The file must be under 1MB and carry one of the supported extensions.
func LoadViewerConfig(path string) (*ViewerConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if !configExtensions[ext] {
		return nil, fmt.Errorf("config file must have .json, .yaml or .toml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	v := viper.New()
	v.SetConfigFile(cleanPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyViewerConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *ViewerConfig) Validate() error {
	if c.FPS != nil && *c.FPS < 0 {
		return fmt.Errorf("fps must be non-negative, got %f", *c.FPS)
	}
	if c.Background != nil {
		switch *c.Background {
		case "black", "white":
		default:
			return fmt.Errorf("background must be black or white, got %q", *c.Background)
		}
	}
	if c.PointSize != nil && *c.PointSize <= 0 {
		return fmt.Errorf("point_size must be positive, got %f", *c.PointSize)
	}
	if c.WindowWidth != nil && *c.WindowWidth <= 0 {
		return fmt.Errorf("window_width must be positive, got %d", *c.WindowWidth)
	}
	if c.WindowHeight != nil && *c.WindowHeight <= 0 {
		return fmt.Errorf("window_height must be positive, got %d", *c.WindowHeight)
	}
	if c.MaxClients != nil && *c.MaxClients < 1 {
		return fmt.Errorf("max_clients must be at least 1, got %d", *c.MaxClients)
	}
	if c.ClientBuffer != nil && *c.ClientBuffer < 1 {
		return fmt.Errorf("client_buffer must be at least 1, got %d", *c.ClientBuffer)
	}
	if c.DecimationMode != nil {
		switch *c.DecimationMode {
		case "none", "uniform", "voxel":
		default:
			return fmt.Errorf("decimation_mode must be none, uniform or voxel, got %q", *c.DecimationMode)
		}
	}
	if c.DecimationRatio != nil && (*c.DecimationRatio <= 0 || *c.DecimationRatio > 1) {
		return fmt.Errorf("decimation_ratio must be in (0, 1], got %f", *c.DecimationRatio)
	}
	if c.VoxelSize != nil && *c.VoxelSize <= 0 {
		return fmt.Errorf("voxel_size must be positive, got %f", *c.VoxelSize)
	}
	if c.Compression != nil {
		switch *c.Compression {
		case "snappy", "lz4", "none":
		default:
			return fmt.Errorf("compression must be snappy, lz4 or none, got %q", *c.Compression)
		}
	}
	return nil
}

// GetFPS returns the playback rate cap or the default. Zero means unthrottled.
func (c *ViewerConfig) GetFPS() float64 {
	if c.FPS == nil {
		return 10
	}
	return *c.FPS
}

// GetBackground returns the initial background colour or the default.
func (c *ViewerConfig) GetBackground() string {
	if c.Background == nil {
		return "black"
	}
	return *c.Background
}

// GetPointSize returns the point size hint or the default.
func (c *ViewerConfig) GetPointSize() float64 {
	if c.PointSize == nil {
		return 1
	}
	return *c.PointSize
}

// GetWindowSize returns the viewer window size hint or the default.
func (c *ViewerConfig) GetWindowSize() (width, height int) {
	width, height = 1920, 1080
	if c.WindowWidth != nil {
		width = *c.WindowWidth
	}
	if c.WindowHeight != nil {
		height = *c.WindowHeight
	}
	return width, height
}

// GetListenAddr returns the gRPC listen address or the default.
func (c *ViewerConfig) GetListenAddr() string {
	if c.ListenAddr == nil {
		return "localhost:50051"
	}
	return *c.ListenAddr
}

// GetHTTPAddr returns the HTTP status address or the default.
func (c *ViewerConfig) GetHTTPAddr() string {
	if c.HTTPAddr == nil {
		return "localhost:8080"
	}
	return *c.HTTPAddr
}

// GetMaxClients returns the viewer client limit or the default.
func (c *ViewerConfig) GetMaxClients() int {
	if c.MaxClients == nil {
		return 8
	}
	return *c.MaxClients
}

// GetClientBuffer returns the per-client frame buffer or the default.
func (c *ViewerConfig) GetClientBuffer() int {
	if c.ClientBuffer == nil {
		return 4
	}
	return *c.ClientBuffer
}

// GetDecimationMode returns the decimation mode or the default.
func (c *ViewerConfig) GetDecimationMode() string {
	if c.DecimationMode == nil {
		return "none"
	}
	return *c.DecimationMode
}

// GetDecimationRatio returns the uniform decimation ratio or the default.
func (c *ViewerConfig) GetDecimationRatio() float64 {
	if c.DecimationRatio == nil {
		return 1
	}
	return *c.DecimationRatio
}

// GetVoxelSize returns the voxel edge length in metres or the default.
func (c *ViewerConfig) GetVoxelSize() float64 {
	if c.VoxelSize == nil {
		return 0.1
	}
	return *c.VoxelSize
}

// GetCompression returns the recording compression or the default.
func (c *ViewerConfig) GetCompression() string {
	if c.Compression == nil {
		return "snappy"
	}
	return *c.Compression
}
