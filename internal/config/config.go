package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config represents the complete cache engine configuration
type Config struct {
	Cache   CacheConfig   `yaml:"cache"`
	Storage StorageConfig `yaml:"storage"`
	Cleanup CleanupConfig `yaml:"cleanup"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// CacheConfig represents cache capacity and policy settings
type CacheConfig struct {
	// MaxSize is the hard total-size ceiling as a human-readable string ("500MB")
	MaxSize string `yaml:"max_size"`

	// MaxAge is how long an entry may live regardless of capacity pressure
	MaxAge time.Duration `yaml:"max_age"`

	// SmartCacheEnabled selects priority-based eviction over plain LRU
	SmartCacheEnabled bool `yaml:"smart_cache_enabled"`

	// OfflineMode signals upstream flows to serve exclusively from cache
	OfflineMode bool `yaml:"offline_mode"`
}

// StorageConfig selects and configures the storage backend
type StorageConfig struct {
	// Backend is "filesystem" or "s3"
	Backend   string   `yaml:"backend"`
	Directory string   `yaml:"directory"`
	S3        S3Config `yaml:"s3"`
}

// S3Config represents the S3-backed storage settings
type S3Config struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	Prefix         string `yaml:"prefix"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	MaxRetries     int    `yaml:"max_retries"`
}

// CleanupConfig represents scheduler intervals and eviction tuning.
// The thresholds and fractions are hand-tuned defaults, not invariants.
type CleanupConfig struct {
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	FullCleanupInterval time.Duration `yaml:"full_cleanup_interval"`

	// CleanupThreshold is the utilization above which the intelligent sweep
	// evicts EvictFraction of stream entries
	CleanupThreshold float64 `yaml:"cleanup_threshold"`

	// AggressiveThreshold is the utilization above which it evicts
	// AggressiveEvictFraction instead
	AggressiveThreshold     float64 `yaml:"aggressive_threshold"`
	EvictFraction           float64 `yaml:"evict_fraction"`
	AggressiveEvictFraction float64 `yaml:"aggressive_evict_fraction"`

	// InactivityWindow and MinAccessFrequency drive the inactive-stream
	// sweep: idle longer than the window AND accessed fewer times than the
	// floor means removal regardless of score
	InactivityWindow   time.Duration `yaml:"inactivity_window"`
	MinAccessFrequency int64         `yaml:"min_access_frequency"`
}

// FetchConfig represents thumbnail fetch settings
type FetchConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// MetricsConfig represents the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns the default configuration
func NewDefault() *Config {
	return &Config{
		Cache: CacheConfig{
			MaxSize:           "500MB",
			MaxAge:            7 * 24 * time.Hour,
			SmartCacheEnabled: true,
			OfflineMode:       false,
		},
		Storage: StorageConfig{
			Backend:   "filesystem",
			Directory: "",
			S3: S3Config{
				Region:     "us-east-1",
				Prefix:     "streamvault",
				MaxRetries: 3,
			},
		},
		Cleanup: CleanupConfig{
			HealthCheckInterval:     30 * time.Second,
			FullCleanupInterval:     10 * time.Minute,
			CleanupThreshold:        0.80,
			AggressiveThreshold:     0.90,
			EvictFraction:           0.15,
			AggressiveEvictFraction: 0.30,
			InactivityWindow:        48 * time.Hour,
			MinAccessFrequency:      5,
		},
		Fetch: FetchConfig{
			Timeout:     10 * time.Second,
			MaxAttempts: 3,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "streamvault",
		},
	}
}

// LoadFromFile loads configuration from a YAML file, overlaying the defaults
func LoadFromFile(filename string) (*Config, error) {
	cfg := NewDefault()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveToFile writes the configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if _, err := ParseSize(c.Cache.MaxSize); err != nil {
		return fmt.Errorf("invalid cache.max_size %q: %w", c.Cache.MaxSize, err)
	}
	if c.Cache.MaxAge <= 0 {
		return fmt.Errorf("cache.max_age must be positive, got %v", c.Cache.MaxAge)
	}

	switch c.Storage.Backend {
	case "filesystem", "s3":
	default:
		return fmt.Errorf("storage.backend must be filesystem or s3, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
	}

	if c.Cleanup.HealthCheckInterval <= 0 {
		return fmt.Errorf("cleanup.health_check_interval must be positive")
	}
	if c.Cleanup.FullCleanupInterval <= 0 {
		return fmt.Errorf("cleanup.full_cleanup_interval must be positive")
	}
	if c.Cleanup.CleanupThreshold <= 0 || c.Cleanup.CleanupThreshold > 1 {
		return fmt.Errorf("cleanup.cleanup_threshold must be in (0, 1], got %v", c.Cleanup.CleanupThreshold)
	}
	if c.Cleanup.AggressiveThreshold < c.Cleanup.CleanupThreshold || c.Cleanup.AggressiveThreshold > 1 {
		return fmt.Errorf("cleanup.aggressive_threshold must be in [cleanup_threshold, 1], got %v", c.Cleanup.AggressiveThreshold)
	}
	if c.Cleanup.EvictFraction <= 0 || c.Cleanup.EvictFraction >= 1 {
		return fmt.Errorf("cleanup.evict_fraction must be in (0, 1), got %v", c.Cleanup.EvictFraction)
	}
	if c.Cleanup.AggressiveEvictFraction < c.Cleanup.EvictFraction || c.Cleanup.AggressiveEvictFraction >= 1 {
		return fmt.Errorf("cleanup.aggressive_evict_fraction must be in [evict_fraction, 1), got %v", c.Cleanup.AggressiveEvictFraction)
	}
	if c.Cleanup.InactivityWindow <= 0 {
		return fmt.Errorf("cleanup.inactivity_window must be positive")
	}
	if c.Cleanup.MinAccessFrequency < 0 {
		return fmt.Errorf("cleanup.min_access_frequency must be non-negative")
	}

	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be positive")
	}

	return nil
}

// MaxSizeBytes returns the configured size ceiling in bytes. Call Validate
// first; an unparseable value returns 0.
func (c *Config) MaxSizeBytes() int64 {
	size, err := ParseSize(c.Cache.MaxSize)
	if err != nil {
		return 0
	}
	return size
}

// ParseSize parses a human-readable byte size string like "500MB" or "2GB"
func ParseSize(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	s = strings.ToUpper(strings.TrimSpace(s))

	if strings.HasSuffix(s, "B") {
		s = s[:len(s)-1]
	}

	var multiplier int64 = 1
	numStr := s

	if len(s) > 0 {
		switch s[len(s)-1] {
		case 'K':
			multiplier = 1024
			numStr = s[:len(s)-1]
		case 'M':
			multiplier = 1024 * 1024
			numStr = s[:len(s)-1]
		case 'G':
			multiplier = 1024 * 1024 * 1024
			numStr = s[:len(s)-1]
		case 'T':
			multiplier = 1024 * 1024 * 1024 * 1024
			numStr = s[:len(s)-1]
		}
	}

	var num float64
	if _, err := fmt.Sscanf(numStr, "%f", &num); err != nil {
		return 0, fmt.Errorf("invalid number format: %s", s)
	}
	if num <= 0 {
		return 0, fmt.Errorf("size must be positive: %s", s)
	}

	return int64(num * float64(multiplier)), nil
}

// FormatSize renders a byte count as a human-readable string
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGT"[exp])
}
