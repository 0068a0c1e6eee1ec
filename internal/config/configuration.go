package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Location struct {
	LocationName   string `mapstructure:"location_name" json:"location_name"`
	LocationType   string `mapstructure:"location_type" json:"location_type"`
	Path           string `mapstructure:"path" json:"path,omitempty"`
	MinioBucket    string `mapstructure:"minio_bucket" json:"minio_bucket,omitempty"`
	Location       string `mapstructure:"location" json:"location,omitempty"`
	MinioAccessKey string `mapstructure:"minio_access_key" json:"-"`
	MinioSecretKey string `mapstructure:"minio_secret_key" json:"-"`
	MinioUseSSL    bool   `mapstructure:"minio_use_ssl" json:"minio_use_ssl,omitempty"`
}

// MaskWindow flags channels over a time range (seconds from the start
// of the observation). All masks every channel and ignores Channels.
type MaskWindow struct {
	Start    float64 `mapstructure:"start"`
	Duration float64 `mapstructure:"duration"`
	All      bool    `mapstructure:"all"`
	Channels []int   `mapstructure:"channels"`
}

// Configuration Struct for Configuraion File
type Configuration struct {
	Host            string       `mapstructure:"host"`
	Port            int          `mapstructure:"port"`
	CacheLocation   string       `mapstructure:"cache_location"`
	CacheMaxBytes   int64        `mapstructure:"cache_max_bytes"`
	CheckCacheEvery int          `mapstructure:"check_cache_every"`
	LocationDetails []Location   `mapstructure:"location_details"`
	InputLocation   string       `mapstructure:"input_location"`
	InputFiles      []string     `mapstructure:"input_files"`
	MaxFiles        int          `mapstructure:"max_files"`
	PtsPerBlock     int          `mapstructure:"pts_per_block"`
	BlocksPerRead   int          `mapstructure:"blocks_per_read"`
	DM              float64      `mapstructure:"dm"`
	NumSubbands     int          `mapstructure:"num_subbands"`
	Transpose       bool         `mapstructure:"transpose"`
	PadValues       []float64    `mapstructure:"pad_values"`
	Mask            []MaskWindow `mapstructure:"mask"`
	Output          string       `mapstructure:"output"`
}

// SetDefaults registers the values used when a key is missing
// from the configuration file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 5056)
	v.SetDefault("cache_location", "./gmrtcache/")
	v.SetDefault("cache_max_bytes", int64(1000000000))
	v.SetDefault("check_cache_every", 60)
	v.SetDefault("max_files", 32)
	v.SetDefault("pts_per_block", 1024)
	v.SetDefault("blocks_per_read", 1)
	v.SetDefault("transpose", true)
	v.SetDefault("output", "out.dat")
}

// Load reads the YAML configuration file and unmarshals
// it into a Configuration struct.
func Load(configFile string) (*Configuration, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
	}

	configuration := &Configuration{}
	if err := v.Unmarshal(configuration); err != nil {
		return nil, fmt.Errorf("decoding config file %s: %w", configFile, err)
	}
	if err := configuration.Validate(); err != nil {
		return nil, err
	}
	return configuration, nil
}

// Validate checks the values the ingest pipeline cannot run without.
func (c *Configuration) Validate() error {
	if c.MaxFiles < 1 {
		return fmt.Errorf("max_files %d must be >= 1", c.MaxFiles)
	}
	if c.PtsPerBlock < 1 {
		return fmt.Errorf("pts_per_block %d must be >= 1", c.PtsPerBlock)
	}
	if c.BlocksPerRead < 1 {
		return fmt.Errorf("blocks_per_read %d must be >= 1", c.BlocksPerRead)
	}
	if c.CheckCacheEvery < 1 {
		return fmt.Errorf("check_cache_every %d must be >= 1", c.CheckCacheEvery)
	}
	if c.NumSubbands < 0 {
		return fmt.Errorf("num_subbands %d must be >= 0", c.NumSubbands)
	}
	return nil
}

// FindLocation returns the configured location named `name`.
func (c *Configuration) FindLocation(name string) (Location, bool) {
	for i := range c.LocationDetails {
		if c.LocationDetails[i].LocationName == name {
			return c.LocationDetails[i], true
		}
	}
	return Location{}, false
}
