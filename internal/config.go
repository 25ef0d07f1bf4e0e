package internal

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the YAML configuration of a NovaPool instance.
type Config struct {
	Storage struct {
		Dir       string `mapstructure:"dir"`
		BlockSize int    `mapstructure:"block_size"`
	} `mapstructure:"storage"`
	Wal struct {
		File string `mapstructure:"file"`
	} `mapstructure:"wal"`
	Pool struct {
		Capacity  int `mapstructure:"capacity"`
		MaxWaitMs int `mapstructure:"max_wait_ms"`
	} `mapstructure:"pool"`
	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
}

// MaxWait converts the configured pin wait limit to a duration.
func (c *Config) MaxWait() time.Duration {
	return time.Duration(c.Pool.MaxWaitMs) * time.Millisecond
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("storage.dir", "./data")
	v.SetDefault("storage.block_size", 8192)
	v.SetDefault("wal.file", "wal.log")
	v.SetDefault("pool.capacity", 1000)
	v.SetDefault("pool.max_wait_ms", 10_000)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
