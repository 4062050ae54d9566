// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Config struct {
	Storage struct {
		Backend string `json:"backend"`  // memory, badger
		DataDir string `json:"data_dir"` // badger data directory
		Author  string `json:"author"`   // default commit author
	} `json:"storage"`

	Cache struct {
		Entries int `json:"entries"` // decoded entry cache size
	} `json:"cache"`

	Compression struct {
		MinSize int `json:"min_size"` // smallest value worth compressing, bytes
	} `json:"compression"`

	LogLevel string `json:"log_level"` // debug, info, warn, error
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.Storage.Backend = "badger"
	cfg.Storage.DataDir = ".contextdb"
	cfg.Storage.Author = "contextdb"
	cfg.Cache.Entries = 2048
	cfg.Compression.MinSize = 1024
	cfg.LogLevel = "info"
	return cfg
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	defer file.Close()

	config := Default()
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	return config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "badger":
	default:
		return fmt.Errorf("unknown backend: %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "badger" && c.Storage.DataDir == "" {
		return fmt.Errorf("badger backend requires a data directory")
	}
	return nil
}
