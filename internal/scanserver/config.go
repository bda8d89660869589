package scanserver

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the optional scan-server configuration file.
type Config struct {
	Bind               string `yaml:"bind"`
	Port               int    `yaml:"port"`
	ReadTimeoutSeconds int    `yaml:"readTimeoutSeconds"`
}

// DefaultConfig are the values used when no config file is given.
func DefaultConfig() Config {
	return Config{
		Bind:               "",
		Port:               14500,
		ReadTimeoutSeconds: 30,
	}
}

// LoadConfig reads a yaml config file, filling unset fields with
// defaults. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("error reading server config: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("error parsing server config: %w", err)
	}
	if config.Port == 0 {
		config.Port = DefaultConfig().Port
	}
	if config.ReadTimeoutSeconds == 0 {
		config.ReadTimeoutSeconds = DefaultConfig().ReadTimeoutSeconds
	}
	return config, nil
}
