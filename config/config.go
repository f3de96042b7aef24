/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

// Package config loads tritontest settings from a YAML file, environment
// variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ogvalt/triton-testcontainer/command"
)

// EnvPrefix prefixes every environment variable override, e.g.
// TRITONTEST_SERVER_TAG or TRITONTEST_READINESS_TIMEOUT.
const EnvPrefix = "TRITONTEST"

// ErrConfigNotFound is returned alongside a default Config by Load when no
// config file exists. It is informational, not a failure.
var ErrConfigNotFound = errors.New("config file not found")

// Config is the tritontest configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Server    ServerConfig    `mapstructure:"server"`
	Readiness ReadinessConfig `mapstructure:"readiness"`
	Image     ImageConfig     `mapstructure:"image"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DockerConfig holds Docker daemon connection settings
type DockerConfig struct {
	// Host overrides DOCKER_HOST when set
	Host string `mapstructure:"host"`

	// HostOverride is the address used to reach published ports instead of
	// the one derived from the daemon host
	HostOverride string `mapstructure:"host_override"`
}

// ServerConfig describes the Triton server container
type ServerConfig struct {
	Repository       string   `mapstructure:"repository"`
	Tag              string   `mapstructure:"tag"`
	Name             string   `mapstructure:"name"`
	GPUs             bool     `mapstructure:"gpus"`
	ModelRepository  string   `mapstructure:"model_repository"`
	ModelControlMode string   `mapstructure:"model_control_mode"`
	LoadModels       []string `mapstructure:"load_models"`
	Volumes          []string `mapstructure:"volumes"`
	ShmSize          string   `mapstructure:"shm_size"`
	Platform         string   `mapstructure:"platform"`
}

// ReadinessConfig controls the readiness probe
type ReadinessConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// ImageConfig holds image build and removal settings. Sizes are human
// strings such as "512m" or "2g".
type ImageConfig struct {
	Tag         string        `mapstructure:"tag"`
	NetworkMode string        `mapstructure:"network_mode"`
	ShmSize     string        `mapstructure:"shm_size"`
	Memory      string        `mapstructure:"memory"`
	MemorySwap  string        `mapstructure:"memory_swap"`
	CPUShares   int64         `mapstructure:"cpu_shares"`
	CPUSetCPUs  string        `mapstructure:"cpuset_cpus"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Encoding    string        `mapstructure:"encoding"`
	Platform    string        `mapstructure:"platform"`
	NoCache     bool          `mapstructure:"no_cache"`
	Pull        bool          `mapstructure:"pull"`
	ForceRemove bool          `mapstructure:"force_remove"`
	NoPrune     bool          `mapstructure:"no_prune"`
	Reuse       bool          `mapstructure:"reuse"`
	Concurrency int           `mapstructure:"concurrency"`
}

// Image returns the server image reference repository:tag.
func (s ServerConfig) Image() string {
	return s.Repository + ":" + s.Tag
}

// Load reads config.yaml from the standard config directories. When no
// file exists it returns the defaults together with ErrConfigNotFound.
func Load() (*Config, error) {
	v, readErr := NewViper("")
	if readErr != nil && !IsNotFoundError(readErr) {
		return nil, readErr
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	return cfg, readErr
}

// LoadFromPath loads configuration from a specific file path.
func LoadFromPath(path string) (*Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	return unmarshal(v)
}

// NewViper returns a viper instance with defaults, environment overrides
// and the config file applied, for callers that bind flags on top before
// calling FromViper. An empty path searches GetConfigDirs; when nothing is
// found there the instance is still returned, together with
// ErrConfigNotFound. An explicit path must exist.
func NewViper(path string) (*viper.Viper, error) {
	var v *viper.Viper
	if path != "" {
		v = viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	} else {
		v = NewConfigViper()
	}
	configure(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return v, ErrConfigNotFound
		}
		if path != "" {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return v, nil
}

// FromViper builds a Config from an already populated viper instance,
// such as the CLI's after flag binding.
func FromViper(v *viper.Viper) (*Config, error) {
	return unmarshal(v)
}

// IsNotFoundError reports whether err means no config file was found.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var notFound viper.ConfigFileNotFoundError
	return errors.Is(err, ErrConfigNotFound) || errors.As(err, &notFound)
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.Server.ModelControlMode != "" && !slices.Contains(command.ModelControlModes, c.Server.ModelControlMode) {
		return fmt.Errorf("invalid server.model_control_mode %q, allowed: %v", c.Server.ModelControlMode, command.ModelControlModes)
	}
	if c.Server.Repository == "" || c.Server.Tag == "" {
		return fmt.Errorf("server.repository and server.tag are required")
	}
	if c.Readiness.Timeout <= 0 {
		return fmt.Errorf("readiness.timeout must be positive, got %s", c.Readiness.Timeout)
	}
	if c.Readiness.InitialInterval <= 0 || c.Readiness.MaxInterval < c.Readiness.InitialInterval {
		return fmt.Errorf("readiness intervals must satisfy 0 < initial_interval <= max_interval")
	}
	switch c.Log.Format {
	case "", "text", "plain", "color", "json":
	default:
		return fmt.Errorf("invalid log.format %q", c.Log.Format)
	}
	return nil
}

// configure applies defaults and environment variable support.
func configure(v *viper.Viper) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "color")

	// Docker defaults (empty = environment)
	v.SetDefault("docker.host", "")
	v.SetDefault("docker.host_override", "")

	// Server defaults
	v.SetDefault("server.repository", "nvcr.io/nvidia/tritonserver")
	v.SetDefault("server.tag", "24.01-py3")
	v.SetDefault("server.name", "tritonserver")
	v.SetDefault("server.gpus", false)
	v.SetDefault("server.model_repository", "")
	v.SetDefault("server.model_control_mode", command.ModelControlExplicit)
	v.SetDefault("server.load_models", []string{})
	v.SetDefault("server.volumes", []string{})
	v.SetDefault("server.shm_size", "")
	v.SetDefault("server.platform", "")

	// Readiness defaults
	v.SetDefault("readiness.timeout", 120*time.Second)
	v.SetDefault("readiness.initial_interval", 250*time.Millisecond)
	v.SetDefault("readiness.max_interval", 2*time.Second)

	// Image defaults, matching the engine's build defaults
	v.SetDefault("image.tag", "localhost/image_builder:latest")
	v.SetDefault("image.network_mode", "host")
	v.SetDefault("image.shm_size", "64m")
	v.SetDefault("image.memory", "")
	v.SetDefault("image.memory_swap", "")
	v.SetDefault("image.cpu_shares", 0)
	v.SetDefault("image.cpuset_cpus", "")
	v.SetDefault("image.timeout", 30*time.Second)
	v.SetDefault("image.encoding", "gzip")
	v.SetDefault("image.platform", "")
	v.SetDefault("image.no_cache", false)
	v.SetDefault("image.pull", false)
	v.SetDefault("image.force_remove", false)
	v.SetDefault("image.no_prune", false)
	v.SetDefault("image.reuse", false)
	v.SetDefault("image.concurrency", 2)
}
