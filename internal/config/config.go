// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the streamadmin process configuration from a YAML file
// and STREAMADMIN_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/novatechflow/streamadmin/pkg/stream"
)

const envPrefix = "STREAMADMIN_"

// Config defines the process configuration schema.
type Config struct {
	BaseDir   string         `yaml:"base_dir"`
	CacheSize int            `yaml:"cache_size"`
	LogLevel  string         `yaml:"log_level"`
	Defaults  DefaultsConfig `yaml:"defaults"`
	Storage   StorageConfig  `yaml:"storage"`
	State     StateConfig    `yaml:"state"`
	Server    ServerConfig   `yaml:"server"`
}

type DefaultsConfig struct {
	PartitionDurationMS int64 `yaml:"partition_duration_ms"`
	IndexIntervalMS     int64 `yaml:"index_interval_ms"`
}

type StorageConfig struct {
	Backend string   `yaml:"backend"`
	Root    string   `yaml:"root"`
	S3      S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	KMSKeyARN       string `yaml:"kms_key_arn"`
}

type StateConfig struct {
	Backend string       `yaml:"backend"`
	Etcd    EtcdConfig   `yaml:"etcd"`
	Pebble  PebbleConfig `yaml:"pebble"`
}

type EtcdConfig struct {
	Endpoints        []string `yaml:"endpoints"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	Prefix           string   `yaml:"prefix"`
	DialTimeoutMS    int      `yaml:"dial_timeout_ms"`
	RequestTimeoutMS int      `yaml:"request_timeout_ms"`
}

type PebbleConfig struct {
	Dir         string `yaml:"dir"`
	DisableSync bool   `yaml:"disable_sync"`
}

type ServerConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
}

// Load reads path when it is not empty, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.BaseDir = envOrDefault("BASE_DIR", cfg.BaseDir)
	cfg.CacheSize = parseEnvInt("CACHE_SIZE", cfg.CacheSize)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.Defaults.PartitionDurationMS = parseEnvInt64("PARTITION_DURATION_MS", cfg.Defaults.PartitionDurationMS)
	cfg.Defaults.IndexIntervalMS = parseEnvInt64("INDEX_INTERVAL_MS", cfg.Defaults.IndexIntervalMS)

	cfg.Storage.Backend = envOrDefault("STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.Root = envOrDefault("STORAGE_ROOT", cfg.Storage.Root)
	s3 := &cfg.Storage.S3
	s3.Bucket = envOrDefault("S3_BUCKET", s3.Bucket)
	s3.Prefix = envOrDefault("S3_PREFIX", s3.Prefix)
	s3.Region = envOrDefault("S3_REGION", s3.Region)
	s3.Endpoint = envOrDefault("S3_ENDPOINT", s3.Endpoint)
	s3.PathStyle = parseEnvBool("S3_PATH_STYLE", s3.PathStyle)
	s3.AccessKeyID = envOrDefault("S3_ACCESS_KEY", s3.AccessKeyID)
	s3.SecretAccessKey = envOrDefault("S3_SECRET_KEY", s3.SecretAccessKey)
	s3.SessionToken = envOrDefault("S3_SESSION_TOKEN", s3.SessionToken)
	s3.KMSKeyARN = envOrDefault("S3_KMS_KEY_ARN", s3.KMSKeyARN)

	cfg.State.Backend = envOrDefault("STATE_BACKEND", cfg.State.Backend)
	etcd := &cfg.State.Etcd
	if raw := envOrDefault("ETCD_ENDPOINTS", ""); raw != "" {
		etcd.Endpoints = splitList(raw)
	}
	etcd.Username = envOrDefault("ETCD_USERNAME", etcd.Username)
	etcd.Password = envOrDefault("ETCD_PASSWORD", etcd.Password)
	etcd.Prefix = envOrDefault("ETCD_PREFIX", etcd.Prefix)
	cfg.State.Pebble.Dir = envOrDefault("PEBBLE_DIR", cfg.State.Pebble.Dir)
	cfg.State.Pebble.DisableSync = parseEnvBool("PEBBLE_DISABLE_SYNC", cfg.State.Pebble.DisableSync)

	cfg.Server.MetricsAddr = envOrDefault("METRICS_ADDR", cfg.Server.MetricsAddr)
	cfg.Server.GRPCAddr = envOrDefault("GRPC_ADDR", cfg.Server.GRPCAddr)
}

func applyDefaults(cfg *Config) {
	if cfg.BaseDir == "" {
		cfg.BaseDir = "streams"
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = 1024
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Defaults.PartitionDurationMS == 0 {
		cfg.Defaults.PartitionDurationMS = stream.DefaultDefaults.PartitionDuration.Milliseconds()
	}
	if cfg.Defaults.IndexIntervalMS == 0 {
		cfg.Defaults.IndexIntervalMS = stream.DefaultDefaults.IndexInterval.Milliseconds()
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "data"
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "pebble"
	}
	if cfg.State.Etcd.Prefix == "" {
		cfg.State.Etcd.Prefix = "/streamadmin"
	}
	if cfg.State.Etcd.DialTimeoutMS == 0 {
		cfg.State.Etcd.DialTimeoutMS = 5000
	}
	if cfg.State.Etcd.RequestTimeoutMS == 0 {
		cfg.State.Etcd.RequestTimeoutMS = 3000
	}
	if cfg.State.Pebble.Dir == "" {
		cfg.State.Pebble.Dir = "data/consumer-state"
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9464"
	}
	if cfg.Server.GRPCAddr == "" {
		cfg.Server.GRPCAddr = ":9465"
	}
}

// Validate checks a loaded configuration.
func (c Config) Validate() error {
	if c.Defaults.PartitionDurationMS <= 0 {
		return fmt.Errorf("defaults.partition_duration_ms must be positive")
	}
	if c.Defaults.IndexIntervalMS <= 0 {
		return fmt.Errorf("defaults.index_interval_ms must be positive")
	}
	switch c.Storage.Backend {
	case "local", "memory":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for storage.backend=s3")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required for storage.backend=s3")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.State.Backend {
	case "memory", "pebble":
	case "etcd":
		if len(c.State.Etcd.Endpoints) == 0 {
			return fmt.Errorf("state.etcd.endpoints is required for state.backend=etcd")
		}
	default:
		return fmt.Errorf("state.backend %q is not supported", c.State.Backend)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level %q is not supported", c.LogLevel)
	}
	return nil
}

// StreamDefaults returns the durations applied to streams created without
// explicit properties.
func (c Config) StreamDefaults() stream.Defaults {
	return stream.Defaults{
		PartitionDuration: time.Duration(c.Defaults.PartitionDurationMS) * time.Millisecond,
		IndexInterval:     time.Duration(c.Defaults.IndexIntervalMS) * time.Millisecond,
	}
}

func envOrDefault(name, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(envPrefix + name)); val != "" {
		return val
	}
	return fallback
}

func parseEnvInt(name string, fallback int) int {
	if val := strings.TrimSpace(os.Getenv(envPrefix + name)); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseEnvInt64(name string, fallback int64) int64 {
	if val := strings.TrimSpace(os.Getenv(envPrefix + name)); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseEnvBool(name string, fallback bool) bool {
	if val := strings.TrimSpace(os.Getenv(envPrefix + name)); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
