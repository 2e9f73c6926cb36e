package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JSH-Team/vidcache/internal/utils/logger"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	ConfigDirName  = "vidcache"
	ConfigFileName = "config.yaml"
	EnvPrefix      = "VIDCACHE"

	DefaultListenAddr   = "localhost:20460"
	DefaultCacheVersion = "v1"
)

func GetConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, ConfigDirName), nil
}

func GetDefaultStorageDir() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "storage"), nil
}

// LoadConfig loads the config from the user config directory.
// If the config file does not exist, it creates a default config and saves it to the config file
func LoadConfig() {
	configPath, err := GetConfigDir()
	if err != nil {
		logger.Error("Error getting config dir: %v", err)
		return
	}
	if err := LoadConfigFrom(configPath); err != nil {
		logger.Error("Error loading config: %v", err)
	}
}

// LoadConfigFrom reads config.yaml from dir, writing the defaults first when
// the file is missing, and applies the result to the package variables.
func LoadConfigFrom(dir string) error {
	configFile := filepath.Join(dir, ConfigFileName)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config path: %w", err)
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		out, err := yaml.Marshal(DefaultConfig())
		if err != nil {
			return fmt.Errorf("error marshaling default config: %w", err)
		}

		if err := os.WriteFile(configFile, out, 0644); err != nil {
			return fmt.Errorf("error writing default config file: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("error unmarshalling config: %w", err)
	}

	GlobalConfig = cfg
	Apply(cfg)
	return nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("listen", d.Listen)
	v.SetDefault("origin", d.Origin)
	v.SetDefault("storage_dir", d.StorageDir)
	v.SetDefault("cache_version", d.CacheVersion)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("worker_url", d.WorkerURL)
	v.SetDefault("cache_video_timeout", d.CacheVideoTimeout)
	v.SetDefault("query_timeout", d.QueryTimeout)
	v.SetDefault("fetch_timeout", d.FetchTimeout)
	v.SetDefault("requests_per_second", d.RequestsPerSecond)
	v.SetDefault("max_entry_size_mb", d.MaxEntrySizeMB)
	v.SetDefault("max_concurrent_messages", d.MaxConcurrentMessages)
	v.SetDefault("message_queue_size", d.MessageQueueSize)
	v.SetDefault("video_extensions", d.VideoExtensions)
	v.SetDefault("static_extensions", d.StaticExtensions)
}

// Apply copies every set field of cfg into the package variables.
func Apply(cfg Config) {
	if cfg.Listen != "" {
		ListenAddr = cfg.Listen
	}
	if cfg.Origin != "" {
		Origin = cfg.Origin
	}
	if cfg.StorageDir != "" {
		StorageDir = cfg.StorageDir
	}
	if cfg.CacheVersion != "" {
		CacheVersion = cfg.CacheVersion
	}
	if cfg.LogLevel != "" {
		LogLevel = cfg.LogLevel
		logger.SetLevel(cfg.LogLevel)
	}
	if cfg.WorkerURL != "" {
		WorkerURL = cfg.WorkerURL
	}
	if cfg.CacheVideoTimeout > 0 {
		CacheVideoTimeout = time.Duration(cfg.CacheVideoTimeout) * time.Second
	}
	if cfg.QueryTimeout > 0 {
		QueryTimeout = time.Duration(cfg.QueryTimeout) * time.Second
	}
	if cfg.FetchTimeout > 0 {
		FetchTimeout = time.Duration(cfg.FetchTimeout) * time.Second
	}
	if cfg.RequestsPerSecond > 0 {
		RequestsPerSecond = cfg.RequestsPerSecond
	}
	if cfg.MaxEntrySizeMB > 0 {
		MaxEntryBytes = int64(cfg.MaxEntrySizeMB) << 20
	}
	if cfg.MaxConcurrentMessages > 0 {
		MaxConcurrentMessages = cfg.MaxConcurrentMessages
	}
	if cfg.MessageQueueSize > 0 {
		MessageQueueSize = cfg.MessageQueueSize
	}
	if len(cfg.VideoExtensions) > 0 {
		VideoExtensions = cfg.VideoExtensions
	}
	if len(cfg.StaticExtensions) > 0 {
		StaticExtensions = cfg.StaticExtensions
	}
}

// RememberServeSettings records the effective origin, listen address,
// storage directory and cache version in GlobalConfig.
func RememberServeSettings() {
	GlobalConfig.Origin = Origin
	GlobalConfig.Listen = ListenAddr
	GlobalConfig.StorageDir = StorageDir
	GlobalConfig.CacheVersion = CacheVersion
}

// SaveConfig saves the global config to the config file
func SaveConfig() error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}
	return SaveConfigTo(configDir)
}

// SaveConfigTo writes GlobalConfig as config.yaml in dir.
func SaveConfigTo(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config path: %w", err)
	}

	out, err := yaml.Marshal(GlobalConfig)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	return os.WriteFile(filepath.Join(dir, ConfigFileName), out, 0644)
}

// SetupStorage resolves the storage directory (flag, config, then default)
// and creates it.
func SetupStorage(storageDir string) error {
	finalStorageDir := storageDir
	if finalStorageDir == "" {
		finalStorageDir = StorageDir
	}
	if finalStorageDir == "" {
		defaultDir, err := GetDefaultStorageDir()
		if err != nil {
			return fmt.Errorf("failed to get default storage dir: %w", err)
		}
		finalStorageDir = defaultDir
	}

	if err := os.MkdirAll(filepath.Join(finalStorageDir, "blobs"), 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	StorageDir = finalStorageDir
	return nil
}
