package config

import (
	"path/filepath"
	"time"
)

var (
	ListenAddr   string
	Origin       string // Base URL of the video library the worker sits in front of
	StorageDir   string // Holds both the cache index and response bodies
	CacheVersion = DefaultCacheVersion
	LogLevel     = "info"
	WorkerURL    string // Base URL of a running worker, used by the cache commands
	GlobalConfig Config

	// Protocol call deadlines
	CacheVideoTimeout = 30 * time.Second
	QueryTimeout      = 5 * time.Second

	// Outbound network configuration
	FetchTimeout      = 10 * time.Minute // Whole videos travel over this client
	RequestsPerSecond = 50

	// Bodies above this size are passed through but never stored
	MaxEntryBytes int64 = 512 << 20

	// Worker message pool configuration
	MaxConcurrentMessages = 4   // Maximum protocol messages handled at once
	MessageQueueSize      = 100 // Size of the message queue buffer

	VideoExtensions  = []string{"mp4", "webm", "ogg"}
	StaticExtensions = []string{"css", "js", "png", "jpg", "jpeg", "gif", "svg", "ico"}
)

type Config struct {
	Listen       string `mapstructure:"listen" yaml:"listen"`
	Origin       string `mapstructure:"origin" yaml:"origin"`
	StorageDir   string `mapstructure:"storage_dir" yaml:"storage_dir"`
	CacheVersion string `mapstructure:"cache_version" yaml:"cache_version"`
	LogLevel     string `mapstructure:"log_level" yaml:"log_level"`
	WorkerURL    string `mapstructure:"worker_url" yaml:"worker_url"`

	// Timeouts in seconds
	CacheVideoTimeout int `mapstructure:"cache_video_timeout" yaml:"cache_video_timeout"`
	QueryTimeout      int `mapstructure:"query_timeout" yaml:"query_timeout"`
	FetchTimeout      int `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`

	RequestsPerSecond     int `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	MaxEntrySizeMB        int `mapstructure:"max_entry_size_mb" yaml:"max_entry_size_mb"`
	MaxConcurrentMessages int `mapstructure:"max_concurrent_messages" yaml:"max_concurrent_messages"`
	MessageQueueSize      int `mapstructure:"message_queue_size" yaml:"message_queue_size"`

	VideoExtensions  []string `mapstructure:"video_extensions" yaml:"video_extensions"`
	StaticExtensions []string `mapstructure:"static_extensions" yaml:"static_extensions"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		Listen:                DefaultListenAddr,
		CacheVersion:          DefaultCacheVersion,
		LogLevel:              "info",
		WorkerURL:             "http://" + DefaultListenAddr,
		CacheVideoTimeout:     30,
		QueryTimeout:          5,
		FetchTimeout:          600,
		RequestsPerSecond:     50,
		MaxEntrySizeMB:        512,
		MaxConcurrentMessages: 4,
		MessageQueueSize:      100,
		VideoExtensions:       []string{"mp4", "webm", "ogg"},
		StaticExtensions:      []string{"css", "js", "png", "jpg", "jpeg", "gif", "svg", "ico"},
	}
}

// GetIndexPath returns the path of the cache index database
func GetIndexPath() string {
	if StorageDir != "" {
		return filepath.Join(StorageDir, "index.db")
	}
	return ""
}

// GetBlobsPath returns the directory holding cached response bodies
func GetBlobsPath() string {
	if StorageDir != "" {
		return filepath.Join(StorageDir, "blobs")
	}
	return ""
}
