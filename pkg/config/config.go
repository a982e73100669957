package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LogConfig configures the global logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	JSONOutput bool   `yaml:"json_output"`
}

// ServerConfig configures the messaging server.
type ServerConfig struct {
	ServerID            string   `yaml:"server_id"`
	Port                int      `yaml:"port"`
	ConnectionKey       string   `yaml:"connection_key"`
	EncryptMode         bool     `yaml:"encrypt_mode"`
	CompressMode        bool     `yaml:"compress_mode"`
	CompressBlockSize   int      `yaml:"compress_block_size"`
	SessionLimitCount   int      `yaml:"session_limit_count"`
	HighPriorityCount   int      `yaml:"high_priority_count"`
	NormalPriorityCount int      `yaml:"normal_priority_count"`
	LowPriorityCount    int      `yaml:"low_priority_count"`
	AcceptableTargetIDs []string `yaml:"acceptable_target_ids"`
	IgnoreTargetIDs     []string `yaml:"ignore_target_ids"`
}

// ClientConfig configures the messaging client.
type ClientConfig struct {
	SourceID            string `yaml:"source_id"`
	ServerIP            string `yaml:"server_ip"`
	ServerPort          int    `yaml:"server_port"`
	ConnectionKey       string `yaml:"connection_key"`
	EncryptMode         bool   `yaml:"encrypt_mode"`
	CompressMode        bool   `yaml:"compress_mode"`
	CompressBlockSize   int    `yaml:"compress_block_size"`
	HighPriorityCount   int    `yaml:"high_priority_count"`
	NormalPriorityCount int    `yaml:"normal_priority_count"`
	LowPriorityCount    int    `yaml:"low_priority_count"`
	SourceFolder        string `yaml:"source_folder"`
	TargetFolder        string `yaml:"target_folder"`
}

// BusConfig configures the in-process message bus.
type BusConfig struct {
	QueueCapacity   int    `yaml:"queue_capacity"`
	WorkerThreads   int    `yaml:"worker_threads"`
	PriorityQueue   bool   `yaml:"priority_queue"`
	DeadLetterQueue bool   `yaml:"dead_letter_queue"`
	DeadLetterDir   string `yaml:"dead_letter_dir"`
}

// Config is the root of Burrow's YAML configuration file.
type Config struct {
	Log         LogConfig    `yaml:"log"`
	Server      ServerConfig `yaml:"server"`
	Client      ClientConfig `yaml:"client"`
	Bus         BusConfig    `yaml:"bus"`
	MetricsAddr string       `yaml:"metrics_addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			ServerID:            "burrow-server",
			Port:                5690,
			HighPriorityCount:   4,
			NormalPriorityCount: 4,
			LowPriorityCount:    2,
		},
		Client: ClientConfig{
			ServerIP:   "127.0.0.1",
			ServerPort: 5690,
		},
		Bus: BusConfig{
			QueueCapacity:   10000,
			WorkerThreads:   4,
			PriorityQueue:   true,
			DeadLetterQueue: true,
		},
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
