package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CaptureConfig holds the capture engine defaults. Buffer size, policy and
// rules can all be overridden per session by the ARM command.
type CaptureConfig struct {
	MaxPayload        int    `yaml:"max_payload"`
	ChunkChannelSize  int    `yaml:"chunk_channel_size"`
	RecordChannelSize int    `yaml:"record_channel_size"`
	DefaultBufferSize int    `yaml:"default_buffer_size"`
	DefaultPolicy     string `yaml:"default_policy"` // "overwrite" or "stop-on-full"
	DefaultAction     string `yaml:"default_action"` // "capture" or "ignore"
}

// NATSConfig holds the transport settings shared by the probe link and the
// export channel.
type NATSConfig struct {
	URL           string `yaml:"url"`
	ChunkSubject  string `yaml:"chunk_subject"`
	ExportSubject string `yaml:"export_subject"`
	AckTimeout    string `yaml:"ack_timeout"`
}

// ClickHouseConfig holds the optional drained-record database sink.
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// PcapConfig holds the optional drained-record capture file sink.
type PcapConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// APIConfig holds the host control interface settings.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Capture    CaptureConfig    `yaml:"capture"`
	NATS       NATSConfig       `yaml:"nats"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Pcap       PcapConfig       `yaml:"pcap"`
	API        APIConfig        `yaml:"api"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config
// struct with defaults applied.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Capture.ChunkChannelSize <= 0 {
		c.Capture.ChunkChannelSize = 1024
	}
	if c.Capture.RecordChannelSize <= 0 {
		c.Capture.RecordChannelSize = 1024
	}
	if c.Capture.DefaultBufferSize <= 0 {
		c.Capture.DefaultBufferSize = 4096
	}
	if c.Capture.DefaultPolicy == "" {
		c.Capture.DefaultPolicy = "overwrite"
	}
	if c.Capture.DefaultAction == "" {
		c.Capture.DefaultAction = "capture"
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.ChunkSubject == "" {
		c.NATS.ChunkSubject = "pciespectra.chunks"
	}
	if c.NATS.ExportSubject == "" {
		c.NATS.ExportSubject = "pciespectra.export"
	}
	if c.NATS.AckTimeout == "" {
		c.NATS.AckTimeout = "2s"
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
}
