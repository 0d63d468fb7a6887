package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk YAML configuration for a SlimStreamer instance.
// Flags (see flags.go) override any field they set explicitly.
type FileConfig struct {
	Device  DeviceConfig  `yaml:"device"`
	Network NetworkConfig `yaml:"network"`
	Logging LoggingConfig `yaml:"logging"`
}

// DeviceConfig describes the PCM capture format, mirroring spec.md §3's
// PCMParameters.
type DeviceConfig struct {
	Name           string `yaml:"name"`
	SamplingRate   int    `yaml:"sampling_rate"`
	Channels       int    `yaml:"channels"`
	BitDepth       int    `yaml:"bit_depth"`
	FramesPerChunk int    `yaml:"frames_per_chunk"`
	Periods        int    `yaml:"periods"`
	QueueCapacity  int    `yaml:"queue_capacity"`
}

// NetworkConfig holds the two listen addresses SlimStreamer binds.
type NetworkConfig struct {
	ControlListenAddr string `yaml:"control_listen_addr"`
	StreamListenAddr  string `yaml:"stream_listen_addr"`
	ServerPort        int    `yaml:"server_port"`
}

// LoggingConfig controls the runtime log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// defaultFileConfig returns the configuration used when no file is supplied
// or a field is left at its YAML zero value.
func defaultFileConfig() FileConfig {
	return FileConfig{
		Device: DeviceConfig{
			Name:           "default",
			SamplingRate:   48000,
			Channels:       3,
			BitDepth:       16,
			FramesPerChunk: 960,
			Periods:        4,
			QueueCapacity:  16,
		},
		Network: NetworkConfig{
			ControlListenAddr: ":3483",
			StreamListenAddr:  ":9000",
			ServerPort:        9000,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// loadFileConfig reads and parses a YAML config file at path, filling any
// field the file leaves unset with defaultFileConfig's values.
func loadFileConfig(path string) (FileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return FileConfig{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func (c FileConfig) validate() error {
	if c.Device.SamplingRate <= 0 {
		return fmt.Errorf("device.sampling_rate must be positive")
	}
	if c.Device.Channels < 2 {
		return fmt.Errorf("device.channels must be at least 2 (payload + marker)")
	}
	if c.Device.BitDepth <= 0 || c.Device.BitDepth%8 != 0 {
		return fmt.Errorf("device.bit_depth must be a positive multiple of 8")
	}
	if c.Device.FramesPerChunk <= 0 {
		return fmt.Errorf("device.frames_per_chunk must be positive")
	}
	if c.Device.QueueCapacity <= 0 {
		return fmt.Errorf("device.queue_capacity must be positive")
	}
	if c.Network.ControlListenAddr == "" {
		return fmt.Errorf("network.control_listen_addr is required")
	}
	if c.Network.StreamListenAddr == "" {
		return fmt.Errorf("network.stream_listen_addr is required")
	}
	if c.Network.ServerPort <= 0 || c.Network.ServerPort > 65535 {
		return fmt.Errorf("network.server_port must be between 1 and 65535")
	}
	return nil
}
