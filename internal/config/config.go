package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration shared by the shoepad service and the
// trainer. Every field is optional; the Get* methods supply the defaults so
// partial files are safe. Command-line flags override the loaded values.
type Config struct {
	// Service
	HTTPListen       *string `json:"http_listen,omitempty"`
	DiscoveryListen  *string `json:"discovery_listen,omitempty"`
	MQTTListen       *string `json:"mqtt_listen,omitempty"`
	DiscoveryTimeout *string `json:"discovery_timeout,omitempty"` // duration string like "1s"
	RecordingsDir    *string `json:"recordings_dir,omitempty"`
	ModelDir         *string `json:"model_dir,omitempty"`
	DBPath           *string `json:"db_path,omitempty"`
	SettingsPath     *string `json:"settings_path,omitempty"`
	SerialPort       *string `json:"serial_port,omitempty"`
	SerialBaudRate   *int    `json:"serial_baud_rate,omitempty"`
	BufferCapacity   *int    `json:"buffer_capacity,omitempty"`
	WindowSize       *int    `json:"window_size,omitempty"`
	ReplayTick       *string `json:"replay_tick,omitempty"`

	// Training
	DataDir        *string  `json:"data_dir,omitempty"`
	CheckpointPath *string  `json:"checkpoint_path,omitempty"`
	ClassNamesPath *string  `json:"class_names_path,omitempty"`
	PlotDir        *string  `json:"plot_dir,omitempty"`
	Epochs         *int     `json:"epochs,omitempty"`
	BatchSize      *int     `json:"batch_size,omitempty"`
	Folds          *int     `json:"folds,omitempty"`
	TestSize       *float64 `json:"test_size,omitempty"`
	Seed           *int64   `json:"seed,omitempty"`
}

const maxConfigSize = 1 * 1024 * 1024 // 1MB

// LoadConfig loads a Config from a JSON file. The path must have a .json
// extension and the file must be under 1MB.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	for name, d := range map[string]*string{
		"discovery_timeout": c.DiscoveryTimeout,
		"replay_tick":       c.ReplayTick,
	} {
		if d != nil && *d != "" {
			v, err := time.ParseDuration(*d)
			if err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
			}
			if v <= 0 {
				return fmt.Errorf("%s must be positive, got %s", name, *d)
			}
		}
	}

	positive := []struct {
		name string
		v    *int
	}{
		{"serial_baud_rate", c.SerialBaudRate},
		{"buffer_capacity", c.BufferCapacity},
		{"window_size", c.WindowSize},
		{"epochs", c.Epochs},
		{"batch_size", c.BatchSize},
	}
	for _, p := range positive {
		if p.v != nil && *p.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, *p.v)
		}
	}

	if c.Folds != nil && *c.Folds < 2 {
		return fmt.Errorf("folds must be at least 2, got %d", *c.Folds)
	}
	if c.TestSize != nil && (*c.TestSize <= 0 || *c.TestSize >= 1) {
		return fmt.Errorf("test_size must be between 0 and 1, got %f", *c.TestSize)
	}
	return nil
}

func stringOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func durationOr(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def
	}
	return d
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// GetHTTPListen returns the HTTP listen address or ":8080".
func (c *Config) GetHTTPListen() string { return stringOr(c.HTTPListen, ":8080") }

// GetDiscoveryListen returns the UDP discovery listen address or ":1884".
func (c *Config) GetDiscoveryListen() string { return stringOr(c.DiscoveryListen, ":1884") }

// GetMQTTListen returns the MQTT broker listen address or ":1883".
func (c *Config) GetMQTTListen() string { return stringOr(c.MQTTListen, ":1883") }

// GetDiscoveryTimeout returns how long start-up waits for another instance.
func (c *Config) GetDiscoveryTimeout() time.Duration {
	return durationOr(c.DiscoveryTimeout, time.Second)
}

func (c *Config) GetRecordingsDir() string  { return stringOr(c.RecordingsDir, "recordings") }
func (c *Config) GetModelDir() string       { return stringOr(c.ModelDir, "model.pb") }
func (c *Config) GetDBPath() string         { return stringOr(c.DBPath, "shoepad.db") }
func (c *Config) GetSettingsPath() string   { return stringOr(c.SettingsPath, "settings.json") }
func (c *Config) GetSerialPort() string     { return stringOr(c.SerialPort, "") }
func (c *Config) GetSerialBaudRate() int    { return intOr(c.SerialBaudRate, 115200) }
func (c *Config) GetBufferCapacity() int    { return intOr(c.BufferCapacity, 1000) }
func (c *Config) GetWindowSize() int        { return intOr(c.WindowSize, 50) }
func (c *Config) GetDataDir() string        { return stringOr(c.DataDir, "data") }
func (c *Config) GetCheckpointPath() string { return stringOr(c.CheckpointPath, "model_weights.cbor") }
func (c *Config) GetClassNamesPath() string { return stringOr(c.ClassNamesPath, "class_names.txt") }
func (c *Config) GetPlotDir() string        { return stringOr(c.PlotDir, "") }
func (c *Config) GetEpochs() int            { return intOr(c.Epochs, 1000) }
func (c *Config) GetBatchSize() int         { return intOr(c.BatchSize, 32) }
func (c *Config) GetFolds() int             { return intOr(c.Folds, 5) }

// GetReplayTick returns the replay polling interval.
func (c *Config) GetReplayTick() time.Duration {
	return durationOr(c.ReplayTick, time.Millisecond)
}

// GetTestSize returns the held-out test fraction.
func (c *Config) GetTestSize() float64 {
	if c.TestSize == nil {
		return 0.2
	}
	return *c.TestSize
}

// GetSeed returns the seed for splitting, shuffling and initialisation.
func (c *Config) GetSeed() int64 {
	if c.Seed == nil {
		return 42
	}
	return *c.Seed
}
