package config

import (
	"os"
	"strconv"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"

	"github.com/jangala-dev/tinygo-itserial/itserial"
)

// Config represents the complete configuration for itserial_bridge
type Config struct {
	Serial    SerialConfig    `yaml:"serial"`
	Port      PortConfig      `yaml:"port"`
	Mode      string          `yaml:"mode"`
	Integrity IntegrityConfig `yaml:"integrity"`
	Log       LogConfig       `yaml:"log"`
}

// SerialConfig holds OS serial device settings
type SerialConfig struct {
	Device        string `yaml:"device"`
	Baud          int    `yaml:"baud"`
	ReadTimeoutMs int    `yaml:"readTimeoutMs"`
}

// PortConfig holds buffered port settings
type PortConfig struct {
	EndpointID int `yaml:"endpointId"`
	BufferSize int `yaml:"bufferSize"` // ring slots per direction
}

// IntegrityConfig holds settings of the loopback integrity mode
type IntegrityConfig struct {
	Bytes      int `yaml:"bytes"`
	ChunkSize  int `yaml:"chunkSize"`
	TimeoutSec int `yaml:"timeoutSec"`
}

// LogConfig holds log file rotation settings
type LogConfig struct {
	File       string `yaml:"file"` // empty logs to stderr only
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// Modes supported by itserial_bridge.
const (
	ModeEcho      = "echo"
	ModeCat       = "cat"
	ModeIntegrity = "integrity"
)

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty) and environment variables, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, xerrors.Errorf("config: could not load %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, xerrors.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Device:        "/dev/ttyUSB0",
			Baud:          115200,
			ReadTimeoutMs: 100,
		},
		Port: PortConfig{
			EndpointID: 0,
			BufferSize: 256,
		},
		Mode: ModeEcho,
		Integrity: IntegrityConfig{
			Bytes:      64 * 1024,
			ChunkSize:  192,
			TimeoutSec: 30,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if dev := os.Getenv("ITSERIAL_DEVICE"); dev != "" {
		cfg.Serial.Device = dev
	}

	if baud := os.Getenv("ITSERIAL_BAUD"); baud != "" {
		if v, err := strconv.Atoi(baud); err == nil {
			cfg.Serial.Baud = v
		}
	}

	if mode := os.Getenv("ITSERIAL_MODE"); mode != "" {
		cfg.Mode = mode
	}
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	switch cfg.Mode {
	case ModeEcho, ModeCat, ModeIntegrity:
	default:
		return xerrors.Errorf("invalid mode %q, must be one of: %s, %s, %s", cfg.Mode, ModeEcho, ModeCat, ModeIntegrity)
	}

	if cfg.Serial.Device == "" {
		return xerrors.New("serial device must be set")
	}

	if cfg.Serial.Baud <= 0 {
		return xerrors.Errorf("invalid baud rate %d", cfg.Serial.Baud)
	}

	if cfg.Serial.ReadTimeoutMs < 0 {
		return xerrors.Errorf("invalid read timeout %dms", cfg.Serial.ReadTimeoutMs)
	}

	if cfg.Port.BufferSize < 2 || cfg.Port.BufferSize > 1<<16 {
		return xerrors.Errorf("buffer size %d is outside range [2, 65536]", cfg.Port.BufferSize)
	}

	if cfg.Port.EndpointID < 0 || cfg.Port.EndpointID >= itserial.MaxEndpoints {
		return xerrors.Errorf("endpoint id %d is outside range [0, %d)", cfg.Port.EndpointID, itserial.MaxEndpoints)
	}

	if cfg.Mode == ModeIntegrity {
		if cfg.Integrity.Bytes <= 0 || cfg.Integrity.ChunkSize <= 0 || cfg.Integrity.TimeoutSec <= 0 {
			return xerrors.New("integrity bytes, chunkSize and timeoutSec must be positive")
		}
	}

	return nil
}
