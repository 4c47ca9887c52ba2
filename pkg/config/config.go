package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	defaults "github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/blecentral/internal/device"
)

// ServiceEntry extends the service catalog with one filter bit.
type ServiceEntry struct {
	Name string `yaml:"name"`
	// Bit is the bit index (1..31); index 0 is the built-in serial port service.
	Bit  uint   `yaml:"bit"`
	UUID string `yaml:"uuid"`
}

// Config holds application configuration
type Config struct {
	LogLevel         logrus.Level   `yaml:"log_level"`
	ScanTimeout      time.Duration  `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout   time.Duration  `yaml:"connect_timeout" default:"30s"`
	ReportDuplicates bool           `yaml:"report_duplicates" default:"true"`
	Backend          string         `yaml:"backend" default:"goble"`
	Services         []ServiceEntry `yaml:"services"`
	EventBuffer      int            `yaml:"event_buffer" default:"64"`
	OutputFormat     string         `yaml:"output_format" default:"table"` // table, json
	Listen           string         `yaml:"listen" default:"127.0.0.1:8765"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{LogLevel: logrus.InfoLevel}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file on top of the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config %q: %w", path, err)
	}
	defer f.Close()

	return Decode(f)
}

// Decode reads YAML from r on top of the defaults and validates the result.
func Decode(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and the service catalog extension.
func (c *Config) Validate() error {
	var errs []error
	if c.ScanTimeout <= 0 {
		errs = append(errs, fmt.Errorf("scan_timeout must be positive, got %s", c.ScanTimeout))
	}
	if c.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("connect_timeout must not be negative, got %s", c.ConnectTimeout))
	}
	if c.Backend == "" {
		errs = append(errs, errors.New("backend must be set"))
	}
	if c.EventBuffer <= 0 {
		errs = append(errs, fmt.Errorf("event_buffer must be positive, got %d", c.EventBuffer))
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		errs = append(errs, fmt.Errorf("output_format must be table or json, got %q", c.OutputFormat))
	}
	if _, err := c.Catalog(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Catalog builds the service catalog: the built-in serial port service plus Services.
func (c *Config) Catalog() (*device.Catalog, error) {
	catalog := device.NewCatalog()
	for _, s := range c.Services {
		if s.Bit == 0 || s.Bit > 31 {
			return nil, fmt.Errorf("service %q: bit index must be within 1..31, got %d", s.Name, s.Bit)
		}
		if err := catalog.Register(device.ServiceFilter(1)<<s.Bit, s.Name, s.UUID); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
