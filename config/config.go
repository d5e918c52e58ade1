// Package config holds the configuration of the NetCeiver adapter.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ftl/netcvadapter/mcli"
)

const minPipeSize = 4096

type Config struct {
	NetCeiver NetCeiverConfig `yaml:"netceiver"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Simulate  SimulateConfig  `yaml:"simulate"`
}

type NetCeiverConfig struct {
	Interface         string        `yaml:"interface"`
	Port              int           `yaml:"port"`
	Devices           int           `yaml:"devices"`
	DiscoveryRetries  int           `yaml:"discoveryRetries"`
	DiscoveryInterval time.Duration `yaml:"discoveryInterval"`
	PipeSize          int           `yaml:"pipeSize"`
	MaxAdapters       int           `yaml:"maxAdapters"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
	// Metrics is the listen address of the prometheus endpoint, empty disables it.
	Metrics string `yaml:"metrics"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SimulateConfig replaces the network by simulated NetCeivers.
type SimulateConfig struct {
	Enabled bool              `yaml:"enabled"`
	Devices []SimulatedDevice `yaml:"devices"`
}

type SimulatedDevice struct {
	UUID   string           `yaml:"uuid"`
	Tuners []SimulatedTuner `yaml:"tuners"`
}

type SimulatedTuner struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

var tunerTypes = map[string]mcli.FrontendType{
	"dvbs":  mcli.FrontendQPSK,
	"dvbs2": mcli.FrontendDVBS2,
	"dvbc":  mcli.FrontendQAM,
	"dvbt":  mcli.FrontendOFDM,
	"atsc":  mcli.FrontendATSC,
}

// TunerType resolves the name of a simulated tuner type.
func TunerType(name string) (mcli.FrontendType, bool) {
	result, ok := tunerTypes[strings.ToLower(name)]
	return result, ok
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		NetCeiver: NetCeiverConfig{
			Interface:         "vlan4",
			Port:              23000,
			Devices:           1,
			DiscoveryRetries:  20,
			DiscoveryInterval: 500 * time.Millisecond,
			PipeSize:          256 * 1024,
			MaxAdapters:       16,
		},
		Server: ServerConfig{
			Listen: ":8875",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Simulate: SimulateConfig{
			Devices: []SimulatedDevice{
				{
					Tuners: []SimulatedTuner{
						{Name: "STV0900 A", Type: "dvbs2"},
						{Name: "STV0900 B", Type: "dvbs2"},
						{Name: "TDA10023", Type: "dvbc"},
					},
				},
			},
		},
	}
}

// Load reads the configuration file on top of the defaults, applies the
// environment overrides and validates the result. An empty filename skips
// the file.
func Load(filename string) (*Config, error) {
	result := Default()
	if filename != "" {
		if err := result.readFile(filename); err != nil {
			return nil, err
		}
	}
	if err := result.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return result, nil
}

func (c *Config) readFile(filename string) error {
	source, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("cannot read configuration: %w", err)
	}
	if err := yaml.Unmarshal(source, c); err != nil {
		return fmt.Errorf("cannot parse configuration %s: %w", filename, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if value, ok := lookup("NETCV_INTERFACE"); ok {
		c.NetCeiver.Interface = value
	}
	if value, ok := lookup("NETCV_PORT"); ok {
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("NETCV_PORT: %w", err)
		}
		c.NetCeiver.Port = port
	}
	if value, ok := lookup("NETCV_DEVICES"); ok {
		devices, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("NETCV_DEVICES: %w", err)
		}
		c.NetCeiver.Devices = devices
	}
	if value, ok := lookup("NETCV_LISTEN"); ok {
		c.Server.Listen = value
	}
	if value, ok := lookup("NETCV_LOG_LEVEL"); ok {
		c.Log.Level = value
	}
	return nil
}

// Validate checks the configuration for values the adapter cannot work with.
func (c *Config) Validate() error {
	var errs []error
	n := c.NetCeiver
	if n.Interface == "" {
		errs = append(errs, errors.New("netceiver.interface must not be empty"))
	}
	if n.Port < 1 || n.Port > 65535 {
		errs = append(errs, fmt.Errorf("netceiver.port %d out of range", n.Port))
	}
	if n.Devices < 0 {
		errs = append(errs, fmt.Errorf("netceiver.devices must not be negative"))
	}
	if n.DiscoveryRetries < 0 {
		errs = append(errs, fmt.Errorf("netceiver.discoveryRetries must not be negative"))
	}
	if n.DiscoveryInterval <= 0 {
		errs = append(errs, fmt.Errorf("netceiver.discoveryInterval must be positive"))
	}
	if n.PipeSize < minPipeSize {
		errs = append(errs, fmt.Errorf("netceiver.pipeSize must be at least %d", minPipeSize))
	}
	if n.MaxAdapters < 1 {
		errs = append(errs, fmt.Errorf("netceiver.maxAdapters must be at least 1"))
	}
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen must not be empty"))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	for i, device := range c.Simulate.Devices {
		for _, tuner := range device.Tuners {
			if _, ok := TunerType(tuner.Type); !ok {
				errs = append(errs, fmt.Errorf("simulate.devices[%d]: unknown tuner type %q", i, tuner.Type))
			}
		}
	}
	return errors.Join(errs...)
}

// NewLogger creates the logger described by the log configuration.
func (c LogConfig) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	result := logrus.New()
	result.SetLevel(level)
	switch c.Format {
	case "json":
		result.SetFormatter(&logrus.JSONFormatter{})
	default:
		result.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return result, nil
}
