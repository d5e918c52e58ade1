package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ftl/netcvadapter/adapter"
	"github.com/ftl/netcvadapter/config"
	"github.com/ftl/netcvadapter/mcli"
	"github.com/ftl/netcvadapter/mcli/sim"
	"github.com/ftl/netcvadapter/netceiver"
)

var rootFlags = struct {
	config   *string
	logLevel *string
	simulate *bool
}{}

var rootCmd = &cobra.Command{
	Use:   "netcvadapter",
	Short: "An adapter to stream the tuners of NetCeiver devices over HTTP.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootFlags.config = rootCmd.PersistentFlags().StringP("config", "c", "", "the configuration file")
	rootFlags.logLevel = rootCmd.PersistentFlags().String("log-level", "", "override the log level (trace, debug, info, warn, error)")
	rootFlags.simulate = rootCmd.PersistentFlags().Bool("simulate", false, "use simulated NetCeivers instead of the network")
}

// setup loads the configuration and applies the command line overrides.
func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(*rootFlags.config)
	if err != nil {
		return nil, nil, err
	}
	if *rootFlags.logLevel != "" {
		cfg.Log.Level = *rootFlags.logLevel
	}
	if *rootFlags.simulate {
		cfg.Simulate.Enabled = true
	}

	log, err := cfg.Log.NewLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}
	return cfg, log, nil
}

func openLibrary(cfg *config.Config) (mcli.Library, error) {
	if !cfg.Simulate.Enabled {
		return mcli.Open()
	}

	simConfig := sim.Config{}
	for _, d := range cfg.Simulate.Devices {
		device := sim.Device{UUID: d.UUID}
		for _, t := range d.Tuners {
			fe, _ := config.TunerType(t.Type)
			device.Tuners = append(device.Tuners, mcli.TunerInfo{Name: t.Name, Type: fe})
		}
		simConfig.Devices = append(simConfig.Devices, device)
	}
	return sim.New(simConfig), nil
}

// discover finds the NetCeiver tuners and registers them as adapters.
func discover(ctx context.Context, cfg *config.Config, metrics *netceiver.Metrics, log logrus.FieldLogger) (*adapter.Registry, *netceiver.SlotTable, error) {
	lib, err := openLibrary(cfg)
	if err != nil {
		return nil, nil, err
	}

	registry := adapter.NewRegistry(cfg.NetCeiver.MaxAdapters)
	table, err := netceiver.Discover(ctx, lib, registry, netceiver.Options{
		Interface:       cfg.NetCeiver.Interface,
		Port:            cfg.NetCeiver.Port,
		ExpectedDevices: cfg.NetCeiver.Devices,
		Retries:         cfg.NetCeiver.DiscoveryRetries,
		Interval:        cfg.NetCeiver.DiscoveryInterval,
		PipeSize:        cfg.NetCeiver.PipeSize,
		Metrics:         metrics,
		Log:             log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("discovery failed: %w", err)
	}
	return registry, table, nil
}
