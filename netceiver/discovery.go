// Package netceiver connects NetCeiver tuners, reached through the mcli
// receiver-control library, to the host adapter registry.
package netceiver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ftl/netcvadapter/adapter"
	"github.com/ftl/netcvadapter/mcli"
)

const (
	DefaultInterface       = "vlan4"
	DefaultPort            = 23000
	DefaultExpectedDevices = 1
	DefaultRetries         = 20
	DefaultInterval        = 500 * time.Millisecond
	DefaultPipeSize        = 256 * 1024
)

// Options control the discovery of NetCeiver tuners.
type Options struct {
	Interface       string
	Port            int
	ExpectedDevices int
	Retries         int
	Interval        time.Duration
	// PipeSize is the requested capacity of each adapter pipe, 0 keeps the system default.
	PipeSize int

	Metrics *Metrics
	Log     logrus.FieldLogger
}

func DefaultOptions() Options {
	return Options{
		Interface:       DefaultInterface,
		Port:            DefaultPort,
		ExpectedDevices: DefaultExpectedDevices,
		Retries:         DefaultRetries,
		Interval:        DefaultInterval,
		PipeSize:        DefaultPipeSize,
	}
}

// Discover initializes the library, waits for the expected number of
// NetCeivers and registers one adapter per tuner, starting at the first free
// adapter id. Unused adapter ids from there on are marked absent.
func Discover(ctx context.Context, lib mcli.Library, registry *adapter.Registry, opts Options) (*SlotTable, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "netceiver")
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}

	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}

	if err := lib.Init(opts.Interface, opts.Port); err != nil {
		log.Errorf("cannot initialize receiver library on %s:%d: %v", opts.Interface, opts.Port, err)
	}

	found, err := waitForDevices(ctx, lib, opts)
	if err != nil {
		return nil, err
	}
	if found < opts.ExpectedDevices {
		log.Warnf("found %d of %d NetCeivers", found, opts.ExpectedDevices)
	}

	lib.LockDevices()
	defer lib.UnlockDevices()

	table := &SlotTable{slots: make([]*Slot, registry.Capacity())}
	first := registry.FirstFree()
	next := first
	for _, device := range lib.Devices() {
		log.Infof("found NetCeiver %s with %d tuners", device.UUID, len(device.Tuners))
		for _, tuner := range device.Tuners {
			if next >= registry.Capacity() {
				log.Warnf("no free adapter for tuner %s of %s", tuner.Name, device.UUID)
				continue
			}
			slot, err := registerTuner(next, device, tuner, lib, registry, opts, metrics, log)
			if err != nil {
				registry.MarkAbsent(first)
				return nil, errors.Join(err, table.Close())
			}
			table.slots[next] = slot
			next++
		}
	}
	registry.MarkAbsent(next)

	return table, nil
}

// waitForDevices polls the device list until the expected number of devices
// is visible or the retries are used up. It returns the number of devices seen
// last.
func waitForDevices(ctx context.Context, lib mcli.Library, opts Options) (int, error) {
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for polls := 0; ; polls++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
		found := len(lib.Devices())
		if found >= opts.ExpectedDevices || polls >= opts.Retries {
			return found, nil
		}
	}
}

func registerTuner(id int, device mcli.DeviceInfo, tuner mcli.TunerInfo, lib mcli.Library, registry *adapter.Registry, opts Options, metrics *Metrics, log logrus.FieldLogger) (*Slot, error) {
	systems := deliverySystems(tuner.Type)
	if tuner.Type == mcli.FrontendOFDM {
		log.Warnf("tuner %s: DVB-T is not implemented", tuner.Name)
	}

	dvr, writeFD, pipeSize, err := newPipe(id, opts.PipeSize)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%s %s", device.UUID, tuner.Name)
	slot := newSlot(id, name, lib, systems, dvr, writeFD, metrics, log)
	if err := registry.Put(slot.Adapter()); err != nil {
		dvr.Close()
		closeFD(writeFD)
		return nil, err
	}

	slot.log.WithFields(logrus.Fields{
		"tuner":    tuner.Name,
		"type":     tuner.Type,
		"systems":  systems,
		"pipeSize": pipeSize,
	}).Info("adapter registered")
	return slot, nil
}
