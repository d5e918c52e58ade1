package netceiver_test

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ftl/netcvadapter/adapter"
	"github.com/ftl/netcvadapter/mcli"
	"github.com/ftl/netcvadapter/mcli/sim"
	"github.com/ftl/netcvadapter/netceiver"
)

func discoverSimulated(t *testing.T, lib *sim.Library) (*adapter.Registry, *netceiver.SlotTable) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	opts := netceiver.DefaultOptions()
	opts.Interval = time.Millisecond
	opts.Log = log

	registry := adapter.NewRegistry(8)
	table, err := netceiver.Discover(context.Background(), lib, registry, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { table.Close() })
	return registry, table
}

func readFor(t *testing.T, dvr *os.File, d time.Duration) *adapter.PacketCounter {
	t.Helper()
	counter := adapter.NewPacketCounter()
	buf := make([]byte, 64*1024)
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		dvr.SetReadDeadline(deadline)
		n, err := dvr.Read(buf)
		counter.Write(buf[:n])
		if errors.Is(err, os.ErrDeadlineExceeded) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	return counter
}

func TestSimulatedStream(t *testing.T) {
	lib := sim.New(sim.Config{
		Devices: []sim.Device{{
			Tuners: []mcli.TunerInfo{{Name: "sim", Type: mcli.FrontendDVBS2}},
		}},
		VisibleAfterPolls: 1,
		PacketInterval:    2 * time.Millisecond,
		StatusInterval:    5 * time.Millisecond,
	})
	registry, _ := discoverSimulated(t, lib)

	a, ok := registry.Get(0)
	if !ok || !a.Present {
		t.Fatal("expected adapter 0 to be present")
	}
	device := a.Device
	device.Open()
	device.Tune(adapter.Transponder{
		System:       adapter.SystemDVBS2,
		Frequency:    11494000,
		SymbolRate:   22000000,
		FEC:          adapter.FEC23,
		Polarization: adapter.PolarizationHorizontal,
		Diseqc:       1,
		Modulation:   adapter.ModulationPSK8,
	})
	for _, pid := range []uint16{0, 17, 100} {
		if _, err := device.SetPID(pid); err != nil {
			t.Fatal(err)
		}
	}
	device.Commit()

	counter := readFor(t, a.DVR, 200*time.Millisecond)

	for _, pid := range []int{0, 17, 100} {
		if counter.Packets(pid) == 0 {
			t.Errorf("expected packets for pid %d", pid)
		}
	}
	if counter.PIDs() != 3 {
		t.Errorf("expected 3 pids, got %d", counter.PIDs())
	}
	if counter.ContinuityErrors() != 0 {
		t.Errorf("expected no continuity errors, got %d", counter.ContinuityErrors())
	}
	if !a.Status.Locked() {
		t.Error("expected the adapter to report lock")
	}
	if a.Status.Strength() != 0xc8 || a.Status.SNR() != 0xa0 {
		t.Errorf("expected strength 0xc8 and snr 0xa0, got %#x and %#x", a.Status.Strength(), a.Status.SNR())
	}

	if err := device.Close(); err != nil {
		t.Fatal(err)
	}
	if lib.Receivers() != 0 {
		t.Errorf("expected the receiver to be released, got %d", lib.Receivers())
	}
	if a.Status.Locked() {
		t.Error("expected the status to be zeroed after close")
	}
}

func TestSimulatedStream_NoDataWithoutPIDs(t *testing.T) {
	lib := sim.New(sim.Config{
		Devices: []sim.Device{{
			Tuners: []mcli.TunerInfo{{Name: "sim", Type: mcli.FrontendQAM}},
		}},
		PacketInterval: time.Millisecond,
	})
	registry, _ := discoverSimulated(t, lib)

	a, _ := registry.Get(0)
	a.Device.Open()
	a.Device.Tune(adapter.Transponder{System: adapter.SystemDVBCAnnexA, Frequency: 346000, SymbolRate: 6900000, Modulation: adapter.ModulationQAM256})
	a.Device.Commit()
	defer a.Device.Close()

	if counter := readFor(t, a.DVR, 50*time.Millisecond); counter.Bytes() != 0 {
		t.Errorf("expected no data, got %d bytes", counter.Bytes())
	}
}

func TestSimulatedSessionFailure(t *testing.T) {
	lib := sim.New(sim.Config{
		Devices: []sim.Device{{
			Tuners: []mcli.TunerInfo{{Name: "sim", Type: mcli.FrontendDVBS2}},
		}},
	})
	_, table := discoverSimulated(t, lib)
	lib.SetFailures(sim.Failures{NewReceiver: true})

	slot, _ := table.Get(0)
	slot.Open()
	slot.SetPID(100)
	slot.Commit()

	if !slot.Failed() {
		t.Error("expected the slot to be marked failed")
	}
	if slot.State() != netceiver.StateNoSession {
		t.Errorf("expected no session, got %s", slot.State())
	}
	slot.Close()
	if slot.Failed() {
		t.Error("expected close to clear the failure")
	}
}
