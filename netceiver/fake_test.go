package netceiver

import (
	"io"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/ftl/netcvadapter/adapter"
	"github.com/ftl/netcvadapter/mcli"
)

type tuneCall struct {
	fe       mcli.FrontendType
	position int
	sec      mcli.SecParameters
	params   mcli.FrontendParameters
	filter   []mcli.PID
}

// fakeLibrary records every library call in order.
type fakeLibrary struct {
	mu      sync.Mutex
	calls   []string
	devices []mcli.DeviceInfo
	polls   int
	iface   string
	port    int
	hidden  int

	newReceiverErr error
	tuneErr        error
	setPIDsErr     error
	stopErr        error

	receivers []*fakeReceiver
}

func (l *fakeLibrary) record(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *fakeLibrary) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	result := make([]string, len(l.calls))
	copy(result, l.calls)
	return result
}

func (l *fakeLibrary) count(call string) int {
	result := 0
	for _, c := range l.Calls() {
		if c == call {
			result++
		}
	}
	return result
}

func (l *fakeLibrary) Init(iface string, port int) error {
	l.record("init")
	l.mu.Lock()
	defer l.mu.Unlock()
	l.iface = iface
	l.port = port
	return nil
}

func (l *fakeLibrary) Devices() []mcli.DeviceInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.polls++
	if l.polls <= l.hidden {
		return nil
	}
	return l.devices
}

func (l *fakeLibrary) LockDevices() {
	l.record("lock")
}

func (l *fakeLibrary) UnlockDevices() {
	l.record("unlock")
}

func (l *fakeLibrary) NewReceiver() (mcli.Receiver, error) {
	l.record("new")
	if l.newReceiverErr != nil {
		return nil, l.newReceiverErr
	}
	r := &fakeReceiver{lib: l}
	l.mu.Lock()
	l.receivers = append(l.receivers, r)
	l.mu.Unlock()
	return r, nil
}

func (l *fakeLibrary) lastReceiver(t *testing.T) *fakeReceiver {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.receivers) == 0 {
		t.Fatal("no receiver allocated")
	}
	return l.receivers[len(l.receivers)-1]
}

type fakeReceiver struct {
	lib      *fakeLibrary
	stream   mcli.StreamHandler
	status   mcli.StatusHandler
	tunes    []tuneCall
	filters  [][]mcli.PID
	stops    int
	released bool
}

func (r *fakeReceiver) RegisterStreamHandler(h mcli.StreamHandler) {
	if h == nil {
		r.lib.record("unregister-stream")
	} else {
		r.lib.record("register-stream")
	}
	r.stream = h
}

func (r *fakeReceiver) RegisterStatusHandler(h mcli.StatusHandler) {
	if h == nil {
		r.lib.record("unregister-status")
	} else {
		r.lib.record("register-status")
	}
	r.status = h
}

func (r *fakeReceiver) Tune(fe mcli.FrontendType, position int, sec *mcli.SecParameters, params *mcli.FrontendParameters, filter []mcli.PID) error {
	r.lib.record("tune")
	r.tunes = append(r.tunes, tuneCall{fe: fe, position: position, sec: *sec, params: *params, filter: filter})
	return r.lib.tuneErr
}

func (r *fakeReceiver) SetPIDs(filter []mcli.PID) error {
	r.lib.record("set")
	r.filters = append(r.filters, filter)
	return r.lib.setPIDsErr
}

func (r *fakeReceiver) Stop() error {
	r.lib.record("stop")
	r.stops++
	return r.lib.stopErr
}

func (r *fakeReceiver) Release() {
	r.lib.record("release")
	r.released = true
}

func nullLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

var dvbs2Transponder = adapter.Transponder{
	System:       adapter.SystemDVBS2,
	Frequency:    11494000,
	SymbolRate:   22000000,
	FEC:          adapter.FEC23,
	Polarization: adapter.PolarizationHorizontal,
	Diseqc:       1,
	Modulation:   adapter.ModulationPSK8,
}

// newTestSlot creates a slot without a pipe.
func newTestSlot(lib mcli.Library) *Slot {
	systems := []adapter.DeliverySystem{adapter.SystemDVBS2, adapter.SystemDVBS, adapter.SystemDVBCAnnexA, adapter.SystemDVBT}
	return newSlot(0, "test", lib, systems, nil, -1, NewMetrics(prometheus.NewRegistry()), nullLogger())
}

// newHookedSlot creates a slot with a pipe whose log entries are captured.
func newHookedSlot(t *testing.T, lib mcli.Library, pipeSize int) (*Slot, *logtest.Hook) {
	t.Helper()
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	dvr, writeFD, _, err := newPipe(0, pipeSize)
	if err != nil {
		t.Fatal(err)
	}
	slot := newSlot(0, "test", lib, []adapter.DeliverySystem{adapter.SystemDVBS2, adapter.SystemDVBS}, dvr, writeFD, NewMetrics(prometheus.NewRegistry()), log)
	t.Cleanup(func() {
		slot.Close()
		closeFD(writeFD)
		dvr.Close()
	})
	return slot, hook
}

func commitResult(s *Slot) CommitResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit()
}
