package adapter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type fakeDevice struct {
	mu        sync.Mutex
	calls     []string
	tp        Transponder
	pids      []uint16
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{closed: make(chan struct{})}
}

func (d *fakeDevice) record(call string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
}

func (d *fakeDevice) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	result := make([]string, len(d.calls))
	copy(result, d.calls)
	return result
}

func (d *fakeDevice) Open() error {
	d.record("open")
	return nil
}

func (d *fakeDevice) SetPID(pid uint16) (int, error) {
	d.record("set_pid")
	d.mu.Lock()
	d.pids = append(d.pids, pid)
	d.mu.Unlock()
	return 100, nil
}

func (d *fakeDevice) DelPID(token int, pid uint16) error {
	d.record("del_pid")
	return nil
}

func (d *fakeDevice) Commit() {
	d.record("commit")
}

func (d *fakeDevice) Tune(tp Transponder) error {
	d.record("tune")
	d.mu.Lock()
	d.tp = tp
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) DeliverySystems() []DeliverySystem {
	return []DeliverySystem{SystemDVBS2, SystemDVBS}
}

func (d *fakeDevice) Close() error {
	d.record("close")
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

type testServer struct {
	*Server
	registry *Registry
	device   *fakeDevice
	dvr      *os.File
	source   *os.File
	done     chan struct{}
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	dvr, source, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	device := newFakeDevice()
	registry := NewRegistry(4)
	registry.Put(&Adapter{
		ID:      0,
		Name:    "fake tuner",
		Present: true,
		Device:  device,
		Systems: device.DeliverySystems(),
		DVR:     dvr,
		Status:  new(Status),
	})
	registry.Put(&Adapter{ID: 1, Name: "gone", Present: false, Status: new(Status)})

	log := logrus.New()
	log.SetOutput(io.Discard)
	done := make(chan struct{})
	server, err := Listen("127.0.0.1:0", registry, done, log)
	if err != nil {
		t.Fatal(err)
	}

	result := &testServer{Server: server, registry: registry, device: device, dvr: dvr, source: source, done: done}
	t.Cleanup(func() {
		close(done)
		server.Wait()
		source.Close()
		dvr.Close()
	})
	return result
}

func (s *testServer) url(path string) string {
	return fmt.Sprintf("http://%s%s", s.Addr(), path)
}

func TestServer_Status(t *testing.T) {
	server := startServer(t)
	a, _ := server.registry.Get(0)
	a.Status.Set(0xc8, true, 0xa0, 0)

	resp, err := http.Get(server.url(StatusPath))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var infos []adapterInfo
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected one present adapter, got %d", len(infos))
	}
	expected := adapterInfo{
		ID:      0,
		Name:    "fake tuner",
		Systems: []string{"dvbs2", "dvbs"},
		Status:  StatusSnapshot{Strength: 0xc8, MaxStrength: 0xff, Locked: true, SNR: 0xa0, MaxSNR: 0xff},
	}
	if !reflect.DeepEqual(expected, infos[0]) {
		t.Errorf("expected %+v, got %+v", expected, infos[0])
	}
}

func TestServer_StreamRequestErrors(t *testing.T) {
	server := startServer(t)

	tt := []struct {
		desc     string
		path     string
		expected int
	}{
		{"no id", "/stream/", http.StatusNotFound},
		{"unknown adapter", "/stream/3?msys=dvbs&freq=11494&sr=22000", http.StatusNotFound},
		{"absent adapter", "/stream/1?msys=dvbs&freq=11494&sr=22000", http.StatusNotFound},
		{"bad transponder", "/stream/0?msys=dvbs&freq=11494", http.StatusBadRequest},
		{"unsupported system", "/stream/0?msys=dvbc&freq=346&sr=6900", http.StatusBadRequest},
		{"bad pids", "/stream/0?msys=dvbs&freq=11494&sr=22000&pids=9000", http.StatusBadRequest},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			resp, err := http.Get(server.url(tc.path))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.expected {
				t.Errorf("expected %d, got %d", tc.expected, resp.StatusCode)
			}
		})
	}
	if calls := server.device.Calls(); len(calls) != 0 {
		t.Errorf("expected no device calls, got %v", calls)
	}
}

func TestServer_StreamInUse(t *testing.T) {
	server := startServer(t)
	a, _ := server.registry.Get(0)
	a.Acquire()
	defer a.Release()

	resp, err := http.Get(server.url("/stream/0?msys=dvbs&freq=11494&sr=22000&pids=0"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", resp.StatusCode)
	}
}

func TestServer_Stream(t *testing.T) {
	server := startServer(t)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		data := stream(tsPacket(100, 0), tsPacket(101, 0))
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				server.source.Write(data)
			}
		}
	}()

	resp, err := http.Get(server.url("/stream/0?src=1&freq=11494&pol=h&msys=dvbs2&mtype=8psk&sr=22000&fec=23&pids=100,101"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	buf := make([]byte, 10*188)
	_, err = io.ReadFull(resp.Body, buf)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}

	counter := NewPacketCounter()
	counter.Write(buf)
	if counter.Resyncs() != 0 {
		t.Errorf("expected an aligned stream, skipped %d bytes", counter.Resyncs())
	}

	select {
	case <-server.device.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("device was not closed after the client disconnected")
	}

	expected := []string{"open", "tune", "set_pid", "set_pid", "commit", "close"}
	if calls := server.device.Calls(); !reflect.DeepEqual(expected, calls) {
		t.Errorf("expected calls %v, got %v", expected, calls)
	}
	if server.device.tp.System != SystemDVBS2 || server.device.tp.Frequency != 11494000 {
		t.Errorf("unexpected transponder %s", server.device.tp)
	}
	if !reflect.DeepEqual([]uint16{100, 101}, server.device.pids) {
		t.Errorf("expected pids [100 101], got %v", server.device.pids)
	}
	a, _ := server.registry.Get(0)
	deadline := time.Now().Add(time.Second)
	for a.InUse() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if a.InUse() {
		t.Error("expected the adapter to be released")
	}
}
