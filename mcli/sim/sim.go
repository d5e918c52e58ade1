// Package sim is an in-process NetCeiver simulator. It implements
// mcli.Library so the adapter can run without devices on the network.
package sim

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/Comcast/gots/packet"
	"github.com/google/uuid"

	"github.com/ftl/netcvadapter/mcli"
)

const (
	// packets per network payload, as sent by a NetCeiver
	packetsPerPayload = 7

	defaultPacketInterval = 10 * time.Millisecond
	defaultStatusInterval = 200 * time.Millisecond
)

var (
	ErrNotInitialized = errors.New("simulator not initialized")
	ErrInjected       = errors.New("injected failure")
)

// stuffing fills the payload of every simulated packet
var stuffing = bytes.Repeat([]byte{0xff}, packet.PacketSize-4)

// Device is a simulated NetCeiver.
type Device struct {
	UUID   string
	Tuners []mcli.TunerInfo
}

// Config controls the simulated network.
type Config struct {
	Devices []Device

	// VisibleAfterPolls hides the devices from the first n calls to Devices.
	VisibleAfterPolls int

	PacketInterval time.Duration
	StatusInterval time.Duration

	// Strength and SNR are reported in the upper byte of the 16 bit fields.
	Strength uint8
	SNR      uint8
}

// Failures selects which library calls fail.
type Failures struct {
	NewReceiver bool
	Tune        bool
	SetPIDs     bool
	Stop        bool
}

// Library is the simulated receiver-control library.
type Library struct {
	mu          sync.Mutex
	config      Config
	devices     []mcli.DeviceInfo
	polls       int
	initialized bool
	iface       string
	port        int
	failures    Failures
	listLock    sync.Mutex
	receivers   map[*Receiver]struct{}
}

// New creates a simulator with the given configuration.
func New(config Config) *Library {
	if config.PacketInterval == 0 {
		config.PacketInterval = defaultPacketInterval
	}
	if config.StatusInterval == 0 {
		config.StatusInterval = defaultStatusInterval
	}
	if config.Strength == 0 {
		config.Strength = 0xc8
	}
	if config.SNR == 0 {
		config.SNR = 0xa0
	}

	result := &Library{
		config:    config,
		receivers: make(map[*Receiver]struct{}),
	}
	for _, d := range config.Devices {
		id := d.UUID
		if id == "" {
			id = uuid.New().String()
		}
		tuners := make([]mcli.TunerInfo, len(d.Tuners))
		copy(tuners, d.Tuners)
		result.devices = append(result.devices, mcli.DeviceInfo{UUID: id, Tuners: tuners})
	}
	return result
}

// SetFailures changes the failure injection for subsequent calls.
func (l *Library) SetFailures(f Failures) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = f
}

// Endpoint returns the interface and port passed to Init.
func (l *Library) Endpoint() (string, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.iface, l.port
}

// Receivers returns the number of receivers not yet released.
func (l *Library) Receivers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.receivers)
}

func (l *Library) Init(iface string, port int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.iface = iface
	l.port = port
	l.initialized = true
	return nil
}

func (l *Library) Devices() []mcli.DeviceInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return nil
	}
	l.polls++
	if l.polls <= l.config.VisibleAfterPolls {
		return nil
	}
	result := make([]mcli.DeviceInfo, len(l.devices))
	copy(result, l.devices)
	return result
}

func (l *Library) LockDevices() {
	l.listLock.Lock()
}

func (l *Library) UnlockDevices() {
	l.listLock.Unlock()
}

func (l *Library) NewReceiver() (mcli.Receiver, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return nil, ErrNotInitialized
	}
	if l.failures.NewReceiver {
		return nil, mcli.ErrNoReceiver
	}
	r := &Receiver{
		lib:  l,
		done: make(chan struct{}),
		cc:   make(map[int]byte),
	}
	l.receivers[r] = struct{}{}
	go r.run(l.config)
	return r, nil
}

func (l *Library) failing() Failures {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures
}

func (l *Library) release(r *Receiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.receivers, r)
}

// Receiver is a simulated receiver session.
type Receiver struct {
	lib *Library

	mu            sync.Mutex
	streamHandler mcli.StreamHandler
	statusHandler mcli.StatusHandler
	tuned         bool
	pids          []int
	next          int
	cc            map[int]byte
	done          chan struct{}
	closeOnce     sync.Once
}

func (r *Receiver) RegisterStreamHandler(h mcli.StreamHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamHandler = h
}

func (r *Receiver) RegisterStatusHandler(h mcli.StatusHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusHandler = h
}

func (r *Receiver) Tune(fe mcli.FrontendType, position int, sec *mcli.SecParameters, params *mcli.FrontendParameters, filter []mcli.PID) error {
	if r.lib.failing().Tune {
		return ErrInjected
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tuned = params != nil && params.Frequency != 0
	r.setFilter(filter)
	return nil
}

func (r *Receiver) SetPIDs(filter []mcli.PID) error {
	if r.lib.failing().SetPIDs {
		return ErrInjected
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setFilter(filter)
	return nil
}

func (r *Receiver) Stop() error {
	if r.lib.failing().Stop {
		return ErrInjected
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pids = nil
	return nil
}

func (r *Receiver) Release() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.lib.release(r)
	})
}

func (r *Receiver) setFilter(filter []mcli.PID) {
	n := mcli.FilterLen(filter)
	r.pids = r.pids[:0]
	for _, p := range filter[:n] {
		r.pids = append(r.pids, p.PID)
	}
	r.next = 0
}

func (r *Receiver) run(config Config) {
	packets := time.NewTicker(config.PacketInterval)
	defer packets.Stop()
	status := time.NewTicker(config.StatusInterval)
	defer status.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-packets.C:
			r.emitPayload()
		case <-status.C:
			r.emitStatus(config)
		}
	}
}

// handlers are called with r.mu held, so unregistering waits for a running callback
func (r *Receiver) emitPayload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.tuned || len(r.pids) == 0 || r.streamHandler == nil {
		return
	}

	buf := make([]byte, 0, packetsPerPayload*packet.PacketSize)
	for i := 0; i < packetsPerPayload; i++ {
		pid := r.pids[r.next%len(r.pids)]
		r.next++
		pkt := r.nextPacket(pid)
		buf = append(buf, pkt[:]...)
	}
	r.streamHandler.HandleTS(buf)
}

func (r *Receiver) nextPacket(pid int) packet.Packet {
	cc := r.cc[pid]
	r.cc[pid] = (cc + 1) & 0x0f

	pkt := packet.Create(pid, packet.WithHasPayloadFlag)
	pkt.SetContinuityCounter(int(cc))
	packet.SetPayload(pkt, stuffing)
	return *pkt
}

func (r *Receiver) emitStatus(config Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statusHandler == nil {
		return
	}
	if !r.tuned {
		r.statusHandler.HandleStatus(nil)
		return
	}
	r.statusHandler.HandleStatus(&mcli.FrontendStatus{
		Status:   mcli.StatusLocked,
		Strength: uint32(config.Strength) << 8,
		SNR:      uint32(config.SNR) << 8,
	})
}
