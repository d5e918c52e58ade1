package netceiver

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ftl/netcvadapter/adapter"
	"github.com/ftl/netcvadapter/mcli"
)

// tokenBase is added to the adapter id to form the filter token of an adapter.
const tokenBase = 100

// SessionState is the lifecycle state of a slot's receiver session.
type SessionState int

const (
	StateNoSession SessionState = iota
	StateSessionIdle
	StateSessionTuned
	StateSessionStreaming
)

func (s SessionState) String() string {
	switch s {
	case StateNoSession:
		return "no session"
	case StateSessionIdle:
		return "idle"
	case StateSessionTuned:
		return "tuned"
	case StateSessionStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Slot binds one host adapter to one NetCeiver tuner. It implements
// adapter.Device. Tune and PID requests are only recorded, Commit applies
// them to the receiver session.
type Slot struct {
	id      int
	name    string
	lib     mcli.Library
	systems []adapter.DeliverySystem
	dvr     *os.File
	log     *logrus.Entry

	bridge *bridge

	mu         sync.Mutex
	session    mcli.Receiver
	state      SessionState
	tp         adapter.Transponder
	pids       PIDSet
	wantTune   bool
	wantCommit bool
	failed     bool
}

func newSlot(id int, name string, lib mcli.Library, systems []adapter.DeliverySystem, dvr *os.File, writeFD int, metrics *Metrics, log logrus.FieldLogger) *Slot {
	entry := log.WithField("adapter", id)
	result := &Slot{
		id:      id,
		name:    name,
		lib:     lib,
		systems: systems,
		dvr:     dvr,
		log:     entry,
		bridge: &bridge{
			writeFD: writeFD,
			status:  new(adapter.Status),
			metrics: metrics.forAdapter(id),
			log:     entry,
		},
	}
	if len(systems) > 0 {
		result.tp.System = systems[0]
	}
	return result
}

func (s *Slot) ID() int {
	return s.id
}

// Token returns the filter token handed out by SetPID.
func (s *Slot) Token() int {
	return s.id + tokenBase
}

func (s *Slot) Status() *adapter.Status {
	return s.bridge.status
}

func (s *Slot) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PIDs returns the requested PIDs in request order.
func (s *Slot) PIDs() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pids.PIDs()
}

// Failed reports if the last session allocation failed. Open and Close clear it.
func (s *Slot) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Pending reports the tune and PID change flags.
func (s *Slot) Pending() (tune bool, pids bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wantTune, s.wantCommit
}

// Adapter returns the host record of this slot.
func (s *Slot) Adapter() *adapter.Adapter {
	return &adapter.Adapter{
		ID:      s.id,
		Name:    s.name,
		Present: true,
		Device:  s,
		Systems: s.DeliverySystems(),
		DVR:     s.dvr,
		Status:  s.bridge.status,
	}
}

func (s *Slot) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Debug("open")
	if s.session != nil {
		s.log.Warn("open with active receiver session, releasing it")
		s.releaseSession()
	}
	s.wantTune = false
	s.wantCommit = false
	s.failed = false
	s.pids.Clear()
	s.bridge.setActivePIDs(0)
	return nil
}

func (s *Slot) SetPID(pid uint16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failed {
		s.log.Debugf("pid %d ignored, receiver session unavailable", pid)
		return s.Token(), nil
	}
	if err := s.pids.Add(pid); err != nil {
		return 0, err
	}
	s.bridge.setActivePIDs(s.pids.Len())
	s.wantCommit = true
	s.log.Debugf("set pid %d", pid)
	return s.Token(), nil
}

func (s *Slot) DelPID(token int, pid uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token != s.Token() {
		return fmt.Errorf("%w: %d for adapter %d", ErrInvalidToken, token, s.id)
	}
	if s.failed {
		s.log.Debugf("del pid %d ignored, receiver session unavailable", pid)
		return nil
	}
	if !s.pids.Remove(pid) {
		s.log.Debugf("del pid %d: not requested", pid)
	}
	s.bridge.setActivePIDs(s.pids.Len())
	s.wantCommit = true
	s.log.Debugf("del pid %d", pid)
	return nil
}

// Tune records the transponder. It supersedes all PID requests made so far.
func (s *Slot) Tune(tp adapter.Transponder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tp.System == adapter.SystemDVBT {
		s.log.Warn("DVB-T tuning is not implemented")
	}
	s.tp = tp
	s.pids.Clear()
	s.bridge.setActivePIDs(0)
	s.wantTune = true
	s.wantCommit = false
	s.log.Debugf("tune %s", tp)
	return nil
}

// Commit applies all pending changes. Failures are logged and recorded in the
// slot, they never reach the host.
func (s *Slot) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := s.commit()
	if err := result.Err(); err != nil {
		s.log.WithField("state", result.State).Warnf("commit incomplete: %v", err)
		return
	}
	s.log.WithField("state", result.State).Debug("commit")
}

func (s *Slot) DeliverySystems() []adapter.DeliverySystem {
	result := make([]adapter.DeliverySystem, len(s.systems))
	copy(result, s.systems)
	return result
}

// Close releases the receiver session. The slot can be opened again.
func (s *Slot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wantTune = false
	s.wantCommit = false
	s.failed = false
	s.pids.Clear()
	s.bridge.setActivePIDs(0)
	if s.session == nil {
		s.log.Debug("close without receiver session")
		s.bridge.resetStatus()
		return nil
	}
	s.releaseSession()
	s.log.Debug("closed")
	return nil
}

// releaseSession unregisters the callbacks before the session is released, so
// no callback runs against a released session.
func (s *Slot) releaseSession() {
	s.session.RegisterStreamHandler(nil)
	s.session.RegisterStatusHandler(nil)
	s.session.Release()
	s.session = nil
	s.state = StateNoSession
	s.bridge.resetStatus()
}

// SlotTable holds the slots created by discovery, indexed by adapter id.
type SlotTable struct {
	slots []*Slot
}

func (t *SlotTable) Get(id int) (*Slot, bool) {
	if id < 0 || id >= len(t.slots) || t.slots[id] == nil {
		return nil, false
	}
	return t.slots[id], true
}

// Slots returns all slots ordered by adapter id.
func (t *SlotTable) Slots() []*Slot {
	result := make([]*Slot, 0, len(t.slots))
	for _, s := range t.slots {
		if s != nil {
			result = append(result, s)
		}
	}
	return result
}

// ByToken returns the slot that handed out the given filter token.
func (t *SlotTable) ByToken(token int) (*Slot, bool) {
	return t.Get(token - tokenBase)
}

func (t *SlotTable) Len() int {
	return len(t.Slots())
}

// Close releases all sessions and closes the pipes.
func (t *SlotTable) Close() error {
	var errs []error
	for _, s := range t.Slots() {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := closeFD(s.bridge.writeFD); err != nil {
			errs = append(errs, fmt.Errorf("adapter %d: %w", s.id, err))
		}
		s.bridge.writeFD = -1
		if s.dvr != nil {
			if err := s.dvr.Close(); err != nil {
				errs = append(errs, fmt.Errorf("adapter %d: %w", s.id, err))
			}
		}
	}
	return errors.Join(errs...)
}
