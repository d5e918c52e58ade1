package netceiver

import (
	"errors"
	"fmt"

	"github.com/ftl/netcvadapter/mcli"
)

// PIDStep is the PID operation performed by a commit.
type PIDStep int

const (
	PIDStepNone PIDStep = iota
	PIDStepSet
	PIDStepStop
)

func (s PIDStep) String() string {
	switch s {
	case PIDStepNone:
		return "none"
	case PIDStepSet:
		return "set"
	case PIDStepStop:
		return "stop"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// CommitResult describes what one commit did.
type CommitResult struct {
	SessionCreated bool
	SessionErr     error
	TuneAttempted  bool
	TuneErr        error
	PIDStep        PIDStep
	PIDErr         error
	State          SessionState
}

// Err returns all errors of the commit, or nil.
func (r CommitResult) Err() error {
	return errors.Join(r.SessionErr, r.TuneErr, r.PIDErr)
}

// commit applies the pending changes in order: session, tuning, PIDs. Both
// flags are cleared once their step was attempted, so a failed step is not
// retried until it is requested again. Without a session both flags stay set.
// s.mu must be held.
func (s *Slot) commit() CommitResult {
	var result CommitResult
	if !s.wantTune && !s.wantCommit {
		result.State = s.state
		return result
	}

	if s.session == nil {
		err := s.ensureSession()
		s.bridge.metrics.step("session", err)
		if err != nil {
			result.SessionErr = err
			result.State = s.state
			return result
		}
		result.SessionCreated = true
	}

	if s.wantTune {
		result.TuneAttempted = true
		result.TuneErr = s.applyTune()
		s.wantTune = false
		if !errors.Is(result.TuneErr, ErrUnsupportedDeliverySystem) {
			s.bridge.metrics.step("tune", result.TuneErr)
		}
	}

	if s.wantCommit {
		result.PIDStep, result.PIDErr = s.applyPIDs()
		s.wantCommit = false
		s.bridge.metrics.step(result.PIDStep.String(), result.PIDErr)
	}

	result.State = s.state
	return result
}

func (s *Slot) ensureSession() error {
	session, err := s.lib.NewReceiver()
	if err == nil && session == nil {
		err = mcli.ErrNoReceiver
	}
	if err != nil {
		s.failed = true
		s.log.Errorf("cannot allocate receiver session: %v", err)
		return fmt.Errorf("%w: %w", ErrSessionAllocation, err)
	}

	session.RegisterStatusHandler(s.bridge)
	session.RegisterStreamHandler(s.bridge)
	s.session = session
	s.state = StateSessionIdle
	s.failed = false
	s.bridge.resetStatus()
	s.log.Debug("receiver session created")
	return nil
}

// applyTune retunes the session with an empty PID filter. The status is
// zeroed on every attempt.
func (s *Slot) applyTune() error {
	s.bridge.resetStatus()

	request, err := buildTune(s.tp)
	if errors.Is(err, ErrUnsupportedDeliverySystem) {
		s.log.Warnf("tuning %s skipped: %v", s.tp.System, err)
		return err
	}
	if err != nil {
		s.log.Errorf("cannot tune to %s: %v", s.tp, err)
		return fmt.Errorf("%w: %w", ErrTune, err)
	}

	s.log.Debugf("tuning fe %s position %d voltage %d freq %d sr %d fec %#x mod %d",
		request.Frontend, request.Position, request.Sec.Voltage, request.Params.Frequency,
		request.Params.SymbolRate, request.Params.FECInner, request.Params.Modulation)
	err = s.session.Tune(request.Frontend, request.Position, &request.Sec, &request.Params, []mcli.PID{mcli.FilterEnd})
	if err != nil {
		s.state = StateSessionIdle
		s.log.Errorf("tuning receiver failed: %v", err)
		return fmt.Errorf("%w: %w", ErrTune, err)
	}
	s.state = StateSessionTuned
	return nil
}

// applyPIDs replaces the session's PID filter with the requested PIDs, or
// stops the session if there are none.
func (s *Slot) applyPIDs() (PIDStep, error) {
	if s.pids.Len() == 0 {
		if err := s.session.Stop(); err != nil {
			s.log.Errorf("stopping receiver failed: %v", err)
			return PIDStepStop, fmt.Errorf("%w: %w", ErrPIDApply, err)
		}
		if s.state == StateSessionStreaming {
			s.state = StateSessionTuned
		}
		return PIDStepStop, nil
	}

	pids := s.pids.PIDs()
	filter := make([]mcli.PID, 0, len(pids)+1)
	for _, pid := range pids {
		filter = append(filter, mcli.PID{PID: int(pid)})
	}
	filter = append(filter, mcli.FilterEnd)

	if err := s.session.SetPIDs(filter); err != nil {
		s.log.Errorf("setting %d pids failed: %v", len(pids), err)
		return PIDStepSet, fmt.Errorf("%w: %w", ErrPIDApply, err)
	}
	if s.state == StateSessionTuned {
		s.state = StateSessionStreaming
	}
	s.log.Debugf("pids %v applied", pids)
	return PIDStepSet, nil
}
