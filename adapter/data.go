package adapter

import (
	"sync/atomic"
)

const (
	MaxStrength = 0xff
	MaxSNR      = 0xff
)

// Status is the signal quality of an adapter. It is written from the receiver
// library's callback context and read by the host without a lock. Each field is
// an independent atomic scalar, a reader may observe fields of two different
// updates.
type Status struct {
	strength atomic.Uint32
	locked   atomic.Bool
	snr      atomic.Uint32
	ber      atomic.Uint32
}

// StatusSnapshot is a copy of the status fields together with their scale.
type StatusSnapshot struct {
	Strength    uint32 `json:"strength"`
	MaxStrength uint32 `json:"maxStrength"`
	Locked      bool   `json:"locked"`
	SNR         uint32 `json:"snr"`
	MaxSNR      uint32 `json:"maxSnr"`
	BER         uint32 `json:"ber"`
}

func (s *Status) Set(strength uint32, locked bool, snr uint32, ber uint32) {
	s.strength.Store(strength)
	s.locked.Store(locked)
	s.snr.Store(snr)
	s.ber.Store(ber)
}

func (s *Status) Reset() {
	s.Set(0, false, 0, 0)
}

func (s *Status) Strength() uint32 {
	return s.strength.Load()
}

func (s *Status) Locked() bool {
	return s.locked.Load()
}

func (s *Status) SNR() uint32 {
	return s.snr.Load()
}

func (s *Status) BER() uint32 {
	return s.ber.Load()
}

func (s *Status) Snapshot() StatusSnapshot {
	return StatusSnapshot{
		Strength:    s.Strength(),
		MaxStrength: MaxStrength,
		Locked:      s.Locked(),
		SNR:         s.SNR(),
		MaxSNR:      MaxSNR,
		BER:         s.BER(),
	}
}
