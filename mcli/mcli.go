// Package mcli describes the receiver-control library that talks to NetCeiver
// devices on the network. The library itself lives outside of this module; the
// types here mirror its data structures closely enough to be marshalled 1:1.
package mcli

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable = errors.New("libmcli support not compiled in")
	ErrNoReceiver  = errors.New("no receiver instance available")
)

// FrontendType is the hardware type tag reported for a tuner and passed to Tune.
type FrontendType int

const (
	FrontendQPSK  FrontendType = 0 // DVB-S
	FrontendQAM   FrontendType = 1 // DVB-C
	FrontendOFDM  FrontendType = 2 // DVB-T
	FrontendATSC  FrontendType = 3
	FrontendDVBS2 FrontendType = 4
)

func (t FrontendType) String() string {
	switch t {
	case FrontendQPSK:
		return "DVB-S"
	case FrontendQAM:
		return "DVB-C"
	case FrontendOFDM:
		return "DVB-T"
	case FrontendATSC:
		return "ATSC"
	case FrontendDVBS2:
		return "DVB-S2"
	default:
		return fmt.Sprintf("frontend(%d)", int(t))
	}
}

// Voltage selects the LNB supply voltage.
type Voltage int

const (
	Voltage13  Voltage = 0
	Voltage18  Voltage = 1
	VoltageOff Voltage = 2
)

// Inversion is the spectral inversion setting of the frontend.
type Inversion int

const (
	InversionOff  Inversion = 0
	InversionOn   Inversion = 1
	InversionAuto Inversion = 2
)

const (
	// FECNone is the code rate value for delivery systems without inner FEC.
	FECNone uint32 = 0

	// DVB-S2 modulation codes carried in bits 16..23 of FECInner.
	ModulationQPSKS2 uint32 = 9
	ModulationPSK8   uint32 = 10

	// ModulationShift is the bit position of the DVB-S2 modulation inside FECInner.
	ModulationShift = 16

	// StatusLocked is the frontend status pattern reported for a fully locked demodulator.
	StatusLocked uint32 = 0x1f

	// PositionCable is the positioner code used for cable tuning.
	PositionCable = 0xfff
)

// TunerInfo describes one tuner of a NetCeiver.
type TunerInfo struct {
	Name string
	Type FrontendType
}

// DeviceInfo describes one NetCeiver device found on the network.
type DeviceInfo struct {
	UUID   string
	Tuners []TunerInfo
}

// SecParameters are the satellite equipment control settings of a tune request.
type SecParameters struct {
	Voltage Voltage
}

// FrontendParameters are the physical tuning parameters. For satellite
// delivery FECInner may carry the DVB-S2 modulation in its high bits.
type FrontendParameters struct {
	Frequency  uint32
	Inversion  Inversion
	SymbolRate uint32
	FECInner   uint32
	Modulation uint32
}

// PID is one entry of a PID filter. ID associates a stream key with the PID,
// zero means plaintext.
type PID struct {
	PID int
	ID  int
}

// FilterEnd terminates every PID filter handed to the library.
var FilterEnd = PID{PID: -1}

// FilterLen returns the number of PIDs in a sentinel-terminated filter.
func FilterLen(filter []PID) int {
	for i, p := range filter {
		if p.PID == FilterEnd.PID {
			return i
		}
	}
	return len(filter)
}

// FrontendStatus is the raw demodulator status. Strength and SNR are 16 bit
// values with the significant byte in the upper half.
type FrontendStatus struct {
	Status   uint32
	BER      uint32
	Strength uint32
	SNR      uint32
}

// StreamHandler receives transport stream payloads. It is called from the
// library's own execution context and returns the number of bytes consumed.
type StreamHandler interface {
	HandleTS(buf []byte) int
}

// StatusHandler receives demodulator status updates from the library's own
// execution context. A nil status means no data is available.
type StatusHandler interface {
	HandleStatus(status *FrontendStatus) int
}

// Receiver is one receiver session of the library.
type Receiver interface {
	// RegisterStreamHandler installs the payload handler, nil unregisters it.
	RegisterStreamHandler(h StreamHandler)
	// RegisterStatusHandler installs the status handler, nil unregisters it.
	RegisterStatusHandler(h StatusHandler)
	Tune(fe FrontendType, position int, sec *SecParameters, params *FrontendParameters, filter []PID) error
	SetPIDs(filter []PID) error
	Stop() error
	Release()
}

// Library is the process wide entry point of the receiver-control library.
type Library interface {
	Init(iface string, port int) error
	// Devices returns the current device list. Iteration should be bracketed
	// by LockDevices/UnlockDevices to keep the list stable.
	Devices() []DeviceInfo
	LockDevices()
	UnlockDevices()
	NewReceiver() (Receiver, error)
}
