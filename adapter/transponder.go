package adapter

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// DeliverySystem uses the numbering of the Linux DVB API.
type DeliverySystem int

const (
	SystemUndefined  DeliverySystem = 0
	SystemDVBCAnnexA DeliverySystem = 1
	SystemDVBCAnnexB DeliverySystem = 2
	SystemDVBT       DeliverySystem = 3
	SystemDSS        DeliverySystem = 4
	SystemDVBS       DeliverySystem = 5
	SystemDVBS2      DeliverySystem = 6
)

var systemNames = map[DeliverySystem]string{
	SystemUndefined:  "undefined",
	SystemDVBCAnnexA: "dvbc",
	SystemDVBCAnnexB: "dvbcb",
	SystemDVBT:       "dvbt",
	SystemDSS:        "dss",
	SystemDVBS:       "dvbs",
	SystemDVBS2:      "dvbs2",
}

func (s DeliverySystem) String() string {
	if name, ok := systemNames[s]; ok {
		return name
	}
	return fmt.Sprintf("system(%d)", int(s))
}

// FEC is the inner code rate.
type FEC int

const (
	FECNone FEC = 0
	FEC12   FEC = 1
	FEC23   FEC = 2
	FEC34   FEC = 3
	FEC45   FEC = 4
	FEC56   FEC = 5
	FEC67   FEC = 6
	FEC78   FEC = 7
	FEC89   FEC = 8
	FECAuto FEC = 9
	FEC35   FEC = 10
	FEC910  FEC = 11
)

var fecByName = map[string]FEC{
	"12":   FEC12,
	"23":   FEC23,
	"34":   FEC34,
	"35":   FEC35,
	"45":   FEC45,
	"56":   FEC56,
	"67":   FEC67,
	"78":   FEC78,
	"89":   FEC89,
	"910":  FEC910,
	"auto": FECAuto,
	"none": FECNone,
}

// Polarization of a satellite transponder.
type Polarization int

const (
	PolarizationNone       Polarization = 0
	PolarizationVertical   Polarization = 1
	PolarizationHorizontal Polarization = 2
	PolarizationLeft       Polarization = 3
	PolarizationRight      Polarization = 4
)

var polarizationByName = map[string]Polarization{
	"v": PolarizationVertical,
	"h": PolarizationHorizontal,
	"l": PolarizationLeft,
	"r": PolarizationRight,
}

func (p Polarization) String() string {
	switch p {
	case PolarizationVertical:
		return "v"
	case PolarizationHorizontal:
		return "h"
	case PolarizationRight:
		return "r"
	case PolarizationLeft:
		return "l"
	default:
		return "none"
	}
}

// Modulation uses the numbering of the Linux DVB API.
type Modulation int

const (
	ModulationQPSK   Modulation = 0
	ModulationQAM16  Modulation = 1
	ModulationQAM32  Modulation = 2
	ModulationQAM64  Modulation = 3
	ModulationQAM128 Modulation = 4
	ModulationQAM256 Modulation = 5
	ModulationAuto   Modulation = 6
	ModulationVSB8   Modulation = 7
	ModulationVSB16  Modulation = 8
	ModulationPSK8   Modulation = 9
)

var modulationByName = map[string]Modulation{
	"qpsk":   ModulationQPSK,
	"8psk":   ModulationPSK8,
	"16qam":  ModulationQAM16,
	"32qam":  ModulationQAM32,
	"64qam":  ModulationQAM64,
	"128qam": ModulationQAM128,
	"256qam": ModulationQAM256,
	"auto":   ModulationAuto,
}

type RollOff int

const (
	RollOff35   RollOff = 0
	RollOff20   RollOff = 1
	RollOff25   RollOff = 2
	RollOffAuto RollOff = 3
)

var rollOffByName = map[string]RollOff{
	"0.35": RollOff35,
	"0.20": RollOff20,
	"0.25": RollOff25,
}

type Pilot int

const (
	PilotOn   Pilot = 0
	PilotOff  Pilot = 1
	PilotAuto Pilot = 2
)

// Transponder describes one broadcast carrier.
type Transponder struct {
	System       DeliverySystem
	Frequency    uint32 // kHz
	SymbolRate   uint32 // symbols per second
	FEC          FEC
	Polarization Polarization
	Diseqc       int
	Modulation   Modulation
	RollOff      RollOff
	Pilot        Pilot
}

func (t Transponder) String() string {
	return fmt.Sprintf("%s %d kHz pol %s sr %d fec %d mod %d src %d", t.System, t.Frequency, t.Polarization, t.SymbolRate, t.FEC, t.Modulation, t.Diseqc)
}

// ParseTransponder reads a transponder from SAT>IP style query parameters.
func ParseTransponder(query url.Values) (Transponder, error) {
	result := Transponder{
		FEC:        FECAuto,
		Modulation: ModulationAuto,
		RollOff:    RollOffAuto,
		Pilot:      PilotAuto,
		Diseqc:     1,
	}

	switch msys := strings.ToLower(query.Get("msys")); msys {
	case "dvbs":
		result.System = SystemDVBS
		result.Modulation = ModulationQPSK
	case "dvbs2":
		result.System = SystemDVBS2
		result.Modulation = ModulationQPSK
	case "dvbc":
		result.System = SystemDVBCAnnexA
	case "dvbt":
		result.System = SystemDVBT
	case "":
		return Transponder{}, fmt.Errorf("msys: missing delivery system")
	default:
		return Transponder{}, fmt.Errorf("msys: unknown delivery system %s", msys)
	}

	freq, err := strconv.ParseFloat(query.Get("freq"), 64)
	if err != nil || freq <= 0 {
		return Transponder{}, fmt.Errorf("freq: invalid frequency %q", query.Get("freq"))
	}
	result.Frequency = uint32(math.Round(freq * 1000))

	if sr := query.Get("sr"); sr != "" {
		value, err := strconv.Atoi(sr)
		if err != nil || value <= 0 {
			return Transponder{}, fmt.Errorf("sr: invalid symbol rate %q", sr)
		}
		result.SymbolRate = uint32(value) * 1000
	} else if result.System != SystemDVBT {
		return Transponder{}, fmt.Errorf("sr: missing symbol rate")
	}

	if pol := strings.ToLower(query.Get("pol")); pol != "" {
		p, ok := polarizationByName[pol]
		if !ok {
			return Transponder{}, fmt.Errorf("pol: unknown polarization %s", pol)
		}
		result.Polarization = p
	}

	if fec := strings.ToLower(query.Get("fec")); fec != "" {
		f, ok := fecByName[fec]
		if !ok {
			return Transponder{}, fmt.Errorf("fec: unknown code rate %s", fec)
		}
		result.FEC = f
	}

	if mtype := strings.ToLower(query.Get("mtype")); mtype != "" {
		m, ok := modulationByName[mtype]
		if !ok {
			return Transponder{}, fmt.Errorf("mtype: unknown modulation %s", mtype)
		}
		result.Modulation = m
	}

	if ro := query.Get("ro"); ro != "" {
		r, ok := rollOffByName[ro]
		if !ok {
			return Transponder{}, fmt.Errorf("ro: unknown roll-off %s", ro)
		}
		result.RollOff = r
	}

	switch plts := strings.ToLower(query.Get("plts")); plts {
	case "":
	case "on":
		result.Pilot = PilotOn
	case "off":
		result.Pilot = PilotOff
	case "auto":
		result.Pilot = PilotAuto
	default:
		return Transponder{}, fmt.Errorf("plts: unknown pilot setting %s", plts)
	}

	if src := query.Get("src"); src != "" {
		value, err := strconv.Atoi(src)
		if err != nil || value < 0 {
			return Transponder{}, fmt.Errorf("src: invalid source %q", src)
		}
		result.Diseqc = value
	}

	return result, nil
}

// MaxPID is the largest valid packet identifier.
const MaxPID = 0x1fff

// ParsePIDs reads a comma separated PID list. "none" yields an empty list.
func ParsePIDs(s string) ([]uint16, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	result := make([]uint16, 0, len(parts))
	for _, part := range parts {
		pid, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || pid < 0 || pid > MaxPID {
			return nil, fmt.Errorf("pids: invalid pid %q", part)
		}
		result = append(result, uint16(pid))
	}
	return result, nil
}
