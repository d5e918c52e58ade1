package netceiver

import (
	"fmt"

	"github.com/ftl/netcvadapter/adapter"
	"github.com/ftl/netcvadapter/mcli"
)

// positioner codes are 1800 plus the orbital position in 0.1 degrees east
const positionBase = 1800

var positionOffsets = [...]int{0, 192, 130, 282, -50}

// voltages follows the host's polarization order none, v, h, l, r. Circular
// right has no entry and is rejected.
var voltages = map[adapter.Polarization]mcli.Voltage{
	adapter.PolarizationNone:       mcli.Voltage13,
	adapter.PolarizationVertical:   mcli.Voltage13,
	adapter.PolarizationHorizontal: mcli.Voltage18,
	adapter.PolarizationLeft:       mcli.VoltageOff,
}

// tuneRequest holds the arguments of one library tune call.
type tuneRequest struct {
	Frontend mcli.FrontendType
	Position int
	Sec      mcli.SecParameters
	Params   mcli.FrontendParameters
}

// Position returns the positioner code for a diseqc selector.
func Position(diseqc int) (int, error) {
	if diseqc < 0 || diseqc >= len(positionOffsets) {
		return 0, fmt.Errorf("%w: %d", ErrDiseqcOutOfRange, diseqc)
	}
	return positionBase + positionOffsets[diseqc], nil
}

// s2FEC encodes the DVB-S2 modulation into the high bits of the code rate.
func s2FEC(fec adapter.FEC, modulation adapter.Modulation) uint32 {
	code := mcli.ModulationQPSKS2
	if modulation == adapter.ModulationPSK8 {
		code = mcli.ModulationPSK8
	}
	return uint32(fec) | code<<mcli.ModulationShift
}

func buildTune(tp adapter.Transponder) (tuneRequest, error) {
	var result tuneRequest

	switch tp.System {
	case adapter.SystemDVBS, adapter.SystemDVBS2:
		position, err := Position(tp.Diseqc)
		if err != nil {
			return tuneRequest{}, err
		}
		voltage, ok := voltages[tp.Polarization]
		if !ok {
			return tuneRequest{}, fmt.Errorf("%w: %s", ErrUnknownPolarization, tp.Polarization)
		}
		result.Position = position
		result.Sec.Voltage = voltage
		result.Params = mcli.FrontendParameters{
			Frequency:  tp.Frequency,
			Inversion:  mcli.InversionAuto,
			SymbolRate: tp.SymbolRate,
		}
		if tp.System == adapter.SystemDVBS {
			result.Frontend = mcli.FrontendQPSK
			result.Params.FECInner = uint32(tp.FEC)
		} else {
			result.Frontend = mcli.FrontendDVBS2
			result.Params.FECInner = s2FEC(tp.FEC, tp.Modulation)
		}
	case adapter.SystemDVBCAnnexA:
		result.Frontend = mcli.FrontendQAM
		result.Position = mcli.PositionCable
		result.Params = mcli.FrontendParameters{
			Frequency:  tp.Frequency,
			Inversion:  mcli.InversionAuto,
			SymbolRate: tp.SymbolRate,
			FECInner:   mcli.FECNone,
			Modulation: uint32(tp.Modulation),
		}
	default:
		return tuneRequest{}, fmt.Errorf("%w: %s", ErrUnsupportedDeliverySystem, tp.System)
	}

	return result, nil
}

// deliverySystems returns the delivery systems a tuner of the given type can
// be used for. DVB-T tuners are recognized but not supported.
func deliverySystems(fe mcli.FrontendType) []adapter.DeliverySystem {
	switch fe {
	case mcli.FrontendDVBS2:
		return []adapter.DeliverySystem{adapter.SystemDVBS2, adapter.SystemDVBS}
	case mcli.FrontendQPSK:
		return []adapter.DeliverySystem{adapter.SystemDVBS}
	case mcli.FrontendQAM:
		return []adapter.DeliverySystem{adapter.SystemDVBCAnnexA}
	default:
		return nil
	}
}
