package netceiver

import (
	"errors"
	"testing"

	"github.com/ftl/netcvadapter/adapter"
	"github.com/ftl/netcvadapter/mcli"
)

func TestPosition(t *testing.T) {
	tt := []struct {
		diseqc   int
		expected int
		invalid  bool
	}{
		{0, 1800, false},
		{1, 1992, false},
		{2, 1930, false},
		{3, 2082, false},
		{4, 1750, false},
		{5, 0, true},
		{-1, 0, true},
	}
	for _, tc := range tt {
		actual, err := Position(tc.diseqc)
		if tc.invalid {
			if !errors.Is(err, ErrDiseqcOutOfRange) {
				t.Errorf("diseqc %d: expected out of range error, got %v", tc.diseqc, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("diseqc %d: %v", tc.diseqc, err)
		}
		if actual != tc.expected {
			t.Errorf("diseqc %d: expected %d, got %d", tc.diseqc, tc.expected, actual)
		}
	}
}

func TestBuildTune_S2ModulationBits(t *testing.T) {
	tt := []struct {
		desc       string
		modulation adapter.Modulation
		expected   uint32
	}{
		{"8psk", adapter.ModulationPSK8, mcli.ModulationPSK8},
		{"qpsk", adapter.ModulationQPSK, mcli.ModulationQPSKS2},
		{"auto", adapter.ModulationAuto, mcli.ModulationQPSKS2},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			tp := dvbs2Transponder
			tp.FEC = adapter.FEC34
			tp.Modulation = tc.modulation

			request, err := buildTune(tp)
			if err != nil {
				t.Fatal(err)
			}
			fec := request.Params.FECInner
			if low := fec & 0xffff; low != uint32(adapter.FEC34) {
				t.Errorf("expected base fec %d, got %d", adapter.FEC34, low)
			}
			if high := fec >> mcli.ModulationShift; high != tc.expected {
				t.Errorf("expected modulation %d, got %d", tc.expected, high)
			}
			if request.Frontend != mcli.FrontendDVBS2 {
				t.Errorf("expected frontend DVB-S2, got %s", request.Frontend)
			}
		})
	}
}

func TestBuildTune_Satellite(t *testing.T) {
	tt := []struct {
		polarization adapter.Polarization
		voltage      mcli.Voltage
	}{
		{adapter.PolarizationNone, mcli.Voltage13},
		{adapter.PolarizationVertical, mcli.Voltage13},
		{adapter.PolarizationHorizontal, mcli.Voltage18},
		{adapter.PolarizationLeft, mcli.VoltageOff},
	}
	for _, tc := range tt {
		t.Run(tc.polarization.String(), func(t *testing.T) {
			tp := adapter.Transponder{
				System:       adapter.SystemDVBS,
				Frequency:    12187000,
				SymbolRate:   27500000,
				FEC:          adapter.FEC34,
				Polarization: tc.polarization,
				Diseqc:       2,
			}
			request, err := buildTune(tp)
			if err != nil {
				t.Fatal(err)
			}
			expected := tuneRequest{
				Frontend: mcli.FrontendQPSK,
				Position: 1930,
				Sec:      mcli.SecParameters{Voltage: tc.voltage},
				Params: mcli.FrontendParameters{
					Frequency:  12187000,
					Inversion:  mcli.InversionAuto,
					SymbolRate: 27500000,
					FECInner:   uint32(adapter.FEC34),
				},
			}
			if request != expected {
				t.Errorf("expected %+v, got %+v", expected, request)
			}
		})
	}
}

func TestBuildTune_Cable(t *testing.T) {
	tp := adapter.Transponder{
		System:     adapter.SystemDVBCAnnexA,
		Frequency:  346000,
		SymbolRate: 6900000,
		FEC:        adapter.FEC34,
		Modulation: adapter.ModulationQAM256,
		Diseqc:     7,
	}
	request, err := buildTune(tp)
	if err != nil {
		t.Fatal(err)
	}
	expected := tuneRequest{
		Frontend: mcli.FrontendQAM,
		Position: mcli.PositionCable,
		Params: mcli.FrontendParameters{
			Frequency:  346000,
			Inversion:  mcli.InversionAuto,
			SymbolRate: 6900000,
			FECInner:   mcli.FECNone,
			Modulation: uint32(adapter.ModulationQAM256),
		},
	}
	if request != expected {
		t.Errorf("expected %+v, got %+v", expected, request)
	}
}

func TestBuildTune_Unsupported(t *testing.T) {
	for _, system := range []adapter.DeliverySystem{adapter.SystemDVBT, adapter.SystemDSS, adapter.SystemUndefined} {
		_, err := buildTune(adapter.Transponder{System: system})
		if !errors.Is(err, ErrUnsupportedDeliverySystem) {
			t.Errorf("%s: expected unsupported delivery system, got %v", system, err)
		}
	}
}

func TestDeliverySystems(t *testing.T) {
	tt := []struct {
		fe       mcli.FrontendType
		expected []adapter.DeliverySystem
	}{
		{mcli.FrontendDVBS2, []adapter.DeliverySystem{adapter.SystemDVBS2, adapter.SystemDVBS}},
		{mcli.FrontendQPSK, []adapter.DeliverySystem{adapter.SystemDVBS}},
		{mcli.FrontendQAM, []adapter.DeliverySystem{adapter.SystemDVBCAnnexA}},
		{mcli.FrontendOFDM, nil},
		{mcli.FrontendATSC, nil},
	}
	for _, tc := range tt {
		actual := deliverySystems(tc.fe)
		if len(actual) != len(tc.expected) {
			t.Errorf("%s: expected %v, got %v", tc.fe, tc.expected, actual)
			continue
		}
		for i := range actual {
			if actual[i] != tc.expected[i] {
				t.Errorf("%s: expected %v, got %v", tc.fe, tc.expected, actual)
			}
		}
	}
}

func TestVoltages_HostPolarizationIndex(t *testing.T) {
	// indexed like the host's polarization names: none, v, h, l, r
	byIndex := []mcli.Voltage{mcli.Voltage13, mcli.Voltage13, mcli.Voltage18, mcli.VoltageOff}
	names := []string{"none", "v", "h", "l", "r"}
	for i, name := range names {
		p := adapter.Polarization(i)
		if p.String() != name {
			t.Errorf("polarization %d: expected %s, got %s", i, name, p)
		}
		voltage, ok := voltages[p]
		if i >= len(byIndex) {
			if ok {
				t.Errorf("polarization %s: expected no voltage, got %v", name, voltage)
			}
			continue
		}
		if !ok || voltage != byIndex[i] {
			t.Errorf("polarization %s: expected %v, got %v", name, byIndex[i], voltage)
		}
	}
}
