package defaults

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/professor93/grblctl/internal/grbl"
	"github.com/professor93/grblctl/pkg/constants"
)

func TestRotaryStepsPerMM_Derivation(t *testing.T) {
	want := 200.0 * 5 / 360
	if RotaryStepsPerMM != want {
		t.Errorf("Expected %v, got %v", want, RotaryStepsPerMM)
	}
	if math.Abs(RotaryStepsPerMM-2.7778) > 1e-4 {
		t.Errorf("Expected ~2.7778, got %v", RotaryStepsPerMM)
	}

	p := Custom()
	for name, axis := range map[string]Axis{"X": p.X, "Y": p.Y, "Z": p.Z} {
		if axis.StepsPerMM != StepsPerRev*GearRatio/DegreesPerTurn {
			t.Errorf("%s steps/mm: expected %v, got %v", name, RotaryStepsPerMM, axis.StepsPerMM)
		}
	}
}

func TestRotary_GearRatioChangesOnlyAxisScale(t *testing.T) {
	base := Rotary(RotaryDrive{StepsPerRev: 200.0, GearRatio: 5})
	doubled := Rotary(RotaryDrive{StepsPerRev: 200.0, GearRatio: 10})

	for name, pair := range map[string][2]Axis{
		"X": {base.X, doubled.X},
		"Y": {base.Y, doubled.Y},
		"Z": {base.Z, doubled.Z},
	} {
		if got := pair[1].StepsPerMM / pair[0].StepsPerMM; math.Abs(got-2) > 1e-12 {
			t.Errorf("%s: expected steps/mm to double, ratio %v", name, got)
		}
	}
	if doubled.X.StepsPerMM != doubled.Y.StepsPerMM || doubled.Y.StepsPerMM != doubled.Z.StepsPerMM {
		t.Error("Axis step scales diverged")
	}

	ignoreScale := cmpopts.IgnoreFields(Axis{}, "StepsPerMM")
	if diff := cmp.Diff(base, doubled, ignoreScale); diff != "" {
		t.Errorf("Gear ratio change affected other defaults (-base +doubled):\n%s", diff)
	}
}

func TestCustom_Values(t *testing.T) {
	p := Custom()

	testCases := []struct {
		name string
		got  float64
		want float64
	}{
		{"X max rate", p.X.MaxRate, 6000},
		{"X acceleration", p.X.Acceleration, 200.0 * 60 * 60},
		{"X max travel", p.X.MaxTravel, 360},
		{"Step pulse", float64(p.StepPulseMicroseconds), 10},
		{"Idle lock", float64(p.StepperIdleLockTime), 255},
		{"Junction deviation", p.JunctionDeviation, 0.01},
		{"Arc tolerance", p.ArcTolerance, 0.002},
		{"Homing feed", p.HomingFeedRate, 25},
		{"Homing seek", p.HomingSeekRate, 500},
		{"Homing debounce", float64(p.HomingDebounce), 250},
		{"Homing pull-off", p.HomingPullOff, 1},
		{"Acceleration per second", p.AccelerationPerSecond(), 200},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("Expected %v, got %v", tc.want, tc.got)
			}
		})
	}

	if p.ReportInches || p.InvertStEnable || p.InvertLimitPins || p.SoftLimitEnable ||
		p.HardLimitEnable || p.HomingEnable {
		t.Error("Expected every feature flag to default to false")
	}
}

func TestStatusReportMask(t *testing.T) {
	for _, name := range Names() {
		p, err := Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q) failed: %v", name, err)
		}
		want := grbl.StatusMachinePosition | grbl.StatusWorkPosition
		if p.StatusReportMask != want {
			t.Errorf("%s: expected mask %d, got %d", name, want, p.StatusReportMask)
		}
	}
}

func TestSettings_Invariants(t *testing.T) {
	for _, name := range Names() {
		p, _ := Lookup(name)
		t.Run(name, func(t *testing.T) {
			settings := p.Settings()
			if len(settings) != len(grbl.Definitions()) {
				t.Fatalf("Expected %d settings, got %d", len(grbl.Definitions()), len(settings))
			}
			for _, s := range settings {
				switch s.Kind {
				case grbl.KindBool:
					if s.Value != 0 && s.Value != 1 {
						t.Errorf("$%d: flag must be 0 or 1, got %v", s.ID, s.Value)
					}
				case grbl.KindFloat:
					if s.Value <= 0 || math.IsInf(s.Value, 0) || math.IsNaN(s.Value) {
						t.Errorf("$%d: expected positive finite value, got %v", s.ID, s.Value)
					}
				}
			}
			if err := Validate(p); err != nil {
				t.Errorf("Validate failed: %v", err)
			}
		})
	}
}

func TestSettings_Lines(t *testing.T) {
	settings := Custom().Settings()
	lines := make(map[grbl.SettingID]string)
	for _, s := range settings {
		lines[s.ID] = s.Line()
	}

	want := map[grbl.SettingID]string{
		grbl.SettingStepIdleDelay:    "$1=255",
		grbl.SettingStatusReportMask: "$10=3",
		grbl.SettingXStepsPerMM:      "$100=2.778",
		grbl.SettingZAcceleration:    "$122=200.000",
		grbl.SettingYMaxTravel:       "$131=360.000",
	}
	for id, line := range want {
		if lines[id] != line {
			t.Errorf("$%d: expected %q, got %q", id, line, lines[id])
		}
	}
}

func TestValidate_RejectsImplausible(t *testing.T) {
	p := Custom()
	p.X.MaxTravel = 0
	if err := Validate(p); err == nil {
		t.Error("Expected error for zero travel")
	}

	p = Custom()
	p.HomingSeekRate = -1
	if err := Validate(p); err == nil {
		t.Error("Expected error for negative seek rate")
	}

	p = Custom()
	p.StepPulseMicroseconds = 2
	if err := Validate(p); err == nil {
		t.Error("Expected error for a step pulse below 3 usec")
	}

	p = Custom()
	p.StatusReportMask = 32
	if err := Validate(p); err == nil {
		t.Error("Expected error for an unknown status report bit")
	}
}

func TestSettings_WireLines(t *testing.T) {
	for _, s := range Custom().Settings() {
		id, v, err := grbl.ParseSettingLine(s.WireLine())
		if err != nil {
			t.Fatalf("ParseSettingLine(%q) failed: %v", s.WireLine(), err)
		}
		if id != s.ID || v != s.Value {
			t.Errorf("%q: expected $%d=%v, got $%d=%v", s.WireLine(), s.ID, s.Value, id, v)
		}
	}
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup("does-not-exist")
	if !errors.Is(err, ErrUnknownProfile) {
		t.Errorf("Expected ErrUnknownProfile, got %v", err)
	}
}

func TestSelectedName(t *testing.T) {
	t.Setenv(constants.EnvProfile, "")
	if got := SelectedName(""); got != BuildProfile {
		t.Errorf("Expected build profile %q, got %q", BuildProfile, got)
	}

	t.Setenv(constants.EnvProfile, ProfileGeneric)
	if got := SelectedName(""); got != ProfileGeneric {
		t.Errorf("Expected env profile %q, got %q", ProfileGeneric, got)
	}
	if got := SelectedName(ProfileCustom); got != ProfileCustom {
		t.Errorf("Expected explicit profile to win, got %q", got)
	}

	p, err := Active("")
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if p.Name != ProfileGeneric {
		t.Errorf("Expected generic profile, got %q", p.Name)
	}
}

func TestRegister(t *testing.T) {
	Register("test-rotary-10", func() Profile {
		p := Rotary(RotaryDrive{StepsPerRev: 200, GearRatio: 10})
		p.Name = "test-rotary-10"
		return p
	})

	p, err := Lookup("TEST-ROTARY-10")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if p.X.StepsPerMM != 2*RotaryStepsPerMM {
		t.Errorf("Expected %v, got %v", 2*RotaryStepsPerMM, p.X.StepsPerMM)
	}

	defer func() {
		if recover() == nil {
			t.Error("Expected panic on duplicate registration")
		}
	}()
	Register(ProfileCustom, Custom)
}
