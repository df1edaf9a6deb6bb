package grbl

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// SettingID is the numeric identifier grbl uses for a `$n` setting.
type SettingID int

// grbl 0.9 setting identifiers.
const (
	SettingStepPulse        SettingID = 0
	SettingStepIdleDelay    SettingID = 1
	SettingStepInvertMask   SettingID = 2
	SettingDirInvertMask    SettingID = 3
	SettingStepEnableInvert SettingID = 4
	SettingLimitPinsInvert  SettingID = 5
	SettingProbePinInvert   SettingID = 6
	SettingStatusReportMask SettingID = 10
	SettingJunctionDev      SettingID = 11
	SettingArcTolerance     SettingID = 12
	SettingReportInches     SettingID = 13
	SettingSoftLimits       SettingID = 20
	SettingHardLimits       SettingID = 21
	SettingHomingEnable     SettingID = 22
	SettingHomingDirMask    SettingID = 23
	SettingHomingFeed       SettingID = 24
	SettingHomingSeek       SettingID = 25
	SettingHomingDebounce   SettingID = 26
	SettingHomingPullOff    SettingID = 27
	SettingXStepsPerMM      SettingID = 100
	SettingYStepsPerMM      SettingID = 101
	SettingZStepsPerMM      SettingID = 102
	SettingXMaxRate         SettingID = 110
	SettingYMaxRate         SettingID = 111
	SettingZMaxRate         SettingID = 112
	SettingXAcceleration    SettingID = 120
	SettingYAcceleration    SettingID = 121
	SettingZAcceleration    SettingID = 122
	SettingXMaxTravel       SettingID = 130
	SettingYMaxTravel       SettingID = 131
	SettingZMaxTravel       SettingID = 132
)

// Kind is the storage type of a setting value.
type Kind int

const (
	KindFloat Kind = iota
	KindInt
	KindBool
	KindMask
)

func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindMask:
		return "mask"
	default:
		return "kind-" + strconv.Itoa(int(k))
	}
}

// MarshalText renders the kind by name in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	for _, c := range []Kind{KindFloat, KindInt, KindBool, KindMask} {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	return errors.Errorf("unknown setting kind %q", b)
}

// Category groups settings by what they control.
type Category string

const (
	CategoryAxisScaling    Category = "axis-scaling"
	CategoryKinematicLimit Category = "kinematic-limit"
	CategoryTiming         Category = "timing"
	CategoryFeatureFlag    Category = "feature-flag"
	CategoryBitmask        Category = "bitmask"
)

// Real-time status report bit flags ($10).
const (
	StatusMachinePosition uint8 = 1 << 0
	StatusWorkPosition    uint8 = 1 << 1
	StatusPlannerBuffer   uint8 = 1 << 2
	StatusSerialRX        uint8 = 1 << 3
	StatusLimitPins       uint8 = 1 << 4
)

// Acceleration is kept in mm/min^2 but grbl reports it in mm/sec^2.
const accelerationScale = 60 * 60

// SettingDef describes one setting the controller recognises.
type SettingDef struct {
	ID          SettingID
	Key         string
	Description string
	Unit        string
	Kind        Kind
	Category    Category
	// WireScale divides the stored value when it is sent to the controller.
	WireScale float64
	// Min and Max bound integer kinds; a zero Max means unbounded.
	Min float64
	Max float64
}

var definitions = []SettingDef{
	{SettingStepPulse, "step_pulse", "Step pulse time", "usec", KindInt, CategoryTiming, 1, 3, 255},
	{SettingStepIdleDelay, "step_idle_delay", "Step idle delay", "msec", KindInt, CategoryTiming, 1, 0, 255},
	{SettingStepInvertMask, "step_invert_mask", "Step port invert mask", "mask", KindMask, CategoryBitmask, 1, 0, 255},
	{SettingDirInvertMask, "dir_invert_mask", "Direction port invert mask", "mask", KindMask, CategoryBitmask, 1, 0, 255},
	{SettingStepEnableInvert, "step_enable_invert", "Step enable invert", "bool", KindBool, CategoryFeatureFlag, 1, 0, 1},
	{SettingLimitPinsInvert, "limit_pins_invert", "Limit pins invert", "bool", KindBool, CategoryFeatureFlag, 1, 0, 1},
	{SettingProbePinInvert, "probe_pin_invert", "Probe pin invert", "bool", KindBool, CategoryFeatureFlag, 1, 0, 1},
	{SettingStatusReportMask, "status_report_mask", "Status report mask", "mask", KindMask, CategoryBitmask, 1, 0, 31},
	{SettingJunctionDev, "junction_deviation", "Junction deviation", "mm", KindFloat, CategoryKinematicLimit, 1, 0, 0},
	{SettingArcTolerance, "arc_tolerance", "Arc tolerance", "mm", KindFloat, CategoryKinematicLimit, 1, 0, 0},
	{SettingReportInches, "report_inches", "Report inches", "bool", KindBool, CategoryFeatureFlag, 1, 0, 1},
	{SettingSoftLimits, "soft_limits", "Soft limits", "bool", KindBool, CategoryFeatureFlag, 1, 0, 1},
	{SettingHardLimits, "hard_limits", "Hard limits", "bool", KindBool, CategoryFeatureFlag, 1, 0, 1},
	{SettingHomingEnable, "homing_cycle", "Homing cycle", "bool", KindBool, CategoryFeatureFlag, 1, 0, 1},
	{SettingHomingDirMask, "homing_dir_mask", "Homing direction invert mask", "mask", KindMask, CategoryBitmask, 1, 0, 255},
	{SettingHomingFeed, "homing_feed", "Homing feed", "mm/min", KindFloat, CategoryKinematicLimit, 1, 0, 0},
	{SettingHomingSeek, "homing_seek", "Homing seek", "mm/min", KindFloat, CategoryKinematicLimit, 1, 0, 0},
	{SettingHomingDebounce, "homing_debounce", "Homing debounce", "msec", KindInt, CategoryTiming, 1, 0, 65535},
	{SettingHomingPullOff, "homing_pull_off", "Homing pull-off", "mm", KindFloat, CategoryKinematicLimit, 1, 0, 0},
	{SettingXStepsPerMM, "x_steps_per_mm", "X steps/mm", "step/mm", KindFloat, CategoryAxisScaling, 1, 0, 0},
	{SettingYStepsPerMM, "y_steps_per_mm", "Y steps/mm", "step/mm", KindFloat, CategoryAxisScaling, 1, 0, 0},
	{SettingZStepsPerMM, "z_steps_per_mm", "Z steps/mm", "step/mm", KindFloat, CategoryAxisScaling, 1, 0, 0},
	{SettingXMaxRate, "x_max_rate", "X max rate", "mm/min", KindFloat, CategoryKinematicLimit, 1, 0, 0},
	{SettingYMaxRate, "y_max_rate", "Y max rate", "mm/min", KindFloat, CategoryKinematicLimit, 1, 0, 0},
	{SettingZMaxRate, "z_max_rate", "Z max rate", "mm/min", KindFloat, CategoryKinematicLimit, 1, 0, 0},
	{SettingXAcceleration, "x_acceleration", "X acceleration", "mm/min^2", KindFloat, CategoryKinematicLimit, accelerationScale, 0, 0},
	{SettingYAcceleration, "y_acceleration", "Y acceleration", "mm/min^2", KindFloat, CategoryKinematicLimit, accelerationScale, 0, 0},
	{SettingZAcceleration, "z_acceleration", "Z acceleration", "mm/min^2", KindFloat, CategoryKinematicLimit, accelerationScale, 0, 0},
	{SettingXMaxTravel, "x_max_travel", "X max travel", "mm", KindFloat, CategoryKinematicLimit, 1, 0, 0},
	{SettingYMaxTravel, "y_max_travel", "Y max travel", "mm", KindFloat, CategoryKinematicLimit, 1, 0, 0},
	{SettingZMaxTravel, "z_max_travel", "Z max travel", "mm", KindFloat, CategoryKinematicLimit, 1, 0, 0},
}

var definitionsByID = func() map[SettingID]SettingDef {
	m := make(map[SettingID]SettingDef, len(definitions))
	for _, d := range definitions {
		m[d.ID] = d
	}
	return m
}()

// Definitions returns every recognised setting ordered by identifier.
func Definitions() []SettingDef {
	out := make([]SettingDef, len(definitions))
	copy(out, definitions)
	return out
}

// Lookup returns the definition for id.
func Lookup(id SettingID) (SettingDef, bool) {
	d, ok := definitionsByID[id]
	return d, ok
}

// Check reports whether value is acceptable for the setting.
func (d SettingDef) Check(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return errors.Errorf("$%d: value must be finite", d.ID)
	}
	switch d.Kind {
	case KindBool:
		if value != 0 && value != 1 {
			return errors.Errorf("$%d: flag must be 0 or 1, got %v", d.ID, value)
		}
	case KindInt, KindMask:
		if value != math.Trunc(value) {
			return errors.Errorf("$%d: must be an integer, got %v", d.ID, value)
		}
		if value < d.Min || (d.Max > 0 && value > d.Max) {
			return errors.Errorf("$%d: must be between %v and %v, got %v", d.ID, d.Min, d.Max, value)
		}
	case KindFloat:
		if value <= 0 {
			return errors.Errorf("$%d: must be positive, got %v", d.ID, value)
		}
	}
	return nil
}

func (d SettingDef) scaled(value float64) float64 {
	if d.WireScale == 0 {
		return value
	}
	return value / d.WireScale
}

// FormatValue renders a value in controller units with three decimals, the
// way grbl prints its own settings. It is meant for display: small or derived
// values lose precision.
func (d SettingDef) FormatValue(value float64) string {
	if d.Kind != KindFloat {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(d.scaled(value), 'f', 3, 64)
}

// WireValue renders a value in controller units with the fewest digits that
// parse back to the same number.
func (d SettingDef) WireValue(value float64) string {
	if d.Kind != KindFloat {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(d.scaled(value), 'f', -1, 64)
}

// FormatSetting renders a `$n=value` line for display.
func FormatSetting(id SettingID, value float64) (string, error) {
	d, ok := Lookup(id)
	if !ok {
		return "", errors.Errorf("unknown setting $%d", id)
	}
	return "$" + strconv.Itoa(int(id)) + "=" + d.FormatValue(value), nil
}

// WireSetting renders the `$n=value` assignment sent to the controller.
func WireSetting(id SettingID, value float64) (string, error) {
	d, ok := Lookup(id)
	if !ok {
		return "", errors.Errorf("unknown setting $%d", id)
	}
	return "$" + strconv.Itoa(int(id)) + "=" + d.WireValue(value), nil
}

// ParseSettingLine parses a `$n=value` line as echoed by `$$`, converting the
// value back to its stored unit. Trailing comments are ignored.
func ParseSettingLine(line string) (SettingID, float64, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return 0, 0, errors.Errorf("not a setting line: %q", line)
	}
	if i := strings.IndexByte(line, '('); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	key, raw, ok := strings.Cut(line[1:], "=")
	if !ok {
		return 0, 0, errors.Errorf("missing '=' in %q", line)
	}
	n, err := strconv.Atoi(key)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "bad setting id in %q", line)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "bad setting value in %q", line)
	}
	id := SettingID(n)
	if d, ok := Lookup(id); ok && d.WireScale > 0 {
		v *= d.WireScale
	}
	return id, v, nil
}
