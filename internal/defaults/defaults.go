// Package defaults holds the default configuration tables for grbl-family
// controllers. A table is a plain Profile value; one profile is active per
// build or run and seeds persistent settings storage on first boot or reset.
package defaults

import (
	"github.com/professor93/grblctl/internal/grbl"
)

// Rotary drive base quantities. One commanded millimetre maps to one degree of
// driven-axis rotation, so "G91; G1 X1" turns the driven axis by 1 degree.
const (
	StepsPerRev    = 200.0
	GearRatio      = 5 // 5:1 (driven:driving)
	DegreesPerTurn = 360

	RotaryStepsPerMM = StepsPerRev * GearRatio / DegreesPerTurn
)

// Axis holds the per-axis defaults.
type Axis struct {
	StepsPerMM   float64 `json:"steps_per_mm" validate:"gt=0"`
	MaxRate      float64 `json:"max_rate" validate:"gt=0"`     // mm/min
	Acceleration float64 `json:"acceleration" validate:"gt=0"` // mm/min^2
	MaxTravel    float64 `json:"max_travel" validate:"gt=0"`   // mm
}

// Profile is one default configuration table.
type Profile struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`

	X Axis `json:"x"`
	Y Axis `json:"y"`
	Z Axis `json:"z"`

	StepPulseMicroseconds uint8 `json:"step_pulse_us" validate:"gte=3"`
	SteppingInvertMask    uint8 `json:"stepping_invert_mask"`
	DirectionInvertMask   uint8 `json:"direction_invert_mask"`
	StatusReportMask      uint8 `json:"status_report_mask" validate:"lte=31"`

	// StepperIdleLockTime is 0-254 ms; 255 keeps steppers enabled.
	StepperIdleLockTime uint8 `json:"stepper_idle_lock_time"`

	JunctionDeviation float64 `json:"junction_deviation" validate:"gt=0"` // mm
	ArcTolerance      float64 `json:"arc_tolerance" validate:"gt=0"`      // mm

	ReportInches    bool `json:"report_inches"`
	InvertStEnable  bool `json:"invert_st_enable"`
	InvertLimitPins bool `json:"invert_limit_pins"`
	InvertProbePin  bool `json:"invert_probe_pin"`
	SoftLimitEnable bool `json:"soft_limit_enable"`
	HardLimitEnable bool `json:"hard_limit_enable"`
	HomingEnable    bool `json:"homing_enable"`

	HomingDirMask  uint8   `json:"homing_dir_mask"`
	HomingFeedRate float64 `json:"homing_feed_rate" validate:"gt=0"` // mm/min
	HomingSeekRate float64 `json:"homing_seek_rate" validate:"gt=0"` // mm/min
	HomingDebounce uint16  `json:"homing_debounce_delay"`            // msec
	HomingPullOff  float64 `json:"homing_pulloff" validate:"gt=0"`   // mm
}

// RotaryDrive describes a geared rotary axis driven by a stepper motor.
type RotaryDrive struct {
	StepsPerRev float64
	GearRatio   float64
}

// StepsPerMM is the step scale for the drive under the degree-per-millimetre
// convention.
func (d RotaryDrive) StepsPerMM() float64 {
	return d.StepsPerRev * d.GearRatio / DegreesPerTurn
}

// Rotary builds the custom rotary-table profile for drive. Every axis shares
// the same drive, so the three step scales always move together.
func Rotary(drive RotaryDrive) Profile {
	axis := Axis{
		StepsPerMM:   drive.StepsPerMM(),
		MaxRate:      6000.0,
		Acceleration: 200.0 * 60 * 60, // 200 mm/sec^2
		MaxTravel:    360.0,
	}
	return Profile{
		Name:        ProfileCustom,
		Description: "Geared rotary axes, 1 mm commanded = 1 degree driven",

		X: axis,
		Y: axis,
		Z: axis,

		StepPulseMicroseconds: 10,
		SteppingInvertMask:    0,
		DirectionInvertMask:   0,
		StepperIdleLockTime:   255,
		StatusReportMask:      grbl.StatusMachinePosition | grbl.StatusWorkPosition,

		JunctionDeviation: 0.01,
		ArcTolerance:      0.002,

		HomingDirMask:  0, // move positive dir
		HomingFeedRate: 25.0,
		HomingSeekRate: 500.0,
		HomingDebounce: 250,
		HomingPullOff:  1.0,
	}
}

// Custom is the compiled-in rotary profile.
func Custom() Profile {
	return Rotary(RotaryDrive{StepsPerRev: StepsPerRev, GearRatio: GearRatio})
}

// Generic is stock grbl's generic profile.
func Generic() Profile {
	axis := Axis{
		StepsPerMM:   250.0,
		MaxRate:      500.0,
		Acceleration: 10.0 * 60 * 60, // 10 mm/sec^2
		MaxTravel:    200.0,
	}
	return Profile{
		Name:        ProfileGeneric,
		Description: "Generic grbl defaults",

		X: axis,
		Y: axis,
		Z: axis,

		StepPulseMicroseconds: 10,
		StepperIdleLockTime:   25,
		StatusReportMask:      grbl.StatusMachinePosition | grbl.StatusWorkPosition,

		JunctionDeviation: 0.01,
		ArcTolerance:      0.002,

		HomingFeedRate: 25.0,
		HomingSeekRate: 500.0,
		HomingDebounce: 250,
		HomingPullOff:  1.0,
	}
}

// AccelerationPerSecond returns the X axis acceleration in mm/sec^2, the unit
// motion timing is computed in.
func (p Profile) AccelerationPerSecond() float64 {
	return p.X.Acceleration / (60 * 60)
}
