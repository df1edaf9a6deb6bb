package defaults

import (
	"github.com/professor93/grblctl/internal/grbl"
)

// Setting is one profile value paired with the controller setting it seeds.
type Setting struct {
	ID       grbl.SettingID  `json:"id"`
	Key      string          `json:"key"`
	Value    float64         `json:"value"`
	Unit     string          `json:"unit"`
	Kind     grbl.Kind       `json:"kind"`
	Category grbl.Category   `json:"category"`
	Def      grbl.SettingDef `json:"-"`
}

// Line renders the setting as a `$n=value` assignment for display.
func (s Setting) Line() string {
	line, _ := grbl.FormatSetting(s.ID, s.Value)
	return line
}

// WireLine renders the assignment at full precision for the controller.
func (s Setting) WireLine() string {
	line, _ := grbl.WireSetting(s.ID, s.Value)
	return line
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Values maps every recognised setting identifier to the profile's value.
func (p Profile) Values() map[grbl.SettingID]float64 {
	return map[grbl.SettingID]float64{
		grbl.SettingStepPulse:        float64(p.StepPulseMicroseconds),
		grbl.SettingStepIdleDelay:    float64(p.StepperIdleLockTime),
		grbl.SettingStepInvertMask:   float64(p.SteppingInvertMask),
		grbl.SettingDirInvertMask:    float64(p.DirectionInvertMask),
		grbl.SettingStepEnableInvert: flag(p.InvertStEnable),
		grbl.SettingLimitPinsInvert:  flag(p.InvertLimitPins),
		grbl.SettingProbePinInvert:   flag(p.InvertProbePin),
		grbl.SettingStatusReportMask: float64(p.StatusReportMask),
		grbl.SettingJunctionDev:      p.JunctionDeviation,
		grbl.SettingArcTolerance:     p.ArcTolerance,
		grbl.SettingReportInches:     flag(p.ReportInches),
		grbl.SettingSoftLimits:       flag(p.SoftLimitEnable),
		grbl.SettingHardLimits:       flag(p.HardLimitEnable),
		grbl.SettingHomingEnable:     flag(p.HomingEnable),
		grbl.SettingHomingDirMask:    float64(p.HomingDirMask),
		grbl.SettingHomingFeed:       p.HomingFeedRate,
		grbl.SettingHomingSeek:       p.HomingSeekRate,
		grbl.SettingHomingDebounce:   float64(p.HomingDebounce),
		grbl.SettingHomingPullOff:    p.HomingPullOff,
		grbl.SettingXStepsPerMM:      p.X.StepsPerMM,
		grbl.SettingYStepsPerMM:      p.Y.StepsPerMM,
		grbl.SettingZStepsPerMM:      p.Z.StepsPerMM,
		grbl.SettingXMaxRate:         p.X.MaxRate,
		grbl.SettingYMaxRate:         p.Y.MaxRate,
		grbl.SettingZMaxRate:         p.Z.MaxRate,
		grbl.SettingXAcceleration:    p.X.Acceleration,
		grbl.SettingYAcceleration:    p.Y.Acceleration,
		grbl.SettingZAcceleration:    p.Z.Acceleration,
		grbl.SettingXMaxTravel:       p.X.MaxTravel,
		grbl.SettingYMaxTravel:       p.Y.MaxTravel,
		grbl.SettingZMaxTravel:       p.Z.MaxTravel,
	}
}

// Settings renders the profile as an ordered settings table, one entry per
// recognised setting identifier.
func (p Profile) Settings() []Setting {
	values := p.Values()
	defs := grbl.Definitions()
	out := make([]Setting, 0, len(defs))
	for _, d := range defs {
		out = append(out, Setting{
			ID:       d.ID,
			Key:      d.Key,
			Value:    values[d.ID],
			Unit:     d.Unit,
			Kind:     d.Kind,
			Category: d.Category,
			Def:      d,
		})
	}
	return out
}
