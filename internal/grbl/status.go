package grbl

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// State is the machine state named at the start of a status report.
type State string

const (
	StateIdle    State = "Idle"
	StateRun     State = "Run"
	StateHold    State = "Hold"
	StateJog     State = "Jog"
	StateAlarm   State = "Alarm"
	StateDoor    State = "Door"
	StateCheck   State = "Check"
	StateHome    State = "Home"
	StateSleep   State = "Sleep"
	StateUnknown State = "Unknown"
)

// Position is a three-axis coordinate in millimetres.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Status is a parsed real-time status report. Which positions are present
// depends on the status report mask ($10).
type Status struct {
	State         State     `json:"state"`
	MachinePos    *Position `json:"machine_pos,omitempty"`
	WorkPos       *Position `json:"work_pos,omitempty"`
	PlannerBuffer *int      `json:"planner_buffer,omitempty"`
	SerialRX      *int      `json:"serial_rx,omitempty"`
	LimitPins     string    `json:"limit_pins,omitempty"`
	ReceivedAt    time.Time `json:"received_at"`
}

// ParseStatus parses both the comma-separated 0.9 form
// "<Idle,MPos:0.000,0.000,0.000,WPos:0.000,0.000,0.000>" and the pipe-separated
// 1.1 form "<Idle|MPos:0.000,0.000,0.000|FS:0,0>".
func ParseStatus(raw string) (Status, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "<") || !strings.HasSuffix(s, ">") {
		return Status{}, errors.Errorf("not a status report: %q", raw)
	}
	s = s[1 : len(s)-1]

	var fields []string
	if strings.Contains(s, "|") {
		fields = strings.Split(s, "|")
	} else {
		fields = regroup(strings.Split(s, ","))
	}
	if len(fields) == 0 || fields[0] == "" {
		return Status{}, errors.Errorf("empty status report: %q", raw)
	}

	st := Status{State: parseState(fields[0])}
	for _, f := range fields[1:] {
		name, value, ok := strings.Cut(f, ":")
		if !ok {
			continue
		}
		switch name {
		case "MPos":
			p, err := parsePosition(value)
			if err != nil {
				return Status{}, errors.Wrap(err, "MPos")
			}
			st.MachinePos = &p
		case "WPos":
			p, err := parsePosition(value)
			if err != nil {
				return Status{}, errors.Wrap(err, "WPos")
			}
			st.WorkPos = &p
		case "Buf":
			n, err := strconv.Atoi(value)
			if err != nil {
				return Status{}, errors.Wrap(err, "Buf")
			}
			st.PlannerBuffer = &n
		case "RX":
			n, err := strconv.Atoi(value)
			if err != nil {
				return Status{}, errors.Wrap(err, "RX")
			}
			st.SerialRX = &n
		case "Lim", "Pn":
			st.LimitPins = value
		}
	}
	return st, nil
}

// regroup joins comma-separated tokens so that each field keeps its values,
// e.g. ["MPos:1","2","3"] becomes ["MPos:1,2,3"].
func regroup(tokens []string) []string {
	var out []string
	for i, t := range tokens {
		if i == 0 || strings.Contains(t, ":") || len(out) == 0 {
			out = append(out, t)
			continue
		}
		out[len(out)-1] += "," + t
	}
	return out
}

func parseState(s string) State {
	name, _, _ := strings.Cut(s, ":")
	switch st := State(name); st {
	case StateIdle, StateRun, StateHold, StateJog, StateAlarm, StateDoor,
		StateCheck, StateHome, StateSleep:
		return st
	default:
		return StateUnknown
	}
}

func parsePosition(s string) (Position, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 3 {
		return Position{}, errors.Errorf("expected 3 axes, got %d", len(parts))
	}
	var v [3]float64
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return Position{}, errors.Wrapf(err, "axis %d", i)
		}
		v[i] = f
	}
	return Position{X: v[0], Y: v[1], Z: v[2]}, nil
}
