package grbl

import (
	"strings"

	"github.com/pkg/errors"
)

// LineType classifies a line received from the controller.
type LineType int

const (
	LineOther LineType = iota
	LineOK
	LineError
	LineAlarm
	LineStatus
	LineSetting
	LineWelcome
	LineFeedback
)

func (t LineType) String() string {
	switch t {
	case LineOK:
		return "ok"
	case LineError:
		return "error"
	case LineAlarm:
		return "alarm"
	case LineStatus:
		return "status"
	case LineSetting:
		return "setting"
	case LineWelcome:
		return "welcome"
	case LineFeedback:
		return "feedback"
	default:
		return "other"
	}
}

// Line is one classified controller output line.
type Line struct {
	Type LineType
	Raw  string
	// Message carries the text after "error:" / "ALARM:" or inside "[...]".
	Message string
}

// Terminal reports whether the line completes a pending command.
func (l Line) Terminal() bool {
	return l.Type == LineOK || l.Type == LineError
}

// Err converts an error line to an error value.
func (l Line) Err() error {
	if l.Type != LineError {
		return nil
	}
	return errors.Errorf("controller error: %s", l.Message)
}

// ParseLine classifies a single line of controller output.
func ParseLine(raw string) Line {
	s := strings.TrimSpace(raw)
	switch {
	case s == "ok":
		return Line{Type: LineOK, Raw: s}
	case strings.HasPrefix(s, "error:"):
		return Line{Type: LineError, Raw: s, Message: strings.TrimSpace(s[len("error:"):])}
	case strings.HasPrefix(s, "ALARM:"):
		return Line{Type: LineAlarm, Raw: s, Message: strings.TrimSpace(s[len("ALARM:"):])}
	case strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">"):
		return Line{Type: LineStatus, Raw: s}
	case strings.HasPrefix(s, "$") && strings.Contains(s, "="):
		return Line{Type: LineSetting, Raw: s}
	case strings.HasPrefix(s, "Grbl "):
		return Line{Type: LineWelcome, Raw: s}
	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		return Line{Type: LineFeedback, Raw: s, Message: s[1 : len(s)-1]}
	default:
		return Line{Type: LineOther, Raw: s}
	}
}

// Version extracts the firmware version from a welcome banner such as
// "Grbl 0.9j ['$' for help]".
func Version(welcome string) string {
	fields := strings.Fields(welcome)
	if len(fields) < 2 || fields[0] != "Grbl" {
		return ""
	}
	return fields[1]
}

// Real-time commands are single bytes and are not acknowledged.
const (
	RealtimeStatus   byte = '?'
	RealtimeHold     byte = '!'
	RealtimeResume   byte = '~'
	RealtimeReset    byte = 0x18
	CommandUnlock         = "$X"
	CommandHome           = "$H"
	CommandSettings       = "$$"
	CommandRestoreAll     = "$RST=$"
)

// IsRealtime reports whether b is a real-time command byte.
func IsRealtime(b byte) bool {
	switch b {
	case RealtimeStatus, RealtimeHold, RealtimeResume, RealtimeReset:
		return true
	}
	return false
}
