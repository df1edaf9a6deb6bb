// Package gcode builds the G-code lines sent to the controller and estimates
// how long the machine needs to complete them.
package gcode

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Motion commands.
const (
	Rapid  = "G0"
	Linear = "G1"
)

// Move is a single motion command. Nil axes are omitted from the line.
type Move struct {
	Command string
	X       *float64
	Y       *float64
	Feed    *float64
}

// LinearMove returns an absolute G1 move to (x, y) at feed mm/min.
func LinearMove(x, y, feed float64) Move {
	return Move{Command: Linear, X: &x, Y: &y, Feed: &feed}
}

// String renders the move, rounding every word to four decimals.
func (m Move) String() string {
	words := []string{m.Command}
	if m.X != nil {
		words = append(words, "X"+format(*m.X))
	}
	if m.Y != nil {
		words = append(words, "Y"+format(*m.Y))
	}
	if m.Feed != nil {
		words = append(words, "F"+format(*m.Feed))
	}
	return strings.Join(words, " ")
}

// Validate rejects moves the controller would refuse.
func (m Move) Validate() error {
	switch m.Command {
	case Rapid, Linear:
	default:
		return errors.Errorf("unsupported motion command %q", m.Command)
	}
	if m.Command == Linear && (m.Feed == nil || *m.Feed <= 0) {
		return errors.New("G1 requires a positive feed rate")
	}
	for _, v := range []*float64{m.X, m.Y, m.Feed} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return errors.Errorf("non-finite word in %q", m.String())
		}
	}
	return nil
}

func format(v float64) string {
	r := math.Round(v*1e4) / 1e4
	if r == 0 {
		r = 0 // drop negative zero
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// SanitizeLine trims a raw line and rejects ones that would confuse the
// send-response protocol.
func SanitizeLine(line string) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("empty line")
	}
	if strings.ContainsAny(line, "\r\n") {
		return "", errors.New("line must not contain line breaks")
	}
	if len(line) > 80 {
		return "", errors.Errorf("line exceeds 80 characters: %d", len(line))
	}
	return line, nil
}
