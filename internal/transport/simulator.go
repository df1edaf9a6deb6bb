package transport

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/professor93/grblctl/internal/grbl"
)

// SimulatorVersion is the firmware version the simulator announces.
const SimulatorVersion = "0.9j"

// Simulator is an in-process stand-in for a grbl controller. It speaks the
// line protocol over an io.ReadWriteCloser so a Worker can drive it exactly
// like a serial port.
type Simulator struct {
	hostR *io.PipeReader // bytes written by the host
	hostW *io.PipeWriter
	devR  *io.PipeReader // bytes produced by the controller
	devW  *io.PipeWriter

	mu       sync.Mutex
	initial  map[grbl.SettingID]float64
	settings map[grbl.SettingID]float64
	state    grbl.State
	pos      grbl.Position
	received []string

	closeOnce sync.Once
	done      chan struct{}
}

// NewSimulator starts a simulated controller holding the given settings. It
// announces itself with the welcome banner immediately, like a board that
// resets when the port opens.
func NewSimulator(settings map[grbl.SettingID]float64) *Simulator {
	hostR, hostW := io.Pipe()
	devR, devW := io.Pipe()

	s := &Simulator{
		hostR:    hostR,
		hostW:    hostW,
		devR:     devR,
		devW:     devW,
		initial:  copySettings(settings),
		settings: copySettings(settings),
		state:    grbl.StateIdle,
		done:     make(chan struct{}),
	}

	go s.run()
	return s
}

func copySettings(in map[grbl.SettingID]float64) map[grbl.SettingID]float64 {
	out := make(map[grbl.SettingID]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Read returns controller output.
func (s *Simulator) Read(p []byte) (int, error) {
	return s.devR.Read(p)
}

// Write feeds host bytes to the controller.
func (s *Simulator) Write(p []byte) (int, error) {
	return s.hostW.Write(p)
}

// Close shuts the simulated link down.
func (s *Simulator) Close() error {
	s.closeOnce.Do(func() {
		s.hostW.Close()
		s.hostR.Close()
		s.devW.Close()
		<-s.done
	})
	return nil
}

// Settings returns a copy of the controller-side settings.
func (s *Simulator) Settings() map[grbl.SettingID]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySettings(s.settings)
}

// Received returns every non-realtime line the controller accepted.
func (s *Simulator) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// Position returns the simulated machine position.
func (s *Simulator) Position() grbl.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *Simulator) run() {
	defer close(s.done)

	s.emit(s.welcome())

	r := bufio.NewReader(s.hostR)
	var line []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return
		}

		if grbl.IsRealtime(b) {
			s.realtime(b)
			continue
		}

		switch b {
		case '\r':
		case '\n':
			s.handle(strings.TrimSpace(string(line)))
			line = line[:0]
		default:
			line = append(line, b)
		}
	}
}

func (s *Simulator) welcome() string {
	return "\r\nGrbl " + SimulatorVersion + " ['$' for help]\r\n"
}

// emit writes controller output; a closed link drops it.
func (s *Simulator) emit(out string) {
	_, _ = io.WriteString(s.devW, out)
}

func (s *Simulator) realtime(b byte) {
	switch b {
	case grbl.RealtimeStatus:
		s.emit(s.statusReport() + "\r\n")
	case grbl.RealtimeHold:
		s.setState(grbl.StateHold)
	case grbl.RealtimeResume:
		s.setState(grbl.StateIdle)
	case grbl.RealtimeReset:
		s.setState(grbl.StateIdle)
		s.emit(s.welcome())
	}
}

func (s *Simulator) setState(st grbl.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Simulator) statusReport() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	mask := uint8(s.settings[grbl.SettingStatusReportMask])
	p := fmt.Sprintf("%.3f,%.3f,%.3f", s.pos.X, s.pos.Y, s.pos.Z)

	fields := []string{string(s.state)}
	if mask&grbl.StatusMachinePosition != 0 {
		fields = append(fields, "MPos:"+p)
	}
	if mask&grbl.StatusWorkPosition != 0 {
		fields = append(fields, "WPos:"+p)
	}
	if mask&grbl.StatusPlannerBuffer != 0 {
		fields = append(fields, "Buf:0")
	}
	if mask&grbl.StatusSerialRX != 0 {
		fields = append(fields, "RX:0")
	}
	if mask&grbl.StatusLimitPins != 0 {
		fields = append(fields, "Lim:000")
	}
	return "<" + strings.Join(fields, ",") + ">"
}

func (s *Simulator) handle(line string) {
	s.mu.Lock()
	if line != "" {
		s.received = append(s.received, line)
	}
	s.mu.Unlock()

	switch {
	case line == "":
		s.emit("ok\r\n")
	case line == grbl.CommandSettings:
		s.emit(s.dump() + "ok\r\n")
	case line == grbl.CommandUnlock:
		s.setState(grbl.StateIdle)
		s.emit("[Caution: Unlocked]\r\nok\r\n")
	case line == grbl.CommandHome:
		s.mu.Lock()
		s.pos = grbl.Position{}
		s.mu.Unlock()
		s.emit("ok\r\n")
	case line == grbl.CommandRestoreAll:
		s.mu.Lock()
		s.settings = copySettings(s.initial)
		s.mu.Unlock()
		s.emit("ok\r\n")
	case strings.HasPrefix(line, "$"):
		s.emit(s.assign(line))
	case strings.HasPrefix(line, "G0") || strings.HasPrefix(line, "G1"):
		s.move(line)
		s.emit("ok\r\n")
	default:
		s.emit("ok\r\n")
	}
}

func (s *Simulator) assign(line string) string {
	id, value, err := grbl.ParseSettingLine(line)
	if err != nil {
		return "error: Invalid statement\r\n"
	}
	def, ok := grbl.Lookup(id)
	if !ok {
		return "error: Invalid statement\r\n"
	}
	if err := def.Check(value); err != nil {
		return "error: Value < 0.0\r\n"
	}

	s.mu.Lock()
	s.settings[id] = value
	s.mu.Unlock()
	return "ok\r\n"
}

func (s *Simulator) dump() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int, 0, len(s.settings))
	for id := range s.settings {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	var b strings.Builder
	for _, n := range ids {
		id := grbl.SettingID(n)
		line, err := grbl.WireSetting(id, s.settings[id])
		if err != nil {
			continue
		}
		def, _ := grbl.Lookup(id)
		b.WriteString(line + " (" + def.Description + ")\r\n")
	}
	return b.String()
}

func (s *Simulator) move(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, word := range strings.Fields(line)[1:] {
		if len(word) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(word[1:], 64)
		if err != nil {
			continue
		}
		switch word[0] {
		case 'X':
			s.pos.X = v
		case 'Y':
			s.pos.Y = v
		case 'Z':
			s.pos.Z = v
		}
	}
}
