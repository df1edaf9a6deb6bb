package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/professor93/grblctl/internal/grbl"
	"github.com/professor93/grblctl/internal/metrics"
	"github.com/professor93/grblctl/pkg/constants"
)

var (
	ErrClosed  = errors.New("controller link closed")
	ErrTimeout = errors.New("timed out waiting for controller")
)

// Opener opens the byte stream to a controller.
type Opener func(device string, baud int) (io.ReadWriteCloser, error)

// OpenSerial opens a serial port at the given baud rate, 8N1.
func OpenSerial(device string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}
	return port, nil
}

// Config holds worker configuration
type Config struct {
	Logger  *zap.Logger
	Timeout time.Duration // per-command limit when the caller's context has none
}

// Worker owns the link to one controller. grbl answers every line with ok or
// error, so at most one command is in flight at a time; real-time bytes may be
// written at any moment.
type Worker struct {
	port    io.ReadWriteCloser
	logger  *zap.Logger
	timeout time.Duration

	writeMu sync.Mutex
	cmdMu   sync.Mutex
	replies chan grbl.Line

	mu        sync.RWMutex
	pending   bool // a command is waiting for its reply
	owed      int  // replies still due to commands that gave up waiting
	collect   bool
	collected []string
	status    *grbl.Status
	version   string
	alarm     string

	welcome   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewWorker starts reading from port.
func NewWorker(port io.ReadWriteCloser, cfg *Config) *Worker {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.CommandTimeout * time.Second
	}

	w := &Worker{
		port:    port,
		logger:  logger.With(zap.String("component", "transport")),
		timeout: timeout,
		replies: make(chan grbl.Line, 1),
		welcome: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	metrics.SetConnected(true)
	go w.readLoop()
	return w
}

func (w *Worker) readLoop() {
	defer close(w.done)
	defer metrics.SetConnected(false)

	scanner := bufio.NewScanner(w.port)
	for scanner.Scan() {
		raw := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		w.dispatch(grbl.ParseLine(raw))
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		w.logger.Warn("Controller read failed", zap.Error(err))
	}
}

func (w *Worker) dispatch(line grbl.Line) {
	switch line.Type {
	case grbl.LineStatus:
		st, err := grbl.ParseStatus(line.Raw)
		if err != nil {
			w.logger.Debug("Ignoring malformed status report", zap.String("line", line.Raw), zap.Error(err))
			return
		}
		st.ReceivedAt = time.Now()
		w.mu.Lock()
		w.status = &st
		w.mu.Unlock()

	case grbl.LineWelcome:
		// A reset discards whatever the controller had queued.
		w.mu.Lock()
		w.version = grbl.Version(line.Raw)
		w.alarm = ""
		w.owed = 0
		w.mu.Unlock()
		w.logger.Info("Controller ready", zap.String("version", grbl.Version(line.Raw)))
		select {
		case w.welcome <- struct{}{}:
		default:
		}

	case grbl.LineAlarm:
		metrics.AlarmsTotal.Inc()
		w.mu.Lock()
		w.alarm = line.Message
		w.mu.Unlock()
		w.logger.Warn("Controller alarm", zap.String("alarm", line.Message))

	case grbl.LineOK, grbl.LineError:
		// grbl answers lines in order, so replies owed to abandoned commands
		// arrive before the current command's own reply.
		w.mu.Lock()
		defer w.mu.Unlock()
		switch {
		case w.owed > 0:
			w.owed--
			w.logger.Debug("Discarding late reply", zap.String("line", line.Raw), zap.Int("still_owed", w.owed))
		case !w.pending:
			w.logger.Debug("Dropping unsolicited reply", zap.String("line", line.Raw))
		default:
			select {
			case w.replies <- line:
			default:
				w.logger.Debug("Dropping unsolicited reply", zap.String("line", line.Raw))
			}
		}

	default:
		w.mu.Lock()
		if w.collect {
			w.collected = append(w.collected, line.Raw)
		}
		w.mu.Unlock()
		w.logger.Debug("Controller message", zap.String("type", line.Type.String()), zap.String("line", line.Raw))
	}
}

// WaitReady blocks until the controller's welcome banner arrives.
func (w *Worker) WaitReady(ctx context.Context) error {
	select {
	case <-w.welcome:
		return nil
	case <-w.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Exec sends one line and waits for the controller to acknowledge it. The
// informational lines received before the acknowledgement (a `$$` dump,
// bracketed feedback) are returned.
func (w *Worker) Exec(ctx context.Context, line string) ([]string, error) {
	line = strings.TrimSpace(line)
	if strings.ContainsAny(line, "\r\n") {
		return nil, fmt.Errorf("command must be a single line: %q", line)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	w.cmdMu.Lock()
	defer w.cmdMu.Unlock()

	w.mu.Lock()
	w.pending = true
	w.collect = true
	w.collected = nil
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.pending = false
		w.collect = false
		w.collected = nil
		w.mu.Unlock()
	}()

	if err := w.write([]byte(line + constants.LineTerminator)); err != nil {
		metrics.IncCommand("closed")
		return nil, err
	}
	w.logger.Debug("Sent command", zap.String("line", line))

	select {
	case reply := <-w.replies:
		w.mu.RLock()
		out := append([]string(nil), w.collected...)
		w.mu.RUnlock()

		if err := reply.Err(); err != nil {
			metrics.IncCommand("error")
			return out, fmt.Errorf("%s: %w", line, err)
		}
		metrics.IncCommand("ok")
		return out, nil

	case <-w.done:
		metrics.IncCommand("closed")
		return nil, ErrClosed

	case <-ctx.Done():
		w.abandon()
		metrics.IncCommand("timeout")
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", line, ErrTimeout)
		}
		return nil, ctx.Err()
	}
}

// abandon gives up on the reply to the command in flight. A reply that was
// already queued is consumed; otherwise it is owed and discarded on arrival.
func (w *Worker) abandon() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = false
	select {
	case <-w.replies:
	default:
		w.owed++
	}
}

func (w *Worker) owedReplies() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.owed
}

// Realtime writes a single real-time command byte. Real-time commands are
// never acknowledged.
func (w *Worker) Realtime(b byte) error {
	if !grbl.IsRealtime(b) {
		return fmt.Errorf("0x%02x is not a real-time command", b)
	}
	if err := w.write([]byte{b}); err != nil {
		return err
	}
	metrics.IncRealtime(b)
	return nil
}

// Poll requests a status report; the reply updates Status asynchronously.
func (w *Worker) Poll() error {
	return w.Realtime(grbl.RealtimeStatus)
}

// Unlock clears an alarm lock with `$X`.
func (w *Worker) Unlock(ctx context.Context) error {
	if _, err := w.Exec(ctx, grbl.CommandUnlock); err != nil {
		return fmt.Errorf("failed to unlock controller: %w", err)
	}
	w.mu.Lock()
	w.alarm = ""
	w.mu.Unlock()
	return nil
}

// PushSettings writes `$n=value` lines one at a time and returns how many the
// controller accepted. It stops at the first rejection.
func (w *Worker) PushSettings(ctx context.Context, lines []string) (int, error) {
	for i, line := range lines {
		if _, _, err := grbl.ParseSettingLine(line); err != nil {
			return i, fmt.Errorf("failed to push settings: %w", err)
		}
		if _, err := w.Exec(ctx, line); err != nil {
			return i, fmt.Errorf("failed to push settings: %w", err)
		}
	}
	w.logger.Info("Pushed settings to controller", zap.Int("count", len(lines)))
	return len(lines), nil
}

// ReadSettings issues `$$` and parses the dump.
func (w *Worker) ReadSettings(ctx context.Context) (map[grbl.SettingID]float64, error) {
	lines, err := w.Exec(ctx, grbl.CommandSettings)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	out := make(map[grbl.SettingID]float64, len(lines))
	for _, l := range lines {
		if grbl.ParseLine(l).Type != grbl.LineSetting {
			continue
		}
		id, v, err := grbl.ParseSettingLine(l)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
		out[id] = v
	}
	return out, nil
}

func (w *Worker) write(b []byte) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if _, err := w.port.Write(b); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return ErrClosed
		}
		return fmt.Errorf("failed to write to controller: %w", err)
	}
	return nil
}

// Status returns the most recent status report, if any.
func (w *Worker) Status() (grbl.Status, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.status == nil {
		return grbl.Status{}, false
	}
	return *w.status, true
}

// Version returns the firmware version from the last welcome banner.
func (w *Worker) Version() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.version
}

// Alarm returns the active alarm message, or "" when none is latched.
func (w *Worker) Alarm() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.alarm
}

// Connected reports whether the reader is still running.
func (w *Worker) Connected() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Done is closed once the link is gone.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Close closes the port and waits for the reader to exit.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.port.Close()
		<-w.done
	})
	return w.closeErr
}
