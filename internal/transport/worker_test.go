package transport

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/professor93/grblctl/internal/defaults"
	"github.com/professor93/grblctl/internal/grbl"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newSimWorker(t *testing.T) (*Worker, *Simulator) {
	t.Helper()

	sim := NewSimulator(defaults.Custom().Values())
	w := NewWorker(sim, &Config{Timeout: 2 * time.Second})
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.WaitReady(ctx))

	return w, sim
}

func TestWorker_Welcome(t *testing.T) {
	w, _ := newSimWorker(t)
	assert.Equal(t, SimulatorVersion, w.Version())
}

func TestWorker_ExecMoves(t *testing.T) {
	w, sim := newSimWorker(t)
	ctx := context.Background()

	_, err := w.Exec(ctx, "G1 X12.5 Y3 F6000")
	require.NoError(t, err)

	assert.Equal(t, grbl.Position{X: 12.5, Y: 3}, sim.Position())
	assert.Equal(t, []string{"G1 X12.5 Y3 F6000"}, sim.Received())
}

func TestWorker_ExecRejectsMultiline(t *testing.T) {
	w, _ := newSimWorker(t)

	_, err := w.Exec(context.Background(), "G0 X1\nG0 X2")
	assert.Error(t, err)
}

func TestWorker_Unlock(t *testing.T) {
	w, sim := newSimWorker(t)

	require.NoError(t, w.Unlock(context.Background()))
	assert.Contains(t, sim.Received(), grbl.CommandUnlock)
	assert.Empty(t, w.Alarm())
}

func TestWorker_StatusPoll(t *testing.T) {
	w, _ := newSimWorker(t)

	_, ok := w.Status()
	assert.False(t, ok, "no status before the first poll")

	_, err := w.Exec(context.Background(), "G0 X5 Y7")
	require.NoError(t, err)
	require.NoError(t, w.Poll())

	require.Eventually(t, func() bool {
		_, ok := w.Status()
		return ok
	}, time.Second, 10*time.Millisecond)

	st, _ := w.Status()
	assert.Equal(t, grbl.StateIdle, st.State)
	require.NotNil(t, st.MachinePos)
	assert.Equal(t, 5.0, st.MachinePos.X)
	assert.Equal(t, 7.0, st.MachinePos.Y)
	assert.False(t, st.ReceivedAt.IsZero())
}

func TestWorker_Realtime(t *testing.T) {
	w, _ := newSimWorker(t)

	assert.Error(t, w.Realtime('G'))

	require.NoError(t, w.Realtime(grbl.RealtimeHold))
	require.NoError(t, w.Poll())
	require.Eventually(t, func() bool {
		st, ok := w.Status()
		return ok && st.State == grbl.StateHold
	}, time.Second, 10*time.Millisecond)
}

func TestWorker_PushAndReadSettings(t *testing.T) {
	w, sim := newSimWorker(t)
	ctx := context.Background()

	lines := []string{"$110=3000.000", "$22=1"}
	n, err := w.PushSettings(ctx, lines)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got := sim.Settings()
	assert.Equal(t, 3000.0, got[grbl.SettingXMaxRate])
	assert.Equal(t, 1.0, got[grbl.SettingHomingEnable])

	read, err := w.ReadSettings(ctx)
	require.NoError(t, err)
	assert.Len(t, read, len(grbl.Definitions()))
	assert.Equal(t, 3000.0, read[grbl.SettingXMaxRate])
	// Acceleration travels as mm/sec^2 and comes back in mm/min^2.
	assert.Equal(t, defaults.Custom().X.Acceleration, read[grbl.SettingXAcceleration])
}

func TestWorker_PushProfileRoundTrip(t *testing.T) {
	sim := NewSimulator(defaults.Generic().Values())
	w := NewWorker(sim, &Config{Timeout: 2 * time.Second})
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.WaitReady(ctx))

	settings := defaults.Custom().Settings()
	lines := make([]string, len(settings))
	for i, s := range settings {
		lines[i] = s.WireLine()
	}
	n, err := w.PushSettings(ctx, lines)
	require.NoError(t, err)
	assert.Equal(t, len(lines), n)

	read, err := w.ReadSettings(ctx)
	require.NoError(t, err)
	for _, s := range settings {
		assert.InDelta(t, s.Value, read[s.ID], 1e-9, "$%d", s.ID)
	}
	assert.InDelta(t, defaults.RotaryStepsPerMM, read[grbl.SettingXStepsPerMM], 1e-12)
	assert.InDelta(t, defaults.RotaryStepsPerMM, read[grbl.SettingZStepsPerMM], 1e-12)
}

func TestWorker_StatusFollowsReportMask(t *testing.T) {
	testCases := []struct {
		name        string
		mask        string
		wantMachine bool
		wantWork    bool
	}{
		{"machine only", "$10=1", true, false},
		{"work only", "$10=2", false, true},
		{"both with buffer", "$10=7", true, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w, _ := newSimWorker(t)
			ctx := context.Background()

			_, err := w.PushSettings(ctx, []string{tc.mask})
			require.NoError(t, err)
			_, err = w.Exec(ctx, "G0 X4 Y2")
			require.NoError(t, err)
			require.NoError(t, w.Poll())

			require.Eventually(t, func() bool {
				_, ok := w.Status()
				return ok
			}, time.Second, 10*time.Millisecond)

			st, _ := w.Status()
			assert.Equal(t, tc.wantMachine, st.MachinePos != nil, "machine position")
			assert.Equal(t, tc.wantWork, st.WorkPos != nil, "work position")
			if st.WorkPos != nil {
				assert.Equal(t, 4.0, st.WorkPos.X)
			}
		})
	}
}

func TestWorker_PushSettingsStopsAtRejection(t *testing.T) {
	w, _ := newSimWorker(t)

	n, err := w.PushSettings(context.Background(), []string{"$100=10.000", "$99=1", "$101=10.000"})
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	n, err = w.PushSettings(context.Background(), []string{"G0 X1"})
	assert.Error(t, err)
	assert.Equal(t, 0, n)
}

func TestWorker_ClosedLink(t *testing.T) {
	w, _ := newSimWorker(t)
	require.NoError(t, w.Close())

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("reader did not exit")
	}

	_, err := w.Exec(context.Background(), "G0 X1")
	assert.True(t, errors.Is(err, ErrClosed), "got %v", err)
	assert.ErrorIs(t, w.Poll(), ErrClosed)
}

func TestWorker_Timeout(t *testing.T) {
	// A controller that never answers.
	port := &silentPort{closed: make(chan struct{})}
	w := NewWorker(port, &Config{Timeout: 50 * time.Millisecond})
	defer w.Close()

	_, err := w.Exec(context.Background(), "G0 X1")
	assert.ErrorIs(t, err, ErrTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = w.Exec(ctx, "G0 X1")
	assert.ErrorIs(t, err, context.Canceled)
}

// scriptedPort lets a test decide when the controller answers.
type scriptedPort struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	writes chan string
}

func newScriptedPort() *scriptedPort {
	r, w := io.Pipe()
	return &scriptedPort{r: r, w: w, writes: make(chan string, 16)}
}

func (p *scriptedPort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *scriptedPort) Write(b []byte) (int, error) {
	p.writes <- string(b)
	return len(b), nil
}

func (p *scriptedPort) Close() error {
	p.r.Close()
	return p.w.Close()
}

func (p *scriptedPort) reply(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(p.w, line+"\r\n")
	require.NoError(t, err)
}

func (p *scriptedPort) expectWrite(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-p.writes:
		assert.Equal(t, want+"\n", got)
	case <-time.After(time.Second):
		t.Fatalf("controller never received %q", want)
	}
}

func TestWorker_LateReplyAfterTimeout(t *testing.T) {
	port := newScriptedPort()
	w := NewWorker(port, &Config{Timeout: 50 * time.Millisecond})
	defer w.Close()

	_, err := w.Exec(context.Background(), "G0 X1")
	require.ErrorIs(t, err, ErrTimeout)
	port.expectWrite(t, "G0 X1")
	assert.Equal(t, 1, w.owedReplies())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := w.Exec(ctx, "G0 X2")
		done <- err
	}()
	port.expectWrite(t, "G0 X2")

	// The first command's answer arrives only now; it must not be taken as
	// the second command's acknowledgement.
	port.reply(t, "error:Bad number format")
	port.reply(t, "ok")

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second command never completed")
	}
	assert.Equal(t, 0, w.owedReplies())
}

func TestWorker_ResetForgivesOwedReplies(t *testing.T) {
	port := newScriptedPort()
	w := NewWorker(port, &Config{Timeout: 50 * time.Millisecond})
	defer w.Close()

	_, err := w.Exec(context.Background(), "G0 X1")
	require.ErrorIs(t, err, ErrTimeout)
	port.expectWrite(t, "G0 X1")
	require.Equal(t, 1, w.owedReplies())

	port.reply(t, "Grbl 0.9j ['$' for help]")
	require.NoError(t, w.WaitReady(context.Background()))
	assert.Equal(t, 0, w.owedReplies())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := w.Exec(ctx, "G0 X2")
		done <- err
	}()
	port.expectWrite(t, "G0 X2")
	port.reply(t, "ok")
	assert.NoError(t, <-done)
}

type silentPort struct {
	closed chan struct{}
}

func (p *silentPort) Read(b []byte) (int, error) {
	<-p.closed
	return 0, errors.New("port closed")
}

func (p *silentPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *silentPort) Close() error {
	close(p.closed)
	return nil
}

func TestPoller(t *testing.T) {
	w, _ := newSimWorker(t)

	_, err := NewPoller(w, "not a schedule", nil)
	assert.Error(t, err)

	p, err := NewPoller(w, "@every 1s", nil)
	require.NoError(t, err)

	p.poll()
	require.Eventually(t, func() bool {
		_, ok := w.Status()
		return ok
	}, time.Second, 10*time.Millisecond)

	p.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Stop(ctx)
}
