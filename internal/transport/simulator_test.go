package transport

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/professor93/grblctl/internal/defaults"
	"github.com/professor93/grblctl/internal/grbl"
)

func TestSimulator_RestoreAll(t *testing.T) {
	w, sim := newSimWorker(t)
	ctx := context.Background()

	_, err := w.PushSettings(ctx, []string{"$0=20"})
	require.NoError(t, err)
	assert.Equal(t, 20.0, sim.Settings()[grbl.SettingStepPulse])

	_, err = w.Exec(ctx, grbl.CommandRestoreAll)
	require.NoError(t, err)
	assert.Equal(t, defaults.Custom().Values()[grbl.SettingStepPulse], sim.Settings()[grbl.SettingStepPulse])
}

func TestSimulator_DumpIsOrdered(t *testing.T) {
	w, _ := newSimWorker(t)

	lines, err := w.Exec(context.Background(), grbl.CommandSettings)
	require.NoError(t, err)
	require.NotEmpty(t, lines)

	assert.True(t, strings.HasPrefix(lines[0], "$0="), "first line %q", lines[0])
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "$132="), "last line %q", lines[len(lines)-1])
}

func TestSimulator_ResetAnnouncesAgain(t *testing.T) {
	w, _ := newSimWorker(t)

	require.NoError(t, w.Realtime(grbl.RealtimeReset))
	require.NoError(t, w.WaitReady(context.Background()))
}

func TestSimulator_RejectsBadValue(t *testing.T) {
	w, sim := newSimWorker(t)

	_, err := w.Exec(context.Background(), "$130=-5")
	assert.Error(t, err)
	assert.Equal(t, defaults.Custom().X.MaxTravel, sim.Settings()[grbl.SettingXMaxTravel])
}
