package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/professor93/grblctl/internal/api"
	"github.com/professor93/grblctl/internal/database"
	"github.com/professor93/grblctl/internal/defaults"
	"github.com/professor93/grblctl/internal/grbl"
	"github.com/professor93/grblctl/internal/scan"
	"github.com/professor93/grblctl/internal/server"
	"github.com/professor93/grblctl/internal/transport"
)

const testSecret = "client-secret"

func newDaemon(t *testing.T) (*httptest.Server, *transport.Simulator) {
	t.Helper()

	db, err := database.New(&database.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.EnsureSeeded(defaults.Custom())
	require.NoError(t, err)

	sim := transport.NewSimulator(defaults.Generic().Values())
	worker := transport.NewWorker(sim, &transport.Config{Timeout: 2 * time.Second})
	t.Cleanup(func() { worker.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, worker.WaitReady(ctx))

	runner := scan.NewRunner(worker, &scan.RunnerConfig{
		Sleep: func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	})
	t.Cleanup(func() { runner.Close(context.Background()) })

	cfg := server.DefaultConfig()
	cfg.Secret = testSecret
	srv := server.New(cfg, server.Deps{Store: db, Controller: worker, Scanner: runner})

	ts := httptest.NewServer(adaptor.FiberApp(srv.GetApp()))
	t.Cleanup(ts.Close)
	return ts, sim
}

func newAuthedClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	token, err := server.IssueToken(testSecret, "test", time.Minute)
	require.NoError(t, err)
	return New(Config{BaseURL: baseURL, Token: token, Timeout: 5 * time.Second})
}

func TestClient_Reads(t *testing.T) {
	ts, _ := newDaemon(t)
	c := New(Config{BaseURL: ts.URL})

	health, err := c.Health()
	require.NoError(t, err)
	assert.True(t, health.DatabaseOK)
	assert.True(t, health.Connected)

	status, err := c.Status()
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.Equal(t, transport.SimulatorVersion, status.Firmware)
	assert.Equal(t, scan.StateIdle, status.Scan.State)

	profiles, err := c.Profiles()
	require.NoError(t, err)
	assert.Contains(t, profiles.Profiles, defaults.ProfileGeneric)
	assert.Equal(t, defaults.ProfileCustom, profiles.Seeded)

	generic, err := c.Profile(defaults.ProfileGeneric)
	require.NoError(t, err)
	require.Len(t, generic, len(grbl.Definitions()))
	assert.Equal(t, grbl.KindFloat, generic[len(generic)-1].Kind)

	settings, err := c.Settings()
	require.NoError(t, err)
	assert.Len(t, settings, len(grbl.Definitions()))

	one, err := c.Setting(grbl.SettingYMaxTravel)
	require.NoError(t, err)
	assert.Equal(t, "$131=360.000", one.Line)
}

func TestClient_NotFound(t *testing.T) {
	ts, _ := newDaemon(t)
	c := New(Config{BaseURL: ts.URL})

	_, err := c.Profile("laser")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, api.CodeErrorNotFound, apiErr.Code)
}

func TestClient_MutationsNeedToken(t *testing.T) {
	ts, _ := newDaemon(t)

	_, err := New(Config{BaseURL: ts.URL}).SetSetting(grbl.SettingXMaxRate, 1000)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	s, err := newAuthedClient(t, ts.URL).SetSetting(grbl.SettingXMaxRate, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, s.Value)
	assert.Equal(t, "$110=1000.000", s.Line)
}

func TestClient_ResetAndPush(t *testing.T) {
	ts, sim := newDaemon(t)
	c := newAuthedClient(t, ts.URL)

	settings, err := c.Reset(defaults.ProfileGeneric)
	require.NoError(t, err)
	require.NotEmpty(t, settings)

	result, err := c.Push()
	require.NoError(t, err)
	assert.Equal(t, result.Total, result.Pushed)
	assert.Equal(t, 250.0, sim.Settings()[grbl.SettingXStepsPerMM])
}

func TestClient_GcodeAndScan(t *testing.T) {
	ts, sim := newDaemon(t)
	c := newAuthedClient(t, ts.URL)

	res, err := c.Gcode(grbl.CommandUnlock)
	require.NoError(t, err)
	assert.Equal(t, []string{"[Caution: Unlocked]"}, res.Output)

	job, err := c.StartScan(map[string]interface{}{
		"x_range": 1, "ratio": map[string]int{"x": 1, "y": 1}, "quality": 1, "order": "xy",
	})
	require.NoError(t, err)
	assert.Equal(t, 4, job.Total)

	require.Eventually(t, func() bool {
		st, err := c.Status()
		return err == nil && st.Scan.State == scan.StateCompleted
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, grbl.Position{}, sim.Position())

	_, err = c.StopScan()
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
}

func TestClient_Unreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	_, err := c.Health()
	assert.Error(t, err)
}
