package server

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"github.com/professor93/grblctl/internal/api"
	"github.com/professor93/grblctl/internal/database"
	"github.com/professor93/grblctl/internal/defaults"
	"github.com/professor93/grblctl/internal/gcode"
	"github.com/professor93/grblctl/internal/grbl"
	"github.com/professor93/grblctl/internal/metrics"
	"github.com/professor93/grblctl/internal/scan"
)

// settingView is a stored setting plus its wire form.
type settingView struct {
	database.StoredSetting
	Line string `json:"line"`
}

func viewOf(s database.StoredSetting) settingView {
	return settingView{StoredSetting: s, Line: s.Line()}
}

func (s *Server) commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.config.CommandTimeout)
}

// bindJSON decodes an optional JSON body; an empty body leaves out untouched.
func bindJSON(c fiber.Ctx, out interface{}) error {
	body := c.Body()
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body: "+err.Error())
	}
	return nil
}

func settingID(c fiber.Ctx) (grbl.SettingID, error) {
	n, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "setting id must be a number")
	}
	return grbl.SettingID(n), nil
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c fiber.Ctx) error {
	dbOK := s.deps.Store != nil && s.deps.Store.Ping() == nil

	health := api.HealthCheck{
		Healthy:    dbOK,
		Version:    s.config.Version,
		Timestamp:  time.Now().Format(time.RFC3339),
		DatabaseOK: dbOK,
		Connected:  s.controller() != nil,
	}

	if !dbOK {
		resp := api.NewErrorResponse(api.CodeErrorDatabase, "Database unavailable")
		resp.Result = health
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(api.NewSuccessResponse(api.CodeSuccess, "Service is healthy", health))
}

// handleStatus reports the controller state and the scan job
func (s *Server) handleStatus(c fiber.Ctx) error {
	status := api.MachineStatus{Scan: scan.Job{State: scan.StateIdle}}

	if ctl := s.controller(); ctl != nil {
		status.Connected = true
		status.Firmware = ctl.Version()
		status.Alarm = ctl.Alarm()
		if report, ok := ctl.Status(); ok {
			status.Report = report
		}
	}
	if s.deps.Scanner != nil {
		status.Scan = s.deps.Scanner.Status()
	}

	return c.JSON(api.NewSuccessResponse(api.CodeDataRetrieved, "Status retrieved successfully", status))
}

// handleProfiles lists the registered defaults profiles
func (s *Server) handleProfiles(c fiber.Ctx) error {
	list := api.ProfileList{
		Profiles: defaults.Names(),
		Active:   defaults.SelectedName(s.config.Profile),
	}
	if s.deps.Store != nil {
		seeded, err := s.deps.Store.SeededProfile()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		list.Seeded = seeded
	}

	return c.JSON(api.NewSuccessResponse(api.CodeDataRetrieved, "Profiles retrieved successfully", list))
}

// handleProfile renders one profile as settings
func (s *Server) handleProfile(c fiber.Ctx) error {
	profile, err := defaults.Lookup(c.Params("name"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	settings := profile.Settings()
	lines := make([]string, len(settings))
	for i, st := range settings {
		lines[i] = st.Line()
	}

	meta := map[string]interface{}{
		"name":        profile.Name,
		"description": profile.Description,
		"lines":       lines,
	}
	return c.JSON(api.NewSuccessResponseWithMeta(api.CodeDataRetrieved, "Profile retrieved successfully", settings, meta))
}

// handleSettings lists the persisted settings
func (s *Server) handleSettings(c fiber.Ctx) error {
	stored, err := s.deps.Store.All()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(api.NewErrorResponse(api.CodeErrorDatabase, err.Error()))
	}

	views := make([]settingView, len(stored))
	for i, st := range stored {
		views[i] = viewOf(st)
	}

	seeded, _ := s.deps.Store.SeededProfile()
	meta := map[string]interface{}{
		"count":   len(views),
		"profile": seeded,
	}
	return c.JSON(api.NewSuccessResponseWithMeta(api.CodeDataRetrieved, "Settings retrieved successfully", views, meta))
}

// handleSetting returns one persisted setting
func (s *Server) handleSetting(c fiber.Ctx) error {
	id, err := settingID(c)
	if err != nil {
		return err
	}

	st, err := s.deps.Store.Get(id)
	if errors.Is(err, database.ErrSettingNotFound) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(api.NewErrorResponse(api.CodeErrorDatabase, err.Error()))
	}

	return c.JSON(api.NewSuccessResponse(api.CodeDataRetrieved, "Setting retrieved successfully", viewOf(st)))
}

// handleSetSetting validates and stores one setting
func (s *Server) handleSetSetting(c fiber.Ctx) error {
	id, err := settingID(c)
	if err != nil {
		return err
	}

	var req api.SettingUpdate
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Value == nil {
		return fiber.NewError(fiber.StatusBadRequest, "value is required")
	}

	err = s.deps.Store.Set(id, *req.Value)
	switch {
	case errors.Is(err, database.ErrSettingNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrInvalidValue):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(api.NewErrorResponse(api.CodeErrorDatabase, err.Error()))
	}
	metrics.IncSettingWrites("api", 1)

	st, err := s.deps.Store.Get(id)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(api.NewErrorResponse(api.CodeErrorDatabase, err.Error()))
	}
	return c.JSON(api.NewSuccessResponse(api.CodeDataUpdated, api.MessageUpdated, viewOf(st)))
}

// handleReset restores the persisted settings to a profile's defaults
func (s *Server) handleReset(c fiber.Ctx) error {
	var req api.ResetRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	var (
		profile defaults.Profile
		err     error
	)
	if req.Profile != "" {
		profile, err = defaults.Lookup(req.Profile)
	} else {
		profile, err = defaults.Active(s.config.Profile)
	}
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	if err := s.deps.Store.Reset(profile); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(api.NewErrorResponse(api.CodeErrorDatabase, err.Error()))
	}

	stored, err := s.deps.Store.All()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(api.NewErrorResponse(api.CodeErrorDatabase, err.Error()))
	}
	metrics.IncSettingWrites("reset", len(stored))

	views := make([]settingView, len(stored))
	for i, st := range stored {
		views[i] = viewOf(st)
	}
	s.logger.Info("Settings reset", zap.String("profile", profile.Name))

	meta := map[string]interface{}{"profile": profile.Name, "count": len(views)}
	return c.JSON(api.NewSuccessResponseWithMeta(api.CodeSettingsReset, "Settings restored to "+profile.Name+" defaults", views, meta))
}

// handlePush writes every persisted setting to the controller
func (s *Server) handlePush(c fiber.Ctx) error {
	ctl := s.controller()
	if ctl == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, api.MessageOffline)
	}
	if s.scanRunning() {
		return fiber.NewError(fiber.StatusConflict, scan.ErrBusy.Error())
	}

	stored, err := s.deps.Store.All()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(api.NewErrorResponse(api.CodeErrorDatabase, err.Error()))
	}
	lines := make([]string, len(stored))
	for i, st := range stored {
		lines[i] = st.WireLine()
	}

	ctx, cancel := s.commandContext()
	defer cancel()

	n, err := ctl.PushSettings(ctx, lines)
	result := api.PushResult{Pushed: n, Total: len(lines)}
	if err != nil {
		resp := api.NewErrorResponse(api.CodeErrorController, err.Error())
		resp.Meta = result
		return c.Status(fiber.StatusBadGateway).JSON(resp)
	}

	return c.JSON(api.NewSuccessResponse(api.CodeSettingsPushed, "Settings pushed to controller", result))
}

// handleGcode executes one line on the controller
func (s *Server) handleGcode(c fiber.Ctx) error {
	ctl := s.controller()
	if ctl == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, api.MessageOffline)
	}

	var req api.CommandRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	line, err := gcode.SanitizeLine(req.Line)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if s.scanRunning() {
		return fiber.NewError(fiber.StatusConflict, scan.ErrBusy.Error())
	}

	ctx, cancel := s.commandContext()
	defer cancel()

	out, err := ctl.Exec(ctx, line)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}

	return c.JSON(api.NewSuccessResponse(api.CodeCommandExecuted, "Command executed", api.CommandResult{Line: line, Output: out}))
}

// controller returns the controller while its link is up, nil otherwise.
func (s *Server) controller() Controller {
	if s.deps.Controller == nil || !s.deps.Controller.Connected() {
		return nil
	}
	return s.deps.Controller
}

func (s *Server) scanRunning() bool {
	return s.deps.Scanner != nil && s.deps.Scanner.Status().State == scan.StateRunning
}

// handleScanStart starts a raster scan. Omitted plan fields take the
// configured defaults.
func (s *Server) handleScanStart(c fiber.Ctx) error {
	if s.deps.Scanner == nil || s.controller() == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, api.MessageOffline)
	}

	plan := s.config.ScanDefault
	if err := bindJSON(c, &plan); err != nil {
		return err
	}

	job, err := s.deps.Scanner.Start(s.ctx, plan)
	switch {
	case errors.Is(err, scan.ErrBusy):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case err != nil:
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	return c.Status(fiber.StatusAccepted).JSON(api.NewSuccessResponse(api.CodeScanStarted, "Scan started", job))
}

// handleScanStop cancels the running scan
func (s *Server) handleScanStop(c fiber.Ctx) error {
	if s.deps.Scanner == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, api.MessageOffline)
	}

	ctx, cancel := s.commandContext()
	defer cancel()

	job, err := s.deps.Scanner.Stop(ctx)
	switch {
	case errors.Is(err, scan.ErrNotRunning):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case err != nil:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(api.NewSuccessResponse(api.CodeScanStopped, "Scan stopped", job))
}
