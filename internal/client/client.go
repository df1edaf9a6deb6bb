package client

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/professor93/grblctl/internal/api"
	"github.com/professor93/grblctl/internal/database"
	"github.com/professor93/grblctl/internal/defaults"
	"github.com/professor93/grblctl/internal/grbl"
	"github.com/professor93/grblctl/internal/scan"
)

// APIError is a non-OK envelope returned by the daemon.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (http %d): %s", e.Code, e.Status, e.Message)
}

// Setting mirrors the daemon's setting view.
type Setting struct {
	database.StoredSetting
	Line string `json:"line"`
}

// Status mirrors api.MachineStatus with concrete types.
type Status struct {
	Connected bool         `json:"connected"`
	Firmware  string       `json:"firmware,omitempty"`
	Alarm     string       `json:"alarm,omitempty"`
	Report    *grbl.Status `json:"report,omitempty"`
	Scan      scan.Job     `json:"scan"`
}

// Client talks to a running grblctl daemon.
type Client struct {
	http *resty.Client
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Token   string // bearer token for mutating routes
	Timeout time.Duration
	Retries int
}

// New creates an API client
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	r := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		r.SetAuthToken(cfg.Token)
	}

	return &Client{http: r}
}

// do issues the request and unpacks the envelope into result.
func (c *Client) do(req *resty.Request, method, path string, result interface{}) (*api.APIResponse, error) {
	var env struct {
		api.APIResponse
		Result json.RawMessage `json:"result,omitempty"`
		Meta   json.RawMessage `json:"meta,omitempty"`
	}
	req.SetResult(&env).SetError(&env)

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}

	if !env.OK {
		msg := env.Message
		if msg == "" {
			msg = resp.Status()
		}
		return nil, &APIError{Status: resp.StatusCode(), Code: env.Code, Message: msg}
	}

	if result != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return nil, fmt.Errorf("failed to decode %s %s result: %w", method, path, err)
		}
	}

	out := env.APIResponse
	if len(env.Meta) > 0 {
		var meta map[string]interface{}
		if err := json.Unmarshal(env.Meta, &meta); err == nil {
			out.Meta = meta
		}
	}
	return &out, nil
}

// Health returns the daemon health check
func (c *Client) Health() (*api.HealthCheck, error) {
	var h api.HealthCheck
	if _, err := c.do(c.http.R(), resty.MethodGet, "/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Status returns the controller status and scan job
func (c *Client) Status() (*Status, error) {
	var s Status
	if _, err := c.do(c.http.R(), resty.MethodGet, "/status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Profiles lists the registered profiles
func (c *Client) Profiles() (*api.ProfileList, error) {
	var p api.ProfileList
	if _, err := c.do(c.http.R(), resty.MethodGet, "/profiles", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Profile returns one profile's settings
func (c *Client) Profile(name string) ([]defaults.Setting, error) {
	var s []defaults.Setting
	req := c.http.R().SetPathParam("name", name)
	if _, err := c.do(req, resty.MethodGet, "/profiles/{name}", &s); err != nil {
		return nil, err
	}
	return s, nil
}

// Settings lists the persisted settings
func (c *Client) Settings() ([]Setting, error) {
	var s []Setting
	if _, err := c.do(c.http.R(), resty.MethodGet, "/settings", &s); err != nil {
		return nil, err
	}
	return s, nil
}

// Setting returns one persisted setting
func (c *Client) Setting(id grbl.SettingID) (*Setting, error) {
	var s Setting
	req := c.http.R().SetPathParam("id", strconv.Itoa(int(id)))
	if _, err := c.do(req, resty.MethodGet, "/settings/{id}", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SetSetting stores one setting value
func (c *Client) SetSetting(id grbl.SettingID, value float64) (*Setting, error) {
	var s Setting
	req := c.http.R().
		SetPathParam("id", strconv.Itoa(int(id))).
		SetBody(api.SettingUpdate{Value: &value})
	if _, err := c.do(req, resty.MethodPut, "/settings/{id}", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Reset restores the persisted settings to a profile; empty means the
// daemon's active profile.
func (c *Client) Reset(profile string) ([]Setting, error) {
	var s []Setting
	req := c.http.R().SetBody(api.ResetRequest{Profile: profile})
	if _, err := c.do(req, resty.MethodPost, "/settings/reset", &s); err != nil {
		return nil, err
	}
	return s, nil
}

// Push writes the persisted settings to the controller
func (c *Client) Push() (*api.PushResult, error) {
	var r api.PushResult
	if _, err := c.do(c.http.R(), resty.MethodPost, "/settings/push", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Gcode executes one line on the controller
func (c *Client) Gcode(line string) (*api.CommandResult, error) {
	var r api.CommandResult
	req := c.http.R().SetBody(api.CommandRequest{Line: line})
	if _, err := c.do(req, resty.MethodPost, "/gcode", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// StartScan starts a scan; a nil plan uses the daemon's defaults.
func (c *Client) StartScan(plan map[string]interface{}) (*scan.Job, error) {
	var j scan.Job
	req := c.http.R()
	if plan != nil {
		req.SetBody(plan)
	}
	if _, err := c.do(req, resty.MethodPost, "/scan/start", &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// StopScan cancels the running scan
func (c *Client) StopScan() (*scan.Job, error) {
	var j scan.Job
	if _, err := c.do(c.http.R(), resty.MethodPost, "/scan/stop", &j); err != nil {
		return nil, err
	}
	return &j, nil
}
