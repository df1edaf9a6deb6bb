package api

// APIResponse is the response envelope shared by every HTTP endpoint
type APIResponse struct {
	OK      bool        `json:"ok"`               // true if successful, false if error
	Code    int         `json:"code"`             // Response code: positive (success), negative (error)
	Message string      `json:"message"`          // Human-readable message
	Result  interface{} `json:"result,omitempty"` // Response data (optional)
	Meta    interface{} `json:"meta,omitempty"`   // Metadata (counts, profile, etc.)
}

// NewSuccessResponse creates a successful API response
func NewSuccessResponse(code int, message string, result interface{}) *APIResponse {
	return &APIResponse{
		OK:      true,
		Code:    code,
		Message: message,
		Result:  result,
	}
}

// NewSuccessResponseWithMeta creates a successful API response with metadata
func NewSuccessResponseWithMeta(code int, message string, result interface{}, meta interface{}) *APIResponse {
	return &APIResponse{
		OK:      true,
		Code:    code,
		Message: message,
		Result:  result,
		Meta:    meta,
	}
}

// NewErrorResponse creates an error API response
func NewErrorResponse(code int, message string) *APIResponse {
	return &APIResponse{
		OK:      false,
		Code:    code,
		Message: message,
	}
}

// Response codes (application-specific)
// Positive codes = Success operations
// Negative codes = Error operations
const (
	// Success codes (1-999)
	CodeSuccess         = 1  // Generic success
	CodeDataRetrieved   = 10 // Data retrieved successfully
	CodeDataUpdated     = 12 // Data updated successfully
	CodeSettingsReset   = 14 // Settings restored to profile defaults
	CodeSettingsPushed  = 20 // Settings written to the controller
	CodeCommandExecuted = 21 // G-code line acknowledged
	CodeScanStarted     = 30 // Scan job started
	CodeScanStopped     = 31 // Scan job stopped

	// Error codes (-1 to -999)
	CodeErrorGeneric      = -1  // Generic error
	CodeErrorBadRequest   = -10 // Invalid request parameters
	CodeErrorUnauthorized = -11 // Unauthorized access
	CodeErrorForbidden    = -12 // Forbidden operation
	CodeErrorNotFound     = -13 // Resource not found
	CodeErrorConflict     = -14 // Operation conflicts with current state
	CodeErrorDatabase     = -20 // Database error
	CodeErrorController   = -30 // Controller rejected or failed a command
	CodeErrorOffline      = -31 // Controller not connected
	CodeErrorInternal     = -99 // Internal server error
)

// Common response messages
const (
	MessageSuccess       = "Success"
	MessageUpdated       = "Setting updated successfully"
	MessageBadRequest    = "Invalid request parameters"
	MessageUnauthorized  = "Unauthorized"
	MessageNotFound      = "Resource not found"
	MessageInternalError = "Internal server error"
	MessageOffline       = "Controller not connected"
)

// HealthCheck represents the health check response
type HealthCheck struct {
	Healthy    bool   `json:"healthy"`
	Version    string `json:"version"`
	Timestamp  string `json:"timestamp"`
	DatabaseOK bool   `json:"database_ok"`
	Connected  bool   `json:"connected"`
}

// MachineStatus is the latest controller state plus the scan job
type MachineStatus struct {
	Connected bool        `json:"connected"`
	Firmware  string      `json:"firmware,omitempty"`
	Alarm     string      `json:"alarm,omitempty"`
	Report    interface{} `json:"report,omitempty"` // last parsed status report
	Scan      interface{} `json:"scan"`
}

// ProfileList names the registered defaults profiles
type ProfileList struct {
	Profiles []string `json:"profiles"`
	Active   string   `json:"active"`
	Seeded   string   `json:"seeded,omitempty"` // profile the stored settings came from
}

// SettingUpdate is the body of PUT /settings/:id
type SettingUpdate struct {
	Value *float64 `json:"value"`
}

// ResetRequest is the optional body of POST /settings/reset
type ResetRequest struct {
	Profile string `json:"profile"`
}

// PushResult reports how many settings reached the controller
type PushResult struct {
	Pushed int `json:"pushed"`
	Total  int `json:"total"`
}

// CommandRequest is the body of POST /gcode
type CommandRequest struct {
	Line string `json:"line"`
}

// CommandResult carries the controller's informational replies
type CommandResult struct {
	Line   string   `json:"line"`
	Output []string `json:"output,omitempty"`
}
