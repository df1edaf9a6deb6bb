package constants

const (
	// Application metadata
	AppName        = "grblctl"
	AppDescription = "Host-side controller for grbl-family motion controllers"

	// Environment
	EnvPrefix     = "GRBLCTL_"
	EnvProfile    = "GRBLCTL_PROFILE"
	EnvConfigFile = "GRBLCTL_CONFIG"
	EnvToken      = "GRBLCTL_TOKEN"

	// File names
	ConfigFileName   = "config.json"
	DatabaseFileName = "settings.db"

	// Default configuration values
	DefaultDataDir    = "."
	DefaultPort       = 8080
	DefaultLogLevel   = "info"
	DefaultBaud       = 115200
	DefaultStatusPoll = "@every 1s"

	// HTTP Server settings
	DefaultMaxConcurrentConnections = 100
	DefaultRequestTimeout           = 30 // seconds

	// Scan defaults
	DefaultScanXRange  = 130.0 // mm (degrees on a rotary axis)
	DefaultScanRatioX  = 4
	DefaultScanRatioY  = 3
	DefaultScanQuality = 4
	DefaultScanOrder   = "yx"
	ScanHomeFeed       = 4000.0 // mm/min
	ScanTravelFeed     = 6000.0 // mm/min

	// Serial protocol
	CommandTimeout = 30 // seconds
	LineTerminator = "\n"

	// Service settings
	ServiceName        = "grblctl"
	ServiceDisplayName = "grbl Controller Host"
	ServiceDescription = "Seeds machine settings and drives a grbl controller over serial"
)
