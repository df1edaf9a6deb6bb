package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grblctl_commands_total",
		Help: "Lines sent to the controller by result (ok, error, timeout, closed)",
	}, []string{"result"})

	RealtimeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grblctl_realtime_total",
		Help: "Real-time command bytes written to the controller",
	}, []string{"command"})

	AlarmsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grblctl_alarms_total",
		Help: "ALARM lines reported by the controller",
	})

	SettingWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grblctl_setting_writes_total",
		Help: "Persisted setting changes by source (api, cli, reset, seed)",
	}, []string{"source"})

	ScanPointsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grblctl_scan_points_total",
		Help: "Raster scan points visited",
	})

	ScanJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grblctl_scan_jobs_total",
		Help: "Finished scan jobs by outcome (completed, stopped, failed)",
	}, []string{"outcome"})

	ControllerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grblctl_controller_connected",
		Help: "1 while the serial link to the controller is open",
	})
)

// IncCommand records the outcome of one acknowledged command.
func IncCommand(result string) {
	if result == "" {
		result = "unknown"
	}
	CommandsTotal.WithLabelValues(result).Inc()
}

// IncRealtime records one real-time byte.
func IncRealtime(b byte) {
	name := "other"
	switch b {
	case '?':
		name = "status"
	case '!':
		name = "hold"
	case '~':
		name = "resume"
	case 0x18:
		name = "reset"
	}
	RealtimeTotal.WithLabelValues(name).Inc()
}

// IncSettingWrites adds n persisted setting writes for a source.
func IncSettingWrites(source string, n int) {
	SettingWritesTotal.WithLabelValues(source).Add(float64(n))
}

// SetConnected flips the controller connection gauge.
func SetConnected(connected bool) {
	if connected {
		ControllerConnected.Set(1)
		return
	}
	ControllerConnected.Set(0)
}
