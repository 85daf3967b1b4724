// Package metrics provides the Prometheus instrumentation for scanconsole.
package metrics

//go:generate mockgen -source=interface.go -destination=mocks/mock_recorder.go -package=mocks

import "time"

// Outcome labels shared by the recorders.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder receives the events the dispatcher, the session manager, the exporter
// and the console report. It allows for easy mocking of metrics in tests.
type Recorder interface {
	// ScanStarted marks a submission as in flight.
	ScanStarted(scanType string)

	// ScanCompleted records a finished submission and its classified kind
	// (ports, protocols, os, or the error code).
	ScanCompleted(scanType, kind string, duration time.Duration)

	// ScanRejected records a submission refused before reaching the backend.
	ScanRejected(scanType, reason string)

	// SessionOperation records a login, register, verify or logout.
	SessionOperation(operation, outcome string)

	// ExportWritten records one written artifact.
	ExportWritten(format string)

	// HTTPRequest records a console request.
	HTTPRequest(method, route string, status int, duration time.Duration)
}

// Ensure that both implementations satisfy Recorder.
var (
	_ Recorder = (*PrometheusMetrics)(nil)
	_ Recorder = Noop{}
)

// Noop discards every event.
type Noop struct{}

func (Noop) ScanStarted(string) {}
func (Noop) ScanCompleted(string, string, time.Duration) {}
func (Noop) ScanRejected(string, string) {}
func (Noop) SessionOperation(string, string) {}
func (Noop) ExportWritten(string) {}
func (Noop) HTTPRequest(string, string, int, time.Duration) {}
