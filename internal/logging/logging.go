// Package logging provides the hub's leveled logging, modeled on the
// debug-gated log.Printf style used throughout the reference broker and
// its session logger: no structured-logging library, just the standard
// log package with a consistent field layout (id, semantics) at the
// ingress/egress points spec §6 names.
package logging

import (
	"log"
)

// Logger is a leveled wrapper around the standard library logger. Debug
// output is gated by the debug flag; Info/Warn/Error always print.
type Logger struct {
	debug bool
}

// New returns a Logger with debug output enabled or suppressed.
func New(debug bool) *Logger {
	return &Logger{debug: debug}
}

// Debug logs only when debug mode is enabled.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l == nil || !l.debug {
		return
	}
	log.Printf("[DEBUG] "+format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	if l == nil {
		return
	}
	log.Printf("[INFO] "+format, args...)
}

// Warn logs a warning: dropped messages, closed sinks, suppressed
// duplicate state.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l == nil {
		return
	}
	log.Printf("[WARN] "+format, args...)
}

// Error logs a failure with full detail (transport errors, handler
// panics, factory failures).
func (l *Logger) Error(format string, args ...interface{}) {
	if l == nil {
		return
	}
	log.Printf("[ERROR] "+format, args...)
}

// Ingress logs the arrival of a request, per spec §4.6 step 3, with the
// structured id/semantics fields named in spec §6.
func (l *Logger) Ingress(id, messageType string) {
	l.Info("Received %s message id=%s semantics=request", messageType, id)
}

// suppressedEgressTypes are the high-frequency telemetry types whose
// per-message egress log would drown everything else; they are already
// covered by the rate-limiter's own batching logs.
var suppressedEgressTypes = map[string]bool{
	"UAV-INF": true,
	"DEV-INF": true,
}

// Egress logs an outbound send, unless messageType is one of the
// suppressed high-frequency telemetry types (spec §4.4).
func (l *Logger) Egress(id, messageType, semantics string) {
	if suppressedEgressTypes[messageType] {
		return
	}
	var verb string
	switch semantics {
	case "response_success":
		verb = "response"
	case "notification":
		verb = "notification"
	default:
		verb = "message"
	}
	l.Info("Sending %s %s id=%s semantics=%s", messageType, verb, id, semantics)
}
