// Package analytics defines the event-recording seam internal/cache uses to
// report cache hit/miss events (cache_fs.go, cache_http.go). The telemetry
// pipeline that would batch and ship those events off-host is explicitly
// out of scope (spec.md's Non-goals list "the telemetry pipeline" alongside
// the CLI shim and login/SSO flows), so only the Recorder interface and a
// no-op implementation survive here — enough for the cache layer to log an
// event without this module owning an actual analytics backend.
package analytics

// EventPayload is an arbitrary, backend-defined event record.
type EventPayload = interface{}

// Recorder accepts cache events. NullRecorder is the only implementation in
// this module; a real deployment wires this to whatever telemetry surface
// it wants, outside this core.
type Recorder interface {
	LogEvent(payload EventPayload)
}

type nullRecorder struct{}

func (nullRecorder) LogEvent(EventPayload) {}

// NullRecorder discards every event. It is the default Recorder for every
// Cache constructor in this module.
var NullRecorder Recorder = nullRecorder{}
