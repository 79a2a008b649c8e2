// Package metrics is the backend-neutral instrumentation seam used by the load
// engine. The default backend discards everything; cmd wires a real one.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions (e.g. {"kind": "log", "status": "ok"}).
type Labels map[string]string

// Backend receives counters and histogram observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names emitted by the engine.
const (
	FilesTotal          = "etl_files_total"
	RecordsTotal        = "etl_records_total"
	LookupsTotal        = "etl_lookups_total"
	StepDurationSeconds = "etl_step_duration_seconds"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the nop
// backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to the named counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample for the named histogram.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush asks the backend to submit anything it has buffered.
func Flush() error {
	return current().Flush()
}

// RecordStep observes the duration of a named step since start, tagged with
// "ok" or "error".
func RecordStep(step string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ObserveHistogram(StepDurationSeconds, time.Since(start).Seconds(), Labels{"step": step, "status": status})
}
