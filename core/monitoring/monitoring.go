// Package monitoring reports control-loop failures to an error tracker.
// The process-wide monitor is a NopMonitor until Init installs another one.
package monitoring

import (
	"strconv"
	"sync"
	"time"
)

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	// CapturePanic records a recovered panic value.
	CapturePanic(r any, tags map[string]string)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) CapturePanic(any, map[string]string)       {}
func (NopMonitor) Flush(time.Duration)                       {}

var (
	mu      sync.RWMutex
	current Monitor = NopMonitor{}
)

// Init sets the global monitor implementation. nil restores the NopMonitor.
func Init(m Monitor) {
	mu.Lock()
	defer mu.Unlock()
	if m == nil {
		m = NopMonitor{}
	}
	current = m
}

// Current returns the global monitor.
func Current() Monitor {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// CaptureException records the error with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	Current().CaptureException(err, tags)
}

// CaptureCycle records a control-loop failure tagged with the loop phase
// (refresh, check, decrement, strategy...) and the cycle number.
func CaptureCycle(err error, phase string, cycle uint64) {
	CaptureException(err, map[string]string{"phase": phase, "cycle": strconv.FormatUint(cycle, 10)})
}

// Recover reports a panic of the calling goroutine, flushes and panics
// again. It must be deferred directly.
func Recover() {
	if r := recover(); r != nil {
		Current().CapturePanic(r, nil)
		Current().Flush(2 * time.Second)
		panic(r)
	}
}

// Flush flushes buffered events.
func Flush(d time.Duration) {
	Current().Flush(d)
}
