package authkit

import (
	"maps"
	"sync"
)

// Events recorded by Service. Each signup, signin, and install attempt records exactly one
// outcome; profile edits record only failures.
const (
	metricSignupSuccess     = "auth.signup.success"
	metricSignupFailure     = "auth.signup.failure"
	metricSigninSuccess     = "auth.signin.success"
	metricSigninFailure     = "auth.signin.failure"
	metricInstallCreated    = "auth.install.created"
	metricInstallRefreshed  = "auth.install.refreshed"
	metricInstallFailure    = "auth.install.failure"
	metricProfileEditFailed = "users.edit.failure"
)

// MetricsRecorder counts auth outcomes.
type MetricsRecorder interface {
	Increment(event string)
}

type noopMetrics struct{}

func (noopMetrics) Increment(string) {}

// CounterMetrics keeps outcome counts in process; cmd/server logs a Snapshot on shutdown.
type CounterMetrics struct {
	mutex  sync.Mutex
	counts map[string]int64
}

// NewCounterMetrics returns an empty recorder.
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{counts: make(map[string]int64)}
}

func (recorder *CounterMetrics) Increment(event string) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.counts[event]++
}

// Count returns the current value for event.
func (recorder *CounterMetrics) Count(event string) int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return recorder.counts[event]
}

// Snapshot returns a copy of every counter.
func (recorder *CounterMetrics) Snapshot() map[string]int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return maps.Clone(recorder.counts)
}
