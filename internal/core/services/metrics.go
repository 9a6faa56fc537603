package services

import "time"

// Metrics is the slice of the Prometheus collector the core services report to.
type Metrics interface {
	RecordAdmission(result string, took time.Duration)
	RecordApproval(outcome string)
	WatchdogStarted()
	WatchdogStopped()
	RecordDurationEvent(kind string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordAdmission(string, time.Duration) {}
func (NopMetrics) RecordApproval(string)                 {}
func (NopMetrics) WatchdogStarted()                      {}
func (NopMetrics) WatchdogStopped()                      {}
func (NopMetrics) RecordDurationEvent(string)            {}

func metricsOrNop(m Metrics) Metrics {
	if m == nil {
		return NopMetrics{}
	}
	return m
}
