// Package metrics defines the events recorded by the control loop and the
// sinks receiving them. A sink implements MetricsSink and, optionally, any
// of the recorder interfaces. NewMetricsSink builds sinks from
// configuration and fans out to several of them with a MultiSink.
package metrics
