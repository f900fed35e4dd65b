// Package infra holds the adapters that connect the HEMS core to the outside
// world: the MQTT home-automation driver, the in-memory fake used by tests,
// the zerolog logger and the Prometheus/InfluxDB metric sinks.
package infra
