// Package metrics implements the Prometheus and InfluxDB sinks for pipeline
// events, the event-bus collector feeding them and the /metrics endpoint.
// Importing the package registers the "nop", "prometheus" and "influx" sink
// types with core/metrics.
package metrics
