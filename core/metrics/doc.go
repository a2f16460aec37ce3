// Package metrics defines the events emitted by the ingestion, training and
// inference pipeline and the sinks that record them. Sinks like PromSink and
// InfluxSink live in infra/metrics and can be combined with NewMultiSink.
// The factory helpers return a MultiSink automatically when multiple sinks
// are configured. Optional recorder interfaces are discovered with type
// assertions so a sink only implements what it cares about.
package metrics
