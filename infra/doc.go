// Package infra holds the adapters behind the crimecast core: the zerolog
// logger, SQLite and archive stores, metric sinks, the MQTT forecast
// publisher and the renderers. Core packages never import infra.
package infra
