// Package otel publishes handshake engine metrics through an OpenTelemetry
// Meter supplied by the caller. Counters become Int64ObservableCounter
// instruments and the verification latency histogram becomes one gauge per
// cumulative bucket.
package otel
