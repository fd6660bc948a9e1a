// Package otel publishes engine metrics through an OpenTelemetry Meter.
//
// Counters become Int64ObservableCounter instruments. Each latency bucket
// becomes an Int64ObservableGauge holding the cumulative count. One
// callback reads a snapshot per collection. The caller owns the
// MeterProvider.
package otel
