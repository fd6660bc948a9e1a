// Package prometheus renders engine metrics in the Prometheus text
// exposition format. Mount [Exporter.Handler] at /metrics; nothing is
// registered globally.
package prometheus
