// Package prometheus renders handshake engine metrics in the Prometheus
// text exposition format. Callers mount [PrometheusExporter.Handler]; no
// global registry is touched.
package prometheus
