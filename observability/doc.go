// Package observability records dispatch lifecycle metrics through
// OpenTelemetry. MetricsExtension is an ext.Extension that counts enqueues,
// completions, failures, throttle back-offs, reschedules and dedup drops per
// event type; ObserveQueue exports per-lane queue depth as an observable
// gauge.
package observability
