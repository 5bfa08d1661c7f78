// Package middleware provides request cycle listeners for observability.
//
// # OpenTelemetry
//
// OpenTelemetry returns a listener that opens one span per request cycle,
// records steps as span events and marks faults:
//
//	ctl.AddListener(middleware.OpenTelemetry(
//	    middleware.WithTracerName("my-app"),
//	))
//
// # Prometheus
//
// Prometheus returns a listener that counts cycles, faults and steps. It
// also implements page.Hooks, so version history activity is recorded
// when it is installed on the page registry:
//
//	m := middleware.Prometheus(middleware.WithNamespace("myapp"))
//	ctl.AddListener(m)
//	pages := page.NewRegistry(page.WithHooks(m))
//
// # Logging
//
// NewLogging returns a listener that writes one structured log line per
// cycle.
package middleware
