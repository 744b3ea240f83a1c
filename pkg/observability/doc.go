// Package observability provides structured logging and Prometheus metrics
// for the permission service.
//
// Logging uses stdlib slog behind a small wrapper that supports field
// chaining (WithField, WithError) and context propagation. Metrics mirror
// the monitoring service's in-process counters onto a Prometheus registry
// so the same signals are scrapeable.
package observability
