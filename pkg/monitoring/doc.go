// Package monitoring aggregates permission system metrics and turns them
// into snapshots, alerts, and persisted summaries.
//
// The Service receives events from the permission evaluator (cache hits and
// misses, check outcomes and latencies, role mutations) and from the edge
// function client (call outcomes and latencies). Five metric families are
// kept: cache, permissions, roles, security, and edge functions. Latency
// values are rolling sample windows; counters are cumulative until
// ResetMetrics.
//
// Every minute the service captures an immutable snapshot into a bounded
// FIFO ring (24 hours at minute granularity) and evaluates six threshold
// rules against it, each gated on a minimum number of observations. Fired
// alerts are logged, mirrored to Prometheus, and inserted into the
// permission_alerts table. Every five minutes the current summary is
// serialized into the permission_metrics table. Persistence failures are
// logged and never propagate.
//
// Denied checks against sensitive resources (users, roles, permissions and
// audit_logs by default) additionally count as unauthorized attempts, which
// feed the spike alert rule.
package monitoring
