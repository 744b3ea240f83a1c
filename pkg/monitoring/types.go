package monitoring

import (
	"time"
)

// Aggregation limits. Latency samples are rolling windows of the most recent
// observations; the snapshot history covers 24 hours at minute granularity.
const (
	maxLatencySamples     = 1000
	maxPerFunctionSamples = 500
	maxSnapshotHistory    = 1440

	snapshotInterval = time.Minute
	persistInterval  = 5 * time.Minute

	unauthorizedWindow = 5 * time.Minute
)

// Minimum activity before a threshold rule is evaluated, so a handful of
// requests after startup cannot fire a rate alert.
const (
	minCacheAttempts       = 20
	minPermissionChecks    = 20
	minEdgeCalls           = 10
	minCheckLatencySamples = 20
	minEdgeLatencySamples  = 10
)

// CacheMetrics counts permission cache activity.
type CacheMetrics struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Invalidations int64 `json:"invalidations"`
	Size          int64 `json:"size"`
}

// PermissionMetrics aggregates permission check outcomes. Latency samples
// are milliseconds, most recent last.
type PermissionMetrics struct {
	Checks         int64            `json:"checks"`
	Granted        int64            `json:"granted"`
	Denied         int64            `json:"denied"`
	ByResource     map[string]int64 `json:"by_resource"`
	ByAction       map[string]int64 `json:"by_action"`
	LatencySamples []float64        `json:"latency_samples"`
}

// RoleMetrics counts role assignments and removals.
type RoleMetrics struct {
	Assignments int64            `json:"assignments"`
	Removals    int64            `json:"removals"`
	ByRole      map[string]int64 `json:"by_role"`
}

// SecurityMetrics tracks denials that are security relevant: denied checks
// against sensitive resources count as unauthorized attempts.
type SecurityMetrics struct {
	UnauthorizedAttempts int64            `json:"unauthorized_attempts"`
	DeniedByResource     map[string]int64 `json:"denied_by_resource"`
}

// EdgeFunctionStats aggregates calls to one edge function.
type EdgeFunctionStats struct {
	Calls          int64     `json:"calls"`
	Errors         int64     `json:"errors"`
	LatencySamples []float64 `json:"latency_samples"`
}

// EdgeFunctionMetrics aggregates edge function activity globally and per
// function.
type EdgeFunctionMetrics struct {
	Calls          int64                         `json:"calls"`
	Errors         int64                         `json:"errors"`
	LatencySamples []float64                     `json:"latency_samples"`
	ByFunction     map[string]*EdgeFunctionStats `json:"by_function"`
}

// MetricsSnapshot is an immutable point-in-time copy of every metric family,
// retained in a bounded FIFO history for charting.
type MetricsSnapshot struct {
	Timestamp     time.Time           `json:"timestamp"`
	Cache         CacheMetrics        `json:"cache"`
	Permissions   PermissionMetrics   `json:"permissions"`
	Roles         RoleMetrics         `json:"roles"`
	Security      SecurityMetrics     `json:"security"`
	EdgeFunctions EdgeFunctionMetrics `json:"edge_functions"`
}

// AlertSeverity classifies an alert.
type AlertSeverity string

const (
	SeverityInfo    AlertSeverity = "info"
	SeverityWarning AlertSeverity = "warning"
	SeverityError   AlertSeverity = "error"
)

// AlertType names the threshold rule that produced an alert.
type AlertType string

const (
	AlertLowCacheHitRate     AlertType = "low_cache_hit_rate"
	AlertHighDenialRate      AlertType = "high_denial_rate"
	AlertEdgeFunctionErrors  AlertType = "edge_function_error_rate"
	AlertSlowPermissionCheck AlertType = "slow_permission_checks"
	AlertSlowEdgeFunctions   AlertType = "slow_edge_functions"
	AlertUnauthorizedSpike   AlertType = "unauthorized_attempt_spike"
)

// Alert is a fired threshold rule. Alerts are never removed from the
// in-memory list during process lifetime; acknowledgement is the only
// mutation.
type Alert struct {
	ID           string        `json:"id"`
	Type         AlertType     `json:"type"`
	Message      string        `json:"message"`
	Severity     AlertSeverity `json:"severity"`
	Timestamp    time.Time     `json:"timestamp"`
	Acknowledged bool          `json:"acknowledged"`
}

// AlertThresholds holds the numeric limits for the threshold rules.
type AlertThresholds struct {
	// CacheHitRateFloor fires when hits/(hits+misses) drops below it.
	CacheHitRateFloor float64 `json:"cache_hit_rate_floor"`
	// DenialRateCeiling fires when denied/total rises above it.
	DenialRateCeiling float64 `json:"denial_rate_ceiling"`
	// EdgeErrorRateCeiling fires when errors/calls rises above it.
	EdgeErrorRateCeiling float64 `json:"edge_error_rate_ceiling"`
	// CheckLatencyCeilingMs fires when mean check latency exceeds it.
	CheckLatencyCeilingMs float64 `json:"check_latency_ceiling_ms"`
	// EdgeLatencyCeilingMs fires when mean edge call latency exceeds it.
	EdgeLatencyCeilingMs float64 `json:"edge_latency_ceiling_ms"`
	// UnauthorizedAttemptLimit fires when unauthorized attempts summed
	// over the trailing five minutes of snapshots reach it.
	UnauthorizedAttemptLimit int64 `json:"unauthorized_attempt_limit"`
}

// DefaultThresholds returns the default alert thresholds.
func DefaultThresholds() AlertThresholds {
	return AlertThresholds{
		CacheHitRateFloor:        0.70,
		DenialRateCeiling:        0.10,
		EdgeErrorRateCeiling:     0.05,
		CheckLatencyCeilingMs:    200,
		EdgeLatencyCeilingMs:     500,
		UnauthorizedAttemptLimit: 5,
	}
}

// ThresholdOverrides carries partial threshold updates; nil fields keep the
// current value.
type ThresholdOverrides struct {
	CacheHitRateFloor        *float64 `json:"cache_hit_rate_floor,omitempty"`
	DenialRateCeiling        *float64 `json:"denial_rate_ceiling,omitempty"`
	EdgeErrorRateCeiling     *float64 `json:"edge_error_rate_ceiling,omitempty"`
	CheckLatencyCeilingMs    *float64 `json:"check_latency_ceiling_ms,omitempty"`
	EdgeLatencyCeilingMs     *float64 `json:"edge_latency_ceiling_ms,omitempty"`
	UnauthorizedAttemptLimit *int64   `json:"unauthorized_attempt_limit,omitempty"`
}

// DefaultSensitiveResources are the resource names whose denials also count
// as potential security events.
func DefaultSensitiveResources() []string {
	return []string{"users", "roles", "permissions", "audit_logs"}
}

// NameCount is a named counter used in top-N summaries.
type NameCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// CacheSummary is the derived cache view in a metrics summary.
type CacheSummary struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Invalidations int64   `json:"invalidations"`
	Size          int64   `json:"size"`
	HitRate       float64 `json:"hit_rate"`
}

// PermissionSummary is the derived permission-check view in a metrics
// summary.
type PermissionSummary struct {
	Checks       int64       `json:"checks"`
	Granted      int64       `json:"granted"`
	Denied       int64       `json:"denied"`
	GrantRate    float64     `json:"grant_rate"`
	AvgLatencyMs float64     `json:"avg_latency_ms"`
	TopResources []NameCount `json:"top_resources"`
	TopActions   []NameCount `json:"top_actions"`
}

// RoleSummary is the role-mutation view in a metrics summary.
type RoleSummary struct {
	Assignments int64            `json:"assignments"`
	Removals    int64            `json:"removals"`
	ByRole      map[string]int64 `json:"by_role"`
}

// SecuritySummary is the security view in a metrics summary.
type SecuritySummary struct {
	UnauthorizedAttempts int64            `json:"unauthorized_attempts"`
	DeniedByResource     map[string]int64 `json:"denied_by_resource"`
}

// EdgeFunctionSummary is the per-function view in a metrics summary.
type EdgeFunctionSummary struct {
	Calls        int64   `json:"calls"`
	Errors       int64   `json:"errors"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// EdgeSummary is the edge-function view in a metrics summary.
type EdgeSummary struct {
	Calls        int64                          `json:"calls"`
	Errors       int64                          `json:"errors"`
	ErrorRate    float64                        `json:"error_rate"`
	AvgLatencyMs float64                        `json:"avg_latency_ms"`
	ByFunction   map[string]EdgeFunctionSummary `json:"by_function"`
}

// Summary contains derived rates computed fresh from the current counters.
type Summary struct {
	Timestamp     time.Time         `json:"timestamp"`
	Cache         CacheSummary      `json:"cache"`
	Permissions   PermissionSummary `json:"permissions"`
	Roles         RoleSummary       `json:"roles"`
	Security      SecuritySummary   `json:"security"`
	EdgeFunctions EdgeSummary       `json:"edge_functions"`
}

// Historical contains index-aligned time series extracted from the snapshot
// history for charting.
type Historical struct {
	Timestamps           []time.Time `json:"timestamps"`
	CacheHitRates        []float64   `json:"cache_hit_rates"`
	CheckCounts          []int64     `json:"check_counts"`
	GrantRates           []float64   `json:"grant_rates"`
	AvgCheckLatenciesMs  []float64   `json:"avg_check_latencies_ms"`
	DenialCounts         []int64     `json:"denial_counts"`
	UnauthorizedAttempts []int64     `json:"unauthorized_attempts"`
	EdgeErrorRates       []float64   `json:"edge_error_rates"`
}

// Metrics is the full data-access payload: the fresh summary plus the
// historical series.
type Metrics struct {
	Summary    Summary    `json:"summary"`
	Historical Historical `json:"historical"`
}
