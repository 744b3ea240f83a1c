package monitoring

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/reviewforge/accessctl/pkg/observability"
)

// Store persists metric summaries and alerts. Implemented by SQLStore; nil
// keeps the service purely in-memory.
type Store interface {
	SaveSummary(ctx context.Context, summary Summary) error
	SaveAlert(ctx context.Context, alert Alert) error
	UpdateAlertAcknowledged(ctx context.Context, alertID string, acknowledged bool) error
}

// Service aggregates permission system metrics, captures minute snapshots,
// evaluates alert thresholds, and periodically persists summaries.
//
// All recording methods are safe for concurrent use. The service implements
// permissions.Recorder and authz.EdgeRecorder.
type Service struct {
	mu          sync.Mutex
	cache       CacheMetrics
	permissions PermissionMetrics
	roles       RoleMetrics
	security    SecurityMetrics
	edge        EdgeFunctionMetrics

	snapshots  []MetricsSnapshot
	alerts     []Alert
	thresholds AlertThresholds
	sensitive  map[string]struct{}

	store        Store
	logger       *observability.Logger
	prom         *observability.Metrics
	maxSnapshots int
	now          func() time.Time

	cron      *cron.Cron
	startOnce sync.Once
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithStore enables metric and alert persistence.
func WithStore(store Store) ServiceOption {
	return func(s *Service) { s.store = store }
}

// WithPrometheus mirrors recorded events onto Prometheus collectors.
func WithPrometheus(m *observability.Metrics) ServiceOption {
	return func(s *Service) { s.prom = m }
}

// WithSensitiveResources replaces the default set of resources whose denials
// count as unauthorized attempts.
func WithSensitiveResources(resources []string) ServiceOption {
	return func(s *Service) {
		s.sensitive = make(map[string]struct{}, len(resources))
		for _, r := range resources {
			s.sensitive[r] = struct{}{}
		}
	}
}

// WithThresholds replaces the default alert thresholds.
func WithThresholds(t AlertThresholds) ServiceOption {
	return func(s *Service) { s.thresholds = t }
}

// WithServiceClock injects the time source used for snapshots and alerts.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSnapshotLimit overrides the snapshot history cap.
func WithSnapshotLimit(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxSnapshots = n
		}
	}
}

// NewService creates a monitoring service with default thresholds and the
// default sensitive resource set.
func NewService(logger *observability.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		thresholds:   DefaultThresholds(),
		logger:       logger,
		maxSnapshots: maxSnapshotHistory,
		now:          time.Now,
	}
	WithSensitiveResources(DefaultSensitiveResources())(s)
	s.resetLocked()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules the snapshot and persistence jobs. Safe to call more than
// once; only the first call schedules.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		s.cron = cron.New()
		s.cron.AddFunc("@every "+snapshotInterval.String(), s.captureSnapshot)
		if s.store != nil {
			s.cron.AddFunc("@every "+persistInterval.String(), s.persistSummary)
		}
		s.cron.Start()
		s.logger.Info("monitoring service started")
	})
}

// Stop halts the scheduled jobs. Recording keeps working after Stop.
func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// RecordCacheHit counts a permission cache hit.
func (s *Service) RecordCacheHit() {
	s.mu.Lock()
	s.cache.Hits++
	s.mu.Unlock()
	if s.prom != nil {
		s.prom.CacheHitsTotal.Inc()
	}
}

// RecordCacheMiss counts a permission cache miss.
func (s *Service) RecordCacheMiss() {
	s.mu.Lock()
	s.cache.Misses++
	s.mu.Unlock()
	if s.prom != nil {
		s.prom.CacheMissesTotal.Inc()
	}
}

// RecordCacheInvalidation counts a per-user cache invalidation.
func (s *Service) RecordCacheInvalidation() {
	s.mu.Lock()
	s.cache.Invalidations++
	s.mu.Unlock()
	if s.prom != nil {
		s.prom.CacheInvalidationsTotal.Inc()
	}
}

// UpdateCacheSize records the current cache entry count.
func (s *Service) UpdateCacheSize(n int) {
	s.mu.Lock()
	s.cache.Size = int64(n)
	s.mu.Unlock()
	if s.prom != nil {
		s.prom.CacheEntries.Set(float64(n))
	}
}

// RecordPermissionCheck records one resolved permission check. A denial
// against a sensitive resource additionally counts as an unauthorized
// attempt.
func (s *Service) RecordPermissionCheck(resource, action string, granted bool, latency time.Duration) {
	ms := float64(latency.Microseconds()) / 1000

	s.mu.Lock()
	s.permissions.Checks++
	if granted {
		s.permissions.Granted++
	} else {
		s.permissions.Denied++
		s.security.DeniedByResource[resource]++
		if _, sensitive := s.sensitive[resource]; sensitive {
			s.security.UnauthorizedAttempts++
		}
	}
	s.permissions.ByResource[resource]++
	s.permissions.ByAction[action]++
	s.permissions.LatencySamples = appendSample(s.permissions.LatencySamples, ms, maxLatencySamples)
	s.mu.Unlock()

	if s.prom != nil {
		outcome := "denied"
		if granted {
			outcome = "granted"
		}
		s.prom.PermissionChecksTotal.WithLabelValues(resource, action, outcome).Inc()
		s.prom.PermissionCheckLatency.WithLabelValues(resource).Observe(latency.Seconds())
		if !granted {
			if _, sensitive := s.sensitive[resource]; sensitive {
				s.prom.UnauthorizedAttemptsTotal.Inc()
			}
		}
	}
}

// RecordRoleAssignment counts a successful role grant.
func (s *Service) RecordRoleAssignment(roleName string) {
	s.mu.Lock()
	s.roles.Assignments++
	s.roles.ByRole[roleName]++
	s.mu.Unlock()
	if s.prom != nil {
		s.prom.RoleMutationsTotal.WithLabelValues("assign", roleName).Inc()
	}
}

// RecordRoleRemoval counts a successful role revocation. The per-role net
// count never goes below zero.
func (s *Service) RecordRoleRemoval(roleName string) {
	s.mu.Lock()
	s.roles.Removals++
	if s.roles.ByRole[roleName] > 0 {
		s.roles.ByRole[roleName]--
	}
	s.mu.Unlock()
	if s.prom != nil {
		s.prom.RoleMutationsTotal.WithLabelValues("remove", roleName).Inc()
	}
}

// RecordEdgeFunctionCall records one edge function invocation.
func (s *Service) RecordEdgeFunctionCall(function string, success bool, latency time.Duration) {
	ms := float64(latency.Microseconds()) / 1000

	s.mu.Lock()
	s.edge.Calls++
	if !success {
		s.edge.Errors++
	}
	s.edge.LatencySamples = appendSample(s.edge.LatencySamples, ms, maxLatencySamples)

	stats, ok := s.edge.ByFunction[function]
	if !ok {
		stats = &EdgeFunctionStats{}
		s.edge.ByFunction[function] = stats
	}
	stats.Calls++
	if !success {
		stats.Errors++
	}
	stats.LatencySamples = appendSample(stats.LatencySamples, ms, maxPerFunctionSamples)
	s.mu.Unlock()

	if s.prom != nil {
		status := "ok"
		if !success {
			status = "error"
		}
		s.prom.EdgeFunctionCallsTotal.WithLabelValues(function, status).Inc()
		s.prom.EdgeFunctionCallDuration.WithLabelValues(function).Observe(latency.Seconds())
	}
}

// GetMetrics returns the fresh summary plus the historical series extracted
// from the snapshot ring.
func (s *Service) GetMetrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := Metrics{
		Summary: s.summaryLocked(),
		Historical: Historical{
			Timestamps:           make([]time.Time, 0, len(s.snapshots)),
			CacheHitRates:        make([]float64, 0, len(s.snapshots)),
			CheckCounts:          make([]int64, 0, len(s.snapshots)),
			GrantRates:           make([]float64, 0, len(s.snapshots)),
			AvgCheckLatenciesMs:  make([]float64, 0, len(s.snapshots)),
			DenialCounts:         make([]int64, 0, len(s.snapshots)),
			UnauthorizedAttempts: make([]int64, 0, len(s.snapshots)),
			EdgeErrorRates:       make([]float64, 0, len(s.snapshots)),
		},
	}

	for _, snap := range s.snapshots {
		m.Historical.Timestamps = append(m.Historical.Timestamps, snap.Timestamp)
		m.Historical.CacheHitRates = append(m.Historical.CacheHitRates, ratio(snap.Cache.Hits, snap.Cache.Hits+snap.Cache.Misses))
		m.Historical.CheckCounts = append(m.Historical.CheckCounts, snap.Permissions.Checks)
		m.Historical.GrantRates = append(m.Historical.GrantRates, ratio(snap.Permissions.Granted, snap.Permissions.Checks))
		m.Historical.AvgCheckLatenciesMs = append(m.Historical.AvgCheckLatenciesMs, mean(snap.Permissions.LatencySamples))
		m.Historical.DenialCounts = append(m.Historical.DenialCounts, snap.Permissions.Denied)
		m.Historical.UnauthorizedAttempts = append(m.Historical.UnauthorizedAttempts, snap.Security.UnauthorizedAttempts)
		m.Historical.EdgeErrorRates = append(m.Historical.EdgeErrorRates, ratio(snap.EdgeFunctions.Errors, snap.EdgeFunctions.Calls))
	}

	return m
}

// GetSummary returns the current derived summary.
func (s *Service) GetSummary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

// GetSnapshots returns a copy of the snapshot history, oldest first,
// restricted to snapshots at or after since when since is non-zero.
func (s *Service) GetSnapshots(since time.Time) []MetricsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]MetricsSnapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		if !since.IsZero() && snap.Timestamp.Before(since) {
			continue
		}
		out = append(out, snap)
	}
	return out
}

// GetActiveAlerts returns unacknowledged alerts, newest first.
func (s *Service) GetActiveAlerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Alert
	for i := len(s.alerts) - 1; i >= 0; i-- {
		if !s.alerts[i].Acknowledged {
			out = append(out, s.alerts[i])
		}
	}
	return out
}

// ListAlerts returns all alerts, newest first, restricted to alerts at or
// after since when since is non-zero.
func (s *Service) ListAlerts(since time.Time) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Alert
	for i := len(s.alerts) - 1; i >= 0; i-- {
		if !since.IsZero() && s.alerts[i].Timestamp.Before(since) {
			continue
		}
		out = append(out, s.alerts[i])
	}
	return out
}

// AcknowledgeAlert marks an alert acknowledged, reporting whether the alert
// exists. The acknowledgement is best-effort mirrored to the store.
func (s *Service) AcknowledgeAlert(alertID string) bool {
	s.mu.Lock()
	found := false
	for i := range s.alerts {
		if s.alerts[i].ID == alertID {
			s.alerts[i].Acknowledged = true
			found = true
			break
		}
	}
	s.mu.Unlock()

	if found && s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.UpdateAlertAcknowledged(ctx, alertID, true); err != nil {
			s.logger.WithError(err).WithField("alert_id", alertID).
				Warn("failed to persist alert acknowledgement")
		}
	}
	return found
}

// GetAlertThresholds returns the current thresholds.
func (s *Service) GetAlertThresholds() AlertThresholds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thresholds
}

// SetAlertThresholds merges non-nil overrides into the current thresholds
// and returns the result.
func (s *Service) SetAlertThresholds(overrides ThresholdOverrides) AlertThresholds {
	s.mu.Lock()
	defer s.mu.Unlock()

	if overrides.CacheHitRateFloor != nil {
		s.thresholds.CacheHitRateFloor = *overrides.CacheHitRateFloor
	}
	if overrides.DenialRateCeiling != nil {
		s.thresholds.DenialRateCeiling = *overrides.DenialRateCeiling
	}
	if overrides.EdgeErrorRateCeiling != nil {
		s.thresholds.EdgeErrorRateCeiling = *overrides.EdgeErrorRateCeiling
	}
	if overrides.CheckLatencyCeilingMs != nil {
		s.thresholds.CheckLatencyCeilingMs = *overrides.CheckLatencyCeilingMs
	}
	if overrides.EdgeLatencyCeilingMs != nil {
		s.thresholds.EdgeLatencyCeilingMs = *overrides.EdgeLatencyCeilingMs
	}
	if overrides.UnauthorizedAttemptLimit != nil {
		s.thresholds.UnauthorizedAttemptLimit = *overrides.UnauthorizedAttemptLimit
	}
	return s.thresholds
}

// ResetMetrics zeroes every counter and latency sample. The snapshot history
// and alert list are retained.
func (s *Service) ResetMetrics() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
}

func (s *Service) resetLocked() {
	s.cache = CacheMetrics{}
	s.permissions = PermissionMetrics{
		ByResource: make(map[string]int64),
		ByAction:   make(map[string]int64),
	}
	s.roles = RoleMetrics{ByRole: make(map[string]int64)}
	s.security = SecurityMetrics{DeniedByResource: make(map[string]int64)}
	s.edge = EdgeFunctionMetrics{ByFunction: make(map[string]*EdgeFunctionStats)}
}

// CaptureSnapshot takes a snapshot and evaluates the threshold rules
// immediately, outside the cron schedule.
func (s *Service) CaptureSnapshot() {
	s.captureSnapshot()
}

func (s *Service) captureSnapshot() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.snapshots = append(s.snapshots, snap)
	if len(s.snapshots) > s.maxSnapshots {
		s.snapshots = s.snapshots[len(s.snapshots)-s.maxSnapshots:]
	}

	fired := s.evaluateThresholdsLocked(snap)
	s.alerts = append(s.alerts, fired...)
	s.mu.Unlock()

	for _, alert := range fired {
		s.logger.WithFields(map[string]interface{}{
			"alert_id": alert.ID,
			"type":     alert.Type,
			"severity": alert.Severity,
		}).Warn(alert.Message)

		if s.prom != nil {
			s.prom.AlertsFiredTotal.WithLabelValues(string(alert.Type), string(alert.Severity)).Inc()
		}
		if s.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.store.SaveAlert(ctx, alert); err != nil {
				s.logger.WithError(err).WithField("alert_id", alert.ID).
					Warn("failed to persist alert")
			}
			cancel()
		}
	}
}

// snapshotLocked deep-copies the current metric families.
func (s *Service) snapshotLocked() MetricsSnapshot {
	snap := MetricsSnapshot{
		Timestamp: s.now(),
		Cache:     s.cache,
		Permissions: PermissionMetrics{
			Checks:         s.permissions.Checks,
			Granted:        s.permissions.Granted,
			Denied:         s.permissions.Denied,
			ByResource:     copyCounts(s.permissions.ByResource),
			ByAction:       copyCounts(s.permissions.ByAction),
			LatencySamples: append([]float64(nil), s.permissions.LatencySamples...),
		},
		Roles: RoleMetrics{
			Assignments: s.roles.Assignments,
			Removals:    s.roles.Removals,
			ByRole:      copyCounts(s.roles.ByRole),
		},
		Security: SecurityMetrics{
			UnauthorizedAttempts: s.security.UnauthorizedAttempts,
			DeniedByResource:     copyCounts(s.security.DeniedByResource),
		},
		EdgeFunctions: EdgeFunctionMetrics{
			Calls:          s.edge.Calls,
			Errors:         s.edge.Errors,
			LatencySamples: append([]float64(nil), s.edge.LatencySamples...),
			ByFunction:     make(map[string]*EdgeFunctionStats, len(s.edge.ByFunction)),
		},
	}
	for name, stats := range s.edge.ByFunction {
		snap.EdgeFunctions.ByFunction[name] = &EdgeFunctionStats{
			Calls:          stats.Calls,
			Errors:         stats.Errors,
			LatencySamples: append([]float64(nil), stats.LatencySamples...),
		}
	}
	return snap
}

func (s *Service) summaryLocked() Summary {
	summary := Summary{
		Timestamp: s.now(),
		Cache: CacheSummary{
			Hits:          s.cache.Hits,
			Misses:        s.cache.Misses,
			Invalidations: s.cache.Invalidations,
			Size:          s.cache.Size,
			HitRate:       ratio(s.cache.Hits, s.cache.Hits+s.cache.Misses),
		},
		Permissions: PermissionSummary{
			Checks:       s.permissions.Checks,
			Granted:      s.permissions.Granted,
			Denied:       s.permissions.Denied,
			GrantRate:    ratio(s.permissions.Granted, s.permissions.Checks),
			AvgLatencyMs: mean(s.permissions.LatencySamples),
			TopResources: topCounts(s.permissions.ByResource, 5),
			TopActions:   topCounts(s.permissions.ByAction, 5),
		},
		Roles: RoleSummary{
			Assignments: s.roles.Assignments,
			Removals:    s.roles.Removals,
			ByRole:      copyCounts(s.roles.ByRole),
		},
		Security: SecuritySummary{
			UnauthorizedAttempts: s.security.UnauthorizedAttempts,
			DeniedByResource:     copyCounts(s.security.DeniedByResource),
		},
		EdgeFunctions: EdgeSummary{
			Calls:        s.edge.Calls,
			Errors:       s.edge.Errors,
			ErrorRate:    ratio(s.edge.Errors, s.edge.Calls),
			AvgLatencyMs: mean(s.edge.LatencySamples),
			ByFunction:   make(map[string]EdgeFunctionSummary, len(s.edge.ByFunction)),
		},
	}
	for name, stats := range s.edge.ByFunction {
		summary.EdgeFunctions.ByFunction[name] = EdgeFunctionSummary{
			Calls:        stats.Calls,
			Errors:       stats.Errors,
			AvgLatencyMs: mean(stats.LatencySamples),
		}
	}
	return summary
}

func (s *Service) persistSummary() {
	s.mu.Lock()
	summary := s.summaryLocked()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.store.SaveSummary(ctx, summary); err != nil {
		s.logger.WithError(err).Warn("failed to persist metrics summary")
	}
}

func appendSample(samples []float64, v float64, max int) []float64 {
	samples = append(samples, v)
	if len(samples) > max {
		samples = samples[len(samples)-max:]
	}
	return samples
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}

func topCounts(m map[string]int64, n int) []NameCount {
	out := make([]NameCount, 0, len(m))
	for k, v := range m {
		out = append(out, NameCount{Name: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
