package monitoring

import (
	"fmt"

	"github.com/google/uuid"
)

// evaluateThresholdsLocked runs the six threshold rules against the snapshot
// just captured and returns the alerts that fired, at most one per rule.
// Rules with too few observations are skipped so a cold start cannot alert.
// Callers hold s.mu.
func (s *Service) evaluateThresholdsLocked(snap MetricsSnapshot) []Alert {
	var fired []Alert

	attempts := snap.Cache.Hits + snap.Cache.Misses
	if attempts > minCacheAttempts {
		hitRate := ratio(snap.Cache.Hits, attempts)
		if hitRate < s.thresholds.CacheHitRateFloor {
			fired = append(fired, s.newAlert(AlertLowCacheHitRate, SeverityWarning,
				fmt.Sprintf("cache hit rate %.2f below floor %.2f over %d attempts",
					hitRate, s.thresholds.CacheHitRateFloor, attempts)))
		}
	}

	if snap.Permissions.Checks > minPermissionChecks {
		denialRate := ratio(snap.Permissions.Denied, snap.Permissions.Checks)
		if denialRate > s.thresholds.DenialRateCeiling {
			fired = append(fired, s.newAlert(AlertHighDenialRate, SeverityWarning,
				fmt.Sprintf("permission denial rate %.2f above ceiling %.2f over %d checks",
					denialRate, s.thresholds.DenialRateCeiling, snap.Permissions.Checks)))
		}
	}

	if snap.EdgeFunctions.Calls > minEdgeCalls {
		errorRate := ratio(snap.EdgeFunctions.Errors, snap.EdgeFunctions.Calls)
		if errorRate > s.thresholds.EdgeErrorRateCeiling {
			fired = append(fired, s.newAlert(AlertEdgeFunctionErrors, SeverityError,
				fmt.Sprintf("edge function error rate %.2f above ceiling %.2f over %d calls",
					errorRate, s.thresholds.EdgeErrorRateCeiling, snap.EdgeFunctions.Calls)))
		}
	}

	if len(snap.Permissions.LatencySamples) > minCheckLatencySamples {
		avg := mean(snap.Permissions.LatencySamples)
		if avg > s.thresholds.CheckLatencyCeilingMs {
			fired = append(fired, s.newAlert(AlertSlowPermissionCheck, SeverityWarning,
				fmt.Sprintf("mean permission check latency %.1fms above ceiling %.1fms",
					avg, s.thresholds.CheckLatencyCeilingMs)))
		}
	}

	if len(snap.EdgeFunctions.LatencySamples) > minEdgeLatencySamples {
		avg := mean(snap.EdgeFunctions.LatencySamples)
		if avg > s.thresholds.EdgeLatencyCeilingMs {
			fired = append(fired, s.newAlert(AlertSlowEdgeFunctions, SeverityWarning,
				fmt.Sprintf("mean edge function latency %.1fms above ceiling %.1fms",
					avg, s.thresholds.EdgeLatencyCeilingMs)))
		}
	}

	if n := s.unauthorizedInWindowLocked(snap); n >= s.thresholds.UnauthorizedAttemptLimit {
		fired = append(fired, s.newAlert(AlertUnauthorizedSpike, SeverityError,
			fmt.Sprintf("%d unauthorized attempts within the last %s",
				n, unauthorizedWindow)))
	}

	return fired
}

// unauthorizedInWindowLocked sums the unauthorized-attempt counter across the
// ring snapshots whose timestamp falls within the trailing window ending at
// the given snapshot. The snapshot under evaluation is already in the ring.
func (s *Service) unauthorizedInWindowLocked(snap MetricsSnapshot) int64 {
	cutoff := snap.Timestamp.Add(-unauthorizedWindow)

	var total int64
	for _, prev := range s.snapshots {
		if prev.Timestamp.After(cutoff) && !prev.Timestamp.After(snap.Timestamp) {
			total += prev.Security.UnauthorizedAttempts
		}
	}
	return total
}

func (s *Service) newAlert(alertType AlertType, severity AlertSeverity, message string) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Type:      alertType,
		Message:   message,
		Severity:  severity,
		Timestamp: s.now(),
	}
}
