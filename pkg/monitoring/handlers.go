package monitoring

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/reviewforge/accessctl/pkg/httputil"
)

// Handlers provides the monitoring read API consumed by the admin dashboard.
type Handlers struct {
	service *Service
}

// NewHandlers creates monitoring handlers over the service.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers all monitoring routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/metrics/summary", h.GetSummary).Methods("GET")
	router.HandleFunc("/metrics/history", h.GetHistory).Methods("GET")
	router.HandleFunc("/alerts", h.GetAlerts).Methods("GET")
	router.HandleFunc("/alerts/{id}/ack", h.AcknowledgeAlert).Methods("POST")
	router.HandleFunc("/alerts/thresholds", h.UpdateThresholds).Methods("PUT")
	router.HandleFunc("/alerts/thresholds", h.GetThresholds).Methods("GET")
}

// GetSummary returns the current summary plus the historical series.
func (h *Handlers) GetSummary(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.service.GetMetrics())
}

// GetHistory returns raw snapshots, oldest first. An optional since query
// parameter (RFC 3339) restricts the range.
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	since := httputil.ParseQueryTime(r, "since")
	snapshots := h.service.GetSnapshots(since)
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

// GetAlerts returns alerts, newest first. By default only unacknowledged
// alerts are returned; all=true includes acknowledged ones, and an optional
// since parameter (RFC 3339) restricts the range.
func (h *Handlers) GetAlerts(w http.ResponseWriter, r *http.Request) {
	var alerts []Alert
	if r.URL.Query().Get("all") == "true" {
		alerts = h.service.ListAlerts(httputil.ParseQueryTime(r, "since"))
	} else {
		alerts = h.service.GetActiveAlerts()
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// AcknowledgeAlert marks an alert acknowledged.
func (h *Handlers) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["id"]
	if alertID == "" {
		httputil.WriteBadRequest(w, "alert ID is required")
		return
	}

	if !h.service.AcknowledgeAlert(alertID) {
		httputil.WriteNotFound(w, "alert not found")
		return
	}
	httputil.WriteNoContent(w)
}

// UpdateThresholds merges partial threshold overrides and returns the
// resulting thresholds.
func (h *Handlers) UpdateThresholds(w http.ResponseWriter, r *http.Request) {
	var overrides ThresholdOverrides
	if !httputil.ParseJSONOrError(w, r, &overrides) {
		return
	}

	merged := h.service.SetAlertThresholds(overrides)
	httputil.WriteJSON(w, http.StatusOK, merged)
}

// GetThresholds returns the current alert thresholds.
func (h *Handlers) GetThresholds(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.service.GetAlertThresholds())
}
