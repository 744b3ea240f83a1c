package monitoring

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

func setupHandlers(t *testing.T) (*Service, *fakeClock, *mux.Router) {
	t.Helper()
	svc, clock := newTestService(t)
	router := mux.NewRouter()
	NewHandlers(svc).RegisterRoutes(router)
	return svc, clock, router
}

func doRequest(router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_GetSummary(t *testing.T) {
	svc, _, router := setupHandlers(t)

	svc.RecordPermissionCheck("campaigns", "read", true, 10*time.Millisecond)
	svc.CaptureSnapshot()

	rec := doRequest(router, http.MethodGet, "/metrics/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var m Metrics
	if err := json.NewDecoder(rec.Body).Decode(&m); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if m.Summary.Permissions.Checks != 1 {
		t.Errorf("Expected 1 check in summary, got %d", m.Summary.Permissions.Checks)
	}
	if len(m.Historical.Timestamps) != 1 {
		t.Errorf("Expected 1 historical point, got %d", len(m.Historical.Timestamps))
	}
}

func TestHandlers_GetHistory_SinceFilter(t *testing.T) {
	svc, clock, router := setupHandlers(t)

	svc.CaptureSnapshot()
	clock.Advance(time.Minute)
	svc.CaptureSnapshot()
	clock.Advance(time.Minute)
	svc.CaptureSnapshot()

	since := time.Date(2026, 8, 28, 12, 1, 0, 0, time.UTC).Format(time.RFC3339)
	rec := doRequest(router, http.MethodGet, "/metrics/history?since="+since, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		Snapshots []MetricsSnapshot `json:"snapshots"`
		Count     int               `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("Expected 2 snapshots since 12:01, got %d", resp.Count)
	}
	for i := 1; i < len(resp.Snapshots); i++ {
		if resp.Snapshots[i].Timestamp.Before(resp.Snapshots[i-1].Timestamp) {
			t.Error("Expected snapshots ascending by time")
		}
	}
}

func TestHandlers_GetAlerts(t *testing.T) {
	svc, _, router := setupHandlers(t)

	for i := 0; i < 5; i++ {
		svc.RecordPermissionCheck("users", "manage", false, time.Millisecond)
	}
	svc.CaptureSnapshot()

	rec := doRequest(router, http.MethodGet, "/alerts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		Alerts []Alert `json:"alerts"`
		Count  int     `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Count == 0 {
		t.Fatal("Expected at least one active alert")
	}
}

func TestHandlers_GetAlerts_EmptyList(t *testing.T) {
	_, _, router := setupHandlers(t)

	rec := doRequest(router, http.MethodGet, "/alerts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); !bytes.Contains([]byte(body), []byte(`"alerts":[]`)) {
		t.Errorf("Expected empty alerts array, got %s", body)
	}
}

func TestHandlers_AcknowledgeAlert(t *testing.T) {
	svc, _, router := setupHandlers(t)

	for i := 0; i < 5; i++ {
		svc.RecordPermissionCheck("users", "manage", false, time.Millisecond)
	}
	svc.CaptureSnapshot()

	active := svc.GetActiveAlerts()
	if len(active) == 0 {
		t.Fatal("Expected an active alert")
	}

	rec := doRequest(router, http.MethodPost, "/alerts/"+active[0].ID+"/ack", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}

	rec = doRequest(router, http.MethodPost, "/alerts/no-such-id/ack", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown alert, got %d", rec.Code)
	}
}

func TestHandlers_UpdateThresholds(t *testing.T) {
	_, _, router := setupHandlers(t)

	rec := doRequest(router, http.MethodPut, "/alerts/thresholds", map[string]interface{}{
		"denial_rate_ceiling": 0.25,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var merged AlertThresholds
	if err := json.NewDecoder(rec.Body).Decode(&merged); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if merged.DenialRateCeiling != 0.25 {
		t.Errorf("Expected denial ceiling 0.25, got %f", merged.DenialRateCeiling)
	}
	if merged.CacheHitRateFloor != DefaultThresholds().CacheHitRateFloor {
		t.Errorf("Expected untouched hit rate floor, got %f", merged.CacheHitRateFloor)
	}
}

func TestHandlers_UpdateThresholds_BadBody(t *testing.T) {
	_, _, router := setupHandlers(t)

	req := httptest.NewRequest(http.MethodPut, "/alerts/thresholds", bytes.NewReader([]byte("{nope")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestHandlers_GetThresholds(t *testing.T) {
	_, _, router := setupHandlers(t)

	rec := doRequest(router, http.MethodGet, "/alerts/thresholds", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var thresholds AlertThresholds
	if err := json.NewDecoder(rec.Body).Decode(&thresholds); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if thresholds != DefaultThresholds() {
		t.Errorf("Expected default thresholds, got %+v", thresholds)
	}
}
