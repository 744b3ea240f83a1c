package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/reviewforge/accessctl/pkg/observability"
	"github.com/reviewforge/accessctl/pkg/permissions"
)

// Edge function names, also used as the metric label for call recording.
const (
	fnCheckPermission    = "check-permission"
	fnGetUserPermissions = "get-user-permissions"
	fnManageUserRole     = "manage-user-role"
)

// EdgeRecorder receives the outcome and latency of every edge function call.
// Satisfied by monitoring.Service.
type EdgeRecorder interface {
	RecordEdgeFunctionCall(function string, success bool, latency time.Duration)
}

type nopEdgeRecorder struct{}

func (nopEdgeRecorder) RecordEdgeFunctionCall(string, bool, time.Duration) {}

// EdgeClient answers authorization questions by calling remote edge
// functions over HTTP. Every call is timed and reported to the recorder.
type EdgeClient struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	logger     *observability.Logger
	recorder   EdgeRecorder
}

// EdgeOption configures an EdgeClient.
type EdgeOption func(*EdgeClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) EdgeOption {
	return func(e *EdgeClient) {
		if c != nil {
			e.httpClient = c
		}
	}
}

// WithEdgeRecorder wires call outcomes to a recorder.
func WithEdgeRecorder(r EdgeRecorder) EdgeOption {
	return func(e *EdgeClient) {
		if r != nil {
			e.recorder = r
		}
	}
}

// NewEdgeClient creates a client for the edge function endpoints under
// baseURL. The service key is sent as a bearer token on every request.
func NewEdgeClient(baseURL, serviceKey string, logger *observability.Logger, opts ...EdgeOption) *EdgeClient {
	e := &EdgeClient{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		recorder:   nopEdgeRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckPermission asks the check-permission edge function whether the user
// may perform the action on the resource.
func (e *EdgeClient) CheckPermission(ctx context.Context, userID string, resource permissions.Resource, action permissions.Action) (bool, error) {
	req := map[string]string{
		"userId":   userID,
		"resource": string(resource),
		"action":   string(action),
	}
	var resp struct {
		HasPermission bool `json:"hasPermission"`
	}
	if err := e.call(ctx, fnCheckPermission, req, &resp); err != nil {
		return false, err
	}
	return resp.HasPermission, nil
}

// GetUserPermissions fetches the user's effective permission set from the
// get-user-permissions edge function.
func (e *EdgeClient) GetUserPermissions(ctx context.Context, userID string) ([]permissions.Permission, error) {
	req := map[string]string{"userId": userID}
	var resp struct {
		Permissions []permissions.Permission `json:"permissions"`
	}
	if err := e.call(ctx, fnGetUserPermissions, req, &resp); err != nil {
		return nil, err
	}
	return resp.Permissions, nil
}

// AssignRole grants a role through the manage-user-role edge function.
func (e *EdgeClient) AssignRole(ctx context.Context, userID, roleName string) error {
	return e.manageRole(ctx, userID, roleName, "assign")
}

// RemoveRole revokes a role through the manage-user-role edge function.
func (e *EdgeClient) RemoveRole(ctx context.Context, userID, roleName string) error {
	return e.manageRole(ctx, userID, roleName, "remove")
}

// manageRole calls the manage-user-role function. The acting admin is the
// authenticated user carried on the request context; the function rejects
// mutations whose admin lacks the manage permission.
func (e *EdgeClient) manageRole(ctx context.Context, userID, roleName, operation string) error {
	req := map[string]string{
		"adminUserId":  permissions.UserIDFromContext(ctx),
		"targetUserId": userID,
		"roleName":     roleName,
		"operation":    operation,
	}
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := e.call(ctx, fnManageUserRole, req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return &Error{Kind: KindConflict, Op: fnManageUserRole, Err: fmt.Errorf("%s rejected: %s", operation, resp.Error)}
	}
	return nil
}

// call POSTs a JSON body to one edge function and decodes the JSON response,
// recording the call outcome and latency.
func (e *EdgeClient) call(ctx context.Context, function string, payload, result interface{}) error {
	start := time.Now()
	err := e.doCall(ctx, function, payload, result)
	latency := time.Since(start)

	e.recorder.RecordEdgeFunctionCall(function, err == nil, latency)
	if err != nil {
		e.logger.WithError(err).WithFields(map[string]interface{}{
			"function":    function,
			"duration_ms": latency.Milliseconds(),
		}).Warn("edge function call failed")
	}
	return err
}

func (e *EdgeClient) doCall(ctx context.Context, function string, payload, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/functions/v1/%s", e.baseURL, function)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.serviceKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return unavailable(function, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return notFound(function, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return unavailable(function, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return &Error{Kind: KindUnknown, Op: function, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", function, err)
	}
	return nil
}
