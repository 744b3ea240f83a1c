package permissions

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/reviewforge/accessctl/pkg/httputil"
)

// Handlers provides the HTTP surface for permission checks and role
// mutations, consumed by the dashboard frontend.
type Handlers struct {
	eval *Evaluator
}

// NewHandlers creates permission handlers over the evaluator.
func NewHandlers(eval *Evaluator) *Handlers {
	return &Handlers{eval: eval}
}

// RegisterRoutes registers all permission routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/permissions/check", h.CheckPermission).Methods("POST")
	router.HandleFunc("/users/{id}/permissions", h.GetUserPermissions).Methods("GET")
	router.HandleFunc("/users/{id}/permissions/invalidate", h.InvalidatePermissions).Methods("POST")
	router.HandleFunc("/users/{id}/roles", h.AssignRole).Methods("POST")
	router.HandleFunc("/users/{id}/roles/{role}", h.RemoveRole).Methods("DELETE")
}

// CheckPermission answers a single permission question.
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		Resource string `json:"resource"`
		Action   string `json:"action"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Resource == "" || req.Action == "" {
		httputil.WriteBadRequest(w, "user_id, resource and action are required")
		return
	}

	granted := h.eval.CheckPermission(r.Context(), req.UserID, Resource(req.Resource), Action(req.Action))
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"has_permission": granted})
}

// GetUserPermissions returns the user's effective permission set.
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if userID == "" {
		httputil.WriteBadRequest(w, "user ID is required")
		return
	}

	perms := h.eval.GetUserPermissions(r.Context(), userID)
	httputil.WriteJSON(w, http.StatusOK, perms)
}

// InvalidatePermissions drops the user's cached permissions so the next
// check re-resolves. Used by logout and profile refresh.
func (h *Handlers) InvalidatePermissions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if userID == "" {
		httputil.WriteBadRequest(w, "user ID is required")
		return
	}

	h.eval.InvalidateUserPermissionCache(userID)
	httputil.WriteNoContent(w)
}

// AssignRole grants a role to the user.
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var req struct {
		RoleName string `json:"role_name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if userID == "" || req.RoleName == "" {
		httputil.WriteBadRequest(w, "user ID and role_name are required")
		return
	}

	ok := h.eval.AssignRoleToUser(r.Context(), userID, req.RoleName)
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

// RemoveRole revokes a role from the user.
func (h *Handlers) RemoveRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, roleName := vars["id"], vars["role"]
	if userID == "" || roleName == "" {
		httputil.WriteBadRequest(w, "user ID and role are required")
		return
	}

	ok := h.eval.RemoveRoleFromUser(r.Context(), userID, roleName)
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"success": ok})
}
