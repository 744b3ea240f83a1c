package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// ParseJSONOrError decodes the request body into dst, writing a 400 response
// and returning false on failure.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// ParseQueryInt returns an integer query parameter or the default.
func ParseQueryInt(r *http.Request, name string, defaultValue int) int {
	if value := r.URL.Query().Get(name); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// ParseQueryTime returns an RFC 3339 query parameter or the zero time.
func ParseQueryTime(r *http.Request, name string) time.Time {
	if value := r.URL.Query().Get(name); value != "" {
		if t, err := time.Parse(time.RFC3339, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
