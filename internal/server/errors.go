package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/roach88/snapguard/internal/store"
)

// Error codes returned in API error bodies.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInvalidImage   = "INVALID_IMAGE"
	CodeNotFound       = "NOT_FOUND"
	CodeDuplicateID    = "DUPLICATE_ID"
	CodeStoreIO        = "STORE_IO"
	CodeInternal       = "INTERNAL"
)

// APIErrorDetail represents a single error in the standardized error response.
type APIErrorDetail struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// APIErrorResponse represents the standardized error response body.
type APIErrorResponse struct {
	Errors []APIErrorDetail `json:"errors"`
}

// WriteAPIError writes a standardized error response with the given HTTP status, code, and detail.
func WriteAPIError(w http.ResponseWriter, httpStatus int, code string, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	resp := APIErrorResponse{
		Errors: []APIErrorDetail{
			{
				Code:   code,
				Status: strconv.Itoa(httpStatus),
				Detail: detail,
			},
		},
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// writeStoreError maps a store failure onto an API error.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case store.IsDuplicateError(err):
		WriteAPIError(w, http.StatusConflict, CodeDuplicateID, err.Error())
	case store.IsInvalidError(err):
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	default:
		slog.Error("store failure", "path", r.URL.Path, "error", err)
		WriteAPIError(w, http.StatusInternalServerError, CodeStoreIO, "record store unavailable")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}
