package trackit_api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BearBump/TrackIt/internal/integrations/carrier"
	"github.com/BearBump/TrackIt/internal/integrations/geocoder"
	"github.com/BearBump/TrackIt/internal/models"
	"github.com/pkg/errors"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps service errors onto HTTP statuses. Unknown errors are
// logged and reported as 500 without details.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, resp := resolveError(err)
	if code == http.StatusInternalServerError {
		slog.Error("unhandled error", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	}
	writeJSON(w, code, resp)
}

func resolveError(err error) (int, errorResponse) {
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: ve.Fields}
	}

	switch {
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized, errorResponse{Error: "unauthorized"}
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, errorResponse{Error: "forbidden"}
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: "not found"}
	case errors.Is(err, carrier.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: "tracking number not found"}
	case errors.Is(err, carrier.ErrInvalidInput):
		return http.StatusBadRequest, errorResponse{Error: "invalid tracking request"}
	case errors.Is(err, carrier.ErrRateLimited), errors.Is(err, geocoder.ErrRateLimited), errors.Is(err, geocoder.ErrThrottled):
		return http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded, please try again later"}
	case errors.Is(err, carrier.ErrProvider):
		return http.StatusBadGateway, errorResponse{Error: "tracking service unavailable"}
	case errors.Is(err, geocoder.ErrUnavailable), errors.Is(err, geocoder.ErrNoResults):
		return http.StatusBadGateway, errorResponse{Error: "geocoding service unavailable"}
	}
	return http.StatusInternalServerError, errorResponse{Error: "internal server error"}
}
