package trackit_api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/BearBump/TrackIt/internal/models"
	"github.com/go-chi/chi/v5"
)

type aliasRequest struct {
	Alias *string `json:"alias" validate:"omitempty,max=200"`
}

type adminResult struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message"`
	Location *models.Location `json:"location,omitempty"`
	Count    *int             `json:"count,omitempty"`
}

// locationParam decodes the raw string; couriers put spaces and slashes in it.
func locationParam(r *http.Request) (string, error) {
	raw, err := url.PathUnescape(chi.URLParam(r, "location"))
	if err != nil || raw == "" {
		return "", models.NewValidationError("location", "invalid location string")
	}
	return raw, nil
}

func (a *API) adminListLocations(w http.ResponseWriter, r *http.Request) {
	failedOnly := false
	if v := r.URL.Query().Get("failed_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, models.NewValidationError("failed_only", "failed_only must be a boolean"))
			return
		}
		failedOnly = b
	}
	items, err := a.admin.ListLocations(r.Context(), failedOnly)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) adminSetAlias(w http.ResponseWriter, r *http.Request) {
	raw, err := locationParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req aliasRequest
	if err := a.validate.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	loc, err := a.admin.SetAlias(r.Context(), raw, req.Alias)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msg := "Alias cleared"
	if loc.Alias != nil {
		msg = "Alias updated and geocoding retry scheduled"
	}
	writeJSON(w, http.StatusOK, adminResult{Success: true, Message: msg, Location: loc})
}

func (a *API) adminRetry(w http.ResponseWriter, r *http.Request) {
	raw, err := locationParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	loc, err := a.admin.Retry(r.Context(), raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adminResult{Success: true, Message: "Geocoding retry scheduled", Location: loc})
}

func (a *API) adminGeocodePending(w http.ResponseWriter, r *http.Request) {
	n, err := a.admin.ResolvePending(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adminResult{Success: true, Message: "Geocoding scheduled", Count: &n})
}
