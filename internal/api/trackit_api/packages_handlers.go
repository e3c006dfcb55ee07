package trackit_api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/BearBump/TrackIt/internal/models"
	"github.com/go-chi/chi/v5"
)

type createPackageRequest struct {
	TrackingNumber     string  `json:"tracking_number" validate:"required,max=100"`
	Courier            *string `json:"courier" validate:"omitempty,max=100"`
	Note               *string `json:"note" validate:"omitempty,max=500"`
	DeliveryLocationID *string `json:"delivery_location_id"`
}

// nullableString tells an absent field apart from an explicit null.
type nullableString struct {
	Set   bool
	Value *string
}

func (n *nullableString) UnmarshalJSON(b []byte) error {
	n.Set = true
	return json.Unmarshal(b, &n.Value)
}

type updatePackageRequest struct {
	Courier            *string        `json:"courier" validate:"omitempty,max=100"`
	Note               *string        `json:"note" validate:"omitempty,max=500"`
	Archived           *bool          `json:"archived"`
	DeliveryLocationID nullableString `json:"delivery_location_id"`
}

func (a *API) listPackages(w http.ResponseWriter, r *http.Request) {
	archived := false
	if v := r.URL.Query().Get("archived"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, models.NewValidationError("archived", "archived must be a boolean"))
			return
		}
		archived = b
	}
	items, err := a.packages.List(r.Context(), currentUser(r).ID, archived)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) createPackage(w http.ResponseWriter, r *http.Request) {
	var req createPackageRequest
	if err := a.validate.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := a.packages.Create(r.Context(), currentUser(r).ID, models.PackageCreateInput{
		TrackingNumber:     req.TrackingNumber,
		Courier:            req.Courier,
		Note:               req.Note,
		DeliveryLocationID: req.DeliveryLocationID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) getPackage(w http.ResponseWriter, r *http.Request) {
	p, err := a.packages.Get(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) updatePackage(w http.ResponseWriter, r *http.Request) {
	var req updatePackageRequest
	if err := a.validate.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	patch := models.PackagePatch{
		Courier:  req.Courier,
		Note:     req.Note,
		Archived: req.Archived,
	}
	if req.DeliveryLocationID.Set {
		if v := req.DeliveryLocationID.Value; v == nil || *v == "" {
			patch.ClearDeliveryLocation = true
		} else {
			patch.DeliveryLocationID = v
		}
	}

	p, err := a.packages.Update(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) deletePackage(w http.ResponseWriter, r *http.Request) {
	if err := a.packages.Delete(r.Context(), currentUser(r).ID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) packageEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := a.packages.Events(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

func (a *API) packageLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := a.packages.Locations(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, locs)
}
