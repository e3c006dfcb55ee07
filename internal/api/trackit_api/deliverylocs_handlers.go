package trackit_api

import (
	"net/http"

	"github.com/BearBump/TrackIt/internal/models"
	"github.com/go-chi/chi/v5"
)

// Name and address are checked by the service so that every violation is
// reported at once.
type deliveryLocationRequest struct {
	Name    string `json:"name" validate:"max=100"`
	Address string `json:"address" validate:"max=500"`
}

type geocodeRequest struct {
	Address string `json:"address" validate:"required,max=500"`
}

func (a *API) listDeliveryLocations(w http.ResponseWriter, r *http.Request) {
	items, err := a.locations.List(r.Context(), currentUser(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) getDeliveryLocation(w http.ResponseWriter, r *http.Request) {
	d, err := a.locations.Get(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) createDeliveryLocation(w http.ResponseWriter, r *http.Request) {
	var req deliveryLocationRequest
	if err := a.validate.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	d, err := a.locations.Create(r.Context(), currentUser(r).ID, models.DeliveryLocationInput{Name: req.Name, Address: req.Address})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) updateDeliveryLocation(w http.ResponseWriter, r *http.Request) {
	var req deliveryLocationRequest
	if err := a.validate.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	d, err := a.locations.Update(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"), models.DeliveryLocationInput{Name: req.Name, Address: req.Address})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) deleteDeliveryLocation(w http.ResponseWriter, r *http.Request) {
	if err := a.locations.Delete(r.Context(), currentUser(r).ID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) geocodeAddress(w http.ResponseWriter, r *http.Request) {
	var req geocodeRequest
	if err := a.validate.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := a.locations.Geocode(r.Context(), req.Address)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
