package trackit_api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type lookupRequest struct {
	TrackingNumber string `json:"tracking_number" validate:"required,max=100"`
	Courier        string `json:"courier" validate:"max=100"`
}

func (a *API) listCouriers(w http.ResponseWriter, r *http.Request) {
	list, err := a.couriers.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"couriers": list})
}

func (a *API) lookup(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if err := a.validate.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := a.packages.Lookup(r.Context(), req.TrackingNumber, req.Courier)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	p, err := a.packages.Refresh(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
