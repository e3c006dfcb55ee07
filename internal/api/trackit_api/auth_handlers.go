package trackit_api

import (
	"net/http"

	"github.com/BearBump/TrackIt/internal/models"
)

type googleLoginRequest struct {
	Token string `json:"token" validate:"required"`
}

type authResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        *models.User `json:"user"`
}

func (a *API) loginGoogle(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if err := a.validate.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	token, u, err := a.users.LoginWithGoogle(r.Context(), req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{AccessToken: token, TokenType: "bearer", User: u})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r))
}
