package controllers

import (
	"encoding/json"
	"net/http"

	"dutlab/backend/app/dto"
	jwtutil "dutlab/backend/app/jwt"
	"dutlab/backend/app/services"
)

type AuthController struct {
	Operators *services.OperatorService
	Signer    *jwtutil.Signer
}

func NewAuthController(operators *services.OperatorService, signer *jwtutil.Signer) *AuthController {
	return &AuthController{Operators: operators, Signer: signer}
}

func (c *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}
	o, err := c.Operators.ValidateCredentials(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := c.Signer.Sign(o.ID, o.Username, o.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token error")
		return
	}
	writeJSON(w, http.StatusOK, dto.TokenResponse{AccessToken: token})
}
