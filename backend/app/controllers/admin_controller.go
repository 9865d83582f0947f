package controllers

import (
	"encoding/json"
	"net/http"

	"dutlab/backend/app/dto"
	"dutlab/backend/app/services"
)

type AdminController struct{ Operators *services.OperatorService }

func NewAdminController(operators *services.OperatorService) *AdminController {
	return &AdminController{Operators: operators}
}

func (c *AdminController) CreateOperator(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateOperatorRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Username == "" || req.Password == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := c.Operators.CreateOperator(r.Context(), req.Username, req.Password, req.Role); err != nil {
		w.WriteHeader(http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
