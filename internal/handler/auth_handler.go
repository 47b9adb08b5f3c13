package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"hydra-fleet-server/internal/domain"
	"hydra-fleet-server/internal/service"
	"hydra-fleet-server/pkg/response"

	"github.com/go-playground/validator/v10"
)

type AuthHandler struct {
	service  *service.AuthService
	validate *validator.Validate
}

func NewAuthHandler(service *service.AuthService) *AuthHandler {
	return &AuthHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	resp, err := h.service.Login(r.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			response.Unauthorized(w, "Invalid credentials")
			return
		}
		response.InternalError(w, "Login failed")
		return
	}

	response.Success(w, resp)
}
