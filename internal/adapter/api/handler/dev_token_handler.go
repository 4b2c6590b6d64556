package handler

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"adoptme/internal/domain/entity"
	"adoptme/internal/domain/repository"
	"adoptme/internal/infrastructure/auth"
	"adoptme/pkg/errors"
	"adoptme/pkg/response"
)

const devTokenTTL = 30 * 24 * time.Hour

type DevTokenHandler struct {
	tokens   *auth.TokenService
	userRepo repository.UserRepository
}

var devTokenHandler *DevTokenHandler

func NewDevTokenHandler(tokens *auth.TokenService, userRepo repository.UserRepository) *DevTokenHandler {
	return &DevTokenHandler{
		tokens:   tokens,
		userRepo: userRepo,
	}
}

func SetupDevTokenHandler(tokens *auth.TokenService, userRepo repository.UserRepository) {
	devTokenHandler = NewDevTokenHandler(tokens, userRepo)
}

func GetDevTokenHandler() *DevTokenHandler {
	return devTokenHandler
}

// GenerateUserToken issues a long-lived token for a known user, for local testing only.
func (h *DevTokenHandler) GenerateUserToken(c echo.Context) error {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || userID <= 0 {
		return response.Error(c, errors.BadRequest("user id must be a positive number", err))
	}

	user, err := h.userRepo.GetByID(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	token, err := h.tokens.GenerateToken(user.ID, devTokenTTL)
	if err != nil {
		return response.Error(c, errors.Internal("Failed to generate token", err))
	}

	return response.Success(c, map[string]interface{}{
		"token": token,
		"user": map[string]interface{}{
			"id":   user.ID,
			"name": user.Name,
		},
	})
}

type devUserRequest struct {
	ID   int64  `json:"id" validate:"required,gt=0"`
	Name string `json:"name" validate:"required,max=100"`
}

// UpsertUser adds or renames a directory entry so local clients have someone to talk to.
func (h *DevTokenHandler) UpsertUser(c echo.Context) error {
	var req devUserRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	user := &entity.User{ID: req.ID, Name: req.Name}
	if err := h.userRepo.Upsert(c.Request().Context(), user); err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, user)
}
