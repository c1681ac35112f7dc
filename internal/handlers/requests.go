package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/nfrund/livepresence/internal/protocol"
)

// CustomValidator wraps the go-playground/validator library to implement Echo's Validator interface.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a CustomValidator sharing the websocket frame rules.
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: protocol.Validator()}
}

// Validate implements the echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// UserPresenceRequest binds GET /api/presence/:userID.
type UserPresenceRequest struct {
	UserID string `param:"userID" validate:"required,max=128"`
}
