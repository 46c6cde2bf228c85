package auth

import (
	"github.com/angelmondragon/storefront-backend/internal/users"
)

// RegisterRequest is the signup payload.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=256"`
}

// LoginRequest captures the credentials sent to the login endpoint.
// SessionID is the guest cart session (X-Session-Id) to merge, if any.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	SessionID string `json:"-"`
}

// LoginResponse is returned by both register and login.
type LoginResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	ExpiresIn   int64          `json:"expires_in"`
	User        *users.UserDTO `json:"user"`
}
