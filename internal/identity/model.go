// Package identity is the authentication backend: credentials, bans and
// session tokens for every account of the CRM.
package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("identity not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrBanned             = errors.New("identity banned")
)

// Identity is an account of the auth backend. Its id is shared with the
// user profile.
type Identity struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FullName     string     `json:"full_name"`
	Banned       bool       `json:"banned"`
	LastSignInAt *time.Time `json:"last_sign_in_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CreateParams describes a new identity. Password is plain text.
type CreateParams struct {
	Email    string
	Password string
	FullName string
}

// Session is the result of a sign-in or refresh.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         Identity  `json:"user"`
}
