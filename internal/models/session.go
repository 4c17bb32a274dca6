package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the session token payload. It carries the upstream access
// token obtained by the OAuth exchange so sync calls run as the caller.
type SessionClaims struct {
	UserID              string    `json:"user_id"`
	Email               string    `json:"email"`
	FullName            string    `json:"full_name"`
	UpstreamToken       string    `json:"upstream_token"`
	UpstreamTokenExpiry time.Time `json:"upstream_token_expiry,omitempty"`
	jwt.RegisteredClaims
}

// SessionUser identifies the session owner for token issuing.
type SessionUser struct {
	ID       string
	Email    string
	FullName string
}
