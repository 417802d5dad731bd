package identity

import "time"

// Principal is the domain representation of a registered caller. It mirrors
// the principals table and carries no presentation annotations.
type Principal struct {
	ID         string
	Name       string
	SecretHash string
	CreatedAt  time.Time
}

// Caller is the per-call identity context every engine operation receives:
// the opaque principal identifier plus the value attached to the call.
type Caller struct {
	Principal     string
	AttachedValue int64
}

// RegisterRequest contains principal registration data supplied by callers.
type RegisterRequest struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

// TokenRequest contains credentials exchanged for a bearer token.
type TokenRequest struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
}
