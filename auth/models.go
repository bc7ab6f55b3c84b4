package auth

import "time"

type Role string

const (
	RoleBuyer  Role = "BUYER"
	RoleSeller Role = "SELLER"
)

// User is the domain representation of an authenticated user.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         Role
	PublicKey    string
	CreatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers. The
// public key is optional; when absent the server issues a keypair and returns
// the private half exactly once.
type RegisterRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Role      Role   `json:"role"`
	PublicKey string `json:"public_key,omitempty"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
