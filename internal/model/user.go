package model

import "time"

// DefaultRole is assigned to every newly registered user.
const DefaultRole = "user"

// User represents an account in the credential store.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Roles        []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest represents a user registration request.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name,omitempty" validate:"max=128"`
}

// LoginRequest represents a user login request.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterResponse is returned after a successful registration. It never
// carries the password hash.
type RegisterResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// AuthResponse represents a login response with a JWT token and user info.
type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// UserResponse represents user data safe for API responses (no sensitive fields).
type UserResponse struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles"`
}

// ToResponse strips the sensitive fields from u.
func (u *User) ToResponse() UserResponse {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	return UserResponse{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.Name,
		Roles: roles,
	}
}
