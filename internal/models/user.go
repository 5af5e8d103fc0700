package models

import (
	"strings"
	"time"
)

// User roles
const (
	RoleAdmin     = "admin"
	RoleManager   = "manager"
	RoleExecutive = "executive"
)

// ValidRole reports whether role is one of the known roles
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleExecutive:
		return true
	}
	return false
}

// User is a CRM team member. Executives own leads and visits through
// Record.AssignedTo, which holds the user ID.
type User struct {
	ID                  string    `bson:"_id" json:"id"`
	Name                string    `bson:"name" json:"name"`
	Email               string    `bson:"email" json:"email"`
	Phone               string    `bson:"phone,omitempty" json:"phone,omitempty"`
	PasswordHash        string    `bson:"passwordHash" json:"-"`
	Role                string    `bson:"role" json:"role"`
	IsActive            bool      `bson:"isActive" json:"isActive"`
	RefreshTokenVersion int       `bson:"refreshTokenVersion" json:"-"` // bumped on logout
	CreatedAt           time.Time `bson:"createdAt" json:"createdAt"`
	LastLoginAt         time.Time `bson:"lastLoginAt,omitempty" json:"lastLoginAt,omitempty"`
}

// NormalizeEmail lower-cases and trims an address for lookups
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RegisterRequest is the body of POST /api/register
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// LoginRequest is the body of POST /api/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by login and register
type LoginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
	User         *User  `json:"user"`
}
