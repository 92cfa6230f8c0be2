package models

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// UserRole is the role carried in access tokens.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleTeacher UserRole = "TEACHER"
	// RoleStudent appears in tokens from the identity service but grants nothing here.
	RoleStudent UserRole = "STUDENT"
)

// ParseRole accepts a role name in any case.
func ParseRole(raw string) (UserRole, error) {
	role := UserRole(strings.ToUpper(strings.TrimSpace(raw)))
	switch role {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return role, nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// JWTClaims is the payload of an access token. For teachers UserID is the teacher id.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email,omitempty"`
	FullName string   `json:"full_name,omitempty"`
	jwt.RegisteredClaims
}
