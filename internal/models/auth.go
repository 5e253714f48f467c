package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the role claim carried by access tokens.
type UserRole string

// Roles recognised by the ledger API.
const (
	RoleTeacher UserRole = "TEACHER"
	RoleAdmin   UserRole = "ADMIN"
)

// JWTClaims represents the payload of access tokens issued by the account service.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}
