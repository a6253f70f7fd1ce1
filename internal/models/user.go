package models

import "time"

// User roles. Every authenticated identity is exactly one of these.
const (
	RoleClient   = "client"
	RoleEngineer = "engineer"
)

// User represents an authenticated identity. Credential issuance lives in an
// external identity service; this record carries only what authorization
// checks and display need.
type User struct {
	ID         uint      `json:"id" db:"id"`
	Email      string    `json:"email" db:"email"`
	Name       string    `json:"name" db:"name"`
	Role       string    `json:"role" db:"role"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreateTime time.Time `json:"create_time" db:"create_time"`
}
