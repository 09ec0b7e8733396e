package auth

import "time"

// User is the credential view of an account. The password hash never leaves
// this package; API-facing user data lives in the users module.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
