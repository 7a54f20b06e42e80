package domain

import "time"

type User struct {
	ID           string
	Identifier   string // phone number or email, unique
	DisplayName  string
	PasswordHash string // argon2 encoded
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
