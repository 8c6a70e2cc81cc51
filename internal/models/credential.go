package models

import "time"

type Credential struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type CredentialSession struct {
	ID           string
	CredentialID string
	DeviceName   string
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
	LastSeenAt   time.Time
	ExpiresAt    time.Time
}
