package models

import (
	"strings"
	"time"
)

type Role string

const (
	RoleStudent     Role = "student"
	RoleCoordinator Role = "coordinator"
	RoleRecruiter   Role = "recruiter"
	RoleAdmin       Role = "admin"
)

// ParseRole normalises s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	return role, role.Valid()
}

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleCoordinator, RoleRecruiter, RoleAdmin:
		return true
	}
	return false
}

// Destination is the landing path of the role's dashboard.
func (r Role) Destination() string {
	if !r.Valid() {
		return "/"
	}
	return "/" + string(r)
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func ParseStatus(s string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(s)))
	switch status {
	case StatusPending, StatusApproved, StatusRejected:
		return status, true
	}
	return status, false
}

type Account struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone,omitempty"`
	Role             Role      `json:"role"`
	Status           Status    `json:"status"`
	Blocked          bool      `json:"blocked"`
	CredentialLinked bool      `json:"credentialLinked"`
	Department       string    `json:"department,omitempty"`
	Company          string    `json:"company,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Approved reports the effective approval of the account. Admins are always
// approved whatever status is stored.
func (a Account) Approved() bool {
	return a.Role == RoleAdmin || a.Status == StatusApproved
}

// RecordOnly reports whether the account was entered without a login
// credential.
func (a Account) RecordOnly() bool {
	return !a.CredentialLinked
}

// AccountPatch carries the mutable fields of an account; nil fields are left
// untouched.
type AccountPatch struct {
	Status  *Status `json:"status,omitempty"`
	Blocked *bool   `json:"blocked,omitempty"`
}

func (p AccountPatch) Empty() bool {
	return p.Status == nil && p.Blocked == nil
}

func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
