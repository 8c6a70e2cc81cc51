package models

import "time"

type StudentProfile struct {
	AccountID      string     `json:"accountId"`
	RegisterNumber string     `json:"registerNumber"`
	PassoutYear    string     `json:"passoutYear"`
	Branch         string     `json:"branch"`
	Gender         string     `json:"gender"`
	DateOfBirth    *time.Time `json:"dob,omitempty"`
	LateralEntry   string     `json:"lateralEntry"`
	CGPA           float64    `json:"cgpa"`
	Skills         []string   `json:"skills"`
	ResumeURL      string     `json:"resumeUrl"`
	CoordinatorID  string     `json:"coordinatorId"`
	ApprovalStatus Status     `json:"approvalStatus"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}
