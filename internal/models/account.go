package models

import (
	"strings"
	"time"
)

// Role is the authorization level of an account
type Role string

const (
	RoleAdmin   Role = "Admin"
	RoleTeacher Role = "Teacher"
	RoleStudent Role = "Student"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	}
	return false
}

// ParseRole matches a role name case-insensitively
func ParseRole(s string) (Role, bool) {
	for _, r := range []Role{RoleAdmin, RoleTeacher, RoleStudent} {
		if strings.EqualFold(s, string(r)) {
			return r, true
		}
	}
	return "", false
}

type Account struct {
	ID                string
	FullName          string
	Email             string
	Username          string
	PasswordHash      string
	Role              Role
	Grade             *string // Students only
	PasswordChangedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PasswordStamp identifies the current password of the account. Access tokens carry
// it so that a password change invalidates every token minted before it.
func (a *Account) PasswordStamp() int64 {
	if a.PasswordChangedAt == nil {
		return 0
	}
	return a.PasswordChangedAt.UnixMicro()
}

// AccountSummary is the public projection of an account. It never carries credentials.
type AccountSummary struct {
	ID        string  `json:"id"`
	FullName  string  `json:"fullName"`
	Email     string  `json:"email"`
	Username  string  `json:"username"`
	Role      Role    `json:"role"`
	Grade     *string `json:"grade,omitempty"`
	CreatedAt string  `json:"createdAt"`
}

// Summary converts an account into its public projection
func (a *Account) Summary() *AccountSummary {
	return &AccountSummary{
		ID:        a.ID,
		FullName:  a.FullName,
		Email:     a.Email,
		Username:  a.Username,
		Role:      a.Role,
		Grade:     a.Grade,
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (r Role) String() string {
	return string(r)
}
