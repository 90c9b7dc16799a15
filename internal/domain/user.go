package domain

import "time"

// Role enumerates the closed set of actor roles.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAgent Role = "AGENT"
	RoleAdmin Role = "ADMIN"
)

// Valid reports whether the role is one of the known variants.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

// User is the identity record for requesters, agents and admins.
type User struct {
	ID                 string
	Name               string
	Email              string
	Role               Role
	PasswordHash       string
	MustChangePassword bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// UserRef is the embeddable projection of a user carried on hydrated tickets.
type UserRef struct {
	ID    string
	Name  string
	Email string
}

// Ref returns the projection of the user.
func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name, Email: u.Email}
}
