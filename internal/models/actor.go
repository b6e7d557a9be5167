package models

type Role string

const (
	RoleSponsor     Role = "SPONSOR"
	RoleBeneficiary Role = "BENEFICIARY"
	RoleAdmin       Role = "ADMIN"
)

// Actor is the resolved identity on whose behalf an operation runs.
type Actor struct {
	ID       string
	Username string
	Role     Role
}

func (a Actor) IsZero() bool {
	return a.ID == ""
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
