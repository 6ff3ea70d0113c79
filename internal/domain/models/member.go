package models

import "time"

type MemberStatus string

const (
	MemberStatusActive    MemberStatus = "ACTIVE"
	MemberStatusSuspended MemberStatus = "SUSPENDED"
	MemberStatusWithdrawn MemberStatus = "WITHDRAWN"
)

type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
)

// Member is the credential view of a registered member.
type Member struct {
	ID       int64
	Email    string
	PassHash []byte
	Status   MemberStatus
}

// IsActive reports whether the member may log in.
func (m *Member) IsActive() bool {
	return m.Status == MemberStatusActive
}

// MemberProfile is the registration data kept next to the credentials.
type MemberProfile struct {
	ID        int64
	Email     string
	Name      string
	Nickname  string
	BirthDate time.Time
	Gender    Gender
	Status    MemberStatus
	CreatedAt time.Time
}

// NewMember is the input for persisting a freshly signed-up member.
type NewMember struct {
	Email     string
	PassHash  []byte
	Name      string
	Nickname  string
	BirthDate time.Time
	Gender    Gender
}
