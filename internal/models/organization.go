package models

import (
	"github.com/google/uuid"
)

// Organization is a denormalized entity embedded in profiles; it has no row
// of its own anywhere. The organizer's copy is authoritative, member copies
// are read-only replicas kept in sync by the propagation engine.
type Organization struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Organizer string    `json:"organizer"` // organizer email
	Members   []string  `json:"members,omitempty"`
}

// OrganizationMember marks membership state on a member's own profile.
// VerificationCode is present while the invitation is unconfirmed and is
// cleared on acceptance.
type OrganizationMember struct {
	OrganizationID   uuid.UUID `json:"organizationId"`
	VerificationCode string    `json:"verificationCode,omitempty"`
}

// Verified reports whether the membership has been confirmed.
func (m OrganizationMember) Verified() bool {
	return m.VerificationCode == ""
}
