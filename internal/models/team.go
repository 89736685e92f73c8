package models

import (
	"github.com/google/uuid"
)

// Team is a denormalized entity embedded in profiles, optionally affiliated
// with an organization. The leader's copy is authoritative.
type Team struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Leader         string     `json:"leader"` // leader email
	OrganizationID *uuid.UUID `json:"organizationId,omitempty"`
	Members        []string   `json:"members,omitempty"`
}
