package models

import (
	"time"

	"github.com/google/uuid"
)

// Invitation is a durable outbox row offering a net-new membership to a
// recipient whose profile could not be written synchronously. Unique on
// (recipient, entity id). TeamID is required iff Type is organization.
type Invitation struct {
	ID               uuid.UUID  `json:"id"`
	Recipient        string     `json:"recipient"`
	EntityID         uuid.UUID  `json:"entity_id"`
	Type             string     `json:"type"` // organization | team
	Name             string     `json:"name"`
	TeamID           *uuid.UUID `json:"team_id,omitempty"`
	VerificationCode string     `json:"verification_code,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ToPending converts the row into the rsvp entry the reconciler folds into
// the recipient's profile.
func (i Invitation) ToPending() PendingInvitation {
	return PendingInvitation{
		UUID:             i.EntityID,
		Type:             i.Type,
		Name:             i.Name,
		Recipient:        i.Recipient,
		TeamID:           i.TeamID,
		VerificationCode: i.VerificationCode,
	}
}

// Update is a durable outbox row carrying the current snapshot of a changed
// entity for a recipient whose stale copy could not be rewritten
// synchronously. Unique on (recipient, entity id); a newer Update for the
// same pair overwrites the stored data (last-writer-wins).
type Update struct {
	ID        uuid.UUID  `json:"id"`
	Recipient string     `json:"recipient"`
	EntityID  uuid.UUID  `json:"entity_id"`
	Type      string     `json:"type"`
	Data      UpdateData `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// UpdateData is the snapshot stored on an Update row. Removed signals that
// the recipient is no longer part of the entity's roster and its embedded
// copy should be deleted instead of replaced.
type UpdateData struct {
	Organization *Organization `json:"organization,omitempty"`
	Team         *Team         `json:"team,omitempty"`
	Removed      bool          `json:"removed,omitempty"`
}

// Apply merges the update into the metadata. A replace only touches entries
// that already exist; when nothing references the entity the update is a
// no-op and the caller simply drops the row. Applying the same update twice
// yields the same metadata as applying it once.
func (u Update) Apply(m *Metadata) bool {
	if u.Data.Removed {
		changed := false
		switch u.Type {
		case TypeOrganization:
			changed = m.RemoveOrganization(u.EntityID)
		case TypeTeam:
			changed = m.RemoveTeam(u.EntityID)
		}
		if m.RemoveRSVP(u.EntityID) {
			changed = true
		}
		return changed
	}

	changed := false
	name := ""
	switch u.Type {
	case TypeOrganization:
		if u.Data.Organization == nil {
			return false
		}
		name = u.Data.Organization.Name
		if cur := m.OrganizationByID(u.EntityID); cur != nil {
			changed = cur.Name != name
			m.UpsertOrganization(*u.Data.Organization)
		}
	case TypeTeam:
		if u.Data.Team == nil {
			return false
		}
		name = u.Data.Team.Name
		if cur := m.TeamByID(u.EntityID); cur != nil {
			changed = cur.Name != name
			m.UpsertTeam(*u.Data.Team)
		}
	default:
		return false
	}
	if m.RenameEntity(u.Type, u.EntityID, name) {
		changed = true
	}
	return changed
}
