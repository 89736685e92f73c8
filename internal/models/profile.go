package models

import (
	"github.com/google/uuid"
)

// Entity types used across profiles and the outbox.
const (
	TypeOrganization = "organization"
	TypeTeam         = "team"
)

// Profile is one agent's record in the identity directory, including the
// embedded organization/team membership metadata. The directory is the source
// of truth for membership once synchronized; local rows only cache it.
type Profile struct {
	ID       string   `json:"id"` // directory identifier, e.g. "dir|5f7a9c..."
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Metadata Metadata `json:"metadata"`
}

// Metadata is the denormalized membership block embedded in a profile.
// Every list entry is keyed by entity UUID; there are no relational rows for
// organizations or teams anywhere.
type Metadata struct {
	Organizations      []Organization       `json:"organizations,omitempty"`
	OrgMemberships     []OrganizationMember `json:"orgMemberships,omitempty"`
	Teams              []Team               `json:"teams,omitempty"`
	PendingInvitations []PendingInvitation  `json:"pendingInvitations,omitempty"`
	RSVPs              []PendingInvitation  `json:"rsvps,omitempty"`
}

// PendingInvitation marks an offered membership that has not been accepted.
// On the sender's profile it lives in pendingInvitations; on the recipient's
// profile the same shape lives in rsvps. TeamID is set iff Type is
// organization (organization membership is granted through one of its teams).
type PendingInvitation struct {
	UUID             uuid.UUID  `json:"uuid"`
	Type             string     `json:"type"` // organization | team
	Name             string     `json:"name"`
	Recipient        string     `json:"recipient"`
	TeamID           *uuid.UUID `json:"teamId,omitempty"`
	VerificationCode string     `json:"verificationCode,omitempty"`
}

// OrganizationByID returns the organizations entry with the given id, or nil.
func (m *Metadata) OrganizationByID(id uuid.UUID) *Organization {
	for i := range m.Organizations {
		if m.Organizations[i].ID == id {
			return &m.Organizations[i]
		}
	}
	return nil
}

// TeamByID returns the teams entry with the given id, or nil.
func (m *Metadata) TeamByID(id uuid.UUID) *Team {
	for i := range m.Teams {
		if m.Teams[i].ID == id {
			return &m.Teams[i]
		}
	}
	return nil
}

// UpsertOrganization replaces the entry with org's id or appends it.
func (m *Metadata) UpsertOrganization(org Organization) {
	for i := range m.Organizations {
		if m.Organizations[i].ID == org.ID {
			m.Organizations[i] = org
			return
		}
	}
	m.Organizations = append(m.Organizations, org)
}

// RemoveOrganization deletes the entry with the given id, along with any
// membership marker for it. Returns true if anything was removed.
func (m *Metadata) RemoveOrganization(id uuid.UUID) bool {
	removed := false
	orgs := m.Organizations[:0]
	for _, o := range m.Organizations {
		if o.ID == id {
			removed = true
			continue
		}
		orgs = append(orgs, o)
	}
	m.Organizations = orgs

	marks := m.OrgMemberships[:0]
	for _, mm := range m.OrgMemberships {
		if mm.OrganizationID == id {
			removed = true
			continue
		}
		marks = append(marks, mm)
	}
	m.OrgMemberships = marks
	return removed
}

// UpsertTeam replaces the entry with team's id or appends it.
func (m *Metadata) UpsertTeam(team Team) {
	for i := range m.Teams {
		if m.Teams[i].ID == team.ID {
			m.Teams[i] = team
			return
		}
	}
	m.Teams = append(m.Teams, team)
}

// RemoveTeam deletes the entry with the given id. Returns true if removed.
func (m *Metadata) RemoveTeam(id uuid.UUID) bool {
	removed := false
	teams := m.Teams[:0]
	for _, t := range m.Teams {
		if t.ID == id {
			removed = true
			continue
		}
		teams = append(teams, t)
	}
	m.Teams = teams
	return removed
}

// UpsertRSVP replaces the rsvp with the same uuid or appends it. Re-applying
// the same invitation is a no-op, which keeps reconciliation idempotent.
func (m *Metadata) UpsertRSVP(inv PendingInvitation) {
	for i := range m.RSVPs {
		if m.RSVPs[i].UUID == inv.UUID {
			m.RSVPs[i] = inv
			return
		}
	}
	m.RSVPs = append(m.RSVPs, inv)
}

// RemoveRSVP deletes the rsvp with the given uuid. Returns true if removed.
func (m *Metadata) RemoveRSVP(id uuid.UUID) bool {
	removed := false
	rsvps := m.RSVPs[:0]
	for _, r := range m.RSVPs {
		if r.UUID == id {
			removed = true
			continue
		}
		rsvps = append(rsvps, r)
	}
	m.RSVPs = rsvps
	return removed
}

// UpsertPendingInvitation replaces the sender-side marker with the same
// (uuid, recipient) pair or appends it.
func (m *Metadata) UpsertPendingInvitation(inv PendingInvitation) {
	for i := range m.PendingInvitations {
		if m.PendingInvitations[i].UUID == inv.UUID && m.PendingInvitations[i].Recipient == inv.Recipient {
			m.PendingInvitations[i] = inv
			return
		}
	}
	m.PendingInvitations = append(m.PendingInvitations, inv)
}

// RemovePendingInvitation deletes the sender-side marker for (uuid, recipient).
func (m *Metadata) RemovePendingInvitation(id uuid.UUID, recipient string) bool {
	removed := false
	out := m.PendingInvitations[:0]
	for _, p := range m.PendingInvitations {
		if p.UUID == id && p.Recipient == recipient {
			removed = true
			continue
		}
		out = append(out, p)
	}
	m.PendingInvitations = out
	return removed
}

// PendingRecipientsFor returns the recipient emails of all sender-side
// markers referencing the entity.
func (m *Metadata) PendingRecipientsFor(id uuid.UUID) []string {
	var out []string
	for _, p := range m.PendingInvitations {
		if p.UUID == id {
			out = append(out, p.Recipient)
		}
	}
	return out
}

// RenameEntity rewrites the name of every embedded reference to the entity:
// the entity list entry itself plus any pending invitation or rsvp markers.
// Returns true if any entry changed.
func (m *Metadata) RenameEntity(entityType string, id uuid.UUID, name string) bool {
	changed := false
	switch entityType {
	case TypeOrganization:
		for i := range m.Organizations {
			if m.Organizations[i].ID == id && m.Organizations[i].Name != name {
				m.Organizations[i].Name = name
				changed = true
			}
		}
	case TypeTeam:
		for i := range m.Teams {
			if m.Teams[i].ID == id && m.Teams[i].Name != name {
				m.Teams[i].Name = name
				changed = true
			}
		}
	}
	for i := range m.PendingInvitations {
		if m.PendingInvitations[i].UUID == id && m.PendingInvitations[i].Name != name {
			m.PendingInvitations[i].Name = name
			changed = true
		}
	}
	for i := range m.RSVPs {
		if m.RSVPs[i].UUID == id && m.RSVPs[i].Name != name {
			m.RSVPs[i].Name = name
			changed = true
		}
	}
	return changed
}

// References reports whether the metadata holds any embedded reference to the
// entity (entity list, membership marker, pending invitation, or rsvp).
func (m *Metadata) References(id uuid.UUID) bool {
	for _, o := range m.Organizations {
		if o.ID == id {
			return true
		}
	}
	for _, mm := range m.OrgMemberships {
		if mm.OrganizationID == id {
			return true
		}
	}
	for _, t := range m.Teams {
		if t.ID == id {
			return true
		}
		if t.OrganizationID != nil && *t.OrganizationID == id {
			return true
		}
	}
	for _, p := range m.PendingInvitations {
		if p.UUID == id {
			return true
		}
	}
	for _, r := range m.RSVPs {
		if r.UUID == id {
			return true
		}
	}
	return false
}
