package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdate_Apply_ReplacesExistingEntry(t *testing.T) {
	id := uuid.New()
	md := Metadata{
		Organizations: []Organization{{ID: id, Name: "One Book Canada", Organizer: "a@example.com"}},
	}
	up := Update{
		EntityID: id,
		Type:     TypeOrganization,
		Data: UpdateData{Organization: &Organization{
			ID: id, Name: "Two Testaments Bolivia", Organizer: "a@example.com",
		}},
	}

	assert.True(t, up.Apply(&md))
	require.Len(t, md.Organizations, 1)
	assert.Equal(t, "Two Testaments Bolivia", md.Organizations[0].Name)
}

func TestUpdate_Apply_Idempotent(t *testing.T) {
	id := uuid.New()
	md := Metadata{
		Organizations: []Organization{{ID: id, Name: "One Book Canada", Organizer: "a@example.com"}},
		RSVPs:         []PendingInvitation{{UUID: id, Type: TypeOrganization, Name: "One Book Canada", Recipient: "b@example.com"}},
	}
	up := Update{
		EntityID: id,
		Type:     TypeOrganization,
		Data: UpdateData{Organization: &Organization{
			ID: id, Name: "Two Testaments Bolivia", Organizer: "a@example.com",
		}},
	}

	assert.True(t, up.Apply(&md))
	first := md

	// A retried reconciliation applies the same row again.
	assert.False(t, up.Apply(&md))
	assert.Equal(t, first, md)
}

func TestUpdate_Apply_DoesNotResurrectDeletedEntry(t *testing.T) {
	id := uuid.New()
	var md Metadata // profile already reflects deletion via another path
	up := Update{
		EntityID: id,
		Type:     TypeTeam,
		Data:     UpdateData{Team: &Team{ID: id, Name: "Vancouver Warriors", Leader: "b@example.com"}},
	}

	assert.False(t, up.Apply(&md))
	assert.Empty(t, md.Teams)
}

func TestUpdate_Apply_RemovalTombstone(t *testing.T) {
	id := uuid.New()
	md := Metadata{
		Teams: []Team{{ID: id, Name: "Vancouver Warriors", Leader: "b@example.com"}},
		RSVPs: []PendingInvitation{{UUID: id, Type: TypeTeam, Name: "Vancouver Warriors", Recipient: "c@example.com"}},
	}
	up := Update{EntityID: id, Type: TypeTeam, Data: UpdateData{Removed: true}}

	assert.True(t, up.Apply(&md))
	assert.Empty(t, md.Teams)
	assert.Empty(t, md.RSVPs)
	assert.False(t, up.Apply(&md))
}

func TestUpdate_Apply_RenamesPendingMarkersOnly(t *testing.T) {
	id := uuid.New()
	// An invitee holds only an rsvp, no entity entry yet.
	md := Metadata{
		RSVPs: []PendingInvitation{{UUID: id, Type: TypeOrganization, Name: "One Book Canada", Recipient: "c@example.com"}},
	}
	up := Update{
		EntityID: id,
		Type:     TypeOrganization,
		Data: UpdateData{Organization: &Organization{
			ID: id, Name: "Two Testaments Bolivia", Organizer: "a@example.com",
		}},
	}

	assert.True(t, up.Apply(&md))
	assert.Empty(t, md.Organizations, "rsvp holder does not gain a full entity copy")
	assert.Equal(t, "Two Testaments Bolivia", md.RSVPs[0].Name)
}

func TestInvitation_ToPending(t *testing.T) {
	teamID := uuid.New()
	inv := Invitation{
		Recipient:        "b@example.com",
		EntityID:         uuid.New(),
		Type:             TypeOrganization,
		Name:             "One Book Canada",
		TeamID:           &teamID,
		VerificationCode: "abc123",
	}
	p := inv.ToPending()
	assert.Equal(t, inv.EntityID, p.UUID)
	assert.Equal(t, inv.Name, p.Name)
	assert.Equal(t, inv.Recipient, p.Recipient)
	assert.Equal(t, &teamID, p.TeamID)
	assert.Equal(t, "abc123", p.VerificationCode)
}
