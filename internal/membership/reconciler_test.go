package membership

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewsync/backend/internal/models"
)

func TestReconcile_DrainsInvitationsAndUpdates(t *testing.T) {
	ctx := context.Background()
	_, rec, dir, ob, ag, _ := newTestService()
	bob := dir.addProfile("b@example.com", "Bob")

	orgID := uuid.New()
	teamID := uuid.New()
	staleTeamID := uuid.New()
	bob.Metadata.UpsertTeam(models.Team{ID: staleTeamID, Name: "Old Name", Leader: "a@example.com"})

	require.NoError(t, ob.UpsertInvitation(ctx, &models.Invitation{
		Recipient: "b@example.com", EntityID: orgID, Type: models.TypeOrganization,
		Name: "One Book Canada", TeamID: &teamID, VerificationCode: "code1",
	}))
	require.NoError(t, ob.UpsertUpdate(ctx, &models.Update{
		Recipient: "b@example.com", EntityID: staleTeamID, Type: models.TypeTeam,
		Data: models.UpdateData{Team: &models.Team{ID: staleTeamID, Name: "New Name", Leader: "a@example.com"}},
	}))

	profile, err := rec.Reconcile(ctx, "B@Example.com")
	require.NoError(t, err)

	// The stale team copy is replaced and the invitation becomes an rsvp
	// plus an unverified membership marker.
	assert.Equal(t, "New Name", profile.Metadata.TeamByID(staleTeamID).Name)
	require.Len(t, profile.Metadata.RSVPs, 1)
	assert.Equal(t, orgID, profile.Metadata.RSVPs[0].UUID)
	assert.Equal(t, "code1", profile.Metadata.RSVPs[0].VerificationCode)
	require.Len(t, profile.Metadata.OrgMemberships, 1)
	assert.False(t, profile.Metadata.OrgMemberships[0].Verified())

	// One batched write, consumed rows gone, snapshot cached.
	assert.Equal(t, []string{bob.ID}, dir.writes)
	assert.Empty(t, ob.invitations)
	assert.Empty(t, ob.updates)
	assert.NotNil(t, ag.cached["b@example.com"])
}

func TestReconcile_EmptyOutboxSkipsWrite(t *testing.T) {
	ctx := context.Background()
	_, rec, dir, _, ag, _ := newTestService()
	dir.addProfile("b@example.com", "Bob")

	profile, err := rec.Reconcile(ctx, "b@example.com")
	require.NoError(t, err)
	assert.Empty(t, dir.writes, "nothing pending means no directory write")
	assert.NotNil(t, profile)
	assert.NotNil(t, ag.cached["b@example.com"])
}

func TestReconcile_ProvisionsMissingProfile(t *testing.T) {
	ctx := context.Background()
	_, rec, _, ob, ag, _ := newTestService()
	ag.agents["b@example.com"] = &models.Agent{ID: uuid.New(), Email: "b@example.com", Name: "Bob"}

	teamID := uuid.New()
	require.NoError(t, ob.UpsertInvitation(ctx, &models.Invitation{
		Recipient: "b@example.com", EntityID: teamID, Type: models.TypeTeam, Name: "Vancouver Warriors",
	}))

	profile, err := rec.Reconcile(ctx, "b@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Bob", profile.Name, "profile created from the local agent record")
	require.Len(t, profile.Metadata.RSVPs, 1)
	assert.Empty(t, profile.Metadata.OrgMemberships, "team invitations carry no verification code")
	assert.Empty(t, ob.invitations)
}

func TestReconcile_UnmatchedUpdateConsumedSilently(t *testing.T) {
	ctx := context.Background()
	_, rec, dir, ob, _, _ := newTestService()
	dir.addProfile("b@example.com", "Bob")

	// The entity was already removed from the profile through another path.
	goneID := uuid.New()
	require.NoError(t, ob.UpsertUpdate(ctx, &models.Update{
		Recipient: "b@example.com", EntityID: goneID, Type: models.TypeTeam,
		Data: models.UpdateData{Team: &models.Team{ID: goneID, Name: "Ghost", Leader: "a@example.com"}},
	}))

	profile, err := rec.Reconcile(ctx, "b@example.com")
	require.NoError(t, err)
	assert.Empty(t, profile.Metadata.Teams, "an update never resurrects a deleted entry")
	assert.Empty(t, ob.updates, "the row is consumed all the same")
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	_, rec, dir, ob, _, _ := newTestService()
	dir.addProfile("b@example.com", "Bob")

	orgID := uuid.New()
	teamID := uuid.New()
	inv := models.Invitation{
		Recipient: "b@example.com", EntityID: orgID, Type: models.TypeOrganization,
		Name: "One Book Canada", TeamID: &teamID, VerificationCode: "code1",
	}
	require.NoError(t, ob.UpsertInvitation(ctx, &inv))

	first, err := rec.Reconcile(ctx, "b@example.com")
	require.NoError(t, err)

	// A failed row deletion leaves the same row for the next login; applying
	// it again must not change the profile.
	redelivered := inv
	redelivered.ID = uuid.Nil
	require.NoError(t, ob.UpsertInvitation(ctx, &redelivered))

	second, err := rec.Reconcile(ctx, "b@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.Metadata, second.Metadata)
	require.Len(t, second.Metadata.RSVPs, 1)
	require.Len(t, second.Metadata.OrgMemberships, 1)
}

func TestReconcile_RemovalTombstone(t *testing.T) {
	ctx := context.Background()
	_, rec, dir, ob, _, _ := newTestService()
	bob := dir.addProfile("b@example.com", "Bob")

	orgID := uuid.New()
	bob.Metadata.UpsertOrganization(models.Organization{ID: orgID, Name: "One Book Canada", Organizer: "a@example.com"})
	bob.Metadata.OrgMemberships = []models.OrganizationMember{{OrganizationID: orgID}}
	require.NoError(t, ob.UpsertUpdate(ctx, &models.Update{
		Recipient: "b@example.com", EntityID: orgID, Type: models.TypeOrganization,
		Data: models.UpdateData{Removed: true},
	}))

	profile, err := rec.Reconcile(ctx, "b@example.com")
	require.NoError(t, err)
	assert.Empty(t, profile.Metadata.Organizations)
	assert.Empty(t, profile.Metadata.OrgMemberships)
	assert.Empty(t, ob.updates)
}
