package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/crewsync/backend/internal/directory"
	"github.com/crewsync/backend/internal/models"
)

// Reconciler drains outbox rows addressed to an agent and folds them into
// that agent's directory profile. It runs once per newly established
// session, before any route logic, and is the only path by which deferred
// mutations reach a profile. Row lifecycle: pending -> consumed on next
// login -> deleted.
type Reconciler struct {
	dir    directory.Client
	outbox OutboxStore
	agents AgentStore
	logger *zap.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(dir directory.Client, ob OutboxStore, ag AgentStore, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{dir: dir, outbox: ob, agents: ag, logger: logger}
}

// Reconcile applies every pending outbox row for the email in one batched
// directory write and deletes the consumed rows. Row deletion after a
// successful write is best-effort: a retried run re-applies the same merges,
// which are idempotent, so a failed deletion only costs a redundant write on
// the next login.
func (r *Reconciler) Reconcile(ctx context.Context, email string) (*models.Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	invitations, err := r.outbox.ListInvitationsFor(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("list invitations for %s: %w", email, err)
	}
	updates, err := r.outbox.ListUpdatesFor(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("list updates for %s: %w", email, err)
	}

	profile, err := r.dir.GetProfileByEmail(ctx, email)
	if errors.Is(err, directory.ErrNotFound) {
		name := ""
		if agent, aerr := r.agents.GetByEmail(ctx, email); aerr == nil {
			name = agent.Name
		}
		profile, err = r.dir.CreateProfile(ctx, email, name)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch profile %s: %w", email, err)
	}

	if len(invitations) == 0 && len(updates) == 0 {
		r.cacheProfile(ctx, email, profile)
		return profile, nil
	}

	// A row whose update matches nothing means the profile already reflects
	// the change through another path; it is consumed all the same.
	for _, up := range updates {
		up.Apply(&profile.Metadata)
	}
	for _, inv := range invitations {
		profile.Metadata.UpsertRSVP(inv.ToPending())
		if inv.Type == models.TypeOrganization && inv.VerificationCode != "" {
			r.upsertMembershipMarker(profile, inv)
		}
	}

	updated, err := r.dir.UpdateMetadata(ctx, profile.ID, profile.Metadata)
	if err != nil {
		return nil, fmt.Errorf("write reconciled profile %s: %w", email, err)
	}

	for _, up := range updates {
		if err := r.outbox.DeleteUpdate(ctx, up.Recipient, up.EntityID); err != nil {
			r.logger.Warn("delete consumed update row", zap.Error(err),
				zap.String("recipient", up.Recipient), zap.String("entity_id", up.EntityID.String()))
		}
	}
	for _, inv := range invitations {
		if err := r.outbox.DeleteInvitation(ctx, inv.Recipient, inv.EntityID); err != nil {
			r.logger.Warn("delete consumed invitation row", zap.Error(err),
				zap.String("recipient", inv.Recipient), zap.String("entity_id", inv.EntityID.String()))
		}
	}

	r.logger.Info("outbox reconciled",
		zap.String("email", email),
		zap.Int("invitations", len(invitations)),
		zap.Int("updates", len(updates)))

	r.cacheProfile(ctx, email, updated)
	return updated, nil
}

func (r *Reconciler) upsertMembershipMarker(profile *models.Profile, inv models.Invitation) {
	for i := range profile.Metadata.OrgMemberships {
		if profile.Metadata.OrgMemberships[i].OrganizationID == inv.EntityID {
			if !profile.Metadata.OrgMemberships[i].Verified() {
				profile.Metadata.OrgMemberships[i].VerificationCode = inv.VerificationCode
			}
			return
		}
	}
	profile.Metadata.OrgMemberships = append(profile.Metadata.OrgMemberships, models.OrganizationMember{
		OrganizationID:   inv.EntityID,
		VerificationCode: inv.VerificationCode,
	})
}

func (r *Reconciler) cacheProfile(ctx context.Context, email string, p *models.Profile) {
	if err := r.agents.UpdateCachedProfile(ctx, email, p); err != nil {
		r.logger.Warn("cache reconciled profile", zap.Error(err), zap.String("email", email))
	}
}
