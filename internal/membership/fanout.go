package membership

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewsync/backend/internal/models"
)

// propagate applies an entity change across every affected profile. The
// owner's profile is the primary write and aborts the operation on failure;
// every other profile fetched in this request is merged and written
// individually, falling back to an Update outbox row when its write fails.
// Affected agents with no fetched profile get an Update row outright, and
// pending Invitation rows have their stored name refreshed to match.
func (s *Service) propagate(ctx context.Context, entityType string, id uuid.UUID, name string,
	data models.UpdateData, ownerEmail string, profiles []*models.Profile, affected []string) error {

	owner := findProfile(profiles, ownerEmail)
	if owner == nil {
		return &NotFoundError{Message: "No such " + entityType}
	}

	primary := models.Update{EntityID: id, Type: entityType, Data: data}
	primary.Apply(&owner.Metadata)
	switch entityType {
	case models.TypeOrganization:
		owner.Metadata.UpsertOrganization(*data.Organization)
	case models.TypeTeam:
		owner.Metadata.UpsertTeam(*data.Team)
	}
	updated, err := s.dir.UpdateMetadata(ctx, owner.ID, owner.Metadata)
	if err != nil {
		return fmt.Errorf("write %s profile: %w", entityType, err)
	}
	s.cacheProfile(ctx, owner.Email, updated)

	written := map[string]struct{}{strings.ToLower(owner.Email): {}}
	for _, p := range profiles {
		key := strings.ToLower(p.Email)
		if _, done := written[key]; done {
			continue
		}
		written[key] = struct{}{}

		secondary := models.Update{Recipient: p.Email, EntityID: id, Type: entityType, Data: data}
		if !secondary.Apply(&p.Metadata) {
			continue
		}
		if _, err := s.dir.UpdateMetadata(ctx, p.ID, p.Metadata); err != nil {
			// Secondary failures never roll back the primary write; the
			// recipient stays unreconciled until their next login.
			s.logger.Warn("secondary profile write failed, deferring to outbox",
				zap.Error(err), zap.String("email", p.Email), zap.String("entity_id", id.String()))
			if err := s.outbox.UpsertUpdate(ctx, &secondary); err != nil {
				return fmt.Errorf("queue fallback update: %w", err)
			}
		}
	}

	for _, email := range affected {
		if _, done := written[strings.ToLower(email)]; done {
			continue
		}
		up := models.Update{Recipient: email, EntityID: id, Type: entityType, Data: data}
		if err := s.outbox.UpsertUpdate(ctx, &up); err != nil {
			return fmt.Errorf("queue update for %s: %w", email, err)
		}
	}

	if err := s.outbox.RefreshEntityName(ctx, id, name); err != nil {
		return fmt.Errorf("refresh pending invitation names: %w", err)
	}
	return nil
}
