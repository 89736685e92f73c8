package membership

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewsync/backend/internal/models"
)

// TeamResult is a team with its resolved roster and the emails of invitees
// who have not accepted yet.
type TeamResult struct {
	Team    models.Team    `json:"team"`
	Roster  []RosterMember `json:"roster"`
	Pending []string       `json:"pending,omitempty"`
}

// CreateTeam validates the name, checks directory-wide uniqueness, and
// appends the new team to the acting agent's profile. A non-nil orgID
// affiliates the team with an existing organization.
func (s *Service) CreateTeam(ctx context.Context, actorEmail, name string, orgID *uuid.UUID) (*models.Profile, error) {
	name = strings.TrimSpace(name)
	if errs := validateName(name); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	taken, err := s.nameTaken(ctx, models.TypeTeam, name, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, &ValidationError{Errors: []string{"That team is already registered"}}
	}

	if orgID != nil {
		if _, _, err := s.resolveOrganization(ctx, *orgID); err != nil {
			return nil, err
		}
	}

	profile, err := s.profileForEmail(ctx, actorEmail)
	if err != nil {
		return nil, err
	}

	team := models.Team{
		ID:             uuid.New(),
		Name:           name,
		Leader:         profile.Email,
		OrganizationID: orgID,
	}
	profile.Metadata.UpsertTeam(team)

	updated, err := s.dir.UpdateMetadata(ctx, profile.ID, profile.Metadata)
	if err != nil {
		return nil, fmt.Errorf("write leader profile: %w", err)
	}
	s.cacheProfile(ctx, actorEmail, updated)
	return updated, nil
}

// GetTeam returns the team with its resolved roster and outstanding invitees.
func (s *Service) GetTeam(ctx context.Context, id uuid.UUID) (*TeamResult, error) {
	team, profiles, err := s.resolveTeam(ctx, id)
	if err != nil {
		return nil, err
	}
	pending, err := s.pendingRecipients(ctx, id, findProfile(profiles, team.Leader))
	if err != nil {
		return nil, err
	}
	return &TeamResult{
		Team:    *team,
		Roster:  roster(team.Leader, team.Members, profiles),
		Pending: pending,
	}, nil
}

// RenameTeam applies the rename to every profile fetched during roster
// resolution and upserts an Update outbox row per absent member. Only the
// leader or the super agent may rename.
func (s *Service) RenameTeam(ctx context.Context, actorEmail string, id uuid.UUID, newName string) (*TeamResult, error) {
	newName = strings.TrimSpace(newName)
	if errs := validateName(newName); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	team, profiles, err := s.resolveTeam(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.actorMayManage(actorEmail, team.Leader) {
		return nil, &AuthorizationError{Message: "Unauthorized"}
	}

	taken, err := s.nameTaken(ctx, models.TypeTeam, newName, id)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, &ValidationError{Errors: []string{"That team is already registered"}}
	}

	renamed := *team
	renamed.Name = newName
	data := models.UpdateData{Team: &renamed}

	affected := affectedEmails(team.Leader, team.Members, profiles, id)
	if err := s.propagate(ctx, models.TypeTeam, id, newName, data, team.Leader, profiles, affected); err != nil {
		return nil, err
	}

	return &TeamResult{Team: renamed, Roster: roster(renamed.Leader, renamed.Members, profiles)}, nil
}

// DeleteTeam removes the team from the leader's profile. Forbidden while any
// invitation is pending or any member besides the leader remains.
func (s *Service) DeleteTeam(ctx context.Context, actorEmail string, id uuid.UUID) error {
	team, profiles, err := s.resolveTeam(ctx, id)
	if err != nil {
		return err
	}
	if !s.actorMayManage(actorEmail, team.Leader) {
		return &AuthorizationError{Message: "Unauthorized"}
	}

	pending, err := s.outbox.CountInvitationsForEntity(ctx, id)
	if err != nil {
		return fmt.Errorf("count pending invitations: %w", err)
	}
	leader := findProfile(profiles, team.Leader)
	if leader != nil && len(leader.Metadata.PendingRecipientsFor(id)) > 0 {
		pending++
	}
	if pending > 0 {
		return &BlockedError{Message: "Team has invitations pending. Cannot delete"}
	}
	if len(removeEmail(team.Members, team.Leader)) > 0 {
		return &BlockedError{Message: "Team still has members. Cannot delete"}
	}

	if leader == nil {
		return &NotFoundError{Message: "No such team"}
	}
	leader.Metadata.RemoveTeam(id)
	updated, err := s.dir.UpdateMetadata(ctx, leader.ID, leader.Metadata)
	if err != nil {
		return fmt.Errorf("write leader profile: %w", err)
	}
	s.cacheProfile(ctx, leader.Email, updated)

	if err := s.outbox.DeleteForEntity(ctx, id); err != nil {
		s.logger.Error("purge outbox rows for deleted team", zap.Error(err), zap.String("team_id", id.String()))
	}
	return nil
}

// AddTeamMember offers team membership to the recipient. Same write
// discipline as the organization variant; team invitations carry no
// verification code.
func (s *Service) AddTeamMember(ctx context.Context, actorEmail string, teamID uuid.UUID, recipientEmail string) (*MemberResult, error) {
	recipient := strings.ToLower(strings.TrimSpace(recipientEmail))
	if recipient == "" {
		return nil, &ValidationError{Errors: []string{"Email can't be blank"}}
	}

	team, profiles, err := s.resolveTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if !s.actorMayManage(actorEmail, team.Leader) {
		return nil, &AuthorizationError{Message: "Unauthorized"}
	}

	if containsEmail(team.Members, recipient) {
		return &MemberResult{
			Message:       fmt.Sprintf("%s is already a member of %s", recipient, team.Name),
			AlreadyMember: true,
		}, nil
	}

	if _, err := s.agents.Provision(ctx, recipient, ""); err != nil {
		return nil, fmt.Errorf("provision agent: %w", err)
	}

	leader := findProfile(profiles, team.Leader)
	if leader == nil {
		return nil, &NotFoundError{Message: "No such team"}
	}
	updatedTeam := *team
	updatedTeam.Members = append(append([]string{}, team.Members...), recipient)
	leader.Metadata.UpsertTeam(updatedTeam)
	pending := models.PendingInvitation{
		UUID:      teamID,
		Type:      models.TypeTeam,
		Name:      team.Name,
		Recipient: recipient,
	}
	leader.Metadata.UpsertPendingInvitation(pending)

	updated, err := s.dir.UpdateMetadata(ctx, leader.ID, leader.Metadata)
	if err != nil {
		return nil, fmt.Errorf("write leader profile: %w", err)
	}
	s.cacheProfile(ctx, leader.Email, updated)

	// A re-invite supersedes any queued removal for this pair.
	if err := s.outbox.DeleteUpdate(ctx, recipient, teamID); err != nil {
		return nil, fmt.Errorf("clear pending removal: %w", err)
	}

	if invitee := findProfile(profiles, recipient); invitee != nil {
		invitee.Metadata.UpsertRSVP(pending)
		if _, err := s.dir.UpdateMetadata(ctx, invitee.ID, invitee.Metadata); err != nil {
			s.logger.Warn("synchronous invitee write failed, deferring to outbox",
				zap.Error(err), zap.String("recipient", recipient))
			if err := s.upsertInvitationRow(ctx, pending, ""); err != nil {
				return nil, err
			}
		}
	} else {
		if err := s.upsertInvitationRow(ctx, pending, ""); err != nil {
			return nil, err
		}
	}

	result := &MemberResult{Profile: updated, Message: fmt.Sprintf("Invitation sent to %s", recipient)}
	if err := s.mail.SendInvitation(recipient, models.TypeTeam, team.Name, ""); err != nil {
		s.logger.Error("invitation email failed", zap.Error(err), zap.String("recipient", recipient))
		result.MailWarning = "Invitation saved but the notification email could not be sent"
	}
	return result, nil
}

// RemoveTeamMember strikes the roster entry from the leader's profile
// synchronously and defers the member-side strike to the outbox when their
// profile was not fetched in this request.
func (s *Service) RemoveTeamMember(ctx context.Context, actorEmail string, teamID uuid.UUID, recipientEmail string) (*MemberResult, error) {
	recipient := strings.ToLower(strings.TrimSpace(recipientEmail))

	team, profiles, err := s.resolveTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if !s.actorMayManage(actorEmail, team.Leader) {
		return nil, &AuthorizationError{Message: "Unauthorized"}
	}
	if !containsEmail(team.Members, recipient) {
		return nil, &NotFoundError{Message: fmt.Sprintf("%s is not a member of %s", recipient, team.Name)}
	}

	leader := findProfile(profiles, team.Leader)
	if leader == nil {
		return nil, &NotFoundError{Message: "No such team"}
	}
	updatedTeam := *team
	updatedTeam.Members = removeEmail(team.Members, recipient)
	leader.Metadata.UpsertTeam(updatedTeam)
	leader.Metadata.RemovePendingInvitation(teamID, recipient)

	updated, err := s.dir.UpdateMetadata(ctx, leader.ID, leader.Metadata)
	if err != nil {
		return nil, fmt.Errorf("write leader profile: %w", err)
	}
	s.cacheProfile(ctx, leader.Email, updated)

	if err := s.outbox.DeleteInvitation(ctx, recipient, teamID); err != nil {
		return nil, fmt.Errorf("delete invitation row: %w", err)
	}

	if member := findProfile(profiles, recipient); member != nil {
		member.Metadata.RemoveTeam(teamID)
		member.Metadata.RemoveRSVP(teamID)
		if _, err := s.dir.UpdateMetadata(ctx, member.ID, member.Metadata); err != nil {
			s.logger.Warn("synchronous member removal failed, deferring to outbox",
				zap.Error(err), zap.String("recipient", recipient))
			if err := s.upsertRemovalRow(ctx, models.TypeTeam, teamID, recipient); err != nil {
				return nil, err
			}
		}
	} else {
		if err := s.upsertRemovalRow(ctx, models.TypeTeam, teamID, recipient); err != nil {
			return nil, err
		}
	}

	return &MemberResult{Profile: updated, Message: fmt.Sprintf("%s removed from %s", recipient, team.Name)}, nil
}

// AcceptTeamInvitation confirms the acting agent's pending team membership.
func (s *Service) AcceptTeamInvitation(ctx context.Context, actorEmail string, teamID uuid.UUID) (*models.Profile, error) {
	profile, err := s.profileForEmail(ctx, actorEmail)
	if err != nil {
		return nil, err
	}

	found := false
	for _, r := range profile.Metadata.RSVPs {
		if r.UUID == teamID {
			found = true
			break
		}
	}
	if !found {
		return nil, &NotFoundError{Message: "No pending invitation for this team"}
	}

	team, profiles, err := s.resolveTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}

	profile.Metadata.UpsertTeam(*team)
	profile.Metadata.RemoveRSVP(teamID)

	updated, err := s.dir.UpdateMetadata(ctx, profile.ID, profile.Metadata)
	if err != nil {
		return nil, fmt.Errorf("write member profile: %w", err)
	}
	s.cacheProfile(ctx, actorEmail, updated)

	if leader := findProfile(profiles, team.Leader); leader != nil {
		if leader.Metadata.RemovePendingInvitation(teamID, updated.Email) {
			if _, err := s.dir.UpdateMetadata(ctx, leader.ID, leader.Metadata); err != nil {
				s.logger.Warn("leader marker cleanup failed", zap.Error(err),
					zap.String("leader", leader.Email))
			}
		}
	}
	return updated, nil
}

// resolveTeam loads the canonical entity (the leader's copy) and every
// profile referencing it in one directory search.
func (s *Service) resolveTeam(ctx context.Context, id uuid.UUID) (*models.Team, []*models.Profile, error) {
	profiles, err := s.dir.SearchByEntityID(ctx, models.TypeTeam, id)
	if err != nil {
		return nil, nil, fmt.Errorf("search team %s: %w", id, err)
	}

	var canonical *models.Team
	for _, p := range profiles {
		if team := p.Metadata.TeamByID(id); team != nil {
			if strings.EqualFold(team.Leader, p.Email) {
				canonical = team
				break
			}
			if canonical == nil {
				canonical = team
			}
		}
	}
	if canonical == nil {
		return nil, nil, &NotFoundError{Message: "No such team"}
	}
	return canonical, profiles, nil
}

func teamAffiliated(profiles []*models.Profile, teamID, orgID uuid.UUID) bool {
	for _, p := range profiles {
		for _, t := range p.Metadata.Teams {
			if t.ID == teamID && t.OrganizationID != nil && *t.OrganizationID == orgID {
				return true
			}
		}
	}
	return false
}
