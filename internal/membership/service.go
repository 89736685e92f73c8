// Package membership implements the mutation and propagation engine for
// organizations and teams. Entities live denormalized inside directory
// profiles; every multi-profile mutation is a sequence of independent
// writes, so the service writes synchronously to profiles already fetched in
// the current request and defers everything else to the outbox, which the
// reconciler drains at the recipient's next login.
package membership

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewsync/backend/internal/directory"
	"github.com/crewsync/backend/internal/models"
)

const maxNameLength = 128

// OutboxStore persists deferred mutations keyed by (recipient, entity id).
type OutboxStore interface {
	UpsertInvitation(ctx context.Context, inv *models.Invitation) error
	UpsertUpdate(ctx context.Context, up *models.Update) error
	ListInvitationsFor(ctx context.Context, email string) ([]models.Invitation, error)
	ListUpdatesFor(ctx context.Context, email string) ([]models.Update, error)
	ListInvitationsForEntity(ctx context.Context, entityID uuid.UUID) ([]models.Invitation, error)
	CountInvitationsForEntity(ctx context.Context, entityID uuid.UUID) (int, error)
	RefreshEntityName(ctx context.Context, entityID uuid.UUID, name string) error
	DeleteInvitation(ctx context.Context, recipient string, entityID uuid.UUID) error
	DeleteUpdate(ctx context.Context, recipient string, entityID uuid.UUID) error
	DeleteForEntity(ctx context.Context, entityID uuid.UUID) error
}

// AgentStore caches known agents locally.
type AgentStore interface {
	GetByEmail(ctx context.Context, email string) (*models.Agent, error)
	Provision(ctx context.Context, email, name string) (*models.Agent, error)
	UpdateCachedProfile(ctx context.Context, email string, p *models.Profile) error
}

// Mailer dispatches invitation notifications.
type Mailer interface {
	SendInvitation(to, entityType, entityName, code string) error
}

// Service is the membership mutation handler.
type Service struct {
	dir       directory.Client
	outbox    OutboxStore
	agents    AgentStore
	mail      Mailer
	rootEmail string
	logger    *zap.Logger
}

// NewService creates a membership service.
func NewService(dir directory.Client, ob OutboxStore, ag AgentStore, mail Mailer, rootEmail string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{dir: dir, outbox: ob, agents: ag, mail: mail, rootEmail: rootEmail, logger: logger}
}

// RosterMember is one resolved affiliate of an entity.
type RosterMember struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// OrganizationResult is an organization with its resolved roster and the
// emails of invitees who have not accepted yet.
type OrganizationResult struct {
	Organization models.Organization `json:"organization"`
	Roster       []RosterMember      `json:"roster"`
	Pending      []string            `json:"pending,omitempty"`
}

// MemberResult is the outcome of an add/remove member operation.
type MemberResult struct {
	Profile       *models.Profile `json:"profile,omitempty"`
	Message       string          `json:"message,omitempty"`
	AlreadyMember bool            `json:"-"`
	MailWarning   string          `json:"mail_warning,omitempty"`
}

// CreateOrganization validates the name, checks directory-wide uniqueness,
// and appends the new organization to the acting agent's profile. The
// uniqueness check is check-then-act: two concurrent creates can both pass
// it (documented limitation).
func (s *Service) CreateOrganization(ctx context.Context, actorEmail, name string) (*models.Profile, error) {
	name = strings.TrimSpace(name)
	if errs := validateName(name); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	taken, err := s.nameTaken(ctx, models.TypeOrganization, name, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, &ValidationError{Errors: []string{"That organization is already registered"}}
	}

	profile, err := s.profileForEmail(ctx, actorEmail)
	if err != nil {
		return nil, err
	}

	org := models.Organization{
		ID:        uuid.New(),
		Name:      name,
		Organizer: profile.Email,
	}
	profile.Metadata.UpsertOrganization(org)

	updated, err := s.dir.UpdateMetadata(ctx, profile.ID, profile.Metadata)
	if err != nil {
		return nil, fmt.Errorf("write organizer profile: %w", err)
	}
	s.cacheProfile(ctx, actorEmail, updated)
	return updated, nil
}

// GetOrganization returns the organization with its resolved roster,
// alphabetically ordered by member name, plus its outstanding invitees.
func (s *Service) GetOrganization(ctx context.Context, id uuid.UUID) (*OrganizationResult, error) {
	org, profiles, err := s.resolveOrganization(ctx, id)
	if err != nil {
		return nil, err
	}
	pending, err := s.pendingRecipients(ctx, id, findProfile(profiles, org.Organizer))
	if err != nil {
		return nil, err
	}
	return &OrganizationResult{
		Organization: *org,
		Roster:       roster(org.Organizer, org.Members, profiles),
		Pending:      pending,
	}, nil
}

// RenameOrganization applies the rename to every profile fetched during
// roster resolution and upserts an Update outbox row for every pending
// recipient that was not. Only the organizer or the super agent may rename.
func (s *Service) RenameOrganization(ctx context.Context, actorEmail string, id uuid.UUID, newName string) (*OrganizationResult, error) {
	newName = strings.TrimSpace(newName)
	if errs := validateName(newName); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	org, profiles, err := s.resolveOrganization(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.actorMayManage(actorEmail, org.Organizer) {
		return nil, &AuthorizationError{Message: "You are not an organizer"}
	}

	taken, err := s.nameTaken(ctx, models.TypeOrganization, newName, id)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, &ValidationError{Errors: []string{"That organization is already registered"}}
	}

	renamed := *org
	renamed.Name = newName
	data := models.UpdateData{Organization: &renamed}

	affected := affectedEmails(org.Organizer, org.Members, profiles, id)
	if err := s.propagate(ctx, models.TypeOrganization, id, newName, data, org.Organizer, profiles, affected); err != nil {
		return nil, err
	}

	return &OrganizationResult{Organization: renamed, Roster: roster(renamed.Organizer, renamed.Members, profiles)}, nil
}

// DeleteOrganization removes the organization from the organizer's profile.
// Forbidden while any invitation is pending or any team is affiliated; no
// partial mutation is performed on a blocked delete.
func (s *Service) DeleteOrganization(ctx context.Context, actorEmail string, id uuid.UUID) error {
	org, profiles, err := s.resolveOrganization(ctx, id)
	if err != nil {
		return err
	}
	if !s.actorMayManage(actorEmail, org.Organizer) {
		return &AuthorizationError{Message: "You are not an organizer"}
	}

	pending, err := s.outbox.CountInvitationsForEntity(ctx, id)
	if err != nil {
		return fmt.Errorf("count pending invitations: %w", err)
	}
	organizer := findProfile(profiles, org.Organizer)
	if organizer != nil && len(organizer.Metadata.PendingRecipientsFor(id)) > 0 {
		pending++
	}
	if pending > 0 {
		return &BlockedError{Message: "Organization has invitations pending. Cannot delete"}
	}
	for _, p := range profiles {
		for _, t := range p.Metadata.Teams {
			if t.OrganizationID != nil && *t.OrganizationID == id {
				return &BlockedError{Message: "Organization has member teams. Cannot delete"}
			}
		}
	}

	if organizer == nil {
		return &NotFoundError{Message: "No such organization"}
	}
	organizer.Metadata.RemoveOrganization(id)
	updated, err := s.dir.UpdateMetadata(ctx, organizer.ID, organizer.Metadata)
	if err != nil {
		return fmt.Errorf("write organizer profile: %w", err)
	}
	s.cacheProfile(ctx, organizer.Email, updated)

	if err := s.outbox.DeleteForEntity(ctx, id); err != nil {
		s.logger.Error("purge outbox rows for deleted organization", zap.Error(err), zap.String("org_id", id.String()))
	}
	return nil
}

// AddOrganizationMember offers organization membership to the recipient
// through one of the organization's teams. The organizer's profile is
// written synchronously; the invitee gets a synchronous write only if their
// profile was already fetched in this request, otherwise an Invitation
// outbox row. The notification email goes out after the roster write and
// its failure degrades the response without undoing anything.
func (s *Service) AddOrganizationMember(ctx context.Context, actorEmail string, orgID, teamID uuid.UUID, recipientEmail string) (*MemberResult, error) {
	recipient := strings.ToLower(strings.TrimSpace(recipientEmail))
	if recipient == "" {
		return nil, &ValidationError{Errors: []string{"Email can't be blank"}}
	}

	org, profiles, err := s.resolveOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !s.actorMayManage(actorEmail, org.Organizer) {
		return nil, &AuthorizationError{Message: "You are not an organizer"}
	}
	if !teamAffiliated(profiles, teamID, orgID) {
		return nil, &NotFoundError{Message: "No such team"}
	}

	if containsEmail(org.Members, recipient) {
		return &MemberResult{
			Message:       fmt.Sprintf("%s is already a member of %s", recipient, org.Name),
			AlreadyMember: true,
		}, nil
	}

	if _, err := s.agents.Provision(ctx, recipient, ""); err != nil {
		return nil, fmt.Errorf("provision agent: %w", err)
	}

	code, err := generateVerificationCode()
	if err != nil {
		return nil, err
	}

	organizer := findProfile(profiles, org.Organizer)
	if organizer == nil {
		return nil, &NotFoundError{Message: "No such organization"}
	}
	updatedOrg := *org
	updatedOrg.Members = append(append([]string{}, org.Members...), recipient)
	organizer.Metadata.UpsertOrganization(updatedOrg)
	pending := models.PendingInvitation{
		UUID:             orgID,
		Type:             models.TypeOrganization,
		Name:             org.Name,
		Recipient:        recipient,
		TeamID:           &teamID,
		VerificationCode: code,
	}
	organizer.Metadata.UpsertPendingInvitation(pending)

	updated, err := s.dir.UpdateMetadata(ctx, organizer.ID, organizer.Metadata)
	if err != nil {
		return nil, fmt.Errorf("write organizer profile: %w", err)
	}
	s.cacheProfile(ctx, organizer.Email, updated)

	// A re-invite supersedes any queued removal for this pair; otherwise the
	// stale tombstone would erase the fresh grant at the next login.
	if err := s.outbox.DeleteUpdate(ctx, recipient, orgID); err != nil {
		return nil, fmt.Errorf("clear pending removal: %w", err)
	}

	if invitee := findProfile(profiles, recipient); invitee != nil {
		invitee.Metadata.UpsertRSVP(pending)
		invitee.Metadata.OrgMemberships = append(invitee.Metadata.OrgMemberships, models.OrganizationMember{
			OrganizationID:   orgID,
			VerificationCode: code,
		})
		if _, err := s.dir.UpdateMetadata(ctx, invitee.ID, invitee.Metadata); err != nil {
			s.logger.Warn("synchronous invitee write failed, deferring to outbox",
				zap.Error(err), zap.String("recipient", recipient))
			if err := s.upsertInvitationRow(ctx, pending, code); err != nil {
				return nil, err
			}
		}
	} else {
		if err := s.upsertInvitationRow(ctx, pending, code); err != nil {
			return nil, err
		}
	}

	result := &MemberResult{Profile: updated, Message: fmt.Sprintf("Invitation sent to %s", recipient)}
	if err := s.mail.SendInvitation(recipient, models.TypeOrganization, org.Name, code); err != nil {
		s.logger.Error("invitation email failed", zap.Error(err), zap.String("recipient", recipient))
		result.MailWarning = "Invitation saved but the notification email could not be sent"
	}
	return result, nil
}

// RemoveOrganizationMember strikes the roster entry from the organizer's
// profile synchronously and leaves a removal Update for the member unless
// their profile was already fetched in this request.
func (s *Service) RemoveOrganizationMember(ctx context.Context, actorEmail string, orgID uuid.UUID, recipientEmail string) (*MemberResult, error) {
	recipient := strings.ToLower(strings.TrimSpace(recipientEmail))

	org, profiles, err := s.resolveOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !s.actorMayManage(actorEmail, org.Organizer) {
		return nil, &AuthorizationError{Message: "You are not an organizer"}
	}
	if !containsEmail(org.Members, recipient) {
		return nil, &NotFoundError{Message: fmt.Sprintf("%s is not a member of %s", recipient, org.Name)}
	}

	organizer := findProfile(profiles, org.Organizer)
	if organizer == nil {
		return nil, &NotFoundError{Message: "No such organization"}
	}
	updatedOrg := *org
	updatedOrg.Members = removeEmail(org.Members, recipient)
	organizer.Metadata.UpsertOrganization(updatedOrg)
	organizer.Metadata.RemovePendingInvitation(orgID, recipient)

	updated, err := s.dir.UpdateMetadata(ctx, organizer.ID, organizer.Metadata)
	if err != nil {
		return nil, fmt.Errorf("write organizer profile: %w", err)
	}
	s.cacheProfile(ctx, organizer.Email, updated)

	if err := s.outbox.DeleteInvitation(ctx, recipient, orgID); err != nil {
		return nil, fmt.Errorf("delete invitation row: %w", err)
	}

	if member := findProfile(profiles, recipient); member != nil {
		member.Metadata.RemoveOrganization(orgID)
		member.Metadata.RemoveRSVP(orgID)
		if _, err := s.dir.UpdateMetadata(ctx, member.ID, member.Metadata); err != nil {
			s.logger.Warn("synchronous member removal failed, deferring to outbox",
				zap.Error(err), zap.String("recipient", recipient))
			if err := s.upsertRemovalRow(ctx, models.TypeOrganization, orgID, recipient); err != nil {
				return nil, err
			}
		}
	} else {
		if err := s.upsertRemovalRow(ctx, models.TypeOrganization, orgID, recipient); err != nil {
			return nil, err
		}
	}

	return &MemberResult{Profile: updated, Message: fmt.Sprintf("%s removed from %s", recipient, org.Name)}, nil
}

// AcceptOrganizationInvitation confirms the acting agent's pending
// organization membership: the verification code on the membership marker is
// cleared, the rsvp becomes a read-only organization copy, and the
// organizer's sender-side marker is struck where reachable.
func (s *Service) AcceptOrganizationInvitation(ctx context.Context, actorEmail string, orgID uuid.UUID, code string) (*models.Profile, error) {
	profile, err := s.profileForEmail(ctx, actorEmail)
	if err != nil {
		return nil, err
	}

	var rsvp *models.PendingInvitation
	for i := range profile.Metadata.RSVPs {
		if profile.Metadata.RSVPs[i].UUID == orgID {
			rsvp = &profile.Metadata.RSVPs[i]
		}
	}
	if rsvp == nil {
		return nil, &NotFoundError{Message: "No pending invitation for this organization"}
	}
	if rsvp.VerificationCode != "" && rsvp.VerificationCode != code {
		return nil, &AuthorizationError{Message: "Unauthorized"}
	}

	org, profiles, err := s.resolveOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	profile.Metadata.UpsertOrganization(*org)
	profile.Metadata.RemoveRSVP(orgID)
	cleared := false
	for i := range profile.Metadata.OrgMemberships {
		if profile.Metadata.OrgMemberships[i].OrganizationID == orgID {
			profile.Metadata.OrgMemberships[i].VerificationCode = ""
			cleared = true
		}
	}
	if !cleared {
		profile.Metadata.OrgMemberships = append(profile.Metadata.OrgMemberships,
			models.OrganizationMember{OrganizationID: orgID})
	}

	updated, err := s.dir.UpdateMetadata(ctx, profile.ID, profile.Metadata)
	if err != nil {
		return nil, fmt.Errorf("write member profile: %w", err)
	}
	s.cacheProfile(ctx, actorEmail, updated)

	if organizer := findProfile(profiles, org.Organizer); organizer != nil {
		if organizer.Metadata.RemovePendingInvitation(orgID, updated.Email) {
			if _, err := s.dir.UpdateMetadata(ctx, organizer.ID, organizer.Metadata); err != nil {
				s.logger.Warn("organizer marker cleanup failed", zap.Error(err),
					zap.String("organizer", organizer.Email))
			}
		}
	}
	return updated, nil
}

// resolveOrganization loads the canonical entity (the organizer's copy) and
// every profile referencing it in one directory search.
func (s *Service) resolveOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, []*models.Profile, error) {
	profiles, err := s.dir.SearchByEntityID(ctx, models.TypeOrganization, id)
	if err != nil {
		return nil, nil, fmt.Errorf("search organization %s: %w", id, err)
	}

	var canonical *models.Organization
	for _, p := range profiles {
		if org := p.Metadata.OrganizationByID(id); org != nil {
			if strings.EqualFold(org.Organizer, p.Email) {
				canonical = org
				break
			}
			if canonical == nil {
				canonical = org
			}
		}
	}
	if canonical == nil {
		return nil, nil, &NotFoundError{Message: "No such organization"}
	}
	return canonical, profiles, nil
}

func (s *Service) actorMayManage(actorEmail, ownerEmail string) bool {
	if strings.EqualFold(actorEmail, ownerEmail) {
		return true
	}
	return s.rootEmail != "" && strings.EqualFold(actorEmail, s.rootEmail)
}

// nameTaken reports whether any directory profile holds an entity of the
// given type with the name, ignoring the entity with selfID.
func (s *Service) nameTaken(ctx context.Context, entityType, name string, selfID uuid.UUID) (bool, error) {
	profiles, err := s.dir.SearchByEntityName(ctx, entityType, name)
	if err != nil {
		return false, fmt.Errorf("search %s by name: %w", entityType, err)
	}
	for _, p := range profiles {
		switch entityType {
		case models.TypeOrganization:
			for _, o := range p.Metadata.Organizations {
				if strings.EqualFold(o.Name, name) && o.ID != selfID {
					return true, nil
				}
			}
		case models.TypeTeam:
			for _, t := range p.Metadata.Teams {
				if strings.EqualFold(t.Name, name) && t.ID != selfID {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

// profileForEmail fetches the acting agent's directory profile, provisioning
// one if the agent has never been written to the directory.
func (s *Service) profileForEmail(ctx context.Context, email string) (*models.Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	profile, err := s.dir.GetProfileByEmail(ctx, email)
	if errors.Is(err, directory.ErrNotFound) {
		name := ""
		if agent, aerr := s.agents.GetByEmail(ctx, email); aerr == nil {
			name = agent.Name
		}
		profile, err = s.dir.CreateProfile(ctx, email, name)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch profile %s: %w", email, err)
	}
	return profile, nil
}

// pendingRecipients merges the entity's invitation outbox rows with the
// owner-side markers into one deduplicated, sorted invitee list.
func (s *Service) pendingRecipients(ctx context.Context, id uuid.UUID, owner *models.Profile) ([]string, error) {
	rows, err := s.outbox.ListInvitationsForEntity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list pending invitations: %w", err)
	}
	set := make(map[string]struct{}, len(rows))
	for _, inv := range rows {
		set[strings.ToLower(inv.Recipient)] = struct{}{}
	}
	if owner != nil {
		for _, rec := range owner.Metadata.PendingRecipientsFor(id) {
			set[strings.ToLower(rec)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Service) cacheProfile(ctx context.Context, email string, p *models.Profile) {
	if err := s.agents.UpdateCachedProfile(ctx, email, p); err != nil {
		s.logger.Warn("cache profile", zap.Error(err), zap.String("email", email))
	}
}

func (s *Service) upsertInvitationRow(ctx context.Context, pending models.PendingInvitation, code string) error {
	inv := &models.Invitation{
		Recipient:        pending.Recipient,
		EntityID:         pending.UUID,
		Type:             pending.Type,
		Name:             pending.Name,
		TeamID:           pending.TeamID,
		VerificationCode: code,
	}
	if err := s.outbox.UpsertInvitation(ctx, inv); err != nil {
		return fmt.Errorf("queue invitation: %w", err)
	}
	return nil
}

func (s *Service) upsertRemovalRow(ctx context.Context, entityType string, entityID uuid.UUID, recipient string) error {
	up := &models.Update{
		Recipient: recipient,
		EntityID:  entityID,
		Type:      entityType,
		Data:      models.UpdateData{Removed: true},
	}
	if err := s.outbox.UpsertUpdate(ctx, up); err != nil {
		return fmt.Errorf("queue removal update: %w", err)
	}
	return nil
}

func validateName(name string) []string {
	var errs []string
	if name == "" {
		errs = append(errs, "Name can't be blank")
	}
	if len(name) > maxNameLength {
		errs = append(errs, "Name is too long (max 128 characters)")
	}
	return errs
}

func generateVerificationCode() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func findProfile(profiles []*models.Profile, email string) *models.Profile {
	for _, p := range profiles {
		if strings.EqualFold(p.Email, email) {
			return p
		}
	}
	return nil
}

func containsEmail(list []string, email string) bool {
	for _, e := range list {
		if strings.EqualFold(e, email) {
			return true
		}
	}
	return false
}

func removeEmail(list []string, email string) []string {
	out := make([]string, 0, len(list))
	for _, e := range list {
		if !strings.EqualFold(e, email) {
			out = append(out, e)
		}
	}
	return out
}

// roster resolves the owner plus members against the fetched profiles,
// alphabetically ordered by member name with email as tie break.
func roster(owner string, members []string, profiles []*models.Profile) []RosterMember {
	emails := append([]string{owner}, members...)
	seen := make(map[string]struct{}, len(emails))
	var out []RosterMember
	for _, email := range emails {
		key := strings.ToLower(email)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		name := email
		if p := findProfile(profiles, email); p != nil && p.Name != "" {
			name = p.Name
		}
		out = append(out, RosterMember{Name: name, Email: key})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Email < out[j].Email
	})
	return out
}

// affectedEmails is every agent that must eventually agree on the entity's
// state: roster members, sender-side pending recipients, and rsvp holders.
func affectedEmails(owner string, members []string, profiles []*models.Profile, id uuid.UUID) []string {
	set := make(map[string]struct{})
	add := func(email string) {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" && !strings.EqualFold(email, owner) {
			set[email] = struct{}{}
		}
	}
	for _, m := range members {
		add(m)
	}
	for _, p := range profiles {
		for _, rec := range p.Metadata.PendingRecipientsFor(id) {
			add(rec)
		}
		for _, r := range p.Metadata.RSVPs {
			if r.UUID == id {
				add(p.Email)
			}
		}
	}
	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
