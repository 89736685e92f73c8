package membership

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/crewsync/backend/internal/directory"
	"github.com/crewsync/backend/internal/models"
)

// fakeDirectory is an in-memory directory.Client. Search and fetch return
// deep copies so service-side mutations only land via UpdateMetadata, the
// same way the real directory behaves.
type fakeDirectory struct {
	profiles    map[string]*models.Profile // keyed by lowercase email
	searchScope map[string]bool            // when non-nil, SearchByEntityID only sees these emails
	failWrites  map[string]error           // keyed by profile ID
	writes      []string                   // profile IDs written, in order
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		profiles:   make(map[string]*models.Profile),
		failWrites: make(map[string]error),
	}
}

func (d *fakeDirectory) addProfile(email, name string) *models.Profile {
	email = strings.ToLower(email)
	p := &models.Profile{ID: "dir|" + email, Email: email, Name: name}
	d.profiles[email] = p
	return p
}

func cloneProfile(p *models.Profile) *models.Profile {
	buf, _ := json.Marshal(p)
	var out models.Profile
	_ = json.Unmarshal(buf, &out)
	return &out
}

func (d *fakeDirectory) sortedEmails() []string {
	emails := make([]string, 0, len(d.profiles))
	for e := range d.profiles {
		emails = append(emails, e)
	}
	sort.Strings(emails)
	return emails
}

func (d *fakeDirectory) GetProfile(_ context.Context, id string) (*models.Profile, error) {
	for _, p := range d.profiles {
		if p.ID == id {
			return cloneProfile(p), nil
		}
	}
	return nil, directory.ErrNotFound
}

func (d *fakeDirectory) GetProfileByEmail(_ context.Context, email string) (*models.Profile, error) {
	p, ok := d.profiles[strings.ToLower(email)]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return cloneProfile(p), nil
}

func (d *fakeDirectory) SearchByEntityID(_ context.Context, _ string, id uuid.UUID) ([]*models.Profile, error) {
	var out []*models.Profile
	for _, email := range d.sortedEmails() {
		if d.searchScope != nil && !d.searchScope[email] {
			continue
		}
		if p := d.profiles[email]; p.Metadata.References(id) {
			out = append(out, cloneProfile(p))
		}
	}
	return out, nil
}

func (d *fakeDirectory) SearchByEntityName(_ context.Context, entityType, name string) ([]*models.Profile, error) {
	var out []*models.Profile
	for _, email := range d.sortedEmails() {
		p := d.profiles[email]
		match := false
		switch entityType {
		case models.TypeOrganization:
			for _, o := range p.Metadata.Organizations {
				if strings.EqualFold(o.Name, name) {
					match = true
				}
			}
		case models.TypeTeam:
			for _, t := range p.Metadata.Teams {
				if strings.EqualFold(t.Name, name) {
					match = true
				}
			}
		}
		if match {
			out = append(out, cloneProfile(p))
		}
	}
	return out, nil
}

func (d *fakeDirectory) CreateProfile(_ context.Context, email, name string) (*models.Profile, error) {
	return cloneProfile(d.addProfile(email, name)), nil
}

func (d *fakeDirectory) UpdateMetadata(_ context.Context, id string, md models.Metadata) (*models.Profile, error) {
	if err := d.failWrites[id]; err != nil {
		return nil, err
	}
	for _, p := range d.profiles {
		if p.ID == id {
			clone := cloneProfile(p)
			clone.Metadata = md
			d.profiles[strings.ToLower(p.Email)] = clone
			d.writes = append(d.writes, id)
			return cloneProfile(clone), nil
		}
	}
	return nil, directory.ErrNotFound
}

// fakeOutbox is an in-memory OutboxStore keyed by (recipient, entity id),
// mirroring the relational unique constraint.
type fakeOutbox struct {
	invitations map[string]models.Invitation
	updates     map[string]models.Update
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{
		invitations: make(map[string]models.Invitation),
		updates:     make(map[string]models.Update),
	}
}

func outboxKey(recipient string, id uuid.UUID) string {
	return strings.ToLower(recipient) + "|" + id.String()
}

func (o *fakeOutbox) UpsertInvitation(_ context.Context, inv *models.Invitation) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	inv.Recipient = strings.ToLower(inv.Recipient)
	o.invitations[outboxKey(inv.Recipient, inv.EntityID)] = *inv
	return nil
}

func (o *fakeOutbox) UpsertUpdate(_ context.Context, up *models.Update) error {
	if up.ID == uuid.Nil {
		up.ID = uuid.New()
	}
	up.Recipient = strings.ToLower(up.Recipient)
	o.updates[outboxKey(up.Recipient, up.EntityID)] = *up
	return nil
}

func (o *fakeOutbox) ListInvitationsFor(_ context.Context, email string) ([]models.Invitation, error) {
	var out []models.Invitation
	for _, inv := range o.invitations {
		if strings.EqualFold(inv.Recipient, email) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (o *fakeOutbox) ListUpdatesFor(_ context.Context, email string) ([]models.Update, error) {
	var out []models.Update
	for _, up := range o.updates {
		if strings.EqualFold(up.Recipient, email) {
			out = append(out, up)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID.String() < out[j].EntityID.String() })
	return out, nil
}

func (o *fakeOutbox) ListInvitationsForEntity(_ context.Context, entityID uuid.UUID) ([]models.Invitation, error) {
	var out []models.Invitation
	for _, inv := range o.invitations {
		if inv.EntityID == entityID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Recipient < out[j].Recipient })
	return out, nil
}

func (o *fakeOutbox) CountInvitationsForEntity(_ context.Context, entityID uuid.UUID) (int, error) {
	n := 0
	for _, inv := range o.invitations {
		if inv.EntityID == entityID {
			n++
		}
	}
	return n, nil
}

func (o *fakeOutbox) RefreshEntityName(_ context.Context, entityID uuid.UUID, name string) error {
	for k, inv := range o.invitations {
		if inv.EntityID == entityID {
			inv.Name = name
			o.invitations[k] = inv
		}
	}
	return nil
}

func (o *fakeOutbox) DeleteInvitation(_ context.Context, recipient string, entityID uuid.UUID) error {
	delete(o.invitations, outboxKey(recipient, entityID))
	return nil
}

func (o *fakeOutbox) DeleteUpdate(_ context.Context, recipient string, entityID uuid.UUID) error {
	delete(o.updates, outboxKey(recipient, entityID))
	return nil
}

func (o *fakeOutbox) DeleteForEntity(_ context.Context, entityID uuid.UUID) error {
	for k, inv := range o.invitations {
		if inv.EntityID == entityID {
			delete(o.invitations, k)
		}
	}
	for k, up := range o.updates {
		if up.EntityID == entityID {
			delete(o.updates, k)
		}
	}
	return nil
}

func (o *fakeOutbox) updatesFor(email string) []models.Update {
	out, _ := o.ListUpdatesFor(context.Background(), email)
	return out
}

// fakeAgents is an in-memory AgentStore.
type fakeAgents struct {
	agents map[string]*models.Agent
	cached map[string]*models.Profile
}

func newFakeAgents() *fakeAgents {
	return &fakeAgents{
		agents: make(map[string]*models.Agent),
		cached: make(map[string]*models.Profile),
	}
}

func (a *fakeAgents) GetByEmail(_ context.Context, email string) (*models.Agent, error) {
	agent, ok := a.agents[strings.ToLower(email)]
	if !ok {
		return nil, errors.New("agent not found")
	}
	return agent, nil
}

func (a *fakeAgents) Provision(_ context.Context, email, name string) (*models.Agent, error) {
	email = strings.ToLower(email)
	if agent, ok := a.agents[email]; ok {
		return agent, nil
	}
	agent := &models.Agent{ID: uuid.New(), Email: email, Name: name}
	a.agents[email] = agent
	return agent, nil
}

func (a *fakeAgents) UpdateCachedProfile(_ context.Context, email string, p *models.Profile) error {
	a.cached[strings.ToLower(email)] = p
	return nil
}

// fakeMailer records invitation emails and can be made to fail.
type fakeMailer struct {
	sent []string // recipient emails
	err  error
}

func (m *fakeMailer) SendInvitation(to, _, _, _ string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to)
	return nil
}

// newTestService wires a Service and Reconciler over shared fakes.
func newTestService() (*Service, *Reconciler, *fakeDirectory, *fakeOutbox, *fakeAgents, *fakeMailer) {
	dir := newFakeDirectory()
	ob := newFakeOutbox()
	ag := newFakeAgents()
	mail := &fakeMailer{}
	svc := NewService(dir, ob, ag, mail, "root@example.com", nil)
	rec := NewReconciler(dir, ob, ag, nil)
	return svc, rec, dir, ob, ag, mail
}
