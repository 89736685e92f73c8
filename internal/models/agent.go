package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Agent is the local cache of a directory profile. Created on first
// successful authentication or the first time an email is referenced as an
// invitee; never deleted by this service.
type Agent struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Password  string    `json:"-"` // bcrypt hash; empty for provisioned invitees
	Profile   *Profile  `json:"profile,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsSuperAgent reports whether the agent is the configured root identity.
func (a *Agent) IsSuperAgent(rootEmail string) bool {
	return rootEmail != "" && strings.EqualFold(a.Email, rootEmail)
}

// AgentPublic is Agent without sensitive fields for API responses.
type AgentPublic struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ToPublic converts Agent to AgentPublic.
func (a *Agent) ToPublic() AgentPublic {
	return AgentPublic{
		ID:        a.ID,
		Email:     a.Email,
		Name:      a.Name,
		CreatedAt: a.CreatedAt,
	}
}
