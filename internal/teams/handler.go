package teams

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewsync/backend/internal/agents"
	"github.com/crewsync/backend/internal/membership"
	"github.com/crewsync/backend/internal/middleware"
	"github.com/crewsync/backend/pkg/response"
)

// Handler handles team HTTP endpoints.
type Handler struct {
	svc    *membership.Service
	agents *agents.Repository
	logger *zap.Logger
}

// NewHandler creates a teams handler.
func NewHandler(svc *membership.Service, agents *agents.Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, agents: agents, logger: logger}
}

// CreateTeamRequest is the body for POST /teams.
type CreateTeamRequest struct {
	Name           string     `json:"name" binding:"required"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
}

// RenameTeamRequest is the body for PUT /teams/:id.
type RenameTeamRequest struct {
	Name string `json:"name" binding:"required"`
}

// AddMemberRequest is the body for POST /teams/:id/agents.
type AddMemberRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// Create handles POST /teams.
func (h *Handler) Create(c *gin.Context) {
	email := c.MustGet(middleware.ContextAgentEmail).(string)
	var body CreateTeamRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "name required")
		return
	}
	profile, err := h.svc.CreateTeam(c.Request.Context(), email, body.Name, body.OrganizationID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Created(c, profile)
}

// ListMine handles GET /teams. Returns teams from the acting agent's
// reconciled profile snapshot.
func (h *Handler) ListMine(c *gin.Context) {
	email := c.MustGet(middleware.ContextAgentEmail).(string)
	agent, err := h.agents.GetByEmail(c.Request.Context(), email)
	if err != nil {
		response.Internal(c, "failed to load agent")
		return
	}
	if agent.Profile == nil {
		response.OK(c, gin.H{"teams": []any{}, "rsvps": []any{}})
		return
	}
	response.OK(c, gin.H{
		"teams": agent.Profile.Metadata.Teams,
		"rsvps": agent.Profile.Metadata.RSVPs,
	})
}

// Get handles GET /teams/:id. Returns the team with its resolved roster.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid team id")
		return
	}
	result, err := h.svc.GetTeam(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.OK(c, result)
}

// Rename handles PUT /teams/:id.
func (h *Handler) Rename(c *gin.Context) {
	email := c.MustGet(middleware.ContextAgentEmail).(string)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid team id")
		return
	}
	var body RenameTeamRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "name required")
		return
	}
	result, err := h.svc.RenameTeam(c.Request.Context(), email, id, body.Name)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.OK(c, result)
}

// Delete handles DELETE /teams/:id.
func (h *Handler) Delete(c *gin.Context) {
	email := c.MustGet(middleware.ContextAgentEmail).(string)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid team id")
		return
	}
	if err := h.svc.DeleteTeam(c.Request.Context(), email, id); err != nil {
		writeServiceError(c, err)
		return
	}
	response.OK(c, gin.H{"message": "Team deleted"})
}

// AddMember handles POST /teams/:id/agents.
func (h *Handler) AddMember(c *gin.Context) {
	email := c.MustGet(middleware.ContextAgentEmail).(string)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid team id")
		return
	}
	var body AddMemberRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "email required")
		return
	}
	result, err := h.svc.AddTeamMember(c.Request.Context(), email, id, body.Email)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if result.AlreadyMember {
		response.OK(c, result)
		return
	}
	response.Created(c, result)
}

// RemoveMember handles DELETE /teams/:id/agents/:email.
func (h *Handler) RemoveMember(c *gin.Context) {
	email := c.MustGet(middleware.ContextAgentEmail).(string)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid team id")
		return
	}
	result, err := h.svc.RemoveTeamMember(c.Request.Context(), email, id, c.Param("email"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Created(c, result)
}

// Accept handles POST /teams/:id/accept. The acting agent confirms their own
// pending invitation.
func (h *Handler) Accept(c *gin.Context) {
	email := c.MustGet(middleware.ContextAgentEmail).(string)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid team id")
		return
	}
	profile, err := h.svc.AcceptTeamInvitation(c.Request.Context(), email, id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.OK(c, profile)
}

func writeServiceError(c *gin.Context, err error) {
	var vErr *membership.ValidationError
	var authErr *membership.AuthorizationError
	var nfErr *membership.NotFoundError
	var blockErr *membership.BlockedError
	switch {
	case errors.As(err, &vErr):
		response.ValidationFailed(c, vErr.Errors)
	case errors.As(err, &authErr):
		response.Forbidden(c, authErr.Message)
	case errors.As(err, &nfErr):
		response.NotFound(c, nfErr.Message)
	case errors.As(err, &blockErr):
		response.BadRequest(c, blockErr.Message)
	default:
		response.Internal(c, "directory operation failed")
	}
}
