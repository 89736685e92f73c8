package organizations

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

// Handler handles organization HTTP endpoints.
type Handler struct {
	svc    *membership.Service
	agents *agents.Repository
	logger *zap.Logger
}

// NewHandler creates an organizations handler.
func NewHandler(svc *membership.Service, agents *agents.Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, agents: agents, logger: logger}
}

// CreateOrganizationRequest is the body for POST /organizations.
type CreateOrganizationRequest struct {
	Name string `json:"name" binding:"required"`
}

// RenameOrganizationRequest is the body for PUT /organizations/:id.
type RenameOrganizationRequest struct {
	Name string `json:"name" binding:"required"`
}

// AddMemberRequest is the body for POST /organizations/:id/agents.
type AddMemberRequest struct {
	Email  string    `json:"email" binding:"required,email"`
	TeamID uuid.UUID `json:"team_id" binding:"required"`
}

// AcceptRequest is the body for POST /organizations/:id/accept.
type AcceptRequest struct {
	Code string `json:"code"`
}

// Create handles POST /organizations.
func (h *Handler) Create(c *gin.Context) {
	email := c.MustGet(middleware.ContextAgentEmail).(string)
	var body CreateOrganizationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "name required")
		return
	}
	profile, err := h.svc.CreateOrganization(c.Request.Context(), email, body.Name)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Created(c, profile)
}

// ListMine handles GET /organizations. Returns organizations from the acting
// agent's reconciled profile snapshot.
func (h *Handler) ListMine(c *gin.Context) {
	email := c.MustGet(middleware.ContextAgentEmail).(string)
	agent, err := h.agents.GetByEmail(c.Request.Context(), email)
	if err != nil {
		response.Internal(c, "failed to load agent")
		return
	}
	if agent.Profile == nil {
		response.OK(c, gin.H{"organizations": []any{}, "rsvps": []any{}})
		return
	}
	response.OK(c, gin.H{
		"organizations": agent.Profile.Metadata.Organizations,
		"rsvps":         agent.Profile.Metadata.RSVPs,
	})
}

// Get handles GET /organizations/:id. Returns the organization with its
// resolved roster.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid organization id")
		return
	}
	result, err := h.svc.GetOrganization(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.OK(c, result)
}

// Rename handles PUT /organizations/:id.
func (h *Handler) Rename(c *gin.Context) {
	email := c.MustGet(middleware.ContextAgentEmail).(string)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid organization id")
		return
	}
	var body RenameOrganizationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "name required")
		return
	}
	result, err := h.svc.RenameOrganization(c.Request.Context(), email, id, body.Name)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.OK(c, result)
}

// Delete handles DELETE /organizations/:id.
func (h *Handler) Delete(c *gin.Context) {
	email := c.MustGet(middleware.ContextAgentEmail).(string)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid organization id")
		return
	}
	if err := h.svc.DeleteOrganization(c.Request.Context(), email, id); err != nil {
		writeServiceError(c, err)
		return
	}
	response.OK(c, gin.H{"message": "Organization deleted"})
}

// AddMember handles POST /organizations/:id/agents.
func (h *Handler) AddMember(c *gin.Context) {
	email := c.MustGet(middleware.ContextAgentEmail).(string)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid organization id")
		return
	}
	var body AddMemberRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "email and team_id required")
		return
	}
	result, err := h.svc.AddOrganizationMember(c.Request.Context(), email, id, body.TeamID, body.Email)
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

// RemoveMember handles DELETE /organizations/:id/agents/:email.
func (h *Handler) RemoveMember(c *gin.Context) {
	email := c.MustGet(middleware.ContextAgentEmail).(string)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid organization id")
		return
	}
	result, err := h.svc.RemoveOrganizationMember(c.Request.Context(), email, id, c.Param("email"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Created(c, result)
}

// Accept handles POST /organizations/:id/accept. The acting agent confirms
// their own pending invitation.
func (h *Handler) Accept(c *gin.Context) {
	email := c.MustGet(middleware.ContextAgentEmail).(string)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid organization id")
		return
	}
	var body AcceptRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request")
		return
	}
	profile, err := h.svc.AcceptOrganizationInvitation(c.Request.Context(), email, id, body.Code)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.OK(c, profile)
}

// writeServiceError maps the membership error taxonomy onto HTTP statuses.
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
