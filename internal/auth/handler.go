package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crewsync/backend/internal/agents"
	"github.com/crewsync/backend/internal/models"
	"github.com/crewsync/backend/pkg/response"
	"github.com/crewsync/backend/pkg/utils"
)

// Reconciler drains pending outbox rows for an agent at session start.
// Invoked exactly once per newly established session, before the session
// token is issued.
type Reconciler interface {
	Reconcile(ctx context.Context, email string) (*models.Profile, error)
}

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"required"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token   string             `json:"token"`
	Agent   models.AgentPublic `json:"agent"`
	Profile *models.Profile    `json:"profile,omitempty"`
}

// Handler is the session gateway: it establishes the local agent record and
// invokes the reconciler before handing out a session token.
type Handler struct {
	repo       *agents.Repository
	reconciler Reconciler
	jwt        *JWTService
	rootEmail  string
	logger     *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(repo *agents.Repository, reconciler Reconciler, jwt *JWTService, rootEmail string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, reconciler: reconciler, jwt: jwt, rootEmail: rootEmail, logger: logger}
}

// Register handles POST /auth/register. Provisioned invitees claim their
// account here; anyone else gets a fresh agent row.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	agent, err := h.repo.GetByEmail(c.Request.Context(), email)
	switch {
	case err == nil && agent.Password != "":
		response.BadRequest(c, "email already registered")
		return
	case err == nil:
		if err := h.repo.SetPassword(c.Request.Context(), email, hash); err != nil {
			response.Internal(c, "failed to claim account")
			return
		}
	case errors.Is(err, agents.ErrNotFound):
		agent, err = h.repo.Create(c.Request.Context(), email, hash, req.Name)
		if err != nil {
			response.Internal(c, "failed to create agent")
			return
		}
	default:
		response.Internal(c, "failed to look up agent")
		return
	}

	h.establishSession(c, agent, http.StatusCreated)
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	agent, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil || agent.Password == "" {
		response.Unauthorized(c, "invalid email or password")
		return
	}
	if !utils.CheckPassword(req.Password, agent.Password) {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	h.establishSession(c, agent, http.StatusOK)
}

// List handles GET /agents (super agent only).
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.List(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to list agents")
		return
	}
	response.OK(c, list)
}

// establishSession runs the outbox reconciler for the agent and issues the
// session token. No session is issued when reconciliation fails; the caller
// retries and the outbox rows are still there.
func (h *Handler) establishSession(c *gin.Context, agent *models.Agent, status int) {
	profile, err := h.reconciler.Reconcile(c.Request.Context(), agent.Email)
	if err != nil {
		h.logger.Error("login reconciliation failed", zap.Error(err), zap.String("email", agent.Email))
		response.ServiceUnavailable(c, "profile sync failed, try again")
		return
	}

	role := RoleAgent
	if agent.IsSuperAgent(h.rootEmail) {
		role = RoleSuper
	}
	token, err := h.jwt.Generate(agent.ID, agent.Email, role)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}

	c.JSON(status, response.Body{Success: true, Data: TokenResponse{
		Token:   token,
		Agent:   agent.ToPublic(),
		Profile: profile,
	}})
}
