package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crewsync/backend/internal/models"
)

// ErrNotFound is returned when no agent row matches.
var ErrNotFound = errors.New("agent not found")

// Repository handles agent persistence. Emails are lowercased on write and
// compared case-insensitively.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an agents repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns an agent by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	const q = `SELECT id, email, name, COALESCE(password_hash,''), profile, created_at, updated_at
		FROM agents WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, q, id))
}

// GetByEmail returns an agent by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Agent, error) {
	const q = `SELECT id, email, name, COALESCE(password_hash,''), profile, created_at, updated_at
		FROM agents WHERE email = $1`
	return r.scanOne(r.pool.QueryRow(ctx, q, strings.ToLower(strings.TrimSpace(email))))
}

// Create inserts a new agent with credentials (registration path).
func (r *Repository) Create(ctx context.Context, email, passwordHash, name string) (*models.Agent, error) {
	const q = `INSERT INTO agents (email, name, password_hash)
		VALUES ($1, $2, NULLIF($3,''))
		RETURNING id, email, name, COALESCE(password_hash,''), profile, created_at, updated_at`
	return r.scanOne(r.pool.QueryRow(ctx, q, strings.ToLower(strings.TrimSpace(email)), name, passwordHash))
}

// Provision inserts an agent referenced as an invitee before any login, or
// returns the existing row. Provisioned agents have no credentials yet.
func (r *Repository) Provision(ctx context.Context, email, name string) (*models.Agent, error) {
	const q = `INSERT INTO agents (email, name)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET updated_at = NOW()
		RETURNING id, email, name, COALESCE(password_hash,''), profile, created_at, updated_at`
	return r.scanOne(r.pool.QueryRow(ctx, q, strings.ToLower(strings.TrimSpace(email)), name))
}

// UpdateCachedProfile stores the last-seen directory snapshot on the agent
// row, refreshing the display name from the profile.
func (r *Repository) UpdateCachedProfile(ctx context.Context, email string, p *models.Profile) error {
	buf, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	const q = `UPDATE agents SET profile = $2, name = COALESCE(NULLIF($3,''), name), updated_at = NOW()
		WHERE email = $1`
	tag, err := r.pool.Exec(ctx, q, strings.ToLower(strings.TrimSpace(email)), buf, p.Name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all known agents ordered by name then email.
func (r *Repository) List(ctx context.Context) ([]models.AgentPublic, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, email, name, created_at FROM agents ORDER BY name, email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.AgentPublic
	for rows.Next() {
		var a models.AgentPublic
		if err := rows.Scan(&a.ID, &a.Email, &a.Name, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// SetPassword stores a credential hash for a provisioned agent claiming its
// account.
func (r *Repository) SetPassword(ctx context.Context, email, passwordHash string) error {
	const q = `UPDATE agents SET password_hash = $2, updated_at = NOW() WHERE email = $1`
	tag, err := r.pool.Exec(ctx, q, strings.ToLower(strings.TrimSpace(email)), passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) scanOne(row pgx.Row) (*models.Agent, error) {
	var a models.Agent
	var profile []byte
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.Password, &profile, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(profile) > 0 {
		var p models.Profile
		if err := json.Unmarshal(profile, &p); err != nil {
			return nil, fmt.Errorf("unmarshal cached profile: %w", err)
		}
		a.Profile = &p
	}
	return &a, nil
}
