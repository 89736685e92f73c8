// Package outbox persists deferred profile mutations. Rows are addressed to
// a recipient email and keyed by (recipient, entity id); they are written by
// the membership mutation handler and drained by the reconciler on the
// recipient's next login.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crewsync/backend/internal/models"
)

// Repository handles outbox persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an outbox repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertInvitation inserts an invitation row or refreshes the existing one
// for the same (recipient, entity) pair.
func (r *Repository) UpsertInvitation(ctx context.Context, inv *models.Invitation) error {
	const q = `INSERT INTO outbox_invitations (recipient, entity_id, entity_type, name, team_id, verification_code)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6,''))
		ON CONFLICT (recipient, entity_id) DO UPDATE
			SET name = EXCLUDED.name,
			    team_id = EXCLUDED.team_id,
			    verification_code = EXCLUDED.verification_code,
			    updated_at = NOW()
		RETURNING id, created_at, updated_at`
	recipient := strings.ToLower(strings.TrimSpace(inv.Recipient))
	err := r.pool.QueryRow(ctx, q, recipient, inv.EntityID, inv.Type, inv.Name, inv.TeamID, inv.VerificationCode).
		Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert invitation: %w", err)
	}
	inv.Recipient = recipient
	return nil
}

// UpsertUpdate inserts an update row or overwrites the stored data for the
// same (recipient, entity) pair. Last writer wins.
func (r *Repository) UpsertUpdate(ctx context.Context, up *models.Update) error {
	buf, err := json.Marshal(up.Data)
	if err != nil {
		return fmt.Errorf("marshal update data: %w", err)
	}
	const q = `INSERT INTO outbox_updates (recipient, entity_id, entity_type, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (recipient, entity_id) DO UPDATE
			SET entity_type = EXCLUDED.entity_type,
			    data = EXCLUDED.data,
			    updated_at = NOW()
		RETURNING id, created_at, updated_at`
	recipient := strings.ToLower(strings.TrimSpace(up.Recipient))
	err = r.pool.QueryRow(ctx, q, recipient, up.EntityID, up.Type, buf).
		Scan(&up.ID, &up.CreatedAt, &up.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert update: %w", err)
	}
	up.Recipient = recipient
	return nil
}

// ListInvitationsFor returns all invitation rows addressed to the email,
// ordered by entity name for deterministic output.
func (r *Repository) ListInvitationsFor(ctx context.Context, email string) ([]models.Invitation, error) {
	const q = `SELECT id, recipient, entity_id, entity_type, name, team_id, COALESCE(verification_code,''), created_at, updated_at
		FROM outbox_invitations WHERE recipient = $1 ORDER BY name, entity_id`
	rows, err := r.pool.Query(ctx, q, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Invitation
	for rows.Next() {
		var inv models.Invitation
		if err := rows.Scan(&inv.ID, &inv.Recipient, &inv.EntityID, &inv.Type, &inv.Name,
			&inv.TeamID, &inv.VerificationCode, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, inv)
	}
	return list, rows.Err()
}

// ListUpdatesFor returns all update rows addressed to the email.
func (r *Repository) ListUpdatesFor(ctx context.Context, email string) ([]models.Update, error) {
	const q = `SELECT id, recipient, entity_id, entity_type, data, created_at, updated_at
		FROM outbox_updates WHERE recipient = $1 ORDER BY entity_id`
	rows, err := r.pool.Query(ctx, q, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Update
	for rows.Next() {
		var up models.Update
		var data []byte
		if err := rows.Scan(&up.ID, &up.Recipient, &up.EntityID, &up.Type, &data, &up.CreatedAt, &up.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &up.Data); err != nil {
			return nil, fmt.Errorf("unmarshal update data: %w", err)
		}
		list = append(list, up)
	}
	return list, rows.Err()
}

// ListInvitationsForEntity returns pending invitation rows for an entity,
// ordered by recipient email.
func (r *Repository) ListInvitationsForEntity(ctx context.Context, entityID uuid.UUID) ([]models.Invitation, error) {
	const q = `SELECT id, recipient, entity_id, entity_type, name, team_id, COALESCE(verification_code,''), created_at, updated_at
		FROM outbox_invitations WHERE entity_id = $1 ORDER BY recipient`
	rows, err := r.pool.Query(ctx, q, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Invitation
	for rows.Next() {
		var inv models.Invitation
		if err := rows.Scan(&inv.ID, &inv.Recipient, &inv.EntityID, &inv.Type, &inv.Name,
			&inv.TeamID, &inv.VerificationCode, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, inv)
	}
	return list, rows.Err()
}

// CountInvitationsForEntity counts pending invitation rows for an entity
// (delete guard).
func (r *Repository) CountInvitationsForEntity(ctx context.Context, entityID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_invitations WHERE entity_id = $1`, entityID).Scan(&n)
	return n, err
}

// RefreshEntityName rewrites the stored name on every pending invitation row
// for the entity after a rename.
func (r *Repository) RefreshEntityName(ctx context.Context, entityID uuid.UUID, name string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE outbox_invitations SET name = $2, updated_at = NOW() WHERE entity_id = $1`, entityID, name)
	return err
}

// DeleteInvitation removes the invitation row for (recipient, entity).
func (r *Repository) DeleteInvitation(ctx context.Context, recipient string, entityID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM outbox_invitations WHERE recipient = $1 AND entity_id = $2`,
		strings.ToLower(strings.TrimSpace(recipient)), entityID)
	return err
}

// DeleteUpdate removes the update row for (recipient, entity).
func (r *Repository) DeleteUpdate(ctx context.Context, recipient string, entityID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM outbox_updates WHERE recipient = $1 AND entity_id = $2`,
		strings.ToLower(strings.TrimSpace(recipient)), entityID)
	return err
}

// DeleteForEntity purges every outbox row referencing a deleted entity.
func (r *Repository) DeleteForEntity(ctx context.Context, entityID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM outbox_invitations WHERE entity_id = $1`, entityID); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `DELETE FROM outbox_updates WHERE entity_id = $1`, entityID)
	return err
}
