package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BTreeMap/CanvassSync/internal/models"
	"github.com/google/uuid"
)

// SystemRepo reads configured external systems.
type SystemRepo interface {
	// GetExternalSystem returns models.ErrExternalSystemNotFound when no row exists.
	GetExternalSystem(ctx context.Context, id string) (*models.ExternalSystem, error)
	ListExternalSystems(ctx context.Context) ([]models.ExternalSystem, error)
	// ListExternalSystemsForContact returns the systems of the organization
	// that owns the contact's campaign.
	ListExternalSystemsForContact(ctx context.Context, contactID int64) ([]models.ExternalSystem, error)
}

// SecretRepo stores sealed secret values by reference.
type SecretRepo interface {
	// GetSecret returns nil, nil when no secret exists for ref.
	GetSecret(ctx context.Context, ref string) (*models.SealedSecret, error)
	PutSecret(ctx context.Context, ref string, sealed models.SealedSecret) error
}

const systemColumns = `es.id, es.organization_id, es.name, es.type, es.username, es.api_key_ref, es.synced_at`

func scanSystem(row rowScanner) (models.ExternalSystem, error) {
	var es models.ExternalSystem
	var syncedAt sql.NullTime
	err := row.Scan(&es.ID, &es.OrganizationID, &es.Name, &es.Type, &es.Username, &es.APIKeyRef, &syncedAt)
	if err != nil {
		return es, err
	}
	if syncedAt.Valid {
		es.SyncedAt = &syncedAt.Time
	}
	return es, nil
}

func (r sqlRepo) GetExternalSystem(ctx context.Context, id string) (*models.ExternalSystem, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("external system %q: %w", id, models.ErrExternalSystemNotFound)
	}
	es, err := scanSystem(r.q.QueryRowContext(ctx, r.rebind(`SELECT `+systemColumns+` FROM external_system es WHERE es.id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("external system %s: %w", id, models.ErrExternalSystemNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get external system failed: %w", err)
	}
	return &es, nil
}

func (r sqlRepo) ListExternalSystems(ctx context.Context) ([]models.ExternalSystem, error) {
	return r.listSystems(ctx, `SELECT `+systemColumns+` FROM external_system es ORDER BY es.name, es.id`)
}

func (r sqlRepo) ListExternalSystemsForContact(ctx context.Context, contactID int64) ([]models.ExternalSystem, error) {
	return r.listSystems(ctx,
		r.rebind(`SELECT `+systemColumns+`
		 FROM campaign_contact cc
		 JOIN campaign c ON c.id = cc.campaign_id
		 JOIN external_system es ON es.organization_id = c.organization_id
		 WHERE cc.id = ?
		 ORDER BY es.name, es.id`),
		contactID,
	)
}

func (r sqlRepo) listSystems(ctx context.Context, query string, args ...any) ([]models.ExternalSystem, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list external systems failed: %w", err)
	}
	defer rows.Close()

	var systems []models.ExternalSystem
	for rows.Next() {
		es, err := scanSystem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan external system failed: %w", err)
		}
		systems = append(systems, es)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list external systems iteration failed: %w", err)
	}
	return systems, nil
}

func (r sqlRepo) GetSecret(ctx context.Context, ref string) (*models.SealedSecret, error) {
	var s models.SealedSecret
	err := r.q.QueryRowContext(ctx, r.rebind(`SELECT ciphertext, nonce FROM secrets WHERE ref = ?`), ref).Scan(&s.Ciphertext, &s.Nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get secret failed: %w", err)
	}
	return &s, nil
}

func (r sqlRepo) PutSecret(ctx context.Context, ref string, sealed models.SealedSecret) error {
	now := dbTime(time.Now())
	_, err := r.q.ExecContext(ctx,
		r.rebind(`INSERT INTO secrets (ref, ciphertext, nonce, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (ref) DO UPDATE SET ciphertext = EXCLUDED.ciphertext, nonce = EXCLUDED.nonce, updated_at = EXCLUDED.updated_at`),
		ref, sealed.Ciphertext, sealed.Nonce, now, now,
	)
	if err != nil {
		return fmt.Errorf("put secret failed: %w", err)
	}
	return nil
}
