package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BTreeMap/CanvassSync/internal/models"
)

// ContactRepo reads campaign contacts and records the events raised on them.
type ContactRepo interface {
	// GetContact returns models.ErrContactNotFound when no contact exists.
	GetContact(ctx context.Context, id int64) (*models.Contact, error)

	// FindLatestContactByCell returns the most recently created contact with
	// the given cell, or models.ErrContactNotFound.
	FindLatestContactByCell(ctx context.Context, cell string) (*models.Contact, error)

	GetQuestionResponse(ctx context.Context, id int64) (*models.QuestionResponse, error)
	GetOptOut(ctx context.Context, id int64) (*models.OptOut, error)

	// InsertMessage stores a message and returns its id. A message whose
	// non-empty ServiceID is already stored is not inserted again; the
	// existing id is returned.
	InsertMessage(ctx context.Context, m models.Message) (int64, error)

	// InsertOptOut stores an opt-out and returns its id.
	InsertOptOut(ctx context.Context, o models.OptOut) (int64, error)
}

const contactColumns = `id, campaign_id, external_id, cell, phone_id`

func scanContact(row rowScanner) (*models.Contact, error) {
	var c models.Contact
	var phoneID sql.NullInt64
	if err := row.Scan(&c.ID, &c.CampaignID, &c.ExternalID, &c.Cell, &phoneID); err != nil {
		return nil, err
	}
	if phoneID.Valid {
		c.PhoneID = &phoneID.Int64
	}
	return &c, nil
}

func (r sqlRepo) GetContact(ctx context.Context, id int64) (*models.Contact, error) {
	c, err := scanContact(r.q.QueryRowContext(ctx, r.rebind(`SELECT `+contactColumns+` FROM campaign_contact WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contact %d: %w", id, models.ErrContactNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get contact failed: %w", err)
	}
	return c, nil
}

func (r sqlRepo) FindLatestContactByCell(ctx context.Context, cell string) (*models.Contact, error) {
	c, err := scanContact(r.q.QueryRowContext(ctx,
		r.rebind(`SELECT `+contactColumns+` FROM campaign_contact WHERE cell = ? ORDER BY id DESC LIMIT 1`), cell))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contact with cell %s: %w", cell, models.ErrContactNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find contact by cell failed: %w", err)
	}
	return c, nil
}

func (r sqlRepo) GetQuestionResponse(ctx context.Context, id int64) (*models.QuestionResponse, error) {
	var qr models.QuestionResponse
	err := r.q.QueryRowContext(ctx,
		r.rebind(`SELECT id, campaign_contact_id, interaction_step_id, value, is_deleted, created_at FROM question_response WHERE id = ?`), id,
	).Scan(&qr.ID, &qr.CampaignContactID, &qr.InteractionStepID, &qr.Value, &qr.IsDeleted, &qr.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("question response %d: %w", id, models.ErrQuestionResponseNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get question response failed: %w", err)
	}
	return &qr, nil
}

func (r sqlRepo) GetOptOut(ctx context.Context, id int64) (*models.OptOut, error) {
	var o models.OptOut
	err := r.q.QueryRowContext(ctx,
		r.rebind(`SELECT id, campaign_contact_id, cell, reason, created_at FROM opt_out WHERE id = ?`), id,
	).Scan(&o.ID, &o.CampaignContactID, &o.Cell, &o.Reason, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("opt out %d: %w", id, models.ErrOptOutNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get opt out failed: %w", err)
	}
	return &o, nil
}

func (r sqlRepo) InsertMessage(ctx context.Context, m models.Message) (int64, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	var id int64
	err := r.q.QueryRowContext(ctx,
		r.rebind(`INSERT INTO message (campaign_contact_id, is_from_contact, text, service_id, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (service_id) WHERE service_id <> '' DO NOTHING RETURNING id`),
		m.CampaignContactID, m.IsFromContact, m.Text, m.ServiceID, dbTime(m.CreatedAt),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// Redelivery of a message already stored under its service id.
		err = r.q.QueryRowContext(ctx, r.rebind(`SELECT id FROM message WHERE service_id = ?`), m.ServiceID).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("insert message failed: %w", err)
	}
	return id, nil
}

func (r sqlRepo) InsertOptOut(ctx context.Context, o models.OptOut) (int64, error) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	var id int64
	err := r.q.QueryRowContext(ctx,
		r.rebind(`INSERT INTO opt_out (campaign_contact_id, cell, reason, created_at) VALUES (?, ?, ?, ?) RETURNING id`),
		o.CampaignContactID, o.Cell, o.Reason, dbTime(o.CreatedAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert opt out failed: %w", err)
	}
	return id, nil
}
