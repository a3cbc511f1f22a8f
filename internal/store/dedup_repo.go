package store

import (
	"context"
	"fmt"
	"time"
)

// DedupRepo deduplicates inbound webhook deliveries by provider message id.
type DedupRepo interface {
	// RecordInbound claims a message for processing. It returns false once
	// the message has been marked processed. A message that was recorded but
	// never marked processed is claimed again, so a delivery that failed
	// halfway is retried in full.
	RecordInbound(ctx context.Context, messageID, sender string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(ctx context.Context, messageID string) error
}

func (r sqlRepo) RecordInbound(ctx context.Context, messageID, sender string) (bool, error) {
	result, err := r.q.ExecContext(ctx,
		r.rebind(`INSERT INTO inbound_dedup (message_id, sender, received_at) VALUES (?, ?, ?)
		 ON CONFLICT (message_id) DO UPDATE SET sender = excluded.sender
		 WHERE inbound_dedup.processed_at IS NULL`),
		messageID, sender, dbTime(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (r sqlRepo) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := r.q.ExecContext(ctx,
		r.rebind(`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`),
		dbTime(time.Now()), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}
