package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DLQWriter persists entries the data store rejected.
type DLQWriter struct {
	pool *pgxpool.Pool
}

// NewDLQWriter initialises a writer backed by the provided connection pool.
func NewDLQWriter(pool *pgxpool.Pool) *DLQWriter {
	return &DLQWriter{pool: pool}
}

// Write records a failed entry alongside the supplied reason. An entry that was itself
// requeued from the DLQ reopens its original row, keeping the retry count and schedule.
// Anything else is new and due for retry immediately.
func (w *DLQWriter) Write(ctx context.Context, entry Entry, reason string) error {
	tag, err := w.pool.Exec(ctx,
		`UPDATE status_outbox_dlq
            SET requeued_entry_id = NULL, reason = $2, last_attempt_at = NOW()
          WHERE requeued_entry_id = $1`,
		entry.EntryID, reason,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	_, err = w.pool.Exec(ctx,
		`INSERT INTO status_outbox_dlq (entry_id, member_id, subscriber_key, message_sid, status, reason, next_retry_at)
         VALUES ($1,$2,$3,$4,$5,$6, NOW())`,
		entry.EntryID, entry.MemberID, entry.SubscriberKey, entry.MessageSID, entry.Status, reason,
	)
	return err
}
