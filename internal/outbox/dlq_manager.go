package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const quarantineReason = "retry limit reached"

// DLQManager requeues failed status entries and quarantines the ones that keep failing.
type DLQManager struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
}

// NewDLQManager constructs a DLQManager with the provided pool and retry configuration.
func NewDLQManager(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	return &DLQManager{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay}
}

// RunOnce processes a batch of due DLQ entries and returns how many were requeued or quarantined.
func (m *DLQManager) RunOnce(ctx context.Context, batchSize int) (int, error) {
	const query = `SELECT dlq_id, entry_id, member_id, subscriber_key, message_sid, status, reason, retry_count
                    FROM status_outbox_dlq
                   WHERE quarantined_at IS NULL
                     AND requeued_entry_id IS NULL
                     AND (next_retry_at IS NULL OR next_retry_at <= NOW())
                   ORDER BY created_at
                   LIMIT $1`

	rows, err := m.pool.Query(ctx, query, batchSize)
	if err != nil {
		return 0, err
	}

	entries := make([]dlqEntry, 0)
	for rows.Next() {
		entry, scanErr := scanDLQEntry(rows)
		if scanErr != nil {
			err = errors.Join(err, scanErr)
			continue
		}
		entries = append(entries, entry)
	}
	rows.Close()
	if rowsErr := rows.Err(); rowsErr != nil {
		err = errors.Join(err, rowsErr)
	}

	processed := 0
	for _, entry := range entries {
		if procErr := m.handleEntry(ctx, entry); procErr != nil {
			err = errors.Join(err, procErr)
			continue
		}
		processed++
		recordDLQProcessed(entry)
	}

	updateBacklogGauge(ctx, m.pool)
	return processed, err
}

func (m *DLQManager) handleEntry(ctx context.Context, entry dlqEntry) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if entry.RetryCount >= m.maxRetries {
		if _, err := tx.Exec(ctx, `UPDATE status_outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`, quarantineReason, entry.ID); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		recordDLQQuarantined(entry)
		return nil
	}

	delay := m.backoffDelay(entry.RetryCount + 1)
	entryID := uuid.NewString()
	if requeueErr := requeueOutbox(ctx, tx, entryID, entry); requeueErr != nil {
		// The failed insert aborted tx; schedule the retry on the pool instead.
		tx.Rollback(ctx)
		if _, err := m.pool.Exec(ctx,
			`UPDATE status_outbox_dlq
               SET retry_count = retry_count + 1,
                   last_attempt_at = NOW(),
                   next_retry_at = NOW() + $1::interval,
                   reason = $2
             WHERE dlq_id = $3`,
			delay, requeueErr.Error(), entry.ID,
		); err != nil {
			return err
		}
		recordDLQRetry(entry)
		return nil
	}

	// The row stays parked until the dispatcher reports how the requeued entry went.
	if _, err := tx.Exec(ctx,
		`UPDATE status_outbox_dlq
            SET retry_count = retry_count + 1,
                last_attempt_at = NOW(),
                next_retry_at = NOW() + $1::interval,
                requeued_entry_id = $2
          WHERE dlq_id = $3`,
		delay, entryID, entry.ID,
	); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	recordDLQRequeued(entry)
	return nil
}

// backoffDelay calculates exponential backoff capped at one hour.
func (m *DLQManager) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 12 {
		return time.Hour
	}
	delay := time.Duration(1<<uint(attempt-1)) * m.baseDelay
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}

// requeueOutbox reinserts the entry into status_outbox under entryID.
func requeueOutbox(ctx context.Context, tx pgx.Tx, entryID string, entry dlqEntry) error {
	const stmt = `INSERT INTO status_outbox (entry_id, member_id, subscriber_key, message_sid, status)
                   VALUES ($1,$2,$3,$4,$5)`

	_, err := tx.Exec(ctx, stmt,
		entryID,
		entry.MemberID,
		entry.SubscriberKey,
		entry.MessageSID,
		entry.Status,
	)
	return err
}

type dlqEntry struct {
	ID            int64
	EntryID       string
	MemberID      string
	SubscriberKey string
	MessageSID    string
	Status        string
	Reason        string
	RetryCount    int
}

func scanDLQEntry(rows pgx.Rows) (dlqEntry, error) {
	var entry dlqEntry
	if err := rows.Scan(&entry.ID, &entry.EntryID, &entry.MemberID, &entry.SubscriberKey, &entry.MessageSID, &entry.Status, &entry.Reason, &entry.RetryCount); err != nil {
		return dlqEntry{}, err
	}
	return entry, nil
}
