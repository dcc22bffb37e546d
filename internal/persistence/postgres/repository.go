package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rockstartushar/twilio-jb-activity/internal/domain"
)

// Repository provides Postgres-backed persistence for executions and the status outbox.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecordExecution persists the execution and queues its status update inside a single transaction.
func (r *Repository) RecordExecution(ctx context.Context, record domain.ExecutionRecord, update *domain.StatusUpdate) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	insertExecution := `INSERT INTO executions (execution_id, idempotency_key, message_sid, member_id, subscriber_key, recipient, channel, status, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)`

	_, err = tx.Exec(ctx, insertExecution,
		record.ID,
		nullIfEmpty(record.IdempotencyKey),
		record.MessageSID,
		record.MemberID,
		record.SubscriberKey,
		record.Recipient,
		string(record.Channel),
		record.Status,
		record.CreatedAt,
	)
	if err != nil {
		return err
	}

	if update != nil {
		if err = insertOutbox(ctx, tx, *update); err != nil {
			return err
		}
	}

	err = tx.Commit(ctx)
	return err
}

// EnqueueStatus queues a status update without an execution row.
func (r *Repository) EnqueueStatus(ctx context.Context, update domain.StatusUpdate) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := insertOutbox(ctx, tx, update); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ApplyProviderStatus records a provider status change for a message and queues the new
// status for the member when one is known. It returns nil when the message is unknown.
func (r *Repository) ApplyProviderStatus(ctx context.Context, messageSID, status string) (*domain.ExecutionRecord, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const stmt = `UPDATE executions SET status = $2, updated_at = NOW()
        WHERE message_sid = $1
        RETURNING execution_id, COALESCE(idempotency_key, ''), message_sid, member_id, subscriber_key, recipient, channel, status, created_at`

	var record domain.ExecutionRecord
	var channel string
	row := tx.QueryRow(ctx, stmt, messageSID, status)
	if err := row.Scan(&record.ID, &record.IdempotencyKey, &record.MessageSID, &record.MemberID, &record.SubscriberKey, &record.Recipient, &channel, &record.Status, &record.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	record.Channel = domain.Channel(channel)

	if record.MemberID != "" {
		if err := insertOutbox(ctx, tx, domain.StatusUpdate{
			MemberID:      record.MemberID,
			SubscriberKey: record.SubscriberKey,
			MessageSID:    record.MessageSID,
			Status:        status,
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &record, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, update domain.StatusUpdate) error {
	const stmt = `INSERT INTO status_outbox (entry_id, member_id, subscriber_key, message_sid, status)
        VALUES ($1,$2,$3,$4,$5)`

	_, err := tx.Exec(ctx, stmt,
		uuid.NewString(),
		update.MemberID,
		update.SubscriberKey,
		update.MessageSID,
		update.Status,
	)
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
