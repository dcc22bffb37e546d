// Package outbox drains queued status updates into the data extension.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rockstartushar/twilio-jb-activity/internal/domain"
)

type statusWriter interface {
	Upsert(context.Context, domain.StatusUpdate) error
}

// Dispatcher polls the status outbox and writes each entry through the data store client.
type Dispatcher struct {
	pool             *pgxpool.Pool
	writer           statusWriter
	dlq              *DLQWriter
	logger           *zap.Logger
	pollInterval     time.Duration
	batchSize        int
	shutdownComplete chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, writer statusWriter, logger *zap.Logger, pollInterval time.Duration, batchSize int) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 25
	}
	return &Dispatcher{
		pool:             pool,
		writer:           writer,
		dlq:              NewDLQWriter(pool),
		logger:           logger,
		pollInterval:     pollInterval,
		batchSize:        batchSize,
		shutdownComplete: make(chan struct{}),
	}
}

// Start launches the polling loop. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("status outbox dispatch failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait waits until dispatcher stops.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()

	entries, err := d.fetchAndClaim(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	defer batchDuration.Observe(time.Since(start).Seconds())

	failures := deliver(ctx, d.writer, entries)
	for _, f := range failures {
		d.logger.Warn("status upsert failed, moving to dlq",
			zap.String("entry_id", f.entry.EntryID),
			zap.String("member_id", f.entry.MemberID),
			zap.String("message_sid", f.entry.MessageSID),
			zap.Error(f.err),
		)
		if err := d.dlq.Write(ctx, f.entry, f.err.Error()); err != nil {
			return err
		}
		dlqCounter.WithLabelValues(f.entry.Status).Inc()
	}

	failedCounter.Add(float64(len(failures)))
	deliveredCounter.Add(float64(len(entries) - len(failures)))
	return d.markDelivered(ctx, entries, failures)
}

func (d *Dispatcher) fetchAndClaim(ctx context.Context) ([]Entry, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const query = `SELECT entry_id, member_id, subscriber_key, message_sid, status
        FROM status_outbox
        WHERE delivered_at IS NULL
        ORDER BY created_at, entry_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, d.batchSize)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0)
	ids := make([]string, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.EntryID, &e.MemberID, &e.SubscriberKey, &e.MessageSID, &e.Status); err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
		ids = append(ids, e.EntryID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE status_outbox SET claimed_at = NOW() WHERE entry_id = ANY($1::text[]::uuid[])`, ids); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entries, nil
}

type failure struct {
	entry Entry
	err   error
}

// deliver upserts every entry and collects the ones that could not be written.
func deliver(ctx context.Context, writer statusWriter, entries []Entry) []failure {
	var failures []failure
	for _, e := range entries {
		if err := writer.Upsert(ctx, e.Update()); err != nil {
			failures = append(failures, failure{entry: e, err: fmt.Errorf("upsert member %s: %w", e.MemberID, err)})
		}
	}
	return failures
}

// markDelivered closes every claimed entry and drops the DLQ rows whose requeued entry
// finally went through.
func (d *Dispatcher) markDelivered(ctx context.Context, entries []Entry, failures []failure) error {
	failed := make(map[string]struct{}, len(failures))
	for _, f := range failures {
		failed[f.entry.EntryID] = struct{}{}
	}

	ids := make([]string, 0, len(entries))
	written := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.EntryID)
		if _, ok := failed[e.EntryID]; !ok {
			written = append(written, e.EntryID)
		}
	}

	if _, err := d.pool.Exec(ctx, `UPDATE status_outbox SET delivered_at = NOW() WHERE entry_id = ANY($1::text[]::uuid[])`, ids); err != nil {
		return err
	}
	if len(written) == 0 {
		return nil
	}
	_, err := d.pool.Exec(ctx, `DELETE FROM status_outbox_dlq WHERE requeued_entry_id = ANY($1::text[]::uuid[])`, written)
	return err
}

// Entry is a status_outbox row.
type Entry struct {
	EntryID       string
	MemberID      string
	SubscriberKey string
	MessageSID    string
	Status        string
}

// Update converts the row back into the status update it was queued from.
func (e Entry) Update() domain.StatusUpdate {
	return domain.StatusUpdate{
		MemberID:      e.MemberID,
		SubscriberKey: e.SubscriberKey,
		MessageSID:    e.MessageSID,
		Status:        e.Status,
	}
}
