package domain

import (
	"context"
	"time"
)

// SendRequest is the resolved message handed to the provider.
type SendRequest struct {
	To                  string
	From                string
	MessagingServiceSID string
	Body                string
	StatusCallback      string
	Channel             Channel
}

// SendResponse is the provider's acknowledgement.
type SendResponse struct {
	SID    string
	Status string
}

// MessageSender delivers a message through the provider.
type MessageSender interface {
	Send(ctx context.Context, req SendRequest) (SendResponse, error)
}

// Delivery statuses written to the status store.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// StatusUpdate is one pending upsert into the status store, keyed by member.
type StatusUpdate struct {
	MemberID      string
	SubscriberKey string
	MessageSID    string
	Status        string
}

// ExecutionRecord correlates a provider message with the contact that triggered it.
type ExecutionRecord struct {
	ID             string
	IdempotencyKey string
	MessageSID     string
	MemberID       string
	SubscriberKey  string
	Recipient      string
	Channel        Channel
	Status         string
	CreatedAt      time.Time
}

// ExecutionRecorder persists executions and queues status updates for the outbox.
type ExecutionRecorder interface {
	// RecordExecution stores the execution and, when update is non-nil, queues it in the
	// same transaction.
	RecordExecution(ctx context.Context, record ExecutionRecord, update *StatusUpdate) error
	// EnqueueStatus queues a status update on its own.
	EnqueueStatus(ctx context.Context, update StatusUpdate) error
}

// Claim is the outcome of claiming an idempotency token.
type Claim struct {
	Acquired bool
	// Result is set when a previous execution with the same token already completed.
	Result *Result
}

// IdempotencyStore deduplicates executions by token for a bounded time.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string) (Claim, error)
	Complete(ctx context.Context, key string, result Result) error
	Release(ctx context.Context, key string) error
}

// NoopRecorder discards executions.
type NoopRecorder struct{}

// RecordExecution performs no action.
func (NoopRecorder) RecordExecution(context.Context, ExecutionRecord, *StatusUpdate) error {
	return nil
}

// EnqueueStatus performs no action.
func (NoopRecorder) EnqueueStatus(context.Context, StatusUpdate) error { return nil }

// NoopIdempotencyStore acquires every claim.
type NoopIdempotencyStore struct{}

// Claim always succeeds.
func (NoopIdempotencyStore) Claim(context.Context, string) (Claim, error) {
	return Claim{Acquired: true}, nil
}

// Complete performs no action.
func (NoopIdempotencyStore) Complete(context.Context, string, Result) error { return nil }

// Release performs no action.
func (NoopIdempotencyStore) Release(context.Context, string) error { return nil }
