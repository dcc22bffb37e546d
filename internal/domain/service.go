// Package domain implements the execute flow of the activity: argument extraction,
// channel handling, the provider send and status write-back.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rockstartushar/twilio-jb-activity/internal/activity"
	"github.com/rockstartushar/twilio-jb-activity/internal/observability"
)

// DefaultBody is sent when the argument list carries no body.
const DefaultBody = "Hello from Twilio!"

const recordTimeout = 5 * time.Second

// Outcome is the branch result reported to the orchestrator.
type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeError Outcome = "error"
)

// Result is the outcome of an execution.
type Result struct {
	Outcome    Outcome
	MessageSID string
	Error      string
}

// SenderConfig describes where messages originate.
type SenderConfig struct {
	From                string
	MessagingServiceSID string
	StatusCallback      string
	// Timeout bounds each provider call. Zero disables the deadline.
	Timeout time.Duration
}

// Option configures optional collaborators of the Service.
type Option func(*Service)

// WithRecorder enables execution recording and status write-back.
func WithRecorder(recorder ExecutionRecorder) Option {
	return func(s *Service) {
		s.recorder = recorder
	}
}

// WithIdempotencyStore enables deduplication of repeated executions.
func WithIdempotencyStore(store IdempotencyStore) Option {
	return func(s *Service) {
		s.idempotency = store
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service orchestrates executions.
type Service struct {
	sender      MessageSender
	cfg         SenderConfig
	recorder    ExecutionRecorder
	idempotency IdempotencyStore
	logger      *zap.Logger
	now         func() time.Time
}

// NewService constructs a Service.
func NewService(sender MessageSender, cfg SenderConfig, opts ...Option) *Service {
	s := &Service{
		sender:      sender,
		cfg:         cfg,
		recorder:    NoopRecorder{},
		idempotency: NoopIdempotencyStore{},
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExecuteInput is one orchestrator call for one contact.
type ExecuteInput struct {
	Arguments      activity.ArgumentList
	IdempotencyKey string
}

// Execute runs the send for one contact. The boolean reports an idempotent replay of an
// already completed execution. Failures are returned as *ExecutionError.
func (s *Service) Execute(ctx context.Context, input ExecuteInput) (*Result, bool, error) {
	key := strings.TrimSpace(input.IdempotencyKey)
	if key != "" {
		claim, err := s.idempotency.Claim(ctx, key)
		switch {
		case err != nil:
			s.logger.Warn("idempotency claim failed, executing without deduplication",
				zap.String("idempotency_key", key), zap.Error(err))
			key = ""
		case !claim.Acquired && claim.Result != nil:
			observability.RecordReplay()
			s.logger.Info("replaying completed execution",
				zap.String("idempotency_key", key), zap.String("message_sid", claim.Result.MessageSID))
			return claim.Result, true, nil
		case !claim.Acquired:
			return nil, false, &ExecutionError{Kind: KindConflict, Message: ErrDuplicateInFlight.Error(), Err: ErrDuplicateInFlight}
		}
	}

	result, err := s.execute(ctx, input.Arguments, key)

	if key != "" {
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		switch {
		case errors.Is(err, ErrProviderTimeout):
			// The message may still have gone out. The pending token turns retries into
			// conflicts until it expires.
			s.logger.Warn("provider outcome unknown, keeping idempotency token", zap.String("idempotency_key", key))
		case err != nil:
			if relErr := s.idempotency.Release(storeCtx, key); relErr != nil {
				s.logger.Warn("idempotency release failed", zap.String("idempotency_key", key), zap.Error(relErr))
			}
		default:
			if compErr := s.idempotency.Complete(storeCtx, key, *result); compErr != nil {
				s.logger.Warn("idempotency completion failed", zap.String("idempotency_key", key), zap.Error(compErr))
			}
		}
	}

	if err != nil {
		return nil, false, err
	}
	return result, false, nil
}

type contact struct {
	memberID      string
	subscriberKey string
}

func (s *Service) execute(ctx context.Context, args activity.ArgumentList, idempotencyKey string) (*Result, error) {
	to, ok := args.Lookup(activity.KeyTo)
	if !ok {
		s.logger.Warn("execute rejected: missing recipient phone number")
		observability.RecordExecution(string(OutcomeError), "unknown")
		return nil, &ExecutionError{Kind: KindInput, Message: "Missing 'to' phone number", Err: ErrMissingRecipient}
	}

	body, ok := args.Lookup(activity.KeyBody)
	if !ok {
		body = DefaultBody
	}

	rawChannel := args.Get(activity.KeyChannel)
	channel, known := ParseChannel(rawChannel)
	if !known {
		s.logger.Warn("unknown channel, sending as sms", zap.String("channel", rawChannel))
	}

	req := SendRequest{
		To:             channel.Address(to),
		Body:           body,
		StatusCallback: s.cfg.StatusCallback,
		Channel:        channel,
	}

	switch {
	case s.cfg.From != "":
		req.From = channel.Address(s.cfg.From)
	case s.cfg.MessagingServiceSID != "":
		req.MessagingServiceSID = s.cfg.MessagingServiceSID
	default:
		s.logger.Error("execute rejected: no MSID or TWILIO_FROM configured")
		observability.RecordExecution(string(OutcomeError), string(channel))
		return nil, &ExecutionError{Kind: KindConfiguration, Message: "No MSID or TWILIO_FROM configured", Err: ErrNoOrigin}
	}

	who := contact{
		memberID:      args.Get(activity.KeyMemberID),
		subscriberKey: args.Get(activity.KeyCustomerKey),
	}

	s.logger.Info("sending message",
		zap.String("to", req.To),
		zap.String("channel", string(channel)),
		zap.Bool("messaging_service", req.MessagingServiceSID != ""),
		zap.Int("body_length", len(body)),
	)

	resp, err := s.send(ctx, req)
	if err != nil {
		s.logger.Error("message send failed", zap.String("to", req.To), zap.Error(err))
		observability.RecordExecution(string(OutcomeError), string(channel))
		s.recordFailure(ctx, who)
		return nil, &ExecutionError{Kind: KindProvider, Message: err.Error(), Err: err}
	}

	s.logger.Info("message sent", zap.String("message_sid", resp.SID), zap.String("status", resp.Status))
	observability.RecordExecution(string(OutcomeOK), string(channel))
	s.recordSuccess(ctx, who, req, resp, idempotencyKey)

	return &Result{Outcome: OutcomeOK, MessageSID: resp.SID}, nil
}

func (s *Service) send(ctx context.Context, req SendRequest) (SendResponse, error) {
	sendCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.sender.Send(sendCtx, req)
	observability.ObserveProviderSend(time.Since(start), err == nil)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			return SendResponse{}, fmt.Errorf("%w after %s", ErrProviderTimeout, s.cfg.Timeout)
		}
		return SendResponse{}, err
	}
	return resp, nil
}

// recordSuccess stores the execution and queues its status. Failures are logged only: the
// send already succeeded and its result stands.
func (s *Service) recordSuccess(ctx context.Context, who contact, req SendRequest, resp SendResponse, idempotencyKey string) {
	status := resp.Status
	if status == "" {
		status = StatusSent
	}

	record := ExecutionRecord{
		ID:             uuid.NewString(),
		IdempotencyKey: idempotencyKey,
		MessageSID:     resp.SID,
		MemberID:       who.memberID,
		SubscriberKey:  who.subscriberKey,
		Recipient:      req.To,
		Channel:        req.Channel,
		Status:         status,
		CreatedAt:      s.now().UTC(),
	}

	var update *StatusUpdate
	if who.memberID != "" {
		update = &StatusUpdate{
			MemberID:      who.memberID,
			SubscriberKey: who.subscriberKey,
			MessageSID:    resp.SID,
			Status:        status,
		}
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.recorder.RecordExecution(recordCtx, record, update); err != nil {
		observability.RecordStatusError()
		s.logger.Error("status record failed after successful send",
			zap.String("message_sid", resp.SID), zap.String("member_id", who.memberID), zap.Error(err))
	}
}

// recordFailure queues a failed status for the member, swallowing any error.
func (s *Service) recordFailure(ctx context.Context, who contact) {
	if who.memberID == "" {
		return
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	err := s.recorder.EnqueueStatus(recordCtx, StatusUpdate{
		MemberID:      who.memberID,
		SubscriberKey: who.subscriberKey,
		Status:        StatusFailed,
	})
	if err != nil {
		observability.RecordStatusError()
		s.logger.Warn("failed status record dropped", zap.String("member_id", who.memberID), zap.Error(err))
	}
}
