package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/rockstartushar/twilio-jb-activity/internal/domain"
	"github.com/rockstartushar/twilio-jb-activity/internal/events"
)

// Correlation outcomes.
const (
	outcomeApplied    = "applied"
	outcomeUnknownSID = "unknown_sid"
	outcomeIgnored    = "ignored"
)

type statusStore interface {
	// ApplyProviderStatus updates the execution and queues the status for its member.
	// A nil record means the SID was never recorded.
	ApplyProviderStatus(ctx context.Context, messageSID, status string) (*domain.ExecutionRecord, error)
}

// StatusHandler correlates terminal delivery statuses with recorded executions.
type StatusHandler struct {
	store  statusStore
	logger *zap.Logger
}

// NewStatusHandler constructs a StatusHandler.
func NewStatusHandler(store statusStore, logger *zap.Logger) *StatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHandler{store: store, logger: logger}
}

// Handle implements Handler. Non-status events and intermediate statuses are acknowledged
// without touching the store.
func (h *StatusHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != events.TypeMessageStatus {
		recordCorrelation(outcomeIgnored)
		return nil
	}

	var event events.StatusCallback
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		// Redelivery cannot fix a malformed payload.
		h.logger.Warn("skipping malformed status event", zap.Int64("offset", msg.Offset), zap.Error(err))
		recordCorrelation(outcomeIgnored)
		return nil
	}

	if event.MessageSID == "" || !events.Terminal(event.Status) {
		recordCorrelation(outcomeIgnored)
		return nil
	}

	record, err := h.store.ApplyProviderStatus(ctx, event.MessageSID, event.Status)
	if err != nil {
		return fmt.Errorf("apply status %s for %s: %w", event.Status, event.MessageSID, err)
	}
	if record == nil {
		h.logger.Debug("status for unknown message", zap.String("message_sid", event.MessageSID))
		recordCorrelation(outcomeUnknownSID)
		return nil
	}

	h.logger.Info("status correlated",
		zap.String("message_sid", event.MessageSID),
		zap.String("member_id", record.MemberID),
		zap.String("status", event.Status),
	)
	recordCorrelation(outcomeApplied)
	return nil
}
