// Package twilio sends activity messages through the Twilio Messaging API.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"time"

	twiliosdk "github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/rockstartushar/twilio-jb-activity/internal/domain"
)

type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// Sender implements domain.MessageSender on top of the Twilio REST client.
type Sender struct {
	api  messageCreator
	base *twilioclient.Client
}

// NewSender builds a Sender authenticated with the account SID and auth token. A positive
// timeout cuts off the underlying HTTP request, not just the wait for it.
func NewSender(accountSID, authToken string, timeout time.Duration) *Sender {
	base := &twilioclient.Client{Credentials: twilioclient.NewCredentials(accountSID, authToken)}
	base.SetAccountSid(accountSID)
	if timeout > 0 {
		base.SetTimeout(timeout)
	}
	client := twiliosdk.NewRestClientWithParams(twiliosdk.ClientParams{Client: base})
	return &Sender{api: client.Api, base: base}
}

type createResult struct {
	msg *openapi.ApiV2010Message
	err error
}

// Send creates the message. The SDK call takes no context, so the context deadline is
// enforced around it. The HTTP client timeout set in NewSender bounds the abandoned call.
func (s *Sender) Send(ctx context.Context, req domain.SendRequest) (domain.SendResponse, error) {
	params := &openapi.CreateMessageParams{}
	params.SetTo(req.To)
	params.SetBody(req.Body)
	if req.From != "" {
		params.SetFrom(req.From)
	} else {
		params.SetMessagingServiceSid(req.MessagingServiceSID)
	}
	if req.StatusCallback != "" {
		params.SetStatusCallback(req.StatusCallback)
	}

	done := make(chan createResult, 1)
	go func() {
		msg, err := s.api.CreateMessage(params)
		done <- createResult{msg: msg, err: err}
	}()

	select {
	case <-ctx.Done():
		return domain.SendResponse{}, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return domain.SendResponse{}, providerError(res.err)
		}
		return toResponse(res.msg)
	}
}

func toResponse(msg *openapi.ApiV2010Message) (domain.SendResponse, error) {
	if msg == nil || msg.Sid == nil || *msg.Sid == "" {
		return domain.SendResponse{}, errors.New("twilio accepted the message without returning a sid")
	}
	resp := domain.SendResponse{SID: *msg.Sid}
	if msg.Status != nil {
		resp.Status = *msg.Status
	}
	return resp, nil
}

// providerError keeps the API's own message so it reaches the orchestrator unchanged.
func providerError(err error) error {
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) && restErr.Message != "" {
		return &Error{Code: restErr.Code, Status: restErr.Status, Message: restErr.Message, err: err}
	}
	return err
}

// Error is a rejected Twilio API call.
type Error struct {
	Code    int
	Status  int
	Message string
	err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.err
}

// Detail renders the full API error for logs.
func (e *Error) Detail() string {
	return fmt.Sprintf("twilio error %d (http %d): %s", e.Code, e.Status, e.Message)
}
