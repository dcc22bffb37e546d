package twilio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/rockstartushar/twilio-jb-activity/internal/domain"
)

func TestSendUsesFromAddress(t *testing.T) {
	api := &stubAPI{msg: message("SM123", "queued")}
	sender := &Sender{api: api}

	resp, err := sender.Send(context.Background(), domain.SendRequest{
		To:             "whatsapp:+15551234567",
		From:           "whatsapp:+15550001111",
		Body:           "hi",
		StatusCallback: "https://example.com/twilio/status",
	})
	require.NoError(t, err)
	require.Equal(t, domain.SendResponse{SID: "SM123", Status: "queued"}, resp)

	params := api.params
	require.Equal(t, "whatsapp:+15551234567", *params.To)
	require.Equal(t, "whatsapp:+15550001111", *params.From)
	require.Equal(t, "hi", *params.Body)
	require.Equal(t, "https://example.com/twilio/status", *params.StatusCallback)
	require.Nil(t, params.MessagingServiceSid)
}

func TestNewSenderBoundsHTTPRequests(t *testing.T) {
	sender := NewSender("AC123", "token", 3*time.Second)
	require.NotNil(t, sender.base.HTTPClient)
	require.Equal(t, 3*time.Second, sender.base.HTTPClient.Timeout)
	require.Equal(t, "AC123", sender.base.AccountSid())
}

func TestSendUsesMessagingService(t *testing.T) {
	api := &stubAPI{msg: message("SM456", "accepted")}
	sender := &Sender{api: api}

	_, err := sender.Send(context.Background(), domain.SendRequest{
		To:                  "+15551234567",
		MessagingServiceSID: "MG123",
		Body:                "hi",
	})
	require.NoError(t, err)
	require.Equal(t, "MG123", *api.params.MessagingServiceSid)
	require.Nil(t, api.params.From)
	require.Nil(t, api.params.StatusCallback)
}

func TestSendPassesProviderMessageThrough(t *testing.T) {
	api := &stubAPI{err: &twilioclient.TwilioRestError{
		Code:    21211,
		Status:  400,
		Message: "The 'To' number +1555 is not a valid phone number.",
	}}
	sender := &Sender{api: api}

	_, err := sender.Send(context.Background(), domain.SendRequest{To: "+1555", From: "+15550001111"})
	require.EqualError(t, err, "The 'To' number +1555 is not a valid phone number.")

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 21211, apiErr.Code)
	require.Contains(t, apiErr.Detail(), "http 400")
}

func TestSendHonoursDeadline(t *testing.T) {
	api := &stubAPI{delay: time.Second, msg: message("SM789", "queued")}
	sender := &Sender{api: api}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := sender.Send(ctx, domain.SendRequest{To: "+15551234567", From: "+15550001111"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSendRejectsMissingSID(t *testing.T) {
	sender := &Sender{api: &stubAPI{msg: &openapi.ApiV2010Message{}}}

	_, err := sender.Send(context.Background(), domain.SendRequest{To: "+15551234567", From: "+15550001111"})
	require.Error(t, err)
}

func TestSendKeepsOtherErrors(t *testing.T) {
	boom := errors.New("dial tcp: connection refused")
	sender := &Sender{api: &stubAPI{err: boom}}

	_, err := sender.Send(context.Background(), domain.SendRequest{To: "+15551234567", From: "+15550001111"})
	require.ErrorIs(t, err, boom)
}

type stubAPI struct {
	msg    *openapi.ApiV2010Message
	err    error
	delay  time.Duration
	params *openapi.CreateMessageParams
}

func (s *stubAPI) CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error) {
	s.params = params
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.msg, s.err
}

func message(sid, status string) *openapi.ApiV2010Message {
	return &openapi.ApiV2010Message{Sid: &sid, Status: &status}
}
