package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rockstartushar/twilio-jb-activity/internal/domain"
	"github.com/rockstartushar/twilio-jb-activity/internal/events"
)

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &stubSender{}, domain.SenderConfig{From: "+15550001111"})

	rec := serve(h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Twilio JB Activity: OK", rec.Body.String())

	rec = serve(h, http.MethodGet, "/healthz", "")
	require.Equal(t, "ok", rec.Body.String())
}

func TestConfigDescriptor(t *testing.T) {
	h := newTestHandler(t, &stubSender{}, domain.SenderConfig{})
	h.descriptor = stubDescriptor{body: []byte(`{"url":"https://x/execute"}`)}

	rec := serve(h, http.MethodGet, "/config.json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"url":"https://x/execute"}`, rec.Body.String())

	h.descriptor = stubDescriptor{err: errors.New("no such file")}
	rec = serve(h, http.MethodGet, "/config.json", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"Failed to load config.json"}`, rec.Body.String())
}

func TestWidgetAssets(t *testing.T) {
	h := newTestHandler(t, &stubSender{}, domain.SenderConfig{})

	rec := serve(h, http.MethodGet, "/ui", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "<html>")

	rec = serve(h, http.MethodGet, "/public/activity.js", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Postmonger")
}

func TestLifecycleAcknowledgesAnyBody(t *testing.T) {
	h := newTestHandler(t, &stubSender{}, domain.SenderConfig{})

	for _, action := range []string{"save", "publish", "validate"} {
		rec := serve(h, http.MethodPost, "/"+action, `{"arguments":{"execute":{"inArguments":[{"to":"+1"}]}}}`)
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"status":"ok","action":"`+action+`"}`, rec.Body.String())
	}

	rec := serve(h, http.MethodPost, "/stop", "not json")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"stopped","action":"stop"}`, rec.Body.String())

	rec = serve(h, http.MethodPost, "/validate", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLifecycleWarnsWhenPublishingUnconfiguredActivity(t *testing.T) {
	h := newTestHandler(t, &stubSender{}, domain.SenderConfig{})
	core, logs := observer.New(zapcore.InfoLevel)
	h.logger = zap.New(core)

	configured := `{"arguments":{"execute":{"inArguments":[{"to":"+1"}]}},"metaData":{"isConfigured":true}}`
	unsaved := `{"arguments":{"execute":{"inArguments":[]}},"metaData":{"isConfigured":false}}`

	require.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/publish", configured).Code)
	require.Zero(t, logs.FilterMessage("lifecycle call for unconfigured activity").Len())

	require.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/save", unsaved).Code)
	require.Zero(t, logs.FilterMessage("lifecycle call for unconfigured activity").Len(), "save is not an activation")

	rec := serve(h, http.MethodPost, "/publish", unsaved)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","action":"publish"}`, rec.Body.String())

	warnings := logs.FilterMessage("lifecycle call for unconfigured activity").All()
	require.Len(t, warnings, 1)
	require.Equal(t, zapcore.WarnLevel, warnings[0].Level)
	require.Equal(t, "publish", warnings[0].ContextMap()["action"])
}

func TestExecuteSendsSMS(t *testing.T) {
	sender := &stubSender{resp: domain.SendResponse{SID: "SM123", Status: "queued"}}
	h := newTestHandler(t, sender, domain.SenderConfig{From: "+15550001111"})

	rec := serve(h, http.MethodPost, "/execute", `{"inArguments":[{"to":"+15551234567"},{"body":"Hi"},{"channel":"sms"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"branchResult":"ok","messageSid":"SM123"}`, rec.Body.String())
	require.Equal(t, "+15551234567", sender.last.To)
	require.Equal(t, "+15550001111", sender.last.From)
	require.Equal(t, "Hi", sender.last.Body)
}

func TestExecuteWhatsAppPrefixesAddresses(t *testing.T) {
	sender := &stubSender{resp: domain.SendResponse{SID: "SM9"}}
	h := newTestHandler(t, sender, domain.SenderConfig{From: "+15550001111"})

	rec := serve(h, http.MethodPost, "/execute", `{"inArguments":[{"to":"+15551234567"},{"channel":"whatsapp"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "whatsapp:+15551234567", sender.last.To)
	require.Equal(t, "whatsapp:+15550001111", sender.last.From)
	require.Equal(t, domain.DefaultBody, sender.last.Body)
}

func TestExecuteMissingRecipient(t *testing.T) {
	sender := &stubSender{}
	h := newTestHandler(t, sender, domain.SenderConfig{From: "+15550001111"})

	for _, body := range []string{`{"inArguments":[{"body":"Hi"}]}`, `{}`, ``} {
		rec := serve(h, http.MethodPost, "/execute", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.JSONEq(t, `{"branchResult":"error","error":"Missing 'to' phone number"}`, rec.Body.String())
	}
	require.Zero(t, sender.calls)
}

func TestExecuteWithoutOrigin(t *testing.T) {
	sender := &stubSender{}
	h := newTestHandler(t, sender, domain.SenderConfig{})

	rec := serve(h, http.MethodPost, "/execute", `{"inArguments":[{"to":"+15551234567"}]}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"branchResult":"error","error":"No MSID or TWILIO_FROM configured"}`, rec.Body.String())
	require.Zero(t, sender.calls)
}

func TestExecutePassesProviderErrorThrough(t *testing.T) {
	sender := &stubSender{err: errors.New("The 'To' number is not a valid phone number.")}
	h := newTestHandler(t, sender, domain.SenderConfig{MessagingServiceSID: "MG1"})

	rec := serve(h, http.MethodPost, "/execute", `{"inArguments":[{"to":"+1"}]}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"branchResult":"error","error":"The 'To' number is not a valid phone number."}`, rec.Body.String())
}

func TestExecuteRejectsNonCanonicalArguments(t *testing.T) {
	sender := &stubSender{}
	h := newTestHandler(t, sender, domain.SenderConfig{From: "+15550001111"})

	for _, body := range []string{
		`{"inArguments":{"to":"+1"}}`,
		`{"inArguments":["+1"]}`,
		`{"inArguments":[{"to":{"nested":"+1"}}]}`,
		`{"inArguments":`,
	} {
		rec := serve(h, http.MethodPost, "/execute", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		var resp BranchResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "error", resp.BranchResult)
		require.True(t, strings.HasPrefix(resp.Error, "invalid request body: "), resp.Error)
	}
	require.Zero(t, sender.calls)
}

func TestExecuteAcceptsMergedArgumentObject(t *testing.T) {
	sender := &stubSender{resp: domain.SendResponse{SID: "SM7"}}
	h := newTestHandler(t, sender, domain.SenderConfig{From: "+15550001111"})

	rec := serve(h, http.MethodPost, "/execute", `{"inArguments":[{"to":"+15551234567","body":"Merged","channel":"sms"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Merged", sender.last.Body)
}

func TestExecuteReplaysAndRejectsInFlightDuplicates(t *testing.T) {
	exec := &stubExecutor{result: &domain.Result{Outcome: domain.OutcomeOK, MessageSID: "SM1"}, replay: true}
	h := newTestHandler(t, &stubSender{}, domain.SenderConfig{})
	h.service = exec

	req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(`{"inArguments":[{"to":"+1"}]}`))
	req.Header.Set("Idempotency-Key", "abc")
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "true", rec.Header().Get("Idempotent-Replay"))
	require.JSONEq(t, `{"branchResult":"ok","messageSid":"SM1"}`, rec.Body.String())
	require.Equal(t, "abc", exec.last.IdempotencyKey)

	exec.result, exec.replay = nil, false
	exec.err = &domain.ExecutionError{Kind: domain.KindConflict, Message: domain.ErrDuplicateInFlight.Error(), Err: domain.ErrDuplicateInFlight}
	rec = serve(h, http.MethodPost, "/execute", `{"inArguments":[{"to":"+1"}]}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.JSONEq(t, `{"branchResult":"error","error":"duplicate execution in progress"}`, rec.Body.String())
}

func TestIdempotencyKeyDerivation(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/execute", nil)
	body := ExecuteRequest{DefinitionInstanceID: "def", ActivityInstanceID: "act", KeyValue: "contact-1"}

	derived := idempotencyKey(req, body)
	require.Len(t, derived, 64)
	require.Equal(t, derived, idempotencyKey(req, body))

	body.KeyValue = "contact-2"
	require.NotEqual(t, derived, idempotencyKey(req, body))

	body.ActivityInstanceID = ""
	require.Empty(t, idempotencyKey(req, body))

	req.Header.Set("Idempotency-Key", " explicit ")
	require.Equal(t, "explicit", idempotencyKey(req, body))
}

func TestCallbacksPublishAndAcknowledge(t *testing.T) {
	pub := &stubPublisher{}
	h := newTestHandler(t, &stubSender{}, domain.SenderConfig{})
	h.publisher = pub

	form := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}}
	rec := serveForm(h, "/twilio/status", form)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
	require.Len(t, pub.statuses, 1)
	require.Equal(t, "delivered", pub.statuses[0].Status)

	rec = serveForm(h, "/twilio/inbound", url.Values{"MessageSid": {"SM2"}, "From": {"+1"}, "Body": {"STOP"}})
	require.Equal(t, "ok", rec.Body.String())
	require.Len(t, pub.inbound, 1)
	require.Equal(t, "STOP", pub.inbound[0].Body)

	pub.err = errors.New("broker down")
	rec = serveForm(h, "/twilio/status", form)
	require.Equal(t, http.StatusOK, rec.Code, "publish failures never reach the provider")
}

func TestCORSAllowsAnyOrigin(t *testing.T) {
	h := newTestHandler(t, &stubSender{}, domain.SenderConfig{})

	req := httptest.NewRequest(http.MethodOptions, "/execute", nil)
	req.Header.Set("Origin", "https://mc.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func newTestHandler(t *testing.T, sender domain.MessageSender, cfg domain.SenderConfig) *Handler {
	t.Helper()
	assets := fstest.MapFS{
		"index.html":  {Data: []byte("<!DOCTYPE html><html><body></body></html>")},
		"activity.js": {Data: []byte("var connection = new Postmonger.Session();")},
	}
	h, err := NewHandler(domain.NewService(sender, cfg), stubDescriptor{body: []byte(`{}`)}, nil, assets, nil)
	require.NoError(t, err)
	return h
}

func serve(h *Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func serveForm(h *Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

type stubSender struct {
	resp  domain.SendResponse
	err   error
	calls int
	last  domain.SendRequest
}

func (s *stubSender) Send(_ context.Context, req domain.SendRequest) (domain.SendResponse, error) {
	s.calls++
	s.last = req
	return s.resp, s.err
}

type stubExecutor struct {
	result *domain.Result
	replay bool
	err    error
	last   domain.ExecuteInput
}

func (s *stubExecutor) Execute(_ context.Context, in domain.ExecuteInput) (*domain.Result, bool, error) {
	s.last = in
	return s.result, s.replay, s.err
}

type stubDescriptor struct {
	body []byte
	err  error
}

func (s stubDescriptor) Load() ([]byte, error) { return s.body, s.err }

type stubPublisher struct {
	err      error
	statuses []events.StatusCallback
	inbound  []events.InboundMessage
}

func (s *stubPublisher) PublishStatus(_ context.Context, e events.StatusCallback) error {
	s.statuses = append(s.statuses, e)
	return s.err
}

func (s *stubPublisher) PublishInbound(_ context.Context, e events.InboundMessage) error {
	s.inbound = append(s.inbound, e)
	return s.err
}
