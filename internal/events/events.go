// Package events defines the callback payloads published to Kafka.
package events

import (
	"net/url"
	"time"
)

// Event types carried in the event_type header.
const (
	TypeMessageStatus  = "message.status"
	TypeMessageInbound = "message.inbound"
)

// StatusCallback is a provider delivery-status notification.
type StatusCallback struct {
	MessageSID string            `json:"message_sid"`
	Status     string            `json:"status"`
	To         string            `json:"to,omitempty"`
	From       string            `json:"from,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	AccountSID string            `json:"account_sid,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
	RawForm    map[string]string `json:"raw_form,omitempty"`
}

// InboundMessage is a message a contact sent to one of the account's numbers.
type InboundMessage struct {
	MessageSID string            `json:"message_sid"`
	From       string            `json:"from"`
	To         string            `json:"to"`
	Body       string            `json:"body"`
	NumMedia   string            `json:"num_media,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
	RawForm    map[string]string `json:"raw_form,omitempty"`
}

// StatusFromForm maps the provider's form fields. MessageStatus wins over the legacy SmsStatus.
func StatusFromForm(form url.Values, now time.Time) StatusCallback {
	status := form.Get("MessageStatus")
	if status == "" {
		status = form.Get("SmsStatus")
	}
	sid := form.Get("MessageSid")
	if sid == "" {
		sid = form.Get("SmsSid")
	}
	return StatusCallback{
		MessageSID: sid,
		Status:     status,
		To:         form.Get("To"),
		From:       form.Get("From"),
		ErrorCode:  form.Get("ErrorCode"),
		AccountSID: form.Get("AccountSid"),
		ReceivedAt: now.UTC(),
		RawForm:    flatten(form),
	}
}

// InboundFromForm maps an inbound message webhook.
func InboundFromForm(form url.Values, now time.Time) InboundMessage {
	sid := form.Get("MessageSid")
	if sid == "" {
		sid = form.Get("SmsSid")
	}
	return InboundMessage{
		MessageSID: sid,
		From:       form.Get("From"),
		To:         form.Get("To"),
		Body:       form.Get("Body"),
		NumMedia:   form.Get("NumMedia"),
		ReceivedAt: now.UTC(),
		RawForm:    flatten(form),
	}
}

func flatten(form url.Values) map[string]string {
	if len(form) == 0 {
		return nil
	}
	out := make(map[string]string, len(form))
	for k := range form {
		out[k] = form.Get(k)
	}
	return out
}

// Terminal reports whether no further status callbacks follow this status.
func Terminal(status string) bool {
	switch status {
	case "delivered", "undelivered", "failed", "read":
		return true
	}
	return false
}
