// Package activity models the configuration payload exchanged between the journey canvas,
// the configuration widget and the execute endpoint.
package activity

import (
	"fmt"
	"strconv"
	"strings"
)

// Argument keys used by the activity.
const (
	KeyTo          = "to"
	KeyBody        = "body"
	KeyChannel     = "channel"
	KeyMemberID    = "memberId"
	KeyCustomerKey = "customerKey"
)

// DefaultWidgetChannel is the channel the widget starts from.
const DefaultWidgetChannel = "sms"

// ArgumentList is the orchestrator's ordered list of argument objects. Each element normally
// carries a single key; elements carrying several keys are looked up the same way.
type ArgumentList []map[string]any

// Lookup returns the value of the first element holding a non-empty value for key.
func (l ArgumentList) Lookup(key string) (string, bool) {
	for _, element := range l {
		raw, ok := element[key]
		if !ok {
			continue
		}
		if value := stringify(raw); value != "" {
			return value, true
		}
	}
	return "", false
}

// Get is Lookup without the presence flag.
func (l ArgumentList) Get(key string) string {
	value, _ := l.Lookup(key)
	return value
}

func stringify(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if !v {
			return ""
		}
		return "true"
	case float64:
		if v == 0 {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Configuration is the per-activity configuration saved by the widget.
type Configuration struct {
	To          string
	Body        string
	Channel     string
	MemberID    string
	CustomerKey string
}

// ConfigurationFromArguments reads a configuration the way the widget does on load: blank
// to/body and an sms channel when the list does not carry them.
func ConfigurationFromArguments(args ArgumentList) Configuration {
	channel := strings.TrimSpace(args.Get(KeyChannel))
	if channel == "" {
		channel = DefaultWidgetChannel
	}
	return Configuration{
		To:          args.Get(KeyTo),
		Body:        args.Get(KeyBody),
		Channel:     channel,
		MemberID:    args.Get(KeyMemberID),
		CustomerKey: args.Get(KeyCustomerKey),
	}
}
