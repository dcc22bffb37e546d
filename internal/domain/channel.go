package domain

import "strings"

// Channel is the delivery channel requested by the activity configuration.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// WhatsAppPrefix marks an address as a WhatsApp endpoint for the provider.
const WhatsAppPrefix = "whatsapp:"

// ParseChannel normalises a configured channel value. Empty input means sms. The second
// return value is false when the input was not recognised, in which case sms is used.
func ParseChannel(raw string) (Channel, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "sms":
		return ChannelSMS, true
	case "wa", "whatsapp":
		return ChannelWhatsApp, true
	default:
		return ChannelSMS, false
	}
}

// Address rewrites an address for the channel. The WhatsApp rewrite is idempotent.
func (c Channel) Address(address string) string {
	if c != ChannelWhatsApp || strings.HasPrefix(address, WhatsAppPrefix) {
		return address
	}
	return WhatsAppPrefix + address
}
