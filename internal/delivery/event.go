// Package delivery folds gateway callbacks into message state: status
// reports advance a message, inbound messages become replies or opt-outs.
package delivery

import (
	"strings"

	"whatsapp-campaigns/internal/models"
)

// Event is one parsed callback. The concrete type is one of StatusUpdate,
// InboundMessage, ErrorEvent or Unknown.
type Event interface {
	Type() string
	SID() string
}

type StatusUpdate struct {
	ProviderSID  string
	Status       string // gateway status, lower case
	ErrorCode    string
	ErrorMessage string
}

type InboundMessage struct {
	ProviderSID string
	From        string
	To          string
	Body        string
}

type ErrorEvent struct {
	ProviderSID  string
	ErrorCode    string
	ErrorMessage string
}

type Unknown struct {
	ProviderSID string
}

func (StatusUpdate) Type() string   { return models.WebhookStatus }
func (InboundMessage) Type() string { return models.WebhookInbound }
func (ErrorEvent) Type() string     { return models.WebhookError }
func (Unknown) Type() string        { return models.WebhookUnknown }

func (e StatusUpdate) SID() string   { return e.ProviderSID }
func (e InboundMessage) SID() string { return e.ProviderSID }
func (e ErrorEvent) SID() string     { return e.ProviderSID }
func (e Unknown) SID() string        { return e.ProviderSID }

// Parse classifies a callback by its fields. Inbound messages arrive with
// status "received", so a body and sender win over the status field.
func Parse(fields map[string]string) Event {
	get := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(fields[k]); v != "" {
				return v
			}
		}
		return ""
	}
	sid := get("MessageSid", "SmsMessageSid", "SmsSid")
	status := strings.ToLower(get("MessageStatus", "SmsStatus"))
	from := get("From")
	body := get("Body")
	code := get("ErrorCode")
	message := get("ErrorMessage")

	switch {
	case from != "" && body != "" && (status == "" || status == "received"):
		return InboundMessage{ProviderSID: sid, From: from, To: get("To"), Body: body}
	case status != "":
		return StatusUpdate{ProviderSID: sid, Status: status, ErrorCode: code, ErrorMessage: message}
	case code != "":
		return ErrorEvent{ProviderSID: sid, ErrorCode: code, ErrorMessage: message}
	default:
		return Unknown{ProviderSID: sid}
	}
}
