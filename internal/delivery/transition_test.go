package delivery

import (
	"testing"

	"whatsapp-campaigns/internal/models"
)

func TestTransition(t *testing.T) {
	const (
		queued    = models.MessageQueued
		sent      = models.MessageSent
		delivered = models.MessageDelivered
		read      = models.MessageRead
		failed    = models.MessageFailed
	)
	tests := []struct {
		current, incoming string
		want              string
		changed           bool
	}{
		{queued, sent, sent, true},
		{queued, delivered, delivered, true},
		{sent, delivered, delivered, true},
		{sent, read, read, true},
		{delivered, read, read, true},
		{queued, failed, failed, true},
		{sent, failed, failed, true},
		{delivered, failed, failed, true},

		{sent, sent, sent, false},
		{sent, queued, sent, false},
		{delivered, sent, delivered, false},
		{read, sent, read, false},
		{read, delivered, read, false},
		{read, failed, read, false},
		{failed, delivered, failed, false},
		{failed, failed, failed, false},
		{sent, "BOGUS", sent, false},
	}
	for _, tt := range tests {
		got, changed := Transition(tt.current, tt.incoming)
		if got != tt.want || changed != tt.changed {
			t.Errorf("Transition(%s, %s) = %s, %v; want %s, %v", tt.current, tt.incoming, got, changed, tt.want, tt.changed)
		}
	}
}

func TestMessageStatus(t *testing.T) {
	tests := map[string]string{
		"queued":      models.MessageQueued,
		"sent":        models.MessageSent,
		"delivered":   models.MessageDelivered,
		"read":        models.MessageRead,
		"failed":      models.MessageFailed,
		"undelivered": models.MessageFailed,
	}
	for in, want := range tests {
		got, ok := MessageStatus(in)
		if !ok || got != want {
			t.Errorf("MessageStatus(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := MessageStatus("receiving"); ok {
		t.Error("unexpected mapping for receiving")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		want   Event
	}{
		{
			name:   "status update",
			fields: map[string]string{"MessageSid": "SM1", "MessageStatus": "Delivered"},
			want:   StatusUpdate{ProviderSID: "SM1", Status: "delivered"},
		},
		{
			name:   "sms status fallback with error",
			fields: map[string]string{"SmsSid": "SM2", "SmsStatus": "undelivered", "ErrorCode": "30008", "ErrorMessage": "Unknown error"},
			want:   StatusUpdate{ProviderSID: "SM2", Status: "undelivered", ErrorCode: "30008", ErrorMessage: "Unknown error"},
		},
		{
			name:   "inbound received",
			fields: map[string]string{"MessageSid": "SM3", "SmsStatus": "received", "From": "whatsapp:+593991234511", "To": "whatsapp:+593900000000", "Body": "STOP"},
			want:   InboundMessage{ProviderSID: "SM3", From: "whatsapp:+593991234511", To: "whatsapp:+593900000000", Body: "STOP"},
		},
		{
			name:   "inbound without status",
			fields: map[string]string{"From": "+593991234511", "Body": "hola"},
			want:   InboundMessage{From: "+593991234511", Body: "hola"},
		},
		{
			name:   "error only",
			fields: map[string]string{"MessageSid": "SM4", "ErrorCode": "63016"},
			want:   ErrorEvent{ProviderSID: "SM4", ErrorCode: "63016"},
		},
		{
			name:   "unknown",
			fields: map[string]string{"AccountSid": "AC1"},
			want:   Unknown{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.fields)
			if got != tt.want {
				t.Fatalf("Parse = %#v, want %#v", got, tt.want)
			}
		})
	}
}
