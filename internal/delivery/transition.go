package delivery

import "whatsapp-campaigns/internal/models"

// MessageStatus maps a gateway status onto the message lifecycle.
func MessageStatus(gateway string) (string, bool) {
	switch gateway {
	case "queued", "accepted", "scheduled":
		return models.MessageQueued, true
	case "sending", "sent":
		return models.MessageSent, true
	case "delivered":
		return models.MessageDelivered, true
	case "read":
		return models.MessageRead, true
	case "failed", "undelivered", "canceled":
		return models.MessageFailed, true
	}
	return "", false
}

var rank = map[string]int{
	models.MessageQueued:    0,
	models.MessageSent:      1,
	models.MessageDelivered: 2,
	models.MessageRead:      3,
}

// Terminal reports whether no callback may move a message out of status.
func Terminal(status string) bool {
	return status == models.MessageFailed || status == models.MessageRead
}

// Transition applies an incoming status to the current one. Progress is
// forward only along QUEUED, SENT, DELIVERED, READ and FAILED ends any
// non-terminal state. Anything else leaves current unchanged.
func Transition(current, incoming string) (string, bool) {
	if Terminal(current) {
		return current, false
	}
	if incoming == models.MessageFailed {
		return models.MessageFailed, true
	}
	from, ok := rank[current]
	if !ok {
		return current, false
	}
	to, ok := rank[incoming]
	if !ok || to <= from {
		return current, false
	}
	return incoming, true
}
