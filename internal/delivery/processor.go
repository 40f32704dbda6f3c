package delivery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"whatsapp-campaigns/internal/apperrors"
	"whatsapp-campaigns/internal/events"
	"whatsapp-campaigns/internal/metrics"
	"whatsapp-campaigns/internal/models"
	"whatsapp-campaigns/internal/phone"
	"whatsapp-campaigns/internal/store"
)

// Outcomes recorded on the webhook row.
const (
	OutcomeApplied          = "applied"
	OutcomeStale            = "stale"
	OutcomeUnknownMessage   = "unknown_message"
	OutcomeIgnoredStatus    = "ignored_status"
	OutcomeReply            = "reply"
	OutcomeReplyRepeat      = "reply_repeat"
	OutcomeUnmatchedReply   = "unmatched_reply"
	OutcomeOptOut           = "opt_out"
	OutcomeOptOutRepeat     = "opt_out_repeat"
	OutcomeOptOutUnresolved = "opt_out_unresolved"
	OutcomeDuplicate        = "duplicate"
	OutcomeInvalidPhone     = "invalid_phone"
	OutcomeUnclassified     = "unclassified"
	OutcomeError            = "error"
)

// ReplayWindow bounds content dedup of inbound events without a provider sid.
// The same body from the same phone after the window is a new message.
const ReplayWindow = 10 * time.Minute

// statuses an inbound reply may attach to
var replyStatuses = []string{models.MessageSent, models.MessageDelivered, models.MessageRead}

// OptOuts is the part of the opt-out ledger the processor drives.
type OptOuts interface {
	MatchKeyword(body string) (string, bool)
	RecordKeyword(ctx context.Context, businessID uint, phone, keyword string, customerID *uint) (bool, error)
}

// Result describes how one callback was handled.
type Result struct {
	WebhookID uint   `json:"webhook_id"`
	Type      string `json:"type"`
	Outcome   string `json:"outcome"`
}

type Processor struct {
	store   *store.Store
	optOuts OptOuts
	phones  *phone.Canonicalizer
	events  events.Emitter
	log     *slog.Logger
	now     func() time.Time
}

func NewProcessor(s *store.Store, optOuts OptOuts, phones *phone.Canonicalizer, emitter events.Emitter, log *slog.Logger) *Processor {
	if emitter == nil {
		emitter = events.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		store:   s,
		optOuts: optOuts,
		phones:  phones,
		events:  emitter,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, for tests.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Handle persists the callback and applies it. It never fails: problems are
// logged and reported through the outcome, and a webhook that hit an
// internal error stays unprocessed.
func (p *Processor) Handle(ctx context.Context, fields map[string]string, raw string) (res Result) {
	ev := Parse(fields)
	res.Type = ev.Type()
	log := p.log.With("webhook_type", res.Type, "provider_sid", ev.SID())

	defer func() {
		if r := recover(); r != nil {
			log.Error("webhook handling panicked", "panic", r)
			res.Outcome = OutcomeError
		}
		metrics.IncWebhook(res.Type, res.Outcome)
	}()

	if raw == "" {
		b, _ := json.Marshal(fields)
		raw = string(b)
	}
	wh := &models.Webhook{ProviderSID: ev.SID(), Type: ev.Type(), RawPayload: raw}
	switch e := ev.(type) {
	case StatusUpdate:
		wh.Status, wh.ErrorCode, wh.ErrorMessage = e.Status, e.ErrorCode, e.ErrorMessage
	case ErrorEvent:
		wh.ErrorCode, wh.ErrorMessage = e.ErrorCode, e.ErrorMessage
	case InboundMessage:
		wh.Status = "received"
	}
	if err := p.store.CreateWebhook(ctx, wh); err != nil {
		log.Error("persist webhook", "error", err)
		res.Outcome = OutcomeError
		return res
	}
	res.WebhookID = wh.ID

	outcome, err := p.apply(ctx, ev)
	if err != nil {
		log.Error("apply webhook", "webhook_id", wh.ID, "error", err)
		res.Outcome = OutcomeError
		return res
	}
	res.Outcome = outcome
	if _, err := p.store.MarkWebhookProcessed(ctx, wh.ID, outcome, p.now()); err != nil {
		log.Error("mark webhook processed", "webhook_id", wh.ID, "error", err)
	}
	log.Debug("webhook handled", "webhook_id", wh.ID, "outcome", outcome)
	return res
}

func (p *Processor) apply(ctx context.Context, ev Event) (string, error) {
	switch e := ev.(type) {
	case StatusUpdate:
		next, ok := MessageStatus(e.Status)
		if !ok {
			return OutcomeIgnoredStatus, nil
		}
		return p.applyStatus(ctx, e.ProviderSID, next, e.ErrorCode, e.ErrorMessage)
	case ErrorEvent:
		return p.applyStatus(ctx, e.ProviderSID, models.MessageFailed, e.ErrorCode, e.ErrorMessage)
	case InboundMessage:
		return p.applyInbound(ctx, e)
	default:
		return OutcomeUnclassified, nil
	}
}

// applyStatus moves the message matching sid with a compare-and-set on its
// current status, so concurrent callbacks cannot move it backwards.
func (p *Processor) applyStatus(ctx context.Context, sid, incoming, code, detail string) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		m, err := p.store.FindMessageByProviderID(ctx, sid)
		if err != nil {
			return "", err
		}
		if m == nil {
			return OutcomeUnknownMessage, nil
		}
		next, changed := Transition(m.Status, incoming)
		if !changed {
			return OutcomeStale, nil
		}

		now := p.now()
		fields := map[string]any{"status": next}
		counts := map[string]int{}
		switch next {
		case models.MessageSent:
			if m.SentAt == nil {
				fields["sent_at"] = now
			}
		case models.MessageDelivered:
			fields["delivered_at"] = now
			counts["total_delivered"] = 1
		case models.MessageRead:
			fields["read_at"] = now
			counts["total_read"] = 1
			if m.Status != models.MessageDelivered {
				fields["delivered_at"] = now
				counts["total_delivered"] = 1
			}
		case models.MessageFailed:
			fields["failed_at"] = now
			fields["next_retry_at"] = nil
			fields["error_code"] = code
			if detail == "" {
				detail = "delivery failed"
			}
			fields["error_detail"] = detail
			counts["total_failed"] = 1
		}

		ok, err := p.store.UpdateMessageIf(ctx, m.ID, []string{m.Status}, fields)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		if err := p.countForRun(ctx, m, counts); err != nil {
			return "", err
		}
		p.events.Emit(ctx, events.Event{
			Type:       events.MessageStatus,
			BusinessID: m.BusinessID,
			QueueID:    m.QueueID,
			MessageID:  m.ID,
			Status:     next,
		})
		return OutcomeApplied, nil
	}
	return OutcomeStale, nil
}

// countForRun bumps queue counters only for messages of the queue's current run.
func (p *Processor) countForRun(ctx context.Context, m *models.Message, counts map[string]int) error {
	if len(counts) == 0 {
		return nil
	}
	q, err := p.store.GetQueue(ctx, m.QueueID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	if q.Run != m.Run {
		return nil
	}
	return p.store.IncrementQueue(ctx, q.ID, counts)
}

func (p *Processor) applyInbound(ctx context.Context, ev InboundMessage) (string, error) {
	from, err := p.phones.Canonical(ev.From)
	if err != nil {
		p.log.Warn("inbound from invalid phone", "from", ev.From, "error", err)
		return OutcomeInvalidPhone, nil
	}
	to, err := p.phones.Canonical(ev.To)
	if err != nil {
		to = ""
	}

	key := ev.ProviderSID
	if key == "" {
		key = contentKey(from, to, ev.Body, p.now())
	}
	inbound := &models.InboundMessage{ProviderSID: key, FromPhone: from, ToPhone: to, Body: ev.Body}
	inserted, err := p.store.InsertInbound(ctx, inbound)
	if err != nil {
		return "", err
	}
	if !inserted {
		return OutcomeDuplicate, nil
	}

	businesses, msg, err := p.resolve(ctx, from, to)
	if err != nil {
		return "", err
	}
	record := map[string]any{}
	if len(businesses) > 0 {
		record["business_id"] = businesses[0]
	}

	if keyword, ok := p.optOuts.MatchKeyword(ev.Body); ok {
		record["opt_out"] = true
		outcome, err := p.recordOptOut(ctx, businesses, msg, from, keyword)
		if err != nil {
			return "", err
		}
		return outcome, p.store.UpdateInbound(ctx, inbound.ID, record)
	}

	if msg == nil {
		return OutcomeUnmatchedReply, p.store.UpdateInbound(ctx, inbound.ID, record)
	}
	record["message_id"] = msg.ID
	marked, err := p.store.MarkResponse(ctx, msg.ID, ev.Body, p.now())
	if err != nil {
		return "", err
	}
	outcome := OutcomeReplyRepeat
	if marked {
		outcome = OutcomeReply
		if err := p.countForRun(ctx, msg, map[string]int{"total_replied": 1}); err != nil {
			return "", err
		}
		p.events.Emit(ctx, events.Event{
			Type:       events.MessageReply,
			BusinessID: msg.BusinessID,
			QueueID:    msg.QueueID,
			MessageID:  msg.ID,
			Status:     msg.Status,
		})
	}
	return outcome, p.store.UpdateInbound(ctx, inbound.ID, record)
}

func (p *Processor) recordOptOut(ctx context.Context, businesses []uint, msg *models.Message, from, keyword string) (string, error) {
	if len(businesses) == 0 {
		p.log.Warn("opt-out keyword from phone with no business", "keyword", keyword)
		return OutcomeOptOutUnresolved, nil
	}
	outcome := OutcomeOptOutRepeat
	for _, b := range businesses {
		var customerID *uint
		if msg != nil && msg.BusinessID == b {
			customerID = msg.CustomerID
		}
		changed, err := p.optOuts.RecordKeyword(ctx, b, from, keyword, customerID)
		if err != nil {
			return "", err
		}
		if !changed {
			continue
		}
		outcome = OutcomeOptOut
		metrics.IncOptOut()
		p.events.Emit(ctx, events.Event{
			Type:       events.OptOut,
			BusinessID: b,
			Data:       map[string]string{"phone": from, "keyword": keyword},
		})
	}
	return outcome, nil
}

// resolve finds the businesses an inbound phone talks to: the account it was
// addressed to, else the business of the last message sent to it, else every
// business that has it as a customer.
func (p *Processor) resolve(ctx context.Context, from, to string) ([]uint, *models.Message, error) {
	if to != "" {
		account, err := p.store.FindAccountByPhone(ctx, to)
		if err != nil {
			return nil, nil, err
		}
		if account != nil {
			business := account.BusinessID
			msg, err := p.store.LatestMessageTo(ctx, from, &business, replyStatuses)
			if err != nil {
				return nil, nil, err
			}
			return []uint{business}, msg, nil
		}
	}
	msg, err := p.store.LatestMessageTo(ctx, from, nil, replyStatuses)
	if err != nil {
		return nil, nil, err
	}
	if msg != nil {
		return []uint{msg.BusinessID}, msg, nil
	}
	businesses, err := p.store.CustomerBusinesses(ctx, from)
	return businesses, nil, err
}

// contentKey identifies an inbound event that arrived without a provider sid
// within one replay window.
func contentKey(from, to, body string, at time.Time) string {
	bucket := at.UTC().Truncate(ReplayWindow).Unix()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", from, to, body, bucket)))
	return hex.EncodeToString(sum[:])
}
