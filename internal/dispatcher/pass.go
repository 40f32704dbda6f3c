package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"whatsapp-campaigns/internal/apperrors"
	"whatsapp-campaigns/internal/audience"
	"whatsapp-campaigns/internal/events"
	"whatsapp-campaigns/internal/metrics"
	"whatsapp-campaigns/internal/models"
	"whatsapp-campaigns/internal/ratelimit"
	"whatsapp-campaigns/internal/templates"
	"whatsapp-campaigns/internal/whatsapp"
)

// pass is one leased walk over a queue.
type pass struct {
	d       *Dispatcher
	owner   string
	result  Result
	release map[string]any

	queue    *models.Queue
	account  *models.Account
	template *models.Template
	compiled *templates.Compiled
	vars     map[string]string
}

// work is one recipient still owed a send in the current run.
type work struct {
	recipient audience.Recipient
	retry     *models.Message
}

func (p *pass) run(ctx context.Context, queueID uint) error {
	d := p.d
	q, err := d.store.GetQueue(ctx, queueID)
	if err != nil {
		return err
	}
	p.queue = q
	p.result.Status = q.Status
	log := d.log.With("queue_id", q.ID, "run", q.Run)

	switch q.Status {
	case models.QueueScheduled:
		if err := p.start(ctx); err != nil {
			return err
		}
		if p.result.Status != models.QueueProcessing {
			return nil
		}
	case models.QueueProcessing:
	default:
		return nil
	}

	if q.PauseRequested {
		return p.pause(ctx)
	}

	if err := p.loadConfig(ctx); err != nil {
		if isConfigError(err) {
			return p.fail(ctx, err)
		}
		return err
	}

	window, err := ratelimit.ParseWindow(q.StartTime, q.EndTime, q.Timezone)
	if err != nil {
		return p.fail(ctx, err)
	}
	now := d.now()
	if !window.Open(now) {
		next := window.NextOpen(now)
		p.release["next_attempt_at"] = next
		p.result.DeferredUntil = &next
		log.Info("outside send window", "next_open", next)
		return nil
	}

	recipients, err := p.recipients(ctx)
	if err != nil {
		if isConfigError(err) {
			return p.fail(ctx, err)
		}
		return err
	}

	pending, nextRetry, err := p.pending(ctx, recipients, now)
	if err != nil {
		return err
	}

	batchSize := q.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	for start := 0; start < len(pending); start += batchSize {
		if start > 0 {
			paused, err := p.checkpoint(ctx)
			if err != nil {
				return err
			}
			if paused {
				return p.pause(ctx)
			}
		}
		end := min(start+batchSize, len(pending))
		stop, err := p.sendBatch(ctx, pending[start:end], len(pending)-start)
		if err != nil {
			return err
		}
		d.events.Emit(ctx, events.Event{
			Type:       events.QueueProgress,
			BusinessID: q.BusinessID,
			QueueID:    q.ID,
			Status:     models.QueueProcessing,
			Data:       p.result,
		})
		if stop {
			return nil
		}
	}

	return p.settle(ctx, nextRetry)
}

// start moves a SCHEDULED queue into PROCESSING.
func (p *pass) start(ctx context.Context) error {
	q := p.queue
	fields := map[string]any{"status": models.QueueProcessing}
	if q.StartedAt == nil {
		fields["started_at"] = p.d.now()
	}
	changed, err := p.d.store.UpdateQueueIf(ctx, q.ID, []string{models.QueueScheduled}, fields)
	if err != nil {
		return err
	}
	if !changed {
		fresh, err := p.d.store.GetQueue(ctx, q.ID)
		if err != nil {
			return err
		}
		p.queue = fresh
		p.result.Status = fresh.Status
		return nil
	}
	q.Status = models.QueueProcessing
	p.result.Status = models.QueueProcessing
	p.emitStatus(ctx)
	return nil
}

func (p *pass) loadConfig(ctx context.Context) error {
	d, q := p.d, p.queue
	account, err := d.store.GetAccount(ctx, q.AccountID)
	if err != nil {
		return err
	}
	if account.BusinessID != q.BusinessID {
		return apperrors.NewValidation("account_id", "account %d belongs to another business", account.ID)
	}
	if account.Status != models.AccountActive {
		return apperrors.NewValidation("account_id", "account %d is %s", account.ID, account.Status)
	}
	p.account = account

	vars, err := templates.DecodeVariables(q.Variables)
	if err != nil {
		return err
	}
	p.vars = vars

	content := q.CustomMessage
	if q.TemplateID != nil {
		tmpl, err := d.store.GetTemplate(ctx, *q.TemplateID)
		if err != nil {
			return err
		}
		if tmpl.BusinessID != q.BusinessID {
			return apperrors.NewValidation("template_id", "template %d belongs to another business", tmpl.ID)
		}
		compiled, err := d.templates.Compiled(tmpl)
		if err != nil {
			return err
		}
		p.template = tmpl
		p.compiled = compiled
	} else {
		if strings.TrimSpace(content) == "" {
			return apperrors.NewValidation("custom_message", "queue has neither template nor message")
		}
		compiled, err := templates.Compile(content)
		if err != nil {
			return err
		}
		p.compiled = compiled
	}

	var missing []string
	for _, name := range p.compiled.Missing(vars) {
		if !templates.IsBuiltin(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return apperrors.NewValidation("variables", "missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// recipients resolves the audience once per queue run.
func (p *pass) recipients(ctx context.Context) ([]audience.Recipient, error) {
	d, q := p.d, p.queue
	key := runKey{queueID: q.ID, run: q.Run}
	if r, ok := d.cachedAudience(key); ok {
		return r, nil
	}
	filter, err := audience.ParseFilter(q.AudienceFilter)
	if err != nil {
		return nil, err
	}
	recipients, err := d.audience.Resolve(ctx, q.BusinessID, filter)
	if err != nil {
		return nil, err
	}
	d.cacheAudience(key, recipients)
	if q.TotalRecipients != len(recipients) {
		if _, err := d.store.UpdateQueueIf(ctx, q.ID, nil, map[string]any{"total_recipients": len(recipients)}); err != nil {
			return nil, err
		}
		q.TotalRecipients = len(recipients)
	}
	return recipients, nil
}

// pending lists recipients owed a send now, and the earliest time the run
// may have more work. A send left in flight past InFlightTimeout is failed
// as unconfirmed and never sent again.
func (p *pass) pending(ctx context.Context, recipients []audience.Recipient, now time.Time) ([]work, *time.Time, error) {
	d, q := p.d, p.queue
	existing, err := d.store.RunMessages(ctx, q.ID, q.Run)
	if err != nil {
		return nil, nil, err
	}
	suppressed, err := d.store.SuppressedPhones(ctx, q.ID, q.Run)
	if err != nil {
		return nil, nil, err
	}

	var out []work
	var nextRetry *time.Time
	later := func(t time.Time) {
		if nextRetry == nil || t.Before(*nextRetry) {
			nextRetry = &t
		}
	}
	for _, r := range recipients {
		if suppressed[r.Phone] {
			continue
		}
		m, ok := existing[r.Phone]
		if !ok {
			out = append(out, work{recipient: r})
			continue
		}
		if inFlight(m) {
			expired, err := p.expire(ctx, m, now)
			if err != nil {
				return nil, nil, err
			}
			if !expired {
				later(m.SendingAt.Add(d.opts.InFlightTimeout))
			}
			continue
		}
		if !awaitingRetry(m) {
			continue
		}
		if m.NextRetryAt == nil || !m.NextRetryAt.After(now) {
			msg := m
			out = append(out, work{recipient: r, retry: &msg})
			continue
		}
		later(*m.NextRetryAt)
	}
	return out, nextRetry, nil
}

// awaitingRetry is a QUEUED message the gateway never accepted and that no
// worker is sending.
func awaitingRetry(m models.Message) bool {
	return m.Status == models.MessageQueued && m.ProviderID == "" && m.SendingAt == nil
}

func inFlight(m models.Message) bool {
	return m.Status == models.MessageQueued && m.SendingAt != nil
}

func (p *pass) expire(ctx context.Context, m models.Message, now time.Time) (bool, error) {
	d, q := p.d, p.queue
	expired, err := d.store.ExpireSending(ctx, m.ID, now.Add(-d.opts.InFlightTimeout), now)
	if err != nil || !expired {
		return false, err
	}
	p.result.Failed++
	metrics.IncSendFailure("unconfirmed")
	d.log.Warn("send outcome unknown, not resending",
		"queue_id", q.ID, "message_id", m.ID, "sending_at", m.SendingAt)
	if err := d.store.IncrementQueue(ctx, q.ID, map[string]int{"total_failed": 1}); err != nil {
		return true, err
	}
	d.events.Emit(ctx, events.Event{
		Type:       events.MessageStatus,
		BusinessID: q.BusinessID,
		QueueID:    q.ID,
		MessageID:  m.ID,
		Status:     models.MessageFailed,
	})
	return true, nil
}

// renew extends the lease. ErrLeaseLost means another worker owns the queue
// now and this pass must not send again.
func (p *pass) renew(ctx context.Context) error {
	d, q := p.d, p.queue
	claimed, err := d.store.ClaimQueue(ctx, q.ID, p.owner, d.now(), d.opts.LeaseTTL)
	if err != nil {
		return err
	}
	if !claimed {
		return ErrLeaseLost
	}
	return nil
}

// checkpoint runs at batch boundaries and reports a pending pause request.
func (p *pass) checkpoint(ctx context.Context) (bool, error) {
	d, q := p.d, p.queue
	if err := p.renew(ctx); err != nil {
		return false, err
	}
	fresh, err := d.store.GetQueue(ctx, q.ID)
	if err != nil {
		return false, err
	}
	return fresh.PauseRequested || fresh.Status == models.QueuePaused, nil
}

// sendBatch sends to each recipient in order. It reports stop when the rate
// governor deferred the rest of the queue.
func (p *pass) sendBatch(ctx context.Context, batch []work, remaining int) (bool, error) {
	d, q := p.d, p.queue
	for i, w := range batch {
		if err := ctx.Err(); err != nil {
			return true, err
		}
		if err := p.renew(ctx); err != nil {
			return true, err
		}
		phone := w.recipient.Phone

		optedOut, err := d.optOuts.IsOptedOut(ctx, q.BusinessID, phone)
		if err != nil {
			return true, err
		}
		if optedOut {
			if err := p.suppress(ctx, w); err != nil {
				return true, err
			}
			continue
		}

		decision, err := d.governor.Reserve(ctx, ratelimit.Reservation{
			AccountID:  p.account.ID,
			AccountCap: p.account.HourlyCap,
			QueueID:    q.ID,
			QueueLimit: q.RateLimitPerHour,
		})
		if err != nil {
			return true, err
		}
		if !decision.Allowed {
			until := d.now().Add(decision.RetryAfter)
			p.release["next_attempt_at"] = until
			p.result.Deferred = remaining - i
			p.result.DeferredUntil = &until
			metrics.IncRateDeferral()
			d.log.Info("send cap reached, deferring queue",
				"queue_id", q.ID, "account_id", p.account.ID, "deferred", p.result.Deferred, "until", until)
			return true, nil
		}

		if err := p.send(ctx, w); err != nil {
			return true, err
		}
	}
	return false, nil
}

func (p *pass) suppress(ctx context.Context, w work) error {
	d, q := p.d, p.queue
	inserted, err := d.store.InsertSuppression(ctx, q.ID, q.Run, w.recipient.Phone)
	if err != nil {
		return err
	}
	if w.retry != nil {
		// a retry pending from before the opt-out stops here
		if _, err := d.store.UpdateMessageIf(ctx, w.retry.ID, []string{models.MessageQueued}, map[string]any{
			"status":        models.MessageFailed,
			"failed_at":     d.now(),
			"next_retry_at": nil,
			"error_code":    "OPTED_OUT",
			"error_detail":  "recipient opted out",
		}); err != nil {
			return err
		}
	}
	if !inserted {
		return nil
	}
	p.result.Suppressed++
	metrics.IncSuppressed()
	return d.store.IncrementQueue(ctx, q.ID, map[string]int{"total_suppressed": 1})
}

// reserve marks the recipient's message as in flight before the gateway is
// called. It returns nil when another worker already holds it.
func (p *pass) reserve(ctx context.Context, w work, now time.Time) (*models.Message, error) {
	d, q := p.d, p.queue
	if w.retry != nil {
		ok, err := d.store.BeginRetry(ctx, w.retry.ID, now)
		if err != nil || !ok {
			return nil, err
		}
		m := *w.retry
		m.SendingAt = &now
		return &m, nil
	}
	m := &models.Message{
		QueueID:    q.ID,
		Run:        q.Run,
		Phone:      w.recipient.Phone,
		AccountID:  p.account.ID,
		BusinessID: q.BusinessID,
		CustomerID: w.recipient.CustomerID,
		Status:     models.MessageQueued,
		QueuedAt:   now,
		SendingAt:  &now,
	}
	inserted, err := d.store.InsertMessage(ctx, m)
	if err != nil || !inserted {
		return nil, err
	}
	return m, nil
}

func (p *pass) send(ctx context.Context, w work) error {
	d, q := p.d, p.queue
	now := d.now()

	m, err := p.reserve(ctx, w, now)
	if err != nil {
		return err
	}
	if m == nil {
		d.log.Debug("recipient already taken", "queue_id", q.ID, "phone", w.recipient.Phone)
		return nil
	}

	req, body, err := p.request(w.recipient)
	if err != nil {
		// a recipient-specific render failure is permanent for this recipient
		return p.recordFailure(ctx, m, body, now, err, false)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	started := time.Now()
	res, err := d.gateway.Send(sendCtx, req)
	metrics.ObserveGateway(time.Since(started))
	cancel()
	if err != nil {
		return p.recordFailure(ctx, m, body, now, err, whatsapp.IsTransient(err))
	}

	status := statusOf(res)
	changed, err := d.store.UpdateMessageIf(ctx, m.ID, []string{models.MessageQueued}, map[string]any{
		"status":        status,
		"provider_id":   res.SID,
		"body":          body,
		"attempts":      m.Attempts + 1,
		"sent_at":       now,
		"sending_at":    nil,
		"next_retry_at": nil,
		"error_code":    "",
		"error_detail":  "",
	})
	if err != nil {
		return err
	}
	if !changed {
		d.log.Warn("send confirmed after message left flight",
			"queue_id", q.ID, "message_id", m.ID, "provider_id", res.SID)
	}

	p.result.Sent++
	metrics.IncSent(status)
	if err := d.store.IncrementQueue(ctx, q.ID, map[string]int{"total_sent": 1}); err != nil {
		return err
	}
	d.events.Emit(ctx, events.Event{
		Type:       events.MessageStatus,
		BusinessID: q.BusinessID,
		QueueID:    q.ID,
		MessageID:  m.ID,
		Status:     status,
	})
	return nil
}

// recordFailure applies the retry policy to a reserved message: transient
// failures back off exponentially from retry_delay_minutes until max_retries
// is exhausted.
func (p *pass) recordFailure(ctx context.Context, m *models.Message, body string, now time.Time, sendErr error, transient bool) error {
	d, q := p.d, p.queue
	attempts := m.Attempts + 1

	status := models.MessageFailed
	var nextRetry *time.Time
	if transient && attempts <= q.MaxRetries {
		status = models.MessageQueued
		t := now.Add(retryDelay(q.RetryDelayMinutes, attempts))
		nextRetry = &t
	}
	code := whatsapp.ErrorCode(sendErr)
	if code == "" && apperrors.IsValidation(sendErr) {
		code = "RENDER"
	}

	kind := "fatal"
	if transient {
		kind = "transient"
	}
	metrics.IncSendFailure(kind)
	d.log.Warn("send failed",
		"queue_id", q.ID, "attempt", attempts, "kind", kind, "retry_at", nextRetry, "error", sendErr)

	fields := map[string]any{
		"status":        status,
		"attempts":      attempts,
		"sending_at":    nil,
		"next_retry_at": nextRetry,
		"error_code":    code,
		"error_detail":  sendErr.Error(),
		"body":          body,
	}
	if status == models.MessageFailed {
		fields["failed_at"] = now
	}
	changed, err := d.store.UpdateMessageIf(ctx, m.ID, []string{models.MessageQueued}, fields)
	if err != nil || !changed {
		return err
	}

	if status == models.MessageFailed {
		p.result.Failed++
		if err := d.store.IncrementQueue(ctx, q.ID, map[string]int{"total_failed": 1}); err != nil {
			return err
		}
	} else {
		p.result.Retrying++
	}
	d.events.Emit(ctx, events.Event{
		Type:       events.MessageStatus,
		BusinessID: q.BusinessID,
		QueueID:    q.ID,
		MessageID:  m.ID,
		Status:     status,
	})
	return nil
}

func retryDelay(minutes, attempt int) time.Duration {
	if minutes <= 0 {
		minutes = 5
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 10 {
		attempt = 10
	}
	return time.Duration(minutes) * time.Minute * time.Duration(1<<(attempt-1))
}

// request renders the per-recipient send.
func (p *pass) request(r audience.Recipient) (whatsapp.SendRequest, string, error) {
	vars := make(map[string]string, len(p.vars)+4)
	vars[templates.VarName] = r.Name
	vars[templates.VarFirstName] = firstName(r.Name)
	vars[templates.VarPhone] = r.Phone
	vars[templates.VarPoints] = strconv.Itoa(r.Points)
	for k, v := range p.vars {
		vars[k] = v
	}

	body, err := p.compiled.Render(vars)
	if err != nil {
		return whatsapp.SendRequest{}, "", err
	}
	req := whatsapp.SendRequest{
		Credentials: whatsapp.Credentials{
			AccountSID: p.account.ProviderAccountSID,
			AuthToken:  p.account.AuthToken,
			From:       p.account.PhoneNumber,
		},
		To: r.Phone,
	}
	if p.template != nil && p.template.ContentSID != "" {
		cv, err := p.compiled.ContentVariables(vars)
		if err != nil {
			return whatsapp.SendRequest{}, body, err
		}
		req.ContentSID = p.template.ContentSID
		req.ContentVariables = cv
	} else {
		req.Body = body
	}
	return req, body, nil
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// settle finishes the run when nothing is owed, or schedules the next retry.
func (p *pass) settle(ctx context.Context, nextRetry *time.Time) error {
	d, q := p.d, p.queue
	recipients, _ := d.cachedAudience(runKey{queueID: q.ID, run: q.Run})
	pending, retryAt, err := p.pending(ctx, recipients, d.now())
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		// retries that became due during the pass run on the next tick
		return nil
	}
	if retryAt == nil {
		retryAt = nextRetry
	}
	if retryAt != nil {
		p.release["next_attempt_at"] = *retryAt
		p.result.DeferredUntil = retryAt
		return nil
	}

	fresh, err := d.store.GetQueue(ctx, q.ID)
	if err != nil {
		return err
	}
	final := models.QueueCompleted
	if fresh.TotalSent == 0 && fresh.TotalFailed > 0 {
		final = models.QueueFailed
	}
	now := d.now()
	changed, err := d.store.UpdateQueueIf(ctx, q.ID, []string{models.QueueProcessing}, map[string]any{
		"status":          final,
		"completed_at":    now,
		"next_attempt_at": nil,
		"pause_requested": false,
	})
	if err != nil {
		return err
	}
	if changed {
		p.result.Status = final
		q.Status = final
		d.forgetAudience(q.ID)
		d.log.Info("queue finished", "queue_id", q.ID, "run", q.Run, "status", final,
			"sent", fresh.TotalSent, "failed", fresh.TotalFailed, "suppressed", fresh.TotalSuppressed)
		p.emitStatus(ctx)
	}
	return nil
}

func (p *pass) pause(ctx context.Context) error {
	d, q := p.d, p.queue
	changed, err := d.store.UpdateQueueIf(ctx, q.ID, []string{models.QueueProcessing, models.QueueScheduled}, map[string]any{
		"status":          models.QueuePaused,
		"pause_requested": false,
	})
	if err != nil {
		return err
	}
	if changed {
		q.Status = models.QueuePaused
		p.result.Status = models.QueuePaused
		d.log.Info("queue paused", "queue_id", q.ID, "run", q.Run)
		p.emitStatus(ctx)
	}
	return nil
}

// fail aborts the run on a configuration problem.
func (p *pass) fail(ctx context.Context, cause error) error {
	d, q := p.d, p.queue
	d.log.Warn("queue configuration invalid, failing run", "queue_id", q.ID, "error", cause)
	changed, err := d.store.UpdateQueueIf(ctx, q.ID, []string{models.QueueProcessing, models.QueueScheduled}, map[string]any{
		"status":          models.QueueFailed,
		"last_error":      cause.Error(),
		"completed_at":    d.now(),
		"pause_requested": false,
	})
	if err != nil {
		return fmt.Errorf("fail queue: %w", err)
	}
	if changed {
		q.Status = models.QueueFailed
		p.result.Status = models.QueueFailed
		d.forgetAudience(q.ID)
		p.emitStatus(ctx)
	}
	return nil
}

func (p *pass) emitStatus(ctx context.Context) {
	q := p.queue
	p.d.events.Emit(ctx, events.Event{
		Type:       events.QueueStatus,
		BusinessID: q.BusinessID,
		QueueID:    q.ID,
		Status:     q.Status,
	})
}
