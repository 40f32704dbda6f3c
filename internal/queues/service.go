// Package queues owns the campaign queue lifecycle: creation with
// validation, edits, activation into a new run, pause and resume.
package queues

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"whatsapp-campaigns/internal/apperrors"
	"whatsapp-campaigns/internal/audience"
	"whatsapp-campaigns/internal/events"
	"whatsapp-campaigns/internal/models"
	"whatsapp-campaigns/internal/ratelimit"
	"whatsapp-campaigns/internal/store"
	"whatsapp-campaigns/internal/templates"
)

const (
	DefaultPriority          = 5
	DefaultMaxRetries        = 3
	DefaultRetryDelayMinutes = 5
	DefaultBatchSize         = 50
	DefaultRateLimitPerHour  = 100
	DefaultStartTime         = "09:00"
	DefaultEndTime           = "18:00"
	DefaultTimezone          = "America/Guayaquil"
)

// Error codes that a retry cannot fix.
var permanentCodes = []string{"OPTED_OUT", "RENDER", models.ErrorUnconfirmed}

// Input carries the editable queue fields. Nil pointers and empty strings
// keep the current value on Update and take the default on Create.
type Input struct {
	AccountID         uint              `json:"account_id"`
	TemplateID        *uint             `json:"template_id"`
	CustomMessage     string            `json:"custom_message"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Variables         map[string]string `json:"variables"`
	AudienceFilter    *audience.Filter  `json:"audience_filter"`
	Priority          *int              `json:"priority"`
	MaxRetries        *int              `json:"max_retries"`
	RetryDelayMinutes *int              `json:"retry_delay_minutes"`
	BatchSize         *int              `json:"batch_size"`
	RateLimitPerHour  *int              `json:"rate_limit_per_hour"`
	ScheduledAt       *time.Time        `json:"scheduled_at"`
	StartTime         string            `json:"start_time"`
	EndTime           string            `json:"end_time"`
	Timezone          string            `json:"timezone"`
}

// Stats is the progress view of the current run.
type Stats struct {
	QueueID    uint           `json:"queue_id"`
	Run        int            `json:"run"`
	Status     string         `json:"status"`
	Recipients int            `json:"total_recipients"`
	Sent       int            `json:"total_sent"`
	Delivered  int            `json:"total_delivered"`
	Read       int            `json:"total_read"`
	Failed     int            `json:"total_failed"`
	Suppressed int            `json:"total_suppressed"`
	Replied    int            `json:"total_replied"`
	OptedOut   int            `json:"total_opted_out"`
	Remaining  int            `json:"remaining"` // recipients not yet attempted
	ByStatus   map[string]int `json:"by_status"`
}

type Service struct {
	store     *store.Store
	templates *templates.Registry
	events    events.Emitter
	log       *slog.Logger
	now       func() time.Time
	window    [3]string
}

func NewService(s *store.Store, registry *templates.Registry, emitter events.Emitter, log *slog.Logger) *Service {
	if emitter == nil {
		emitter = events.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:     s,
		templates: registry,
		events:    emitter,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		window:    [3]string{DefaultStartTime, DefaultEndTime, DefaultTimezone},
	}
}

// WithDefaultWindow sets the send window new queues start with. Empty values
// keep the built-in default.
func (s *Service) WithDefaultWindow(start, end, timezone string) *Service {
	for i, v := range []string{start, end, timezone} {
		if v != "" {
			s.window[i] = v
		}
	}
	return s
}

func (s *Service) Create(ctx context.Context, businessID uint, in Input) (*models.Queue, error) {
	q := &models.Queue{
		BusinessID:        businessID,
		Status:            models.QueueDraft,
		Priority:          DefaultPriority,
		MaxRetries:        DefaultMaxRetries,
		RetryDelayMinutes: DefaultRetryDelayMinutes,
		BatchSize:         DefaultBatchSize,
		RateLimitPerHour:  DefaultRateLimitPerHour,
		StartTime:         s.window[0],
		EndTime:           s.window[1],
		Timezone:          s.window[2],
		Variables:         "{}",
		AudienceFilter:    `{"type":"all"}`,
	}
	if err := apply(q, in); err != nil {
		return nil, err
	}
	if err := s.validate(ctx, q); err != nil {
		return nil, err
	}
	if err := s.store.CreateQueue(ctx, q); err != nil {
		return nil, err
	}
	s.log.Info("queue created", "queue_id", q.ID, "business_id", businessID, "account_id", q.AccountID)
	return q, nil
}

// Get returns a queue of the business; queues of other businesses are not found.
func (s *Service) Get(ctx context.Context, businessID, id uint) (*models.Queue, error) {
	q, err := s.store.GetQueue(ctx, id)
	if err != nil {
		return nil, err
	}
	if q.BusinessID != businessID {
		return nil, apperrors.NewNotFound("queue", id)
	}
	return q, nil
}

func (s *Service) List(ctx context.Context, businessID uint, status string) ([]models.Queue, error) {
	return s.store.ListQueues(ctx, businessID, strings.ToUpper(status))
}

func (s *Service) Update(ctx context.Context, businessID, id uint, in Input) (*models.Queue, error) {
	q, err := s.Get(ctx, businessID, id)
	if err != nil {
		return nil, err
	}
	if q.Status == models.QueueProcessing {
		return nil, apperrors.NewConflict("queue", id, q.Status, "update")
	}
	if err := apply(q, in); err != nil {
		return nil, err
	}
	if err := s.validate(ctx, q); err != nil {
		return nil, err
	}
	changed, err := s.store.UpdateQueueIf(ctx, id, editable, map[string]any{
		"account_id":          q.AccountID,
		"template_id":         q.TemplateID,
		"custom_message":      q.CustomMessage,
		"name":                q.Name,
		"description":         q.Description,
		"variables":           q.Variables,
		"audience_filter":     q.AudienceFilter,
		"priority":            q.Priority,
		"max_retries":         q.MaxRetries,
		"retry_delay_minutes": q.RetryDelayMinutes,
		"batch_size":          q.BatchSize,
		"rate_limit_per_hour": q.RateLimitPerHour,
		"scheduled_at":        q.ScheduledAt,
		"start_time":          q.StartTime,
		"end_time":            q.EndTime,
		"timezone":            q.Timezone,
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, s.conflict(ctx, id, "update")
	}
	return s.store.GetQueue(ctx, id)
}

func (s *Service) Delete(ctx context.Context, businessID, id uint) error {
	if _, err := s.Get(ctx, businessID, id); err != nil {
		return err
	}
	deleted, err := s.store.DeleteQueueIf(ctx, id, []string{models.QueueProcessing})
	if err != nil {
		return err
	}
	if !deleted {
		return s.conflict(ctx, id, "delete")
	}
	s.log.Info("queue deleted", "queue_id", id, "business_id", businessID)
	return nil
}

// Activate schedules a queue. DRAFT, COMPLETED and FAILED queues start a new
// run with fresh counters; a PAUSED queue resumes its current run.
func (s *Service) Activate(ctx context.Context, businessID, id uint) (*models.Queue, error) {
	q, err := s.Get(ctx, businessID, id)
	if err != nil {
		return nil, err
	}
	switch q.Status {
	case models.QueuePaused:
		return s.resume(ctx, q)
	case models.QueueDraft, models.QueueCompleted, models.QueueFailed:
	default:
		return nil, apperrors.NewConflict("queue", id, q.Status, "activate")
	}
	if err := s.validate(ctx, q); err != nil {
		return nil, err
	}

	changed, err := s.store.UpdateQueueIf(ctx, id, []string{q.Status}, map[string]any{
		"status":           models.QueueScheduled,
		"run":              q.Run + 1,
		"pause_requested":  false,
		"next_attempt_at":  nil,
		"last_error":       "",
		"started_at":       nil,
		"completed_at":     nil,
		"total_recipients": 0,
		"total_sent":       0,
		"total_delivered":  0,
		"total_read":       0,
		"total_failed":     0,
		"total_suppressed": 0,
		"total_replied":    0,
		"total_opted_out":  0,
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, s.conflict(ctx, id, "activate")
	}
	s.log.Info("queue activated", "queue_id", id, "run", q.Run+1)
	return s.transitioned(ctx, id)
}

// Resume continues a PAUSED queue in its current run.
func (s *Service) Resume(ctx context.Context, businessID, id uint) (*models.Queue, error) {
	q, err := s.Get(ctx, businessID, id)
	if err != nil {
		return nil, err
	}
	if q.Status != models.QueuePaused {
		return nil, apperrors.NewConflict("queue", id, q.Status, "resume")
	}
	return s.resume(ctx, q)
}

func (s *Service) resume(ctx context.Context, q *models.Queue) (*models.Queue, error) {
	if err := s.validate(ctx, q); err != nil {
		return nil, err
	}
	changed, err := s.store.UpdateQueueIf(ctx, q.ID, []string{models.QueuePaused}, map[string]any{
		"status":          models.QueueScheduled,
		"pause_requested": false,
		"next_attempt_at": nil,
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, s.conflict(ctx, q.ID, "resume")
	}
	s.log.Info("queue resumed", "queue_id", q.ID, "run", q.Run)
	return s.transitioned(ctx, q.ID)
}

// Pause stops a SCHEDULED queue at once. A PROCESSING queue is asked to stop
// and pauses at the next batch boundary.
func (s *Service) Pause(ctx context.Context, businessID, id uint) (*models.Queue, error) {
	q, err := s.Get(ctx, businessID, id)
	if err != nil {
		return nil, err
	}
	switch q.Status {
	case models.QueuePaused:
		return q, nil
	case models.QueueScheduled:
		changed, err := s.store.UpdateQueueIf(ctx, id, []string{models.QueueScheduled}, map[string]any{
			"status":          models.QueuePaused,
			"pause_requested": false,
		})
		if err != nil {
			return nil, err
		}
		if changed {
			s.log.Info("queue paused", "queue_id", id)
			return s.transitioned(ctx, id)
		}
		// picked up by a worker in between
		fallthrough
	case models.QueueProcessing:
		changed, err := s.store.UpdateQueueIf(ctx, id, []string{models.QueueProcessing}, map[string]any{
			"pause_requested": true,
		})
		if err != nil {
			return nil, err
		}
		if !changed {
			return nil, s.conflict(ctx, id, "pause")
		}
		s.log.Info("pause requested", "queue_id", id)
		return s.store.GetQueue(ctx, id)
	default:
		return nil, apperrors.NewConflict("queue", id, q.Status, "pause")
	}
}

func (s *Service) Stats(ctx context.Context, businessID, id uint) (*Stats, error) {
	q, err := s.Get(ctx, businessID, id)
	if err != nil {
		return nil, err
	}
	byStatus, err := s.store.CountByStatus(ctx, q.ID, q.Run)
	if err != nil {
		return nil, err
	}
	attempted := 0
	for _, n := range byStatus {
		attempted += n
	}
	remaining := q.TotalRecipients - q.TotalSuppressed - attempted
	if remaining < 0 {
		remaining = 0
	}
	return &Stats{
		QueueID:    q.ID,
		Run:        q.Run,
		Status:     q.Status,
		Recipients: q.TotalRecipients,
		Sent:       q.TotalSent,
		Delivered:  q.TotalDelivered,
		Read:       q.TotalRead,
		Failed:     q.TotalFailed,
		Suppressed: q.TotalSuppressed,
		Replied:    q.TotalReplied,
		OptedOut:   q.TotalOptedOut,
		Remaining:  remaining,
		ByStatus:   byStatus,
	}, nil
}

// Messages pages through the messages of a queue.
func (s *Service) Messages(ctx context.Context, businessID, id uint, status string, limit, offset int) ([]models.Message, int64, error) {
	if _, err := s.Get(ctx, businessID, id); err != nil {
		return nil, 0, err
	}
	return s.store.ListMessages(ctx, store.MessageFilter{
		QueueID: id,
		Status:  strings.ToUpper(status),
		Limit:   limit,
		Offset:  offset,
	})
}

// RetryFailed queues another attempt for FAILED messages of the current run
// that the gateway never accepted and that have attempts left. A finished
// queue is scheduled again in the same run.
func (s *Service) RetryFailed(ctx context.Context, businessID, id uint) (int64, error) {
	q, err := s.Get(ctx, businessID, id)
	if err != nil {
		return 0, err
	}
	if q.Status == models.QueueProcessing || q.Status == models.QueueDraft {
		return 0, apperrors.NewConflict("queue", id, q.Status, "retry")
	}

	var requeued int64
	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		n, err := tx.RetryFailed(ctx, q.ID, q.Run, q.MaxRetries, permanentCodes, s.now())
		if err != nil || n == 0 {
			return err
		}
		requeued = n
		if err := tx.IncrementQueue(ctx, q.ID, map[string]int{"total_failed": -int(n)}); err != nil {
			return err
		}
		_, err = tx.UpdateQueueIf(ctx, q.ID, []string{models.QueueCompleted, models.QueueFailed}, map[string]any{
			"status":          models.QueueScheduled,
			"completed_at":    nil,
			"next_attempt_at": nil,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	if requeued > 0 {
		s.log.Info("failed messages requeued", "queue_id", id, "run", q.Run, "count", requeued)
		if fresh, err := s.store.GetQueue(ctx, id); err == nil {
			s.emit(ctx, fresh)
		}
	}
	return requeued, nil
}

var editable = []string{
	models.QueueDraft,
	models.QueueScheduled,
	models.QueuePaused,
	models.QueueCompleted,
	models.QueueFailed,
}

func (s *Service) transitioned(ctx context.Context, id uint) (*models.Queue, error) {
	q, err := s.store.GetQueue(ctx, id)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, q)
	return q, nil
}

func (s *Service) emit(ctx context.Context, q *models.Queue) {
	s.events.Emit(ctx, events.Event{
		Type:       events.QueueStatus,
		BusinessID: q.BusinessID,
		QueueID:    q.ID,
		Status:     q.Status,
	})
}

// conflict reports a lost conditional update against the current state.
func (s *Service) conflict(ctx context.Context, id uint, op string) error {
	q, err := s.store.GetQueue(ctx, id)
	if err != nil {
		return err
	}
	return apperrors.NewConflict("queue", id, q.Status, op)
}

func apply(q *models.Queue, in Input) error {
	if in.AccountID != 0 {
		q.AccountID = in.AccountID
	}
	if in.TemplateID != nil {
		if *in.TemplateID == 0 {
			q.TemplateID = nil
		} else {
			id := *in.TemplateID
			q.TemplateID = &id
		}
	}
	if in.CustomMessage != "" {
		q.CustomMessage = in.CustomMessage
	}
	if in.Name != "" {
		q.Name = strings.TrimSpace(in.Name)
	}
	if in.Description != "" {
		q.Description = in.Description
	}
	if in.Variables != nil {
		b, err := json.Marshal(in.Variables)
		if err != nil {
			return apperrors.NewValidation("variables", "%v", err)
		}
		q.Variables = string(b)
	}
	if in.AudienceFilter != nil {
		b, err := json.Marshal(in.AudienceFilter)
		if err != nil {
			return apperrors.NewValidation("audience_filter", "%v", err)
		}
		q.AudienceFilter = string(b)
	}
	setInt(&q.Priority, in.Priority)
	setInt(&q.MaxRetries, in.MaxRetries)
	setInt(&q.RetryDelayMinutes, in.RetryDelayMinutes)
	setInt(&q.BatchSize, in.BatchSize)
	setInt(&q.RateLimitPerHour, in.RateLimitPerHour)
	if in.ScheduledAt != nil {
		t := in.ScheduledAt.UTC()
		q.ScheduledAt = &t
	}
	if in.StartTime != "" {
		q.StartTime = in.StartTime
	}
	if in.EndTime != "" {
		q.EndTime = in.EndTime
	}
	if in.Timezone != "" {
		q.Timezone = in.Timezone
	}
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// validate checks everything a run needs before the queue may be stored or
// scheduled.
func (s *Service) validate(ctx context.Context, q *models.Queue) error {
	if q.Name == "" {
		return apperrors.NewValidation("name", "is required")
	}
	switch {
	case q.Priority < 1 || q.Priority > 10:
		return apperrors.NewValidation("priority", "must be between 1 and 10")
	case q.MaxRetries < 0:
		return apperrors.NewValidation("max_retries", "must not be negative")
	case q.RetryDelayMinutes < 1:
		return apperrors.NewValidation("retry_delay_minutes", "must be at least 1")
	case q.BatchSize < 1:
		return apperrors.NewValidation("batch_size", "must be at least 1")
	case q.RateLimitPerHour < 1:
		return apperrors.NewValidation("rate_limit_per_hour", "must be at least 1")
	}

	if q.AccountID == 0 {
		return apperrors.NewValidation("account_id", "is required")
	}
	account, err := s.store.GetAccount(ctx, q.AccountID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return apperrors.NewValidation("account_id", "account %d does not exist", q.AccountID)
		}
		return err
	}
	if account.BusinessID != q.BusinessID {
		return apperrors.NewValidation("account_id", "account %d does not exist", q.AccountID)
	}
	if account.Status != models.AccountActive {
		return apperrors.NewValidation("account_id", "account %d is %s", account.ID, account.Status)
	}

	var compiled *templates.Compiled
	if q.TemplateID != nil {
		tmpl, err := s.store.GetTemplate(ctx, *q.TemplateID)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return apperrors.NewValidation("template_id", "template %d does not exist", *q.TemplateID)
			}
			return err
		}
		if tmpl.BusinessID != q.BusinessID {
			return apperrors.NewValidation("template_id", "template %d does not exist", tmpl.ID)
		}
		if compiled, err = s.templates.Compiled(tmpl); err != nil {
			return err
		}
	} else {
		if strings.TrimSpace(q.CustomMessage) == "" {
			return apperrors.NewValidation("template_id", "a template or a custom message is required")
		}
		if compiled, err = templates.Compile(q.CustomMessage); err != nil {
			return err
		}
	}

	vars, err := templates.DecodeVariables(q.Variables)
	if err != nil {
		return err
	}
	var missing []string
	for _, name := range compiled.Missing(vars) {
		if !templates.IsBuiltin(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return apperrors.NewValidation("variables", "missing %s", strings.Join(missing, ", "))
	}

	if _, err := audience.ParseFilter(q.AudienceFilter); err != nil {
		return err
	}
	if _, err := ratelimit.ParseWindow(q.StartTime, q.EndTime, q.Timezone); err != nil {
		return err
	}
	return nil
}
