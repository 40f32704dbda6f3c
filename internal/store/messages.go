package store

import (
	"context"
	"time"

	"whatsapp-campaigns/internal/models"

	"gorm.io/gorm"
)

func (s *Store) GetMessage(ctx context.Context, id uint) (*models.Message, error) {
	return first[models.Message](ctx, s.db, "message", id, "id = ?", id)
}

// InsertMessage creates the message unless the recipient already has one in
// this run and sequence. It reports whether the row is new.
func (s *Store) InsertMessage(ctx context.Context, message *models.Message) (bool, error) {
	return insertIgnore(ctx, s.db, message)
}

// RunMessages returns the current message of each recipient of one queue run,
// keyed by phone. Superseded rows are skipped.
func (s *Store) RunMessages(ctx context.Context, queueID uint, run int) (map[string]models.Message, error) {
	var messages []models.Message
	err := s.conn(ctx).
		Where("queue_id = ? AND run = ? AND superseded_at IS NULL", queueID, run).
		Order("seq").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Message, len(messages))
	for _, m := range messages {
		out[m.Phone] = m
	}
	return out, nil
}

// BeginRetry marks a due retry as in flight. Only one caller wins it.
func (s *Store) BeginRetry(ctx context.Context, id uint, now time.Time) (bool, error) {
	now = now.UTC()
	res := s.conn(ctx).Model(&models.Message{}).
		Where("id = ? AND status = ? AND provider_id = ? AND sending_at IS NULL", id, models.MessageQueued, "").
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Updates(map[string]any{
			"sending_at":    now,
			"next_retry_at": nil,
		})
	return res.RowsAffected > 0, res.Error
}

// ExpireSending fails a send left in flight since before cutoff. The gateway
// may have accepted it, so it is not sent again.
func (s *Store) ExpireSending(ctx context.Context, id uint, cutoff, now time.Time) (bool, error) {
	res := s.conn(ctx).Model(&models.Message{}).
		Where("id = ? AND status = ? AND sending_at IS NOT NULL AND sending_at < ?", id, models.MessageQueued, cutoff.UTC()).
		Updates(map[string]any{
			"status":       models.MessageFailed,
			"sending_at":   nil,
			"failed_at":    now.UTC(),
			"error_code":   models.ErrorUnconfirmed,
			"error_detail": "send outcome unknown",
		})
	return res.RowsAffected > 0, res.Error
}

// UpdateMessageIf applies fields while the message is in one of the given
// statuses and reports whether it changed.
func (s *Store) UpdateMessageIf(ctx context.Context, id uint, statuses []string, fields map[string]any) (bool, error) {
	q := s.conn(ctx).Model(&models.Message{}).Where("id = ?", id)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	res := q.Updates(fields)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) FindMessageByProviderID(ctx context.Context, providerID string) (*models.Message, error) {
	if providerID == "" {
		return nil, nil
	}
	return firstOrNil[models.Message](s.conn(ctx).Where("provider_id = ?", providerID).Order("id DESC"))
}

// LatestMessageTo finds the most recent outbound message to a phone in one of
// the given statuses, optionally within one business.
func (s *Store) LatestMessageTo(ctx context.Context, phone string, businessID *uint, statuses []string) (*models.Message, error) {
	q := s.conn(ctx).Where("phone = ? AND status IN ?", phone, statuses)
	if businessID != nil {
		q = q.Where("business_id = ?", *businessID)
	}
	return firstOrNil[models.Message](q.Order("sent_at DESC").Order("id DESC"))
}

// MarkResponse records the first reply to a message. Later replies are ignored.
func (s *Store) MarkResponse(ctx context.Context, id uint, text string, at time.Time) (bool, error) {
	res := s.conn(ctx).Model(&models.Message{}).
		Where("id = ? AND has_response = ?", id, false).
		Updates(map[string]any{
			"has_response":  true,
			"response_text": text,
			"response_at":   at.UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

type MessageFilter struct {
	QueueID uint
	Status  string
	Limit   int
	Offset  int
}

func (s *Store) ListMessages(ctx context.Context, f MessageFilter) ([]models.Message, int64, error) {
	base := func() *gorm.DB {
		q := s.conn(ctx).Model(&models.Message{}).Where("queue_id = ?", f.QueueID)
		if f.Status != "" {
			q = q.Where("status = ?", f.Status)
		}
		return q
	}
	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	var messages []models.Message
	err := base().Order("id").Limit(f.Limit).Offset(f.Offset).Find(&messages).Error
	return messages, total, err
}

// CountByStatus tallies the messages of one queue run.
func (s *Store) CountByStatus(ctx context.Context, queueID uint, run int) (map[string]int, error) {
	var rows []struct {
		Status string
		Count  int
	}
	err := s.conn(ctx).Model(&models.Message{}).
		Select("status, COUNT(*) AS count").
		Where("queue_id = ? AND run = ? AND superseded_at IS NULL", queueID, run).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// RetryFailed gives FAILED messages of a run that the gateway never accepted
// a successor row in QUEUED. The failed rows stay FAILED and are marked
// superseded. Only messages with attempts left under maxRetries and without a
// permanent error code qualify; the successor inherits the attempt count.
func (s *Store) RetryFailed(ctx context.Context, queueID uint, run, maxRetries int, permanentCodes []string, now time.Time) (int64, error) {
	now = now.UTC()
	q := s.conn(ctx).
		Where("queue_id = ? AND run = ? AND status = ?", queueID, run, models.MessageFailed).
		Where("superseded_at IS NULL AND provider_id = ? AND attempts < ?", "", maxRetries)
	if len(permanentCodes) > 0 {
		q = q.Where("error_code NOT IN ?", permanentCodes)
	}
	var failed []models.Message
	if err := q.Order("id").Find(&failed).Error; err != nil {
		return 0, err
	}

	var n int64
	for _, old := range failed {
		res := s.conn(ctx).Model(&models.Message{}).
			Where("id = ? AND superseded_at IS NULL", old.ID).
			Update("superseded_at", now)
		if res.Error != nil {
			return n, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		next := &models.Message{
			QueueID:    old.QueueID,
			Run:        old.Run,
			Phone:      old.Phone,
			Seq:        old.Seq + 1,
			AccountID:  old.AccountID,
			BusinessID: old.BusinessID,
			CustomerID: old.CustomerID,
			Body:       old.Body,
			Status:     models.MessageQueued,
			Attempts:   old.Attempts,
			QueuedAt:   now,
		}
		if err := s.conn(ctx).Create(next).Error; err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// DayCounts are message lifecycle events that happened in [from, to).
type DayCounts struct {
	Sent      int64
	Delivered int64
	Replied   int64
	OptedOut  int64
}

func (s *Store) CountEvents(ctx context.Context, businessID uint, from, to time.Time) (DayCounts, error) {
	from, to = from.UTC(), to.UTC()
	var out DayCounts
	count := func(col string, dst *int64) error {
		return s.conn(ctx).Model(&models.Message{}).
			Where("business_id = ?", businessID).
			Where(col+" >= ? AND "+col+" < ?", from, to).
			Count(dst).Error
	}
	if err := count("sent_at", &out.Sent); err != nil {
		return out, err
	}
	if err := count("delivered_at", &out.Delivered); err != nil {
		return out, err
	}
	if err := count("response_at", &out.Replied); err != nil {
		return out, err
	}
	err := s.conn(ctx).Model(&models.OptOut{}).
		Where("business_id = ? AND opted_out_at >= ? AND opted_out_at < ?", businessID, from, to).
		Count(&out.OptedOut).Error
	return out, err
}

func (s *Store) InsertSuppression(ctx context.Context, queueID uint, run int, phone string) (bool, error) {
	return insertIgnore(ctx, s.db, &models.Suppression{QueueID: queueID, Run: run, Phone: phone})
}

func (s *Store) SuppressedPhones(ctx context.Context, queueID uint, run int) (map[string]bool, error) {
	var phones []string
	err := s.conn(ctx).Model(&models.Suppression{}).
		Where("queue_id = ? AND run = ?", queueID, run).
		Pluck("phone", &phones).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(phones))
	for _, p := range phones {
		out[p] = true
	}
	return out, nil
}
