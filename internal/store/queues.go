package store

import (
	"context"
	"time"

	"whatsapp-campaigns/internal/models"

	"gorm.io/gorm"
)

func (s *Store) CreateQueue(ctx context.Context, queue *models.Queue) error {
	return s.conn(ctx).Create(queue).Error
}

func (s *Store) GetQueue(ctx context.Context, id uint) (*models.Queue, error) {
	return first[models.Queue](ctx, s.db, "queue", id, "id = ?", id)
}

func (s *Store) ListQueues(ctx context.Context, businessID uint, status string) ([]models.Queue, error) {
	var queues []models.Queue
	q := s.conn(ctx).Where("business_id = ?", businessID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("priority DESC, id DESC").Find(&queues).Error
	return queues, err
}

// UpdateQueueIf applies fields only while the queue is in one of the given
// statuses. It reports whether a row changed.
func (s *Store) UpdateQueueIf(ctx context.Context, id uint, statuses []string, fields map[string]any) (bool, error) {
	q := s.conn(ctx).Model(&models.Queue{}).Where("id = ?", id)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	res := q.Updates(fields)
	return res.RowsAffected > 0, res.Error
}

// DeleteQueueIf removes a queue unless it is in one of the blocked statuses.
func (s *Store) DeleteQueueIf(ctx context.Context, id uint, blocked []string) (bool, error) {
	res := s.conn(ctx).Where("id = ? AND status NOT IN ?", id, blocked).Delete(&models.Queue{})
	return res.RowsAffected > 0, res.Error
}

// LiveRuns maps each of ids whose queue may still dispatch to its current run.
func (s *Store) LiveRuns(ctx context.Context, ids []uint) (map[uint]int, error) {
	out := make(map[uint]int, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var queues []models.Queue
	err := s.conn(ctx).Select("id", "run").
		Where("id IN ?", ids).
		Where("status IN ?", []string{models.QueueScheduled, models.QueueProcessing, models.QueuePaused}).
		Find(&queues).Error
	if err != nil {
		return nil, err
	}
	for _, q := range queues {
		out[q.ID] = q.Run
	}
	return out, nil
}

// DueQueues lists queues ready for a dispatch pass, highest priority first.
func (s *Store) DueQueues(ctx context.Context, now time.Time, limit int) ([]models.Queue, error) {
	now = now.UTC()
	var queues []models.Queue
	q := s.conn(ctx).
		Where("status IN ?", []string{models.QueueScheduled, models.QueueProcessing}).
		Where("scheduled_at IS NULL OR scheduled_at <= ?", now).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Where("lease_expires_at IS NULL OR lease_expires_at < ?", now).
		Order("priority DESC").Order("scheduled_at ASC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&queues).Error
	return queues, err
}

// ClaimQueue takes the lease on a queue. Only one owner holds an unexpired
// lease at a time; the owner may re-claim to extend it.
func (s *Store) ClaimQueue(ctx context.Context, id uint, owner string, now time.Time, ttl time.Duration) (bool, error) {
	now = now.UTC()
	res := s.conn(ctx).Model(&models.Queue{}).
		Where("id = ?", id).
		Where("lease_owner = ? OR lease_expires_at IS NULL OR lease_expires_at < ?", owner, now).
		Updates(map[string]any{
			"lease_owner":      owner,
			"lease_expires_at": now.Add(ttl),
		})
	return res.RowsAffected > 0, res.Error
}

// ReleaseQueue drops the lease held by owner and applies fields in the same write.
func (s *Store) ReleaseQueue(ctx context.Context, id uint, owner string, fields map[string]any) error {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["lease_owner"] = ""
	fields["lease_expires_at"] = nil
	return s.conn(ctx).Model(&models.Queue{}).
		Where("id = ? AND lease_owner = ?", id, owner).
		Updates(fields).Error
}

// IncrementQueue adds to the named counter columns atomically.
func (s *Store) IncrementQueue(ctx context.Context, id uint, counts map[string]int) error {
	fields := increments(counts)
	if len(fields) == 0 {
		return nil
	}
	return s.conn(ctx).Model(&models.Queue{}).Where("id = ?", id).Updates(fields).Error
}

// IncrementOptedOut bumps total_opted_out on every running queue of a business.
func (s *Store) IncrementOptedOut(ctx context.Context, businessID uint) (int64, error) {
	res := s.conn(ctx).Model(&models.Queue{}).
		Where("business_id = ? AND status = ?", businessID, models.QueueProcessing).
		Update("total_opted_out", gorm.Expr("total_opted_out + 1"))
	return res.RowsAffected, res.Error
}
