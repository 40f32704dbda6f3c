package optout_test

import (
	"context"
	"testing"

	"whatsapp-campaigns/internal/models"
	"whatsapp-campaigns/internal/store"
)

type ledgerStore struct {
	*store.Store
}

func (s *ledgerStore) queue(t *testing.T, id uint) *models.Queue {
	t.Helper()
	q, err := s.GetQueue(context.Background(), id)
	if err != nil {
		t.Fatalf("GetQueue(%d): %v", id, err)
	}
	return q
}
