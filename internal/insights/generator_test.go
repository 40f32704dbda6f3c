package insights_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"whatsapp-campaigns/internal/apperrors"
	"whatsapp-campaigns/internal/config"
	"whatsapp-campaigns/internal/insights"
	"whatsapp-campaigns/internal/logging"
	"whatsapp-campaigns/internal/models"
	"whatsapp-campaigns/internal/store"
	"whatsapp-campaigns/internal/testsupport"
)

type seeder struct {
	t     *testing.T
	store *store.Store
	n     int
}

// messages seeds count messages sent at sentAt; the first delivered of them
// are delivered an hour later and the first replied of those get a reply.
func (s *seeder) messages(sentAt time.Time, count, delivered, replied int) {
	s.t.Helper()
	for i := 0; i < count; i++ {
		s.n++
		sent := sentAt
		m := &models.Message{
			QueueID:    1,
			Run:        1,
			Phone:      fmt.Sprintf("+59399100%04d", s.n),
			AccountID:  1,
			BusinessID: 1,
			Status:     models.MessageSent,
			QueuedAt:   sent,
			SentAt:     &sent,
		}
		if i < delivered {
			at := sentAt.Add(time.Hour)
			m.Status = models.MessageDelivered
			m.DeliveredAt = &at
		}
		if i < replied {
			at := sentAt.Add(2 * time.Hour)
			m.HasResponse = true
			m.ResponseAt = &at
		}
		if _, err := s.store.InsertMessage(context.Background(), m); err != nil {
			s.t.Fatal(err)
		}
	}
}

func (s *seeder) optOut(at time.Time) {
	s.t.Helper()
	s.n++
	if _, err := s.store.InsertOptOut(context.Background(), &models.OptOut{
		BusinessID: 1,
		Phone:      fmt.Sprintf("+59399100%04d", s.n),
		Method:     models.OptOutKeyword,
		OptedOutAt: at,
	}); err != nil {
		s.t.Fatal(err)
	}
}

func newGenerator(t *testing.T, now *time.Time) (*insights.Generator, *seeder) {
	t.Helper()
	s := testsupport.MustOpenStore(t)
	testsupport.NewAccount(t, s, 1, "+593900000000", 80)
	g, err := insights.NewGenerator(s, config.DefaultCompliance().Insights, "America/Guayaquil", logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	g.WithClock(func() time.Time { return *now })
	return g, &seeder{t: t, store: s}
}

func titles(list []models.Insight) map[string]models.Insight {
	out := map[string]models.Insight{}
	for _, in := range list {
		out[in.Title] = in
	}
	return out
}

func TestGenerateDailyInsightsWithDedup(t *testing.T) {
	// 10:00 in Guayaquil
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	g, seed := newGenerator(t, &now)
	ctx := context.Background()

	seed.messages(time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC), 10, 10, 0)
	seed.messages(time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC), 10, 3, 2)
	seed.optOut(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))

	created, err := g.Generate(ctx, 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	got := titles(created)
	if len(got) != 3 {
		t.Fatalf("created = %+v", created)
	}
	if in := got[insights.TitleDeliveryDrop]; in.Type != models.InsightAlert || in.Priority != models.PriorityHigh || in.Value != 30 {
		t.Fatalf("delivery drop = %+v", in)
	}
	if in := got[insights.TitleEngagement]; in.Type != models.InsightRecommendation || in.Value < 66 || in.Value > 67 {
		t.Fatalf("engagement = %+v", in)
	}
	if in := got[insights.TitleOptOuts]; in.Priority != models.PriorityCritical || in.Value != 10 {
		t.Fatalf("opt-outs = %+v", in)
	}
	if _, ok := got[insights.TitleGrowth]; ok {
		t.Fatal("flat volume must not raise a growth trend")
	}

	again, err := g.Generate(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("duplicates within the hour: %+v", again)
	}

	now = now.Add(61 * time.Minute)
	later, err := g.Generate(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(later) != 3 {
		t.Fatalf("after the window = %d", len(later))
	}
}

func TestGenerateWeeklyGrowth(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	g, seed := newGenerator(t, &now)

	seed.messages(time.Date(2026, 3, 5, 15, 0, 0, 0, time.UTC), 10, 0, 0)
	seed.messages(time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC), 15, 0, 0)

	created, err := g.Generate(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 1 || created[0].Title != insights.TitleGrowth || created[0].Value != 50 {
		t.Fatalf("created = %+v", created)
	}
}

func TestGenerateQuietBusiness(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	g, _ := newGenerator(t, &now)

	n, err := g.GenerateAll(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("GenerateAll = %d, %v", n, err)
	}
}

func TestListAndMark(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	g, seed := newGenerator(t, &now)
	ctx := context.Background()
	seed.messages(time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC), 10, 10, 5)

	created, err := g.Generate(ctx, 1)
	if err != nil || len(created) != 1 {
		t.Fatalf("Generate = %+v, %v", created, err)
	}
	id := created[0].ID

	yes := true
	if err := g.Mark(ctx, 1, id, &yes, nil); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if err := g.Mark(ctx, 2, id, &yes, nil); !apperrors.IsNotFound(err) {
		t.Fatalf("other business: %v", err)
	}
	if err := g.Mark(ctx, 1, id, nil, nil); !apperrors.IsValidation(err) {
		t.Fatalf("empty update: %v", err)
	}

	unread, err := g.List(ctx, 1, store.InsightFilter{UnreadOnly: true})
	if err != nil || len(unread) != 0 {
		t.Fatalf("unread = %+v, %v", unread, err)
	}
	all, err := g.List(ctx, 1, store.InsightFilter{Type: models.InsightRecommendation})
	if err != nil || len(all) != 1 || !all[0].IsRead {
		t.Fatalf("all = %+v, %v", all, err)
	}
}
