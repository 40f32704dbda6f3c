package audience_test

import (
	"context"
	"testing"
	"time"

	"whatsapp-campaigns/internal/apperrors"
	"whatsapp-campaigns/internal/audience"
	"whatsapp-campaigns/internal/models"
	"whatsapp-campaigns/internal/phone"
	"whatsapp-campaigns/internal/testsupport"
)

func TestResolveCanonicalizesAndDedupes(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	testsupport.NewCustomer(t, s, 1, "Ana", "0991234567", 50)
	testsupport.NewCustomer(t, s, 1, "Ana bis", "+593 99 123 4567", 10)
	testsupport.NewCustomer(t, s, 1, "Luis", "0987654321", 200)
	testsupport.NewCustomer(t, s, 1, "Broken", "123", 500)
	testsupport.NewCustomer(t, s, 2, "Other business", "0981112233", 500)

	r := audience.NewResolver(s, phone.New("EC"), nil)
	got, err := r.Resolve(context.Background(), 1, audience.Filter{Type: audience.TypeAll})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("recipients = %+v", got)
	}
	if got[0].Phone != "+593991234567" || got[0].Name != "Ana" || got[1].Phone != "+593987654321" {
		t.Fatalf("recipients = %+v", got)
	}
}

func TestResolvePointsAndPhones(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	testsupport.NewCustomer(t, s, 1, "Ana", "0991234567", 50)
	testsupport.NewCustomer(t, s, 1, "Luis", "0987654321", 200)

	min := 100
	r := audience.NewResolver(s, phone.New("EC"), nil)
	got, err := r.Resolve(context.Background(), 1, audience.Filter{Type: audience.TypePoints, MinPoints: &min, Phones: []string{"0987654321", "0981112233"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "Luis" || got[1].Phone != "+593981112233" || got[1].CustomerID != nil {
		t.Fatalf("recipients = %+v", got)
	}
}

func TestResolveVisitsAndPromotions(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	recent := time.Now().UTC().AddDate(0, 0, -3)
	old := time.Now().UTC().AddDate(0, 0, -40)
	ctx := context.Background()
	for _, c := range []*models.Customer{
		{BusinessID: 1, Name: "recent", Phone: "0991234567", LastVisitAt: &recent, AcceptsPromotions: true},
		{BusinessID: 1, Name: "old", Phone: "0987654321", LastVisitAt: &old, AcceptsPromotions: true},
		{BusinessID: 1, Name: "no promos", Phone: "0981112233", LastVisitAt: &recent, AcceptsPromotions: false},
	} {
		if err := s.CreateCustomer(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	days := 30
	r := audience.NewResolver(s, phone.New("EC"), nil)
	got, err := r.Resolve(ctx, 1, audience.Filter{Type: audience.TypeVisits, LastVisitDays: &days})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "recent" {
		t.Fatalf("recipients = %+v", got)
	}
}

func TestParseFilter(t *testing.T) {
	f, err := audience.ParseFilter("")
	if err != nil || f.Type != audience.TypeAll {
		t.Fatalf("empty filter: %+v %v", f, err)
	}
	for _, raw := range []string{`{"type":"vip"}`, `{"type":"points"}`, `{"type":"custom"}`, `not json`, `{"type":"visits","last_visit_days":0}`} {
		if _, err := audience.ParseFilter(raw); !apperrors.IsValidation(err) {
			t.Fatalf("ParseFilter(%s): expected validation error, got %v", raw, err)
		}
	}
}
