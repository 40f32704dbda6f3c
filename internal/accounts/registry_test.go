package accounts_test

import (
	"context"
	"testing"

	"whatsapp-campaigns/internal/accounts"
	"whatsapp-campaigns/internal/apperrors"
	"whatsapp-campaigns/internal/logging"
	"whatsapp-campaigns/internal/models"
	"whatsapp-campaigns/internal/phone"
	"whatsapp-campaigns/internal/testsupport"
)

func newRegistry(t *testing.T) *accounts.Registry {
	t.Helper()
	return accounts.NewRegistry(testsupport.MustOpenStore(t), phone.New("EC"), logging.NewNop())
}

func TestCreateCanonicalizesPhone(t *testing.T) {
	r := newRegistry(t)
	a, err := r.Create(context.Background(), 1, accounts.CreateInput{
		Name:               "Sucursal centro",
		ProviderAccountSID: "AC1",
		AuthToken:          "tok",
		PhoneNumber:        "whatsapp:0991234567",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.PhoneNumber != "+593991234567" {
		t.Fatalf("phone = %s", a.PhoneNumber)
	}
	if a.HourlyCap != accounts.DefaultHourlyCap || a.Status != models.AccountActive {
		t.Fatalf("account = %+v", a)
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	inputs := []accounts.CreateInput{
		{ProviderAccountSID: "AC1", AuthToken: "tok", PhoneNumber: "0991234567"},
		{Name: "x", PhoneNumber: "0991234567"},
		{Name: "x", ProviderAccountSID: "AC1", AuthToken: "tok", PhoneNumber: "12"},
		{Name: "x", ProviderAccountSID: "AC1", AuthToken: "tok", PhoneNumber: "0991234567", HourlyCap: -1},
	}
	for i, in := range inputs {
		if _, err := r.Create(ctx, 1, in); !apperrors.IsValidation(err) {
			t.Fatalf("input %d: expected validation error, got %v", i, err)
		}
	}
}

func TestSetStatusScopedByBusiness(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	a, err := r.Create(ctx, 1, accounts.CreateInput{Name: "x", ProviderAccountSID: "AC1", AuthToken: "tok", PhoneNumber: "0991234567", HourlyCap: 10})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := r.SetStatus(ctx, 2, a.ID, models.AccountSuspended); !apperrors.IsNotFound(err) {
		t.Fatalf("other business: %v", err)
	}
	if _, err := r.SetStatus(ctx, 1, a.ID, "deleted"); !apperrors.IsValidation(err) {
		t.Fatalf("bad status: %v", err)
	}
	got, err := r.SetStatus(ctx, 1, a.ID, "suspended")
	if err != nil || got.Status != models.AccountSuspended {
		t.Fatalf("suspend: %+v %v", got, err)
	}
	list, _ := r.List(ctx, 1)
	if len(list) != 1 || list[0].HourlyCap != 10 {
		t.Fatalf("list = %+v", list)
	}
}

func TestCreateUsesConfiguredDefaultCap(t *testing.T) {
	r := newRegistry(t).WithDefaultCap(250)
	a, err := r.Create(context.Background(), 1, accounts.CreateInput{
		Name:               "Sucursal norte",
		ProviderAccountSID: "AC1",
		AuthToken:          "tok",
		PhoneNumber:        "+593991234567",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.HourlyCap != 250 {
		t.Fatalf("hourly cap = %d, want 250", a.HourlyCap)
	}
}
