package templates_test

import (
	"context"
	"reflect"
	"testing"

	"whatsapp-campaigns/internal/apperrors"
	"whatsapp-campaigns/internal/models"
	"whatsapp-campaigns/internal/templates"
	"whatsapp-campaigns/internal/testsupport"
)

func TestApproveStoresPlaceholders(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	reg := templates.NewRegistry(s)
	ctx := context.Background()

	tmpl, err := reg.Create(ctx, 1, templates.CreateInput{Name: "promo", Content: "Hola {{name}}, {{offer}}"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tmpl.Status != models.TemplatePending {
		t.Fatalf("status = %s", tmpl.Status)
	}
	if _, err := reg.Compiled(tmpl); !apperrors.IsValidation(err) {
		t.Fatalf("pending template must not compile for sending, got %v", err)
	}

	approved, err := reg.Approve(ctx, 1, tmpl.ID, "HX123")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != models.TemplateApproved || approved.ApprovedAt == nil || approved.ContentSID != "HX123" {
		t.Fatalf("unexpected template %+v", approved)
	}
	if got, err := templates.StoredPlaceholders(approved); err != nil || !reflect.DeepEqual(got, []string{"name", "offer"}) {
		t.Fatalf("placeholders = %v, %v", got, err)
	}
	if _, err := templates.StoredPlaceholders(&models.Template{ID: 9, Placeholders: "[name"}); err == nil {
		t.Fatal("expected an error for a corrupt placeholder list")
	}
	compiled, err := reg.Compiled(approved)
	if err != nil {
		t.Fatal(err)
	}
	if again, _ := reg.Compiled(approved); again != compiled {
		t.Fatal("expected cached compilation")
	}
}

func TestCreateRejectsBadContent(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	reg := templates.NewRegistry(s)
	if _, err := reg.Create(context.Background(), 1, templates.CreateInput{Name: "x", Content: "Hola {{name"}); !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOtherBusinessCannotApprove(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	reg := templates.NewRegistry(s)
	ctx := context.Background()
	tmpl, err := reg.Create(ctx, 1, templates.CreateInput{Name: "promo", Content: "Hola"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Approve(ctx, 2, tmpl.ID, ""); !apperrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	rejected, err := reg.Reject(ctx, 1, tmpl.ID)
	if err != nil || rejected.Status != models.TemplateRejected {
		t.Fatalf("reject: %+v %v", rejected, err)
	}
}
