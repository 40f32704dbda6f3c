package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"whatsapp-campaigns/internal/accounts"
	"whatsapp-campaigns/internal/api"
	"whatsapp-campaigns/internal/config"
	"whatsapp-campaigns/internal/events"
	"whatsapp-campaigns/internal/insights"
	"whatsapp-campaigns/internal/logging"
	"whatsapp-campaigns/internal/optout"
	"whatsapp-campaigns/internal/phone"
	"whatsapp-campaigns/internal/queues"
	"whatsapp-campaigns/internal/store"
	"whatsapp-campaigns/internal/templates"
	"whatsapp-campaigns/internal/testsupport"
)

type server struct {
	router *gin.Engine
	store  *store.Store
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := testsupport.MustOpenStore(t)
	log := logging.NewNop()
	phones := phone.New("EC")
	registry := templates.NewRegistry(s)
	compliance := config.DefaultCompliance()
	generator, err := insights.NewGenerator(s, compliance.Insights, "America/Guayaquil", log)
	if err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	api.Handlers{
		Accounts:  api.NewAccountHandler(accounts.NewRegistry(s, phones, log), log),
		Templates: api.NewTemplateHandler(registry, log),
		Queues:    api.NewQueueHandler(queues.NewService(s, registry, &events.Recorder{}, log), log),
		OptOuts:   api.NewOptOutHandler(optout.NewLedger(s, phones, compliance.OptOut.Keywords, log), log),
		Insights:  api.NewInsightHandler(generator, log),
		Dashboard: api.NewDashboardHandler(s, log),
	}.Register(r.Group("/api"))
	return &server{router: r, store: s}
}

func (s *server) do(t *testing.T, method, path string, business uint, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if business != 0 {
		req.Header.Set("X-Business-ID", fmt.Sprint(business))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func TestBusinessHeaderRequired(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodGet, "/api/queues", 0, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestAccountLifecycle(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/api/accounts", 1, map[string]any{
		"name":                 "main",
		"provider_account_sid": "AC1",
		"auth_token":           "tok",
		"phone_number":         "0991234567",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", w.Code, w.Body)
	}
	var created struct {
		ID          uint   `json:"id"`
		PhoneNumber string `json:"phone_number"`
		HourlyCap   int    `json:"hourly_cap"`
	}
	decode(t, w, &created)
	if created.PhoneNumber != "+593991234567" || created.HourlyCap != accounts.DefaultHourlyCap {
		t.Fatalf("created = %+v", created)
	}

	path := fmt.Sprintf("/api/accounts/%d", created.ID)
	if w := s.do(t, http.MethodGet, path, 2, nil); w.Code != http.StatusNotFound {
		t.Fatalf("other business status = %d, want 404", w.Code)
	}
	if w := s.do(t, http.MethodPut, path+"/status", 1, map[string]string{"status": "bogus"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad status = %d, want 400", w.Code)
	}
	if w := s.do(t, http.MethodPut, path+"/status", 1, map[string]string{"status": "suspended"}); w.Code != http.StatusOK {
		t.Fatalf("suspend status = %d body=%s", w.Code, w.Body)
	}
}

func TestQueueEndpoints(t *testing.T) {
	s := newServer(t)
	account := testsupport.NewAccount(t, s.store, 1, "+593900000000", 80)
	template := testsupport.NewApprovedTemplate(t, s.store, 1, "Hola {{first_name}}, {{offer}}", `["first_name","offer"]`)

	w := s.do(t, http.MethodPost, "/api/queues", 1, map[string]any{
		"account_id":      account.ID,
		"template_id":     template.ID,
		"name":            "Promo",
		"variables":       map[string]string{"offer": "2x1"},
		"audience_filter": map[string]any{"type": "all"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", w.Code, w.Body)
	}
	var q struct {
		ID     uint   `json:"id"`
		Status string `json:"status"`
		Run    int    `json:"run"`
	}
	decode(t, w, &q)
	if q.Status != "DRAFT" {
		t.Fatalf("status = %s, want DRAFT", q.Status)
	}
	base := fmt.Sprintf("/api/queues/%d", q.ID)

	w = s.do(t, http.MethodPost, base+"/activate", 1, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("activate status = %d body=%s", w.Code, w.Body)
	}
	decode(t, w, &q)
	if q.Status != "SCHEDULED" || q.Run != 1 {
		t.Fatalf("after activate = %+v", q)
	}

	if w := s.do(t, http.MethodPost, base+"/resume", 1, nil); w.Code != http.StatusConflict {
		t.Fatalf("resume scheduled = %d, want 409", w.Code)
	}
	if w := s.do(t, http.MethodPost, base+"/pause", 1, nil); w.Code != http.StatusOK {
		t.Fatalf("pause = %d body=%s", w.Code, w.Body)
	}
	if w := s.do(t, http.MethodGet, base+"/stats", 1, nil); w.Code != http.StatusOK {
		t.Fatalf("stats = %d body=%s", w.Code, w.Body)
	}

	w = s.do(t, http.MethodGet, base+"/messages?limit=10", 1, nil)
	var page struct {
		Total int64 `json:"total"`
		Limit int   `json:"limit"`
	}
	decode(t, w, &page)
	if w.Code != http.StatusOK || page.Total != 0 || page.Limit != 10 {
		t.Fatalf("messages = %d %+v", w.Code, page)
	}

	if w := s.do(t, http.MethodGet, "/api/dashboard/overview", 1, nil); w.Code != http.StatusOK {
		t.Fatalf("overview = %d", w.Code)
	}
	if w := s.do(t, http.MethodDelete, base, 1, nil); w.Code != http.StatusOK {
		t.Fatalf("delete = %d body=%s", w.Code, w.Body)
	}
	if w := s.do(t, http.MethodGet, base, 1, nil); w.Code != http.StatusNotFound {
		t.Fatalf("get deleted = %d, want 404", w.Code)
	}
}

func TestQueueValidationReportsField(t *testing.T) {
	s := newServer(t)
	account := testsupport.NewAccount(t, s.store, 1, "+593900000000", 80)

	w := s.do(t, http.MethodPost, "/api/queues", 1, map[string]any{
		"account_id": account.ID,
		"name":       "No content",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 body=%s", w.Code, w.Body)
	}
	var body struct {
		Field string `json:"field"`
	}
	decode(t, w, &body)
	if body.Field == "" {
		t.Fatalf("missing field in %s", w.Body)
	}
}

func TestTemplateApproval(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/api/templates", 1, map[string]any{
		"name":     "promo",
		"content":  "Hola {{first_name}}",
		"category": "MARKETING",
		"language": "es",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d body=%s", w.Code, w.Body)
	}
	var tpl struct {
		ID     uint   `json:"id"`
		Status string `json:"status"`
	}
	decode(t, w, &tpl)

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/templates/%d/approve", tpl.ID), 1, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("approve = %d body=%s", w.Code, w.Body)
	}
	decode(t, w, &tpl)
	if tpl.Status != "APPROVED" {
		t.Fatalf("status = %s, want APPROVED", tpl.Status)
	}
}

func TestOptOutEndpoints(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/api/opt-outs", 1, map[string]string{"phone": "0991234567"})
	if w.Code != http.StatusCreated {
		t.Fatalf("opt-out = %d body=%s", w.Code, w.Body)
	}
	if w := s.do(t, http.MethodPost, "/api/opt-outs", 1, map[string]string{"phone": "+593991234567"}); w.Code != http.StatusOK {
		t.Fatalf("repeat opt-out = %d, want 200", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/opt-outs", 1, map[string]string{"phone": "abc"}); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid phone = %d, want 400", w.Code)
	}

	w = s.do(t, http.MethodGet, "/api/opt-outs", 1, nil)
	var list []map[string]any
	decode(t, w, &list)
	if len(list) != 1 {
		t.Fatalf("active opt-outs = %d, want 1", len(list))
	}

	if w := s.do(t, http.MethodPost, "/api/opt-outs/opt-in", 1, map[string]string{"phone": "+593991234567"}); w.Code != http.StatusOK {
		t.Fatalf("opt-in = %d body=%s", w.Code, w.Body)
	}
	if w := s.do(t, http.MethodPost, "/api/opt-outs/opt-in", 1, map[string]string{"phone": "+593991234567"}); w.Code != http.StatusNotFound {
		t.Fatalf("second opt-in = %d, want 404", w.Code)
	}
}

func TestInsightEndpoints(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodGet, "/api/insights?unread=true", 1, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d body=%s", w.Code, w.Body)
	}
	if w := s.do(t, http.MethodPut, "/api/insights/99", 1, map[string]bool{"is_read": true}); w.Code != http.StatusNotFound {
		t.Fatalf("mark missing = %d, want 404", w.Code)
	}
	if w := s.do(t, http.MethodPut, "/api/insights/99", 1, map[string]any{}); w.Code != http.StatusBadRequest {
		t.Fatalf("mark empty = %d, want 400", w.Code)
	}
}
