package optout_test

import (
	"context"
	"testing"

	"whatsapp-campaigns/internal/config"
	"whatsapp-campaigns/internal/models"
	"whatsapp-campaigns/internal/optout"
	"whatsapp-campaigns/internal/phone"
	"whatsapp-campaigns/internal/testsupport"
)

func newLedger(t *testing.T) (*optout.Ledger, *ledgerStore) {
	t.Helper()
	s := testsupport.MustOpenStore(t)
	return optout.NewLedger(s, phone.New("EC"), config.DefaultCompliance().OptOut.Keywords, nil), &ledgerStore{s}
}

func TestMatchKeyword(t *testing.T) {
	l, _ := newLedger(t)
	tests := []struct {
		body string
		want string
		ok   bool
	}{
		{"STOP", "stop", true},
		{"  Stop!!", "stop", true},
		{"Baja por favor", "baja", true},
		{"NO MÁS", "no mas", true},
		{"no más mensajes", "no mas", true},
		{"Cancelar.", "cancelar", true},
		{"Por favor STOP", "stop", true},
		{"quiero darme de BAJA, gracias", "baja", true},
		{"ya no, no más por hoy", "no mas", true},
		{"Gracias, nos vemos", "", false},
		{"no gracias", "", false},
		{"no es más barato", "", false},
		{"nonstop service", "", false},
		{"stopped by yesterday", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := l.MatchKeyword(tt.body)
		if ok != tt.ok || got != tt.want {
			t.Errorf("MatchKeyword(%q) = %q %v, want %q %v", tt.body, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRecordKeywordCountsOnce(t *testing.T) {
	l, ts := newLedger(t)
	ctx := context.Background()
	running := testsupport.NewQueue(t, ts.Store, &models.Queue{BusinessID: 1, AccountID: 1, Name: "running", Status: models.QueueProcessing})
	done := testsupport.NewQueue(t, ts.Store, &models.Queue{BusinessID: 1, AccountID: 1, Name: "done", Status: models.QueueCompleted})
	other := testsupport.NewQueue(t, ts.Store, &models.Queue{BusinessID: 2, AccountID: 2, Name: "other", Status: models.QueueProcessing})

	changed, err := l.RecordKeyword(ctx, 1, "whatsapp:+593991234567", "stop", nil)
	if err != nil || !changed {
		t.Fatalf("first: %v %v", changed, err)
	}
	changed, err = l.RecordKeyword(ctx, 1, "0991234567", "stop", nil)
	if err != nil || changed {
		t.Fatalf("repeat: %v %v", changed, err)
	}

	if got := ts.queue(t, running.ID).TotalOptedOut; got != 1 {
		t.Fatalf("running queue opted out = %d", got)
	}
	if got := ts.queue(t, done.ID).TotalOptedOut; got != 0 {
		t.Fatalf("completed queue opted out = %d", got)
	}
	if got := ts.queue(t, other.ID).TotalOptedOut; got != 0 {
		t.Fatalf("other business queue opted out = %d", got)
	}
	if out, _ := l.IsOptedOut(ctx, 1, "+593991234567"); !out {
		t.Fatal("expected opted out")
	}
}

func TestOptBackInThenKeywordAgain(t *testing.T) {
	l, ts := newLedger(t)
	ctx := context.Background()
	q := testsupport.NewQueue(t, ts.Store, &models.Queue{BusinessID: 1, AccountID: 1, Name: "running", Status: models.QueueProcessing})

	if _, err := l.OptOutManual(ctx, 1, "0991234567"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := l.OptBackIn(ctx, 1, "0991234567"); !ok {
		t.Fatal("opt back in should change state")
	}
	if out, _ := l.IsOptedOut(ctx, 1, "+593991234567"); out {
		t.Fatal("expected opted back in")
	}
	changed, err := l.RecordKeyword(ctx, 1, "0991234567", "baja", nil)
	if err != nil || !changed {
		t.Fatalf("re-opt-out: %v %v", changed, err)
	}
	if got := ts.queue(t, q.ID).TotalOptedOut; got != 1 {
		t.Fatalf("opted out = %d", got)
	}
	rows, _ := l.List(ctx, 1, true)
	if len(rows) != 1 || rows[0].Method != models.OptOutKeyword || rows[0].Keyword != "baja" {
		t.Fatalf("ledger rows = %+v", rows)
	}
}

func TestRecordKeywordRejectsInvalidPhone(t *testing.T) {
	l, _ := newLedger(t)
	if _, err := l.RecordKeyword(context.Background(), 1, "abc", "stop", nil); err == nil {
		t.Fatal("expected error")
	}
}
