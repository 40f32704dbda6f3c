// Package optout keeps the per-business suppression ledger and recognizes
// opt-out keywords in inbound messages.
package optout

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"whatsapp-campaigns/internal/models"
	"whatsapp-campaigns/internal/phone"
	"whatsapp-campaigns/internal/store"
)

// Ledger records and answers opt-out state.
type Ledger struct {
	store    *store.Store
	phones   *phone.Canonicalizer
	log      *slog.Logger
	keywords [][]string
	now      func() time.Time
}

func NewLedger(s *store.Store, phones *phone.Canonicalizer, keywords []string, log *slog.Logger) *Ledger {
	l := &Ledger{store: s, phones: phones, log: log, now: func() time.Time { return time.Now().UTC() }}
	for _, k := range keywords {
		if tokens := tokenize(k); len(tokens) > 0 {
			l.keywords = append(l.keywords, tokens)
		}
	}
	return l
}

// MatchKeyword reports the keyword an inbound body opts out with. A keyword
// matches as a whole token sequence anywhere in the body, ignoring case,
// accents and punctuation.
func (l *Ledger) MatchKeyword(body string) (string, bool) {
	tokens := tokenize(body)
	if len(tokens) == 0 {
		return "", false
	}
	for _, kw := range l.keywords {
		if containsTokens(tokens, kw) {
			return strings.Join(kw, " "), true
		}
	}
	return "", false
}

func containsTokens(tokens, kw []string) bool {
	for start := 0; start+len(kw) <= len(tokens); start++ {
		match := true
		for i := range kw {
			if tokens[start+i] != kw[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// RecordKeyword opts phone out of the business. Queue opt-out counters move
// only when the phone was not already opted out.
func (l *Ledger) RecordKeyword(ctx context.Context, businessID uint, rawPhone, keyword string, customerID *uint) (bool, error) {
	changed, err := l.optOut(ctx, businessID, rawPhone, models.OptOutKeyword, keyword, customerID)
	if err != nil || !changed {
		return changed, err
	}
	n, err := l.store.IncrementOptedOut(ctx, businessID)
	if err != nil {
		// best effort: the ledger row is what suppresses future sends
		l.logger().Warn("opt-out counter update failed", "business_id", businessID, "error", err)
		return true, nil
	}
	l.logger().Info("phone opted out", "business_id", businessID, "keyword", keyword, "queues_updated", n)
	return true, nil
}

// OptOutManual records an operator-entered opt-out.
func (l *Ledger) OptOutManual(ctx context.Context, businessID uint, rawPhone string) (bool, error) {
	return l.optOut(ctx, businessID, rawPhone, models.OptOutManual, "", nil)
}

func (l *Ledger) optOut(ctx context.Context, businessID uint, rawPhone, method, keyword string, customerID *uint) (bool, error) {
	e164, err := l.phones.Canonical(rawPhone)
	if err != nil {
		return false, err
	}
	now := l.now()
	inserted, err := l.store.InsertOptOut(ctx, &models.OptOut{
		Phone:      e164,
		BusinessID: businessID,
		CustomerID: customerID,
		Method:     method,
		Keyword:    keyword,
		OptedOutAt: now,
	})
	if err != nil {
		return false, err
	}
	if inserted {
		return true, nil
	}
	return l.store.ReactivateOptOut(ctx, businessID, e164, method, keyword, now)
}

// OptBackIn reverses an opt-out. It reports false when none was active.
func (l *Ledger) OptBackIn(ctx context.Context, businessID uint, rawPhone string) (bool, error) {
	e164, err := l.phones.Canonical(rawPhone)
	if err != nil {
		return false, err
	}
	return l.store.OptBackIn(ctx, businessID, e164, l.now())
}

// IsOptedOut expects an already canonical phone.
func (l *Ledger) IsOptedOut(ctx context.Context, businessID uint, e164 string) (bool, error) {
	return l.store.IsOptedOut(ctx, businessID, e164)
}

func (l *Ledger) List(ctx context.Context, businessID uint, activeOnly bool) ([]models.OptOut, error) {
	return l.store.ListOptOuts(ctx, businessID, activeOnly)
}

func (l *Ledger) logger() *slog.Logger {
	if l.log == nil {
		return slog.Default()
	}
	return l.log
}

var fold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// tokenize lowercases, strips accents and splits on anything that is not a
// letter or digit.
func tokenize(s string) []string {
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}
	return strings.FieldsFunc(strings.ToLower(folded), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
