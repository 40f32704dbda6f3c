// Package audience turns a queue's stored filter into a canonical,
// de-duplicated recipient list.
package audience

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"whatsapp-campaigns/internal/apperrors"
	"whatsapp-campaigns/internal/models"
	"whatsapp-campaigns/internal/phone"
	"whatsapp-campaigns/internal/store"
)

const (
	TypeAll      = "all"
	TypePoints   = "points"
	TypeVisits   = "visits"
	TypeCombined = "combined"
	TypeCustom   = "custom"
)

// Filter is the JSON document stored on a queue.
type Filter struct {
	Type                string   `json:"type"`
	MinPoints           *int     `json:"min_points,omitempty"`
	LastVisitDays       *int     `json:"last_visit_days,omitempty"`
	IncludeNoPromotions bool     `json:"include_no_promotions,omitempty"`
	CustomerIDs         []uint   `json:"customer_ids,omitempty"`
	Phones              []string `json:"phones,omitempty"`
}

// Recipient is one canonical destination.
type Recipient struct {
	Phone      string
	CustomerID *uint
	Name       string
	Points     int
}

// CustomerSource is the read side of the customer store.
type CustomerSource interface {
	FindCustomers(ctx context.Context, q store.CustomerQuery) ([]models.Customer, error)
}

type Resolver struct {
	customers CustomerSource
	phones    *phone.Canonicalizer
	log       *slog.Logger
	now       func() time.Time
}

func NewResolver(customers CustomerSource, phones *phone.Canonicalizer, log *slog.Logger) *Resolver {
	return &Resolver{customers: customers, phones: phones, log: log, now: time.Now}
}

// ParseFilter decodes and validates a stored filter. Empty input means "all".
func ParseFilter(raw string) (Filter, error) {
	f := Filter{Type: TypeAll}
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return Filter{}, apperrors.NewValidation("audience_filter", "must be a JSON object: %v", err)
		}
	}
	if f.Type == "" {
		f.Type = TypeAll
	}
	return f, f.Validate()
}

func (f Filter) Validate() error {
	switch f.Type {
	case TypeAll:
	case TypePoints:
		if f.MinPoints == nil {
			return apperrors.NewValidation("audience_filter", "points filter needs min_points")
		}
	case TypeVisits:
		if f.LastVisitDays == nil {
			return apperrors.NewValidation("audience_filter", "visits filter needs last_visit_days")
		}
	case TypeCombined:
		if f.MinPoints == nil && f.LastVisitDays == nil {
			return apperrors.NewValidation("audience_filter", "combined filter needs min_points or last_visit_days")
		}
	case TypeCustom:
		if len(f.CustomerIDs) == 0 && len(f.Phones) == 0 {
			return apperrors.NewValidation("audience_filter", "custom filter needs customer_ids or phones")
		}
	default:
		return apperrors.NewValidation("audience_filter", "unknown type %q", f.Type)
	}
	if f.MinPoints != nil && *f.MinPoints < 0 {
		return apperrors.NewValidation("audience_filter", "min_points must not be negative")
	}
	if f.LastVisitDays != nil && *f.LastVisitDays <= 0 {
		return apperrors.NewValidation("audience_filter", "last_visit_days must be positive")
	}
	return nil
}

// Resolve returns the recipients for a business. Numbers that fail
// canonicalization are dropped and logged; duplicates keep the first customer.
func (r *Resolver) Resolve(ctx context.Context, businessID uint, f Filter) ([]Recipient, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	q := store.CustomerQuery{BusinessID: businessID}
	if !f.IncludeNoPromotions {
		yes := true
		q.AcceptsPromotions = &yes
	}
	switch f.Type {
	case TypePoints:
		q.MinPoints = f.MinPoints
	case TypeVisits:
		q.VisitedSince = r.since(*f.LastVisitDays)
	case TypeCombined:
		q.MinPoints = f.MinPoints
		if f.LastVisitDays != nil {
			q.VisitedSince = r.since(*f.LastVisitDays)
		}
	case TypeCustom:
		q.IDs = f.CustomerIDs
	}

	seen := map[string]bool{}
	var out []Recipient

	if f.Type != TypeCustom || len(f.CustomerIDs) > 0 {
		customers, err := r.customers.FindCustomers(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, c := range customers {
			e164, err := r.phones.Canonical(c.Phone)
			if err != nil {
				if r.log != nil {
					r.log.Warn("skipping customer with invalid phone", "customer_id", c.ID, "error", err)
				}
				continue
			}
			if seen[e164] {
				continue
			}
			seen[e164] = true
			id := c.ID
			out = append(out, Recipient{Phone: e164, CustomerID: &id, Name: c.Name, Points: c.Points})
		}
	}

	for _, raw := range f.Phones {
		e164, err := r.phones.Canonical(raw)
		if err != nil {
			if r.log != nil {
				r.log.Warn("skipping invalid audience phone", "phone", raw, "error", err)
			}
			continue
		}
		if seen[e164] {
			continue
		}
		seen[e164] = true
		out = append(out, Recipient{Phone: e164})
	}
	return out, nil
}

func (r *Resolver) since(days int) *time.Time {
	t := r.now().UTC().AddDate(0, 0, -days)
	return &t
}
