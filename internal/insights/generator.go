// Package insights turns daily message rollups into dashboard alerts,
// recommendations and trends.
package insights

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"whatsapp-campaigns/internal/apperrors"
	"whatsapp-campaigns/internal/config"
	"whatsapp-campaigns/internal/metrics"
	"whatsapp-campaigns/internal/models"
	"whatsapp-campaigns/internal/store"
)

const (
	TitleDeliveryDrop = "Tasa de entrega en descenso"
	TitleEngagement   = "Excelente engagement detectado"
	TitleOptOuts      = "Alto rate de opt-outs"
	TitleGrowth       = "Tendencia de crecimiento positiva"
)

const (
	MetricDeliveryRate = "delivery_rate"
	MetricResponseRate = "response_rate"
	MetricOptOutRate   = "opt_out_rate"
	MetricVolumeGrowth = "volume_growth"
)

type Generator struct {
	store *store.Store
	rules config.InsightRules
	loc   *time.Location
	log   *slog.Logger
	now   func() time.Time
}

// NewGenerator builds a generator whose days start at midnight in timezone.
func NewGenerator(s *store.Store, rules config.InsightRules, timezone string, log *slog.Logger) (*Generator, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("insights timezone %q: %w", timezone, err)
	}
	if rules.DedupWindowMinutes <= 0 {
		rules.DedupWindowMinutes = 60
	}
	if log == nil {
		log = slog.Default()
	}
	return &Generator{store: s, rules: rules, loc: loc, log: log, now: time.Now}, nil
}

// WithClock replaces the time source, for tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate evaluates the rules for one business and stores the insights
// that were not already raised within the dedup window.
func (g *Generator) Generate(ctx context.Context, businessID uint) ([]models.Insight, error) {
	now := g.now().In(g.loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, g.loc)

	today, err := g.store.CountEvents(ctx, businessID, midnight, now.Add(time.Nanosecond))
	if err != nil {
		return nil, err
	}
	yesterday, err := g.store.CountEvents(ctx, businessID, midnight.AddDate(0, 0, -1), midnight)
	if err != nil {
		return nil, err
	}

	var candidates []models.Insight
	if today.Sent > 0 && yesterday.Sent > 0 {
		rateToday := percent(today.Delivered, today.Sent)
		rateYesterday := percent(yesterday.Delivered, yesterday.Sent)
		if rateToday < rateYesterday-g.rules.DeliveryDropPoints {
			candidates = append(candidates, models.Insight{
				Title:       TitleDeliveryDrop,
				Description: fmt.Sprintf("La tasa de entrega bajó de %.1f%% a %.1f%%", rateYesterday, rateToday),
				Type:        models.InsightAlert,
				Priority:    models.PriorityHigh,
				Metric:      MetricDeliveryRate,
				Value:       rateToday,
			})
		}
	}
	if today.Delivered > 0 {
		if rate := percent(today.Replied, today.Delivered); rate > g.rules.ResponseRatePercent {
			candidates = append(candidates, models.Insight{
				Title:             TitleEngagement,
				Description:       fmt.Sprintf("Tu tasa de respuesta es de %.1f%%. Considera aumentar el volumen de campañas.", rate),
				Type:              models.InsightRecommendation,
				Priority:          models.PriorityMedium,
				Metric:            MetricResponseRate,
				Value:             rate,
				ActionRecommended: "Aumentar el volumen de campañas",
			})
		}
	}
	if today.Sent > 0 {
		if rate := percent(today.OptedOut, today.Sent); rate > g.rules.OptOutRatePercent {
			candidates = append(candidates, models.Insight{
				Title:             TitleOptOuts,
				Description:       fmt.Sprintf("%d clientes se dieron de baja hoy (%.1f%%).", today.OptedOut, rate),
				Type:              models.InsightAlert,
				Priority:          models.PriorityCritical,
				Metric:            MetricOptOutRate,
				Value:             rate,
				ActionRecommended: "Revisar calidad de mensajes y frecuencia",
			})
		}
	}
	growth, ok, err := g.weeklyGrowth(ctx, businessID, midnight, today.Sent)
	if err != nil {
		return nil, err
	}
	if ok && growth > g.rules.VolumeGrowthPercent {
		candidates = append(candidates, models.Insight{
			Title:       TitleGrowth,
			Description: fmt.Sprintf("Has crecido %.1f%% en volumen de mensajes esta semana.", growth),
			Type:        models.InsightTrend,
			Priority:    models.PriorityLow,
			Metric:      MetricVolumeGrowth,
			Value:       growth,
		})
	}

	since := g.now().Add(-time.Duration(g.rules.DedupWindowMinutes) * time.Minute)
	var created []models.Insight
	for _, in := range candidates {
		exists, err := g.store.InsightExistsSince(ctx, businessID, in.Title, since)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}
		in.BusinessID = businessID
		in.CreatedAt = g.now().UTC()
		if err := g.store.CreateInsight(ctx, &in); err != nil {
			return created, err
		}
		metrics.IncInsight(in.Metric)
		g.log.Info("insight created", "business_id", businessID, "metric", in.Metric, "value", in.Value)
		created = append(created, in)
	}
	return created, nil
}

// weeklyGrowth compares the oldest and newest days with sends among the last
// seven days, today included.
func (g *Generator) weeklyGrowth(ctx context.Context, businessID uint, midnight time.Time, todaySent int64) (float64, bool, error) {
	var active []int64
	for d := 6; d >= 1; d-- {
		from := midnight.AddDate(0, 0, -d)
		c, err := g.store.CountEvents(ctx, businessID, from, from.AddDate(0, 0, 1))
		if err != nil {
			return 0, false, err
		}
		if c.Sent > 0 {
			active = append(active, c.Sent)
		}
	}
	if todaySent > 0 {
		active = append(active, todaySent)
	}
	if len(active) < 2 {
		return 0, false, nil
	}
	first, last := active[0], active[len(active)-1]
	return float64(last-first) * 100 / float64(first), true, nil
}

// GenerateAll runs Generate for every business with an account.
func (g *Generator) GenerateAll(ctx context.Context) (int, error) {
	businesses, err := g.store.BusinessIDs(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, b := range businesses {
		created, err := g.Generate(ctx, b)
		if err != nil {
			g.log.Error("generate insights", "business_id", b, "error", err)
			continue
		}
		total += len(created)
	}
	return total, nil
}

// Run regenerates insights every interval until ctx is cancelled.
func (g *Generator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := g.GenerateAll(ctx); err != nil {
				g.log.Error("insight pass failed", "error", err)
			} else if n > 0 {
				g.log.Info("insight pass", "created", n)
			}
		}
	}
}

func (g *Generator) List(ctx context.Context, businessID uint, f store.InsightFilter) ([]models.Insight, error) {
	return g.store.ListInsights(ctx, businessID, f)
}

// Mark sets the read and actioned flags; nil leaves a flag unchanged.
func (g *Generator) Mark(ctx context.Context, businessID, id uint, isRead, isActioned *bool) error {
	fields := map[string]any{}
	if isRead != nil {
		fields["is_read"] = *isRead
	}
	if isActioned != nil {
		fields["is_actioned"] = *isActioned
	}
	if len(fields) == 0 {
		return apperrors.NewValidation("is_read", "nothing to update")
	}
	return g.store.UpdateInsight(ctx, businessID, id, fields)
}

func percent(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) * 100 / float64(whole)
}
