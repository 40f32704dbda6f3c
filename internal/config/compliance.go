package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Compliance holds the business rules that operators tune without a redeploy.
type Compliance struct {
	OptOut   OptOutRules  `toml:"optout"`
	Insights InsightRules `toml:"insights"`
	Sending  SendingRules `toml:"sending"`
}

type OptOutRules struct {
	Keywords []string `toml:"keywords"`
}

type InsightRules struct {
	DeliveryDropPoints  float64 `toml:"delivery_drop_points"`
	ResponseRatePercent float64 `toml:"response_rate_percent"`
	OptOutRatePercent   float64 `toml:"opt_out_rate_percent"`
	VolumeGrowthPercent float64 `toml:"volume_growth_percent"`
	DedupWindowMinutes  int     `toml:"dedup_window_minutes"`
}

type SendingRules struct {
	DefaultHourlyCap int    `toml:"default_hourly_cap"`
	DefaultStart     string `toml:"default_start"`
	DefaultEnd       string `toml:"default_end"`
}

func DefaultCompliance() Compliance {
	return Compliance{
		OptOut: OptOutRules{
			Keywords: []string{"stop", "baja", "cancelar", "no mas", "parar", "salir", "unsubscribe"},
		},
		Insights: InsightRules{
			DeliveryDropPoints:  10,
			ResponseRatePercent: 20,
			OptOutRatePercent:   5,
			VolumeGrowthPercent: 20,
			DedupWindowMinutes:  60,
		},
		Sending: SendingRules{
			DefaultHourlyCap: 80,
			DefaultStart:     "09:00",
			DefaultEnd:       "18:00",
		},
	}
}

// LoadCompliance reads a TOML file over the defaults. An empty path returns
// the defaults unchanged.
func LoadCompliance(path string) (Compliance, error) {
	c := DefaultCompliance()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read compliance file: %w", err)
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse compliance file: %w", err)
	}
	if len(c.OptOut.Keywords) == 0 {
		c.OptOut.Keywords = DefaultCompliance().OptOut.Keywords
	}
	if c.Insights.DedupWindowMinutes <= 0 {
		c.Insights.DedupWindowMinutes = 60
	}
	if c.Sending.DefaultHourlyCap <= 0 {
		c.Sending.DefaultHourlyCap = 80
	}
	return c, nil
}
