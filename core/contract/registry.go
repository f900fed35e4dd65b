package contract

import (
	"fmt"
	"strings"

	"github.com/kilianp07/hems/core/factory"
	"github.com/kilianp07/hems/core/feeder"
	"github.com/kilianp07/hems/core/logger"
	"github.com/kilianp07/hems/core/timerange"
)

// Contract class names. A "contract" suffix is accepted and ignored.
const (
	ClassGeneric          = "generic"
	ClassTempo            = "rtetempo"
	ClassHeuresCreuses    = "rteheurescreuses"
	ClassTarifBleu        = "rtetarifbleu"
	defaultOffPeakHours   = "22h-6h"
	classSuffix           = "contract"
	defaultTempoSellPrice = 0
)

// BuiltinDefaults hold the prices used when neither the contract block nor
// the configuration defaults set them.
var BuiltinDefaults = map[string]map[string]any{
	ClassGeneric: {
		"default_price":   0.2,
		"out_range_price": DefaultOutRangePrice,
	},
	ClassTempo: {
		"peak_price":           map[string]any{"bleu": 0.1609, "blanc": 0.1894, "rouge": 0.7562},
		"offpeak_price":        map[string]any{"bleu": 0.1296, "blanc": 0.1486, "rouge": 0.1568},
		"offpeak_hours_ranges": []any{defaultOffPeakHours},
		"day_change_hour":      DefaultDayChangeHour,
		"sell_price":           defaultTempoSellPrice,
	},
	ClassHeuresCreuses: {
		"peak_price":           0.2700,
		"offpeak_price":        0.2068,
		"offpeak_hours_ranges": []any{defaultOffPeakHours},
	},
	ClassTarifBleu: {
		"price": 0.2516,
	},
}

type genericConf struct {
	DefaultPrice  float64 `json:"default_price"`
	OutRangePrice float64 `json:"out_range_price"`
	HoursRanges   any     `json:"hours_ranges"`
	SellPrice     float64 `json:"sell_price"`
}

type heuresCreusesConf struct {
	PeakPrice          float64 `json:"peak_price"`
	OffPeakPrice       float64 `json:"offpeak_price"`
	OffPeakHoursRanges any     `json:"offpeak_hours_ranges"`
	SellPrice          float64 `json:"sell_price"`
}

type tarifBleuConf struct {
	Price     float64 `json:"price"`
	SellPrice float64 `json:"sell_price"`
}

type tempoConf struct {
	Color              string             `json:"color"`
	NextColor          string             `json:"next_color"`
	PeakPrice          map[string]float64 `json:"peak_price"`
	OffPeakPrice       map[string]float64 `json:"offpeak_price"`
	OffPeakHoursRanges any                `json:"offpeak_hours_ranges"`
	DayChangeHour      int                `json:"day_change_hour"`
	SellPrice          float64            `json:"sell_price"`
}

// Deps are the collaborators contracts may need.
type Deps struct {
	Provider feeder.Provider
	Colors   ColorProvider
	Logger   logger.Logger
}

// NewRegistry returns a registry holding every contract class.
func NewRegistry(deps Deps) *factory.Registry[Contract] {
	r := factory.NewRegistry[Contract]().WithAlias(func(name string) string {
		return strings.TrimSuffix(name, classSuffix)
	})
	_ = r.Register(ClassGeneric, func(m map[string]any) (Contract, error) {
		var c genericConf
		if err := factory.Decode(m, &c); err != nil {
			return nil, err
		}
		ranges, err := timerange.ParseRanges(c.HoursRanges, c.DefaultPrice)
		if err != nil {
			return nil, err
		}
		g, err := NewGeneric(ranges, c.DefaultPrice, c.OutRangePrice)
		if err != nil {
			return nil, err
		}
		return g.WithSellPrice(c.SellPrice), nil
	})
	_ = r.Register(ClassHeuresCreuses, func(m map[string]any) (Contract, error) {
		var c heuresCreusesConf
		if err := factory.Decode(m, &c); err != nil {
			return nil, err
		}
		ranges, err := timerange.ParseRanges(c.OffPeakHoursRanges, c.OffPeakPrice)
		if err != nil {
			return nil, err
		}
		g, err := NewHeuresCreuses(c.PeakPrice, c.OffPeakPrice, ranges)
		if err != nil {
			return nil, err
		}
		return g.WithSellPrice(c.SellPrice), nil
	})
	_ = r.Register(ClassTarifBleu, func(m map[string]any) (Contract, error) {
		var c tarifBleuConf
		if err := factory.Decode(m, &c); err != nil {
			return nil, err
		}
		return NewTarifBleu(c.Price).WithSellPrice(c.SellPrice), nil
	})
	_ = r.Register(ClassTempo, func(m map[string]any) (Contract, error) {
		var c tempoConf
		if err := factory.Decode(m, &c); err != nil {
			return nil, err
		}
		ranges, err := timerange.ParseRanges(c.OffPeakHoursRanges, 0)
		if err != nil {
			return nil, err
		}
		cfg := TempoConfig{
			PeakPrices:    map[Color]float64{},
			OffPeakPrices: map[Color]float64{},
			OffPeakRanges: ranges,
			DayChangeHour: c.DayChangeHour,
			SellPrice:     c.SellPrice,
			Provider:      deps.Colors,
			Logger:        deps.Logger,
		}
		for k, v := range c.PeakPrice {
			col, err := ParseColor(k)
			if err != nil {
				return nil, err
			}
			cfg.PeakPrices[col] = v
		}
		for k, v := range c.OffPeakPrice {
			col, err := ParseColor(k)
			if err != nil {
				return nil, err
			}
			cfg.OffPeakPrices[col] = v
		}
		if c.Color != "" {
			cfg.Color = feeder.NewSource(deps.Provider, c.Color, feeder.KindString, feeder.ToString, "")
		}
		if c.NextColor != "" {
			cfg.NextColor = feeder.NewSource(deps.Provider, c.NextColor, feeder.KindString, feeder.ToString, "")
		}
		return NewTempo(cfg)
	})
	return r
}

// Builder creates the contract of a grid node from its configuration block.
type Builder struct {
	Registry *factory.Registry[Contract]
	// Defaults are the per-class contract defaults of the configuration.
	Defaults map[string]map[string]any
}

// Build merges builtin defaults, configured defaults and conf, then creates
// the contract named by conf["class"].
func (b Builder) Build(conf map[string]any) (Contract, error) {
	raw, ok := conf["class"]
	if !ok {
		return nil, fmt.Errorf("missing mandatory 'class' attribute for contract")
	}
	class := strings.TrimSuffix(strings.ToLower(fmt.Sprint(raw)), classSuffix)
	merged := map[string]any{}
	for k, v := range BuiltinDefaults[class] {
		merged[k] = v
	}
	for k, v := range b.Defaults[class] {
		merged[k] = v
	}
	for k, v := range conf {
		if k != "class" && v != nil {
			merged[k] = v
		}
	}
	c, err := b.Registry.Create(factory.ModuleConfig{Type: class, Conf: merged})
	if err != nil {
		return nil, fmt.Errorf("contract %s: %w", class, err)
	}
	return c, nil
}
