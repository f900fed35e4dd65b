package strategy

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/kilianp07/hems/core/factory"
)

// Strategy class names. A "strategy" suffix is accepted and ignored.
const (
	ClassOffPeak   = "offpeak"
	ClassSwitchOff = "switchoff"
	ClassNoSell    = "nosell"
	ClassAnnealing = "annealing"
	ClassEmhass    = "emhass"
	classSuffix    = "strategy"
)

// classAliases maps reference class names to ours.
var classAliases = map[string]string{
	"solarnosell":        ClassNoSell,
	"simulatedannealing": ClassAnnealing,
}

// NewRegistry returns a registry of every strategy class bound to d. The
// strategy id is read from the "id" key of each configuration block. rng
// seeds annealing strategies and may be nil.
func NewRegistry(d Deps, rng *rand.Rand) *factory.Registry[Strategy] {
	r := factory.NewRegistry[Strategy]().WithAlias(canonicalClass)
	_ = r.Register(ClassOffPeak, func(m map[string]any) (Strategy, error) {
		return NewOffPeak(idOf(m, ClassOffPeak), d)
	})
	_ = r.Register(ClassSwitchOff, func(m map[string]any) (Strategy, error) {
		var c SwitchOffConfig
		if err := factory.Decode(m, &c); err != nil {
			return nil, err
		}
		return NewSwitchOff(idOf(m, ClassSwitchOff), d, c)
	})
	_ = r.Register(ClassNoSell, func(m map[string]any) (Strategy, error) {
		var c NoSellConfig
		if err := factory.Decode(m, &c); err != nil {
			return nil, err
		}
		return NewNoSell(idOf(m, ClassNoSell), d, c)
	})
	_ = r.Register(ClassAnnealing, func(m map[string]any) (Strategy, error) {
		var c AnnealingConfig
		if err := factory.Decode(m, &c); err != nil {
			return nil, err
		}
		return NewAnnealing(idOf(m, ClassAnnealing), d, c, rng)
	})
	_ = r.Register(ClassEmhass, func(m map[string]any) (Strategy, error) {
		var c EmhassConfig
		if err := factory.Decode(m, &c); err != nil {
			return nil, err
		}
		return NewEmhass(idOf(m, ClassEmhass), d, c)
	})
	return r
}

func canonicalClass(name string) string {
	name = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), classSuffix)
	if a, ok := classAliases[name]; ok {
		return a
	}
	return name
}

// ConfiguredID returns the id Build gives the strategy of conf.
func ConfiguredID(conf map[string]any) string {
	return idOf(conf, canonicalClass(fmt.Sprint(conf["class"])))
}

func idOf(m map[string]any, class string) string {
	if v, ok := m["id"]; ok && v != nil {
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			return s
		}
	}
	return class
}

// Build creates every configured strategy in order. Each block holds a
// "class" and an optional "id" (defaulting to the class) among its
// parameters. Ids must be unique.
func Build(r *factory.Registry[Strategy], confs []map[string]any) ([]Strategy, error) {
	out := make([]Strategy, 0, len(confs))
	seen := map[string]bool{}
	for i, conf := range confs {
		raw, ok := conf["class"]
		if !ok {
			return nil, fmt.Errorf("strategy #%d: missing mandatory 'class' attribute", i)
		}
		params := map[string]any{}
		for k, v := range conf {
			if k != "class" {
				params[k] = v
			}
		}
		s, err := r.Create(factory.ModuleConfig{Type: fmt.Sprint(raw), Conf: params})
		if err != nil {
			return nil, fmt.Errorf("strategy #%d (%v): %w", i, raw, err)
		}
		if seen[s.ID()] {
			return nil, fmt.Errorf("strategy #%d: duplicate id %q", i, s.ID())
		}
		seen[s.ID()] = true
		out = append(out, s)
	}
	return out, nil
}
