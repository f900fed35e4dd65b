// Package optimizer chooses per-load power levels minimising an economic
// objective: the cost of importing from the grid against the value lost by
// exporting or draining the battery.
package optimizer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kilianp07/hems/core/logger"
)

// Algorithm names a search procedure.
type Algorithm string

const (
	AlgoAnnealing    Algorithm = "annealing"
	AlgoGenetic      Algorithm = "genetic"
	AlgoBasinHopping Algorithm = "basinhopping"
	AlgoLinear       Algorithm = "lp"
)

// DefaultSellTax is the sell tax, in percent, used when none is configured.
const DefaultSellTax = 0.3

// Config holds the search parameters.
type Config struct {
	Algorithm     Algorithm     `json:"algorithm"`
	InitialTemp   float64       `json:"initial_temp"`
	MinTemp       float64       `json:"min_temp"`
	CoolingFactor float64       `json:"cooling_factor"`
	MaxIterations int           `json:"max_iteration_number"`
	Population    int           `json:"population"`
	Generations   int           `json:"generations"`
	MutationRate  float64       `json:"mutation_rate"`
	// SellTax is a percentage removed from the sell price. Nil selects
	// DefaultSellTax; an explicit 0 means no tax.
	SellTax       *float64      `json:"sell_tax"`
	MaxDuration   time.Duration `json:"max_duration"`
	CacheSize     int           `json:"cache_size"`
	Seed          int64         `json:"seed"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Algorithm == "" {
		c.Algorithm = AlgoAnnealing
	}
	if c.InitialTemp == 0 {
		c.InitialTemp = 1000
	}
	if c.MinTemp == 0 {
		c.MinTemp = 0.1
	}
	if c.CoolingFactor == 0 {
		c.CoolingFactor = 0.95
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 1000
	}
	if c.Population == 0 {
		c.Population = 50
	}
	if c.Generations == 0 {
		c.Generations = 200
	}
	if c.MutationRate == 0 {
		c.MutationRate = 0.1
	}
	if c.SellTax == nil {
		tax := DefaultSellTax
		c.SellTax = &tax
	}
	if c.MaxDuration == 0 {
		c.MaxDuration = 5 * time.Second
	}
	if c.CacheSize == 0 {
		c.CacheSize = DefaultCacheSize
	}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	switch c.Algorithm {
	case AlgoAnnealing, AlgoGenetic, AlgoBasinHopping, AlgoLinear:
	default:
		return fmt.Errorf("optimizer: unknown algorithm %q", c.Algorithm)
	}
	if c.CoolingFactor <= 0 || c.CoolingFactor >= 1 {
		return fmt.Errorf("optimizer: cooling_factor must be in (0, 1)")
	}
	if c.MinTemp <= 0 || c.InitialTemp < c.MinTemp {
		return fmt.Errorf("optimizer: need 0 < min_temp <= initial_temp")
	}
	if c.MaxIterations < 0 || c.Population < 0 || c.Generations < 0 {
		return fmt.Errorf("optimizer: negative iteration count")
	}
	if c.MutationRate < 0 || c.MutationRate > 1 {
		return fmt.Errorf("optimizer: mutation_rate must be in [0, 1]")
	}
	if c.SellTax != nil && (*c.SellTax < 0 || *c.SellTax > 100) {
		return fmt.Errorf("optimizer: sell_tax must be in [0, 100]")
	}
	return nil
}

// Searcher returns the search procedure selected by c.
func (c Config) Searcher() Searcher {
	switch c.Algorithm {
	case AlgoGenetic:
		return Genetic{Population: c.Population, Generations: c.Generations, MutationRate: c.MutationRate}
	case AlgoBasinHopping:
		return BasinHopping{Iterations: c.MaxIterations, Temperature: 1}
	case AlgoLinear:
		return LinearRelaxation{}
	}
	return Annealing{InitialTemp: c.InitialTemp, MinTemp: c.MinTemp, CoolingFactor: c.CoolingFactor, MaxIterations: c.MaxIterations}
}

// Optimizer runs one searcher with a memoised objective.
type Optimizer struct {
	cfg      Config
	searcher Searcher
	log      logger.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	memo    *lru.Cache[float64, float64]
	lastKey objectiveKey
}

// Option customises an Optimizer.
type Option func(*Optimizer)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(o *Optimizer) { o.log = logger.OrDiscard(l) } }

// WithRand makes searches deterministic.
func WithRand(r *rand.Rand) Option { return func(o *Optimizer) { o.rng = r } }

// WithSearcher overrides the searcher selected by the configuration.
func WithSearcher(s Searcher) Option { return func(o *Optimizer) { o.searcher = s } }

// New validates cfg and builds the optimizer.
func New(cfg Config, opts ...Option) (*Optimizer, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	memo, err := lru.New[float64, float64](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	o := &Optimizer{
		cfg:      cfg,
		searcher: cfg.Searcher(),
		log:      logger.Discard(),
		rng:      rand.New(rand.NewSource(seed)),
		memo:     memo,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Name returns the searcher name.
func (o *Optimizer) Name() string { return o.searcher.Name() }

// Config returns the effective configuration.
func (o *Optimizer) Config() Config { return o.cfg }

// Run searches the best assignment for p. The search stops after
// MaxDuration even if it did not converge. An empty problem returns
// ErrNoLoads without searching.
func (o *Optimizer) Run(ctx context.Context, p Problem) (Solution, error) {
	if err := p.Validate(); err != nil {
		return Solution{Objective: -1, TotalPower: -1}, err
	}
	p.Prices.SellTax = *o.cfg.SellTax
	o.mu.Lock()
	defer o.mu.Unlock()

	initial := p.initial()
	var initialPower float64
	for i, s := range initial {
		initialPower += p.power(i, s)
	}
	key := objectiveKey{net: p.NetConsumption, solar: p.SolarProduction, initial: initialPower, prices: p.Prices}
	if key != o.lastKey {
		o.memo.Purge()
		o.lastKey = key
	}
	obj := newObjective(&p, initialPower, o.memo)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.MaxDuration)
	defer cancel()
	start := time.Now()
	states := o.searcher.Search(ctx, &p, obj, initial, o.rng)
	sol := p.solution(states, obj, o.searcher.Name())
	sol.Initial = obj.ForPower(initialPower)
	if ctx.Err() != nil {
		o.log.Warnf("optimizer %s stopped after %s: %v", o.searcher.Name(), time.Since(start), ctx.Err())
	}
	o.log.Debugf("optimizer %s: objective %.3f (initial %.3f), total power %.0fW in %s",
		o.searcher.Name(), sol.Objective, sol.Initial, sol.TotalPower, time.Since(start))
	return sol, nil
}

// Evaluate scores an assignment against p without searching.
func (o *Optimizer) Evaluate(p Problem, states []State) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if len(states) != len(p.Loads) {
		return 0, fmt.Errorf("optimizer: %d states for %d loads", len(states), len(p.Loads))
	}
	p.Prices.SellTax = *o.cfg.SellTax
	initial := p.initial()
	var initialPower float64
	for i, s := range initial {
		initialPower += p.power(i, s)
	}
	obj := newObjective(&p, initialPower, nil)
	return obj.Value(&p, states), nil
}
