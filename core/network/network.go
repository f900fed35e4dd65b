package network

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/smallnest/chanx"

	"github.com/kilianp07/hems/core/contract"
	"github.com/kilianp07/hems/core/logger"
)

// PowerMargin is the default safety margin of a source, in W.
const PowerMargin = 10

// Network owns every node and keeps the power ledger.
type Network struct {
	updater  Updater
	notifier Notifier
	logger   logger.Logger
	clock    func() time.Time

	sources []SourceNode
	loads   []*Switch
	byID    map[string]Node

	defaultStrategy string

	cycle uint64
	// pending accounts for switches done since the last refresh, which the
	// feeders cannot see yet.
	pending     float64
	marginValid bool
	margin      float64

	commands *chanx.UnboundedChan[ScheduleCommand]
	mu       sync.RWMutex
}

// Option customises a Network.
type Option func(*Network)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(n *Network) { n.logger = logger.OrDiscard(l) } }

// WithNotifier routes user notifications, by default straight to the updater.
func WithNotifier(nt Notifier) Option { return func(n *Network) { n.notifier = nt } }

// WithClock replaces time.Now.
func WithClock(f func() time.Time) Option { return func(n *Network) { n.clock = f } }

// WithDefaultStrategy sets the strategy id of switches configured without one.
func WithDefaultStrategy(id string) Option { return func(n *Network) { n.defaultStrategy = id } }

// New returns an empty network bound to u. ctx bounds the schedule command
// queue.
func New(ctx context.Context, u Updater, opts ...Option) *Network {
	n := &Network{
		updater:  u,
		logger:   logger.Discard(),
		clock:    time.Now,
		byID:     map[string]Node{},
		cycle:    1,
		commands: chanx.NewUnboundedChan[ScheduleCommand](ctx, 8),
	}
	if u != nil {
		n.notifier = updaterNotifier{u}
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Updater returns the collaborator the network was built with.
func (n *Network) Updater() Updater { return n.updater }

// SetNotifier replaces the notifier once the network exists.
func (n *Network) SetNotifier(nt Notifier) { n.notifier = nt }

// Now returns the network clock.
func (n *Network) Now() time.Time { return n.clock() }

// Cycle returns the id of the current refresh cycle.
func (n *Network) Cycle() uint64 { return n.cycle }

// Add registers a node. Ids must be unique.
func (n *Network) Add(node Node) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.byID[node.ID()]; ok {
		return fmt.Errorf("duplicate node id %q", node.ID())
	}
	node.attach(n)
	n.byID[node.ID()] = node
	switch v := node.(type) {
	case SourceNode:
		n.sources = append(n.sources, v)
	case *Switch:
		if v.strategyID == "" {
			v.strategyID = n.defaultStrategy
		}
		n.loads = append(n.loads, v)
		sort.SliceStable(n.loads, func(i, j int) bool { return n.loads[i].priority > n.loads[j].priority })
	default:
		return fmt.Errorf("node %q: unsupported type %T", node.ID(), node)
	}
	n.marginValid = false
	return nil
}

// Node returns the node with the given id.
func (n *Network) Node(id string) (Node, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	node, ok := n.byID[id]
	return node, ok
}

// Nodes returns sources then loads.
func (n *Network) Nodes() []Node {
	out := make([]Node, 0, len(n.sources)+len(n.loads))
	for _, s := range n.sources {
		out = append(out, s)
	}
	for _, l := range n.loads {
		out = append(out, l)
	}
	return out
}

// Sources returns the bidirectional nodes.
func (n *Network) Sources() []SourceNode { return n.sources }

// Loads returns the loads, highest priority first.
func (n *Network) Loads() []*Switch { return n.loads }

// LoadsForStrategy returns the loads handled by strategy id.
func (n *Network) LoadsForStrategy(id string) []*Switch {
	var out []*Switch
	for _, l := range n.loads {
		if l.strategyID == "" || l.strategyID == id {
			out = append(out, l)
		}
	}
	return out
}

// Grid returns the public power grid, nil when absent.
func (n *Network) Grid() *PublicPowerGrid {
	for _, s := range n.sources {
		if g, ok := s.(*PublicPowerGrid); ok {
			return g
		}
	}
	return nil
}

// Contract returns the grid contract, nil without grid.
func (n *Network) Contract() contract.Contract {
	if g := n.Grid(); g != nil {
		return g.Contract()
	}
	return nil
}

// SolarPanels returns every solar panel.
func (n *Network) SolarPanels() []*SolarPanel {
	var out []*SolarPanel
	for _, s := range n.sources {
		if p, ok := s.(*SolarPanel); ok {
			out = append(out, p)
		}
	}
	return out
}

// Batteries returns every battery.
func (n *Network) Batteries() []*Battery {
	var out []*Battery
	for _, s := range n.sources {
		if b, ok := s.(*Battery); ok {
			out = append(out, b)
		}
	}
	return out
}

// Refresh starts a new cycle and pulls fresh values through the updater.
func (n *Network) Refresh(ctx context.Context) error {
	n.cycle++
	n.pending = 0
	n.marginValid = false
	if n.updater == nil {
		return nil
	}
	return n.updater.Refresh(ctx)
}

func (n *Network) invalidate() { n.marginValid = false }

// account records a confirmed transition of sw until the next refresh.
func (n *Network) account(sw *Switch, on bool) {
	if on {
		p, err := sw.MaxPower()
		if err == nil {
			n.pending += p
		}
	} else {
		p, err := sw.base.CurrentPower()
		if err == nil {
			n.pending -= p
		}
	}
	n.marginValid = false
}

func (n *Network) sumSources(f func(SourceNode) (float64, error)) (float64, error) {
	var total float64
	var errs []error
	for _, s := range n.sources {
		v, err := f(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.ID(), err))
			continue
		}
		total += v
	}
	return total, errors.Join(errs...)
}

// CurrentPower is the power currently supplied by all sources.
func (n *Network) CurrentPower() (float64, error) {
	return n.sumSources(func(s SourceNode) (float64, error) { return s.CurrentPower() })
}

// MaxPowerProduction is the instant max power the sources can supply.
func (n *Network) MaxPowerProduction() (float64, error) {
	return n.sumSources(func(s SourceNode) (float64, error) { return s.MaxPower() })
}

// MinPower is the lowest power the sources accept, negative when exporting
// or charging is possible.
func (n *Network) MinPower() (float64, error) {
	return n.sumSources(func(s SourceNode) (float64, error) { return s.MinPower() })
}

// MarginPower is the margin reserved on sources that are on.
func (n *Network) MarginPower() (float64, error) {
	return n.sumSources(func(s SourceNode) (float64, error) {
		if !s.IsOn() {
			return 0, nil
		}
		return s.MarginPower()
	})
}

// MaxPowerConsumption is what loads that are on could draw at most.
func (n *Network) MaxPowerConsumption() float64 {
	var total float64
	for _, l := range n.loads {
		if l.IsOn() {
			if p, err := l.MaxPower(); err == nil {
				total += p
			}
		}
	}
	return total
}

// rawMargin may be negative. It is cached until the next refresh or switch.
func (n *Network) rawMargin() (float64, error) {
	if n.marginValid {
		return n.margin, nil
	}
	maxP, err := n.MaxPowerProduction()
	if err != nil {
		return 0, fmt.Errorf("max power: %w", err)
	}
	margin, err := n.MarginPower()
	if err != nil {
		return 0, fmt.Errorf("margin power: %w", err)
	}
	current, err := n.CurrentPower()
	if err != nil {
		return 0, fmt.Errorf("current power: %w", err)
	}
	n.margin = maxP - margin - current - n.pending
	n.marginValid = true
	return n.margin, nil
}

// MarginPowerOn is how much power can still be switched on safely. It is
// never negative: Check sheds load to bring the raw ledger back above zero.
func (n *Network) MarginPowerOn() (float64, error) {
	m, err := n.rawMargin()
	if err != nil {
		return 0, err
	}
	if m < 0 {
		return 0, nil
	}
	return m, nil
}

// MarginPowerOff is how much power can be removed before going under the
// sources minimum.
func (n *Network) MarginPowerOff() (float64, error) {
	minP, err := n.MinPower()
	if err != nil {
		return 0, err
	}
	current, err := n.CurrentPower()
	if err != nil {
		return 0, err
	}
	margin, err := n.MarginPower()
	if err != nil {
		return 0, err
	}
	return current + n.pending - margin - minP, nil
}

// Check is the admission control run once per cycle. When the margin is
// negative it switches loads off from the lowest priority up, deactivating
// each, until the margin is back to zero or more. Otherwise it reactivates at
// most one deactivated load: the first, in priority order, that fits.
func (n *Network) Check() error {
	margin, err := n.rawMargin()
	if err != nil {
		return fmt.Errorf("check: %w", err)
	}
	if margin < 0 {
		n.logger.Warnf("power margin is negative (%g W), shedding load", margin)
		for i := len(n.loads) - 1; i >= 0 && margin < 0; i-- {
			sw := n.loads[i]
			if !sw.switchable || !sw.IsOn() {
				continue
			}
			sw.setActive(false)
			if _, err := sw.forceSwitch(false); err != nil {
				n.logger.Errorf("shedding %s failed: %v", sw.id, err)
				continue
			}
			n.logger.Infof("%s switched off and deactivated for power margin", sw.id)
			if margin, err = n.rawMargin(); err != nil {
				return fmt.Errorf("check: %w", err)
			}
		}
		if margin < 0 {
			n.Notify(fmt.Sprintf("Power margin still negative (%g W) after switching off every load", margin))
			return fmt.Errorf("%w: %g W", ErrOverload, margin)
		}
		return nil
	}
	for _, sw := range n.loads {
		if sw.active {
			continue
		}
		p, err := sw.MaxPower()
		if err != nil || p > margin {
			continue
		}
		sw.setActive(true)
		n.logger.Infof("%s reactivated (needs %g W, margin %g W)", sw.id, p, margin)
		break
	}
	return nil
}

// Deactivated returns the ids of loads currently deactivated by Check.
func (n *Network) Deactivated() []string {
	var out []string
	for _, l := range n.loads {
		if !l.active {
			out = append(out, l.id)
		}
	}
	return out
}

// SwitchOffAll switches every switchable load off. It returns false when at
// least one switch-off was refused; the caller retries next cycle.
func (n *Network) SwitchOffAll() bool {
	ok := true
	for _, l := range n.loads {
		if !l.switchable {
			continue
		}
		on, err := l.SwitchOn(false)
		if err != nil || on {
			n.logger.Warnf("fail to switch off %s: %v", l.id, err)
			ok = false
		}
	}
	return ok
}

// Decrement advances schedules and constraints of every load by elapsed.
func (n *Network) Decrement(elapsed time.Duration) error {
	var errs []error
	for _, l := range n.loads {
		if err := l.Decrement(elapsed); err != nil {
			errs = append(errs, err)
			n.Notify(err.Error())
		}
	}
	return errors.Join(errs...)
}

// Schedules returns the schedule of every switchable load.
func (n *Network) Schedules() map[string]*Schedule {
	out := make(map[string]*Schedule, len(n.loads))
	for _, l := range n.loads {
		if l.switchable {
			out[l.id] = l.schedule
		}
	}
	return out
}

// Enqueue queues a schedule change, applied by ApplyCommands at the start
// of the next cycle.
func (n *Network) Enqueue(cmd ScheduleCommand) error {
	node, ok := n.Node(cmd.NodeID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, cmd.NodeID)
	}
	if !node.IsSwitchable() {
		return fmt.Errorf("%s: %w", cmd.NodeID, ErrNotSwitchable)
	}
	n.commands.In <- cmd
	return nil
}

// ApplyCommands drains the queue without blocking and returns how many
// commands were applied.
func (n *Network) ApplyCommands() int {
	applied := 0
	for {
		select {
		case cmd, ok := <-n.commands.Out:
			if !ok {
				return applied
			}
			node, found := n.Node(cmd.NodeID)
			sw, isSwitch := node.(*Switch)
			if !found || !isSwitch {
				continue
			}
			sw.schedule.SetSchedule(cmd.Duration, cmd.Timeout)
			n.logger.Infof("schedule %s: %s until %v", cmd.NodeID, cmd.Duration, cmd.Timeout)
			applied++
		default:
			return applied
		}
	}
}

// PendingCommands returns the number of queued schedule commands.
func (n *Network) PendingCommands() int { return n.commands.Len() }

// Notify sends a user-visible message.
func (n *Network) Notify(msg string) {
	if n.notifier != nil {
		n.notifier.Notify(msg)
	}
}

func (n *Network) String() string {
	var b strings.Builder
	b.WriteString("Network(\n IN:\n")
	for _, s := range n.sources {
		fmt.Fprintf(&b, "  - %v\n", s)
	}
	b.WriteString(" OUT:\n")
	for _, l := range n.loads {
		fmt.Fprintf(&b, "  - %v\n", l)
	}
	b.WriteString(")")
	return b.String()
}
