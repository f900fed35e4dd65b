// Package fake provides an in-memory home-automation server. Switch
// commands become visible on the next Refresh, like a real server polled
// once per cycle.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/kilianp07/hems/core/contract"
	"github.com/kilianp07/hems/core/feeder"
	"github.com/kilianp07/hems/core/network"
)

// StateEntity is the entity holding the on state of node id.
func StateEntity(id string) string { return id + "_on" }

// PowerEntity is the entity holding the power drawn by node id.
func PowerEntity(id string) string { return id + "_power" }

// Updater implements network.Updater in memory.
type Updater struct {
	mu      sync.Mutex
	rev     uint64
	values  map[string]any
	staged  map[string]any
	kinds   map[string]feeder.Kind
	loads   map[string]bool
	refuse  map[string]bool
	written map[string]any
	notes   []string

	// GridEntity, when set, is recomputed on every Refresh as BaseLoad plus
	// the power of switched loads minus SolarEntity.
	GridEntity  string
	SolarEntity string
	BaseLoad    float64
	// RefreshErr is returned by the next Refresh calls while set.
	RefreshErr error
}

// New returns an empty updater at revision 1.
func New() *Updater {
	return &Updater{
		rev:     1,
		values:  map[string]any{},
		staged:  map[string]any{},
		kinds:   map[string]feeder.Kind{},
		loads:   map[string]bool{},
		refuse:  map[string]bool{},
		written: map[string]any{},
	}
}

// Set makes a value visible immediately.
func (u *Updater) Set(id string, v any) {
	u.mu.Lock()
	u.values[id] = v
	u.mu.Unlock()
}

// Stage makes a value visible on the next Refresh.
func (u *Updater) Stage(id string, v any) {
	u.mu.Lock()
	u.staged[id] = v
	u.mu.Unlock()
}

// Get returns the visible value of id.
func (u *Updater) Get(id string) any {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.values[id]
}

// Latest returns the value id will hold after the next Refresh: the staged
// value when there is one, the visible value otherwise.
func (u *Updater) Latest(id string) any {
	u.mu.Lock()
	defer u.mu.Unlock()
	if v, ok := u.staged[id]; ok {
		return v
	}
	return u.values[id]
}

// AddLoad seeds the state and power entities of a load.
func (u *Updater) AddLoad(id string, on bool, power float64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.loads[id] = true
	u.values[StateEntity(id)] = on
	u.values[PowerEntity(id)] = power
}

// Refuse makes the device ignore switch commands.
func (u *Updater) Refuse(id string, refuse bool) {
	u.mu.Lock()
	u.refuse[id] = refuse
	u.mu.Unlock()
}

// Written returns the last value written to entity through SetValue.
func (u *Updater) Written(entity string) (any, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	v, ok := u.written[entity]
	return v, ok
}

// Notifications returns the messages sent so far.
func (u *Updater) Notifications() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.notes...)
}

func (u *Updater) RegisterEntity(id string, kind feeder.Kind) {
	u.mu.Lock()
	u.kinds[id] = kind
	u.mu.Unlock()
}

func (u *Updater) Revision() uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rev
}

func (u *Updater) EntityValue(id string) (any, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	v, ok := u.values[id]
	if !ok {
		return nil, fmt.Errorf("fake: no value for entity %s", id)
	}
	return v, nil
}

// Refresh publishes staged values and bumps the revision.
func (u *Updater) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.RefreshErr != nil {
		return u.RefreshErr
	}
	for k, v := range u.staged {
		u.values[k] = v
	}
	u.staged = map[string]any{}
	if u.GridEntity != "" {
		total := u.BaseLoad
		for id := range u.loads {
			p, _ := feeder.ToFloat(u.values[PowerEntity(id)])
			total += p
		}
		if u.SolarEntity != "" {
			s, _ := feeder.ToFloat(u.values[u.SolarEntity])
			total -= s
		}
		u.values[u.GridEntity] = total
	}
	u.rev++
	return nil
}

// SwitchOn stages the new state and power of node.
func (u *Updater) SwitchOn(node *network.Switch, on bool) (bool, error) {
	u.mu.Lock()
	refused := u.refuse[node.ID()]
	u.mu.Unlock()
	if refused {
		return node.IsOn(), nil
	}
	power := 0.0
	if on {
		if p, err := node.MaxPower(); err == nil {
			power = p
		}
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.loads[node.ID()] = true
	u.staged[StateEntity(node.ID())] = on
	u.staged[PowerEntity(node.ID())] = power
	return on, nil
}

func (u *Updater) SetValue(entity string, value any) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.written[entity] = value
	u.staged[entity] = value
	return nil
}

func (u *Updater) Notify(message string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.notes = append(u.notes, message)
	return nil
}

// Switch builds a switchable load wired to the entities of this updater.
func (u *Updater) Switch(id string, maxPower float64, on bool, opts ...network.SwitchOption) (*network.Switch, error) {
	power := 0.0
	if on {
		power = maxPower
	}
	u.AddLoad(id, on, power)
	return network.NewSwitch(id,
		feeder.NewSource(u, PowerEntity(id), feeder.KindFloat, feeder.ToFloat, 0),
		feeder.NewConstant(maxPower),
		feeder.NewSource(u, StateEntity(id), feeder.KindBool, feeder.ToBool, false),
		opts...)
}

// Grid builds a public grid reading GridEntity, which defaults to "grid_power".
func (u *Updater) Grid(maxPower float64, opts ...GridOption) *network.PublicPowerGrid {
	if u.GridEntity == "" {
		u.GridEntity = "grid_power"
	}
	u.Set(u.GridEntity, u.BaseLoad)
	g := gridConf{}
	for _, o := range opts {
		o(&g)
	}
	return network.NewPublicPowerGrid("grid",
		feeder.NewSource(u, u.GridEntity, feeder.KindFloat, feeder.ToFloat, 0),
		feeder.NewConstant(maxPower), g.minPower, g.margin, g.contract)
}

type gridConf struct {
	minPower feeder.Feeder[float64]
	margin   feeder.Feeder[float64]
	contract contract.Contract
}

// GridOption customises the grid built by Grid.
type GridOption func(*gridConf)

// WithContract prices the grid.
func WithContract(c contract.Contract) GridOption {
	return func(g *gridConf) { g.contract = c }
}

// WithMargin reserves a safety margin on the grid.
func WithMargin(w float64) GridOption {
	return func(g *gridConf) { g.margin = feeder.NewConstant(w) }
}

// WithMinPower sets the lowest grid power, negative when export is allowed.
func WithMinPower(w float64) GridOption {
	return func(g *gridConf) { g.minPower = feeder.NewConstant(w) }
}
