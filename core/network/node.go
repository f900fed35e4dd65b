package network

import (
	"fmt"
	"strings"

	"github.com/kilianp07/hems/core/contract"
	"github.com/kilianp07/hems/core/feeder"
	"github.com/kilianp07/hems/core/logger"
)

// Node is a power source or sink of the home network.
type Node interface {
	ID() string
	Name() string
	CurrentPower() (float64, error)
	MaxPower() (float64, error)
	// IsOn is always true for nodes that cannot be switched.
	IsOn() bool
	IsSwitchable() bool

	attach(n *Network)
}

// NodeID normalises a display name into a node id.
func NodeID(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
}

type base struct {
	id      string
	name    string
	current feeder.Feeder[float64]
	max     feeder.Feeder[float64]
	net     *Network
}

func newBase(name string, current, maxPower feeder.Feeder[float64]) base {
	return base{id: NodeID(name), name: name, current: current, max: maxPower}
}

func (b *base) ID() string { return b.id }
func (b *base) Name() string { return b.name }
func (b *base) attach(n *Network) { b.net = n }
func (b *base) Network() *Network { return b.net }
func (b *base) log() logger.Logger {
	if b.net == nil {
		return logger.Discard()
	}
	return b.net.logger
}

func (b *base) CurrentPower() (float64, error) {
	v, err := b.current.Value()
	if err != nil {
		return v, fmt.Errorf("invalid current power for node %q: %w", b.id, err)
	}
	return v, nil
}

func (b *base) MaxPower() (float64, error) {
	if b.max == nil {
		return 0, nil
	}
	return b.max.Value()
}

// SourceNode is a bidirectional node: the public grid, solar panels or a
// battery.
type SourceNode interface {
	Node
	// MinPower is negative when the source can absorb power.
	MinPower() (float64, error)
	MarginPower() (float64, error)
	RespectConstraints(power float64) bool
}

// InOut holds what every source has in common.
type InOut struct {
	base
	min    feeder.Feeder[float64]
	margin feeder.Feeder[float64]
}

func newInOut(name string, current, maxPower, minPower, margin feeder.Feeder[float64]) InOut {
	if minPower == nil {
		minPower = feeder.NewConstant(0.0)
	}
	if margin == nil {
		margin = feeder.NewConstant(0.0)
	}
	return InOut{base: newBase(name, current, maxPower), min: minPower, margin: margin}
}

func (n *InOut) IsOn() bool { return true }
func (n *InOut) IsSwitchable() bool { return false }

func (n *InOut) MinPower() (float64, error) { return n.min.Value() }
func (n *InOut) MarginPower() (float64, error) { return n.margin.Value() }

// RespectConstraints reports whether power, widened by the margin, stays
// within [MinPower, MaxPower].
func (n *InOut) RespectConstraints(power float64) bool {
	margin, _ := n.MarginPower()
	if hi, err := n.MaxPower(); err == nil && power+margin > hi {
		n.log().Warnf("node %s is over max power (%g > %g)", n.id, power+margin, hi)
		return false
	}
	if lo, err := n.MinPower(); err == nil && power-margin < lo {
		n.log().Warnf("node %s is under min power (%g < %g)", n.id, power-margin, lo)
		return false
	}
	return true
}

// PublicPowerGrid is the utility connection. Positive power is imported.
type PublicPowerGrid struct {
	InOut
	contract contract.Contract
}

// NewPublicPowerGrid builds a grid node priced by c.
func NewPublicPowerGrid(name string, current, maxPower, minPower, margin feeder.Feeder[float64], c contract.Contract) *PublicPowerGrid {
	return &PublicPowerGrid{InOut: newInOut(name, current, maxPower, minPower, margin), contract: c}
}

// Contract returns the pricing contract, nil when none is configured.
func (g *PublicPowerGrid) Contract() contract.Contract { return g.contract }

func (g *PublicPowerGrid) String() string {
	return fmt.Sprintf("PublicPowerGrid(%s, contract=%v)", g.id, g.contract)
}

// SolarPanel is a production source. Its usable max power is what it
// currently produces.
type SolarPanel struct {
	InOut
	ModuleModel        string
	InverterModel      string
	Tilt               float64
	Azimuth            float64
	ModulesPerString   int
	StringsPerInverter int
}

// NewSolarPanel builds a panel whose min power is its production.
func NewSolarPanel(name string, current, peak, margin feeder.Feeder[float64]) *SolarPanel {
	return &SolarPanel{InOut: newInOut(name, current, peak, current, margin), Tilt: 45, Azimuth: 180, ModulesPerString: 1, StringsPerInverter: 1}
}

func (s *SolarPanel) MaxPower() (float64, error) { return s.current.Value() }

// PeakPower is the configured theoretical max power.
func (s *SolarPanel) PeakPower() (float64, error) { return s.base.MaxPower() }

func (s *SolarPanel) String() string { return fmt.Sprintf("SolarPanel(%s)", s.id) }

// DefaultBatteryPowerIn is the charge power of a standard outlet.
const DefaultBatteryPowerIn = 2300

// Battery is a storage source. Positive power is discharge.
type Battery struct {
	InOut
	capacity      feeder.Feeder[float64]
	level         feeder.Feeder[float64]
	LowLevel      float64
	HighLevel     float64
	TargetLevel   float64
	EfficiencyIn  float64
	EfficiencyOut float64
}

// NewBattery builds a battery. maxIn defaults to DefaultBatteryPowerIn and
// maxOut to its opposite.
func NewBattery(name string, capacity, current, level, maxIn, maxOut feeder.Feeder[float64]) *Battery {
	if maxIn == nil {
		maxIn = feeder.NewConstant(float64(DefaultBatteryPowerIn))
	}
	if maxOut == nil {
		in := maxIn
		maxOut = feeder.NewDerived(func() (float64, error) {
			v, err := in.Value()
			return -v, err
		})
	}
	if level == nil {
		level = feeder.NewConstant(0.0)
	}
	if capacity == nil {
		capacity = feeder.NewConstant(0.0)
	}
	return &Battery{
		InOut:         newInOut(name, current, maxIn, maxOut, feeder.NewConstant(0.0)),
		capacity:      capacity,
		level:         level,
		LowLevel:      0.2,
		HighLevel:     0.8,
		TargetLevel:   0.7,
		EfficiencyIn:  0.95,
		EfficiencyOut: 0.95,
	}
}

// Capacity in Wh.
func (b *Battery) Capacity() (float64, error) { return b.capacity.Value() }

// Level is the state of charge between 0 and 1.
func (b *Battery) Level() (float64, error) { return b.level.Value() }

func (b *Battery) String() string { return fmt.Sprintf("Battery(%s)", b.id) }
