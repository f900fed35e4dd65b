package network

import "time"

// NodeState is a read-only view of one node.
type NodeState struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Kind       string         `json:"kind"`
	Power      float64        `json:"power"`
	MaxPower   float64        `json:"max_power"`
	On         bool           `json:"on"`
	Switchable bool           `json:"switchable"`
	Active     bool           `json:"active,omitempty"`
	Priority   int            `json:"priority,omitempty"`
	Strategy   string         `json:"strategy,omitempty"`
	Schedule   *ScheduleState `json:"schedule,omitempty"`
	Level      *float64       `json:"level,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Snapshot is the network state at the end of a cycle. It is safe to hand
// to other goroutines.
type Snapshot struct {
	Cycle  uint64      `json:"cycle"`
	Time   time.Time   `json:"time"`
	Margin float64     `json:"margin"`
	Nodes  []NodeState `json:"nodes"`
}

// Snapshot copies the current state of every node. Read errors are
// reported per node.
func (n *Network) Snapshot() Snapshot {
	s := Snapshot{Cycle: n.cycle, Time: n.clock()}
	if m, err := n.MarginPowerOn(); err == nil {
		s.Margin = m
	}
	for _, node := range n.Nodes() {
		st := NodeState{ID: node.ID(), Name: node.Name(), On: node.IsOn(), Switchable: node.IsSwitchable()}
		var errs []string
		if p, err := node.CurrentPower(); err != nil {
			errs = append(errs, err.Error())
		} else {
			st.Power = p
		}
		if p, err := node.MaxPower(); err != nil {
			errs = append(errs, err.Error())
		} else {
			st.MaxPower = p
		}
		switch v := node.(type) {
		case *Switch:
			st.Kind = ClassSwitch
			st.Active = v.active
			st.Priority = v.priority
			st.Strategy = v.strategyID
			if v.switchable {
				sched := v.schedule.State()
				st.Schedule = &sched
			}
		case *PublicPowerGrid:
			st.Kind = ClassPublicPowerGrid
		case *SolarPanel:
			st.Kind = ClassSolarPanel
		case *Battery:
			st.Kind = ClassBattery
			if lvl, err := v.Level(); err == nil {
				st.Level = &lvl
			}
		}
		if len(errs) > 0 {
			st.Error = errs[0]
		}
		s.Nodes = append(s.Nodes, st)
	}
	return s
}
