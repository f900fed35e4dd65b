package network

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSwitchable is returned when an operation needs a switchable node.
	ErrNotSwitchable = errors.New("node is not switchable")
	// ErrDeactivated is returned when switching on a node shed by Check.
	ErrDeactivated = errors.New("node deactivated for power margin")
	// ErrUnknownNode is returned for ids absent from the network.
	ErrUnknownNode = errors.New("unknown node")
	// ErrOverload is returned by Check when shedding could not restore a
	// positive margin.
	ErrOverload = errors.New("power margin still negative after shedding")
)

// ConstraintsError reports a transition refused, or forced, by appliance
// constraints.
type ConstraintsError struct {
	Node       string
	Constraint string
	Limit      any
	Value      any
}

func (e *ConstraintsError) Error() string {
	return fmt.Sprintf("node %s: offending %s (%v), current %v", e.Node, e.Constraint, e.Limit, e.Value)
}
