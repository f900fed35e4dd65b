package main

import (
	"sync"
	"time"
)

// Battery models a home battery with charge/discharge limits.
type Battery struct {
	CapacityWh float64 // total capacity
	Level      float64 // state of charge in %
	MaxIn      float64 // maximum charging power in W
	MaxOut     float64 // maximum discharging power in W
	mu         sync.Mutex
}

// ApplyPower updates the level according to the requested power and
// duration. Positive power charges, negative power discharges. It returns
// the power actually applied after enforcing limits.
func (b *Battery) ApplyPower(powerW float64, dt time.Duration) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	hours := dt.Hours()
	if hours <= 0 || b.CapacityWh <= 0 {
		return 0
	}
	actual := powerW
	stored := b.Level / 100 * b.CapacityWh
	if powerW > 0 {
		actual = min(powerW, b.MaxIn)
		if room := b.CapacityWh - stored; actual*hours > room {
			actual = room / hours
		}
	} else if powerW < 0 {
		actual = -min(-powerW, b.MaxOut)
		if -actual*hours > stored {
			actual = -stored / hours
		}
	}
	stored += actual * hours
	b.Level = max(0, min(100, stored/b.CapacityWh*100))
	return actual
}

// Snapshot returns the current level.
func (b *Battery) Snapshot() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Level
}
