package contract

import (
	"errors"
	"time"

	"github.com/kilianp07/hems/core/timerange"
)

// ErrUnknownColor is returned when a Tempo colour has no price.
var ErrUnknownColor = errors.New("unknown tempo color")

// Contract prices electricity over the day.
type Contract interface {
	// Price returns the price per kWh at attime.
	Price(attime time.Time) (float64, error)
	PeakPrice(attime time.Time) (float64, error)
	OffPeakPrice(attime time.Time) (float64, error)
	// InOffpeakRange reports whether now is in an off-peak range and when
	// the current range ends. now must never go back at runtime.
	InOffpeakRange(now time.Time) timerange.Status
	// HoursRanges returns the priced partition of the day of attime.
	HoursRanges(attime time.Time) (*timerange.HoursRanges, error)
	// SellPrice is the price paid per exported kWh.
	SellPrice() float64
}
