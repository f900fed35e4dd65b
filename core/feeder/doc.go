// Package feeder provides pull-based accessors for single scalar values.
//
// A Feeder is either a Constant, a Source reading through a Provider's entity
// cache (re-read only when the provider revision moves forward), or a Derived
// value computed from other feeders.
package feeder
