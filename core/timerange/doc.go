// Package timerange handles times of day without date and daily hours
// ranges used for off-peak detection and pricing.
//
// A HoursRanges always covers the full day: gaps between configured ranges
// are filled with an out-of-range cost. CheckRange finds the range active at
// a given instant and the instant it closes; on an exact boundary the closing
// range is still considered active.
package timerange
