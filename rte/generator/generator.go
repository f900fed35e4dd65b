// Package generator draws plausible Tempo colour calendars for local runs.
package generator

import (
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/hems/core/contract"
)

// Yearly quotas of a Tempo year (September to August).
const (
	RedDays   = 22
	WhiteDays = 43
)

var colorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "rte_generator_colors_total",
	Help: "Tempo colours served by the generator",
}, []string{"color"})

func init() {
	prometheus.MustRegister(colorsTotal)
}

// Generator assigns a colour to every day of a Tempo year. Red days fall on
// weekdays from November to March and white days never on Sunday. The same
// seed always gives the same calendar.
type Generator struct {
	seed int64

	mu    sync.Mutex
	years map[int]map[string]contract.Color
}

// New creates a generator.
func New(seed int64) *Generator {
	return &Generator{seed: seed, years: map[int]map[string]contract.Color{}}
}

// Color returns the colour of day.
func (g *Generator) Color(day time.Time) contract.Color {
	y := tempoYear(day)
	g.mu.Lock()
	cal, ok := g.years[y]
	if !ok {
		cal = g.draw(y)
		g.years[y] = cal
	}
	g.mu.Unlock()
	c, ok := cal[day.Format("2006-01-02")]
	if !ok {
		c = contract.Blue
	}
	colorsTotal.WithLabelValues(string(c)).Inc()
	return c
}

func tempoYear(day time.Time) int {
	if day.Month() < time.September {
		return day.Year() - 1
	}
	return day.Year()
}

func (g *Generator) draw(year int) map[string]contract.Color {
	r := rand.New(rand.NewSource(g.seed + int64(year)))
	start := time.Date(year, time.September, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)

	var redable, whiteable []time.Time
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Sunday {
			continue
		}
		if winter(d) && d.Weekday() != time.Saturday {
			redable = append(redable, d)
		}
		whiteable = append(whiteable, d)
	}
	cal := map[string]contract.Color{}
	r.Shuffle(len(redable), func(i, j int) { redable[i], redable[j] = redable[j], redable[i] })
	for _, d := range redable[:min(RedDays, len(redable))] {
		cal[d.Format("2006-01-02")] = contract.Red
	}
	r.Shuffle(len(whiteable), func(i, j int) { whiteable[i], whiteable[j] = whiteable[j], whiteable[i] })
	n := 0
	for _, d := range whiteable {
		if n == WhiteDays {
			break
		}
		k := d.Format("2006-01-02")
		if _, taken := cal[k]; taken {
			continue
		}
		cal[k] = contract.White
		n++
	}
	return cal
}

func winter(d time.Time) bool {
	m := d.Month()
	return m >= time.November || m <= time.March
}
