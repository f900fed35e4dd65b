package rte

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/hems/core/contract"
)

// ErrColorUnavailable is returned when the colour of a day is not published
// yet or the service could not be reached.
var ErrColorUnavailable = errors.New("tempo colour unavailable")

const dayLayout = "2006-01-02"

// rteTimeLayout is the date format of the RTE data portal.
const rteTimeLayout = "2006-01-02T15:04:05-07:00"

// PublicDay is the payload of the public colour API (jourTempo).
type PublicDay struct {
	DateJour string `json:"dateJour"`
	// CodeJour is 1 blue, 2 white, 3 red and 0 when not known yet.
	CodeJour int    `json:"codeJour"`
	Periode  string `json:"periode"`
}

// Color converts the day code.
func (d PublicDay) Color() (contract.Color, error) {
	switch d.CodeJour {
	case 1:
		return contract.Blue, nil
	case 2:
		return contract.White, nil
	case 3:
		return contract.Red, nil
	case 0:
		return "", fmt.Errorf("%s: %w", d.DateJour, ErrColorUnavailable)
	}
	return "", fmt.Errorf("%w: code %d", contract.ErrUnknownColor, d.CodeJour)
}

func codeOf(c contract.Color) int {
	switch c {
	case contract.Blue:
		return 1
	case contract.White:
		return 2
	case contract.Red:
		return 3
	}
	return 0
}

// periodOf names the Tempo year of day, which starts on September 1st.
func periodOf(day time.Time) string {
	y := day.Year()
	if day.Month() < time.September {
		y--
	}
	return fmt.Sprintf("%d-%d", y, y+1)
}

// CalendarValue is one day of the RTE tempo_like_calendars answer.
type CalendarValue struct {
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Value       string `json:"value"`
	UpdatedDate string `json:"updated_date,omitempty"`
}

// CalendarResponse is the RTE tempo_like_calendars answer.
type CalendarResponse struct {
	Calendars struct {
		StartDate string          `json:"start_date"`
		EndDate   string          `json:"end_date"`
		Values    []CalendarValue `json:"values"`
	} `json:"tempo_like_calendars"`
}

func rteValue(c contract.Color) string {
	switch c {
	case contract.Blue:
		return "BLUE"
	case contract.White:
		return "WHITE"
	case contract.Red:
		return "RED"
	}
	return ""
}

// colorFor finds the colour of day among the calendar values.
func (r CalendarResponse) colorFor(day time.Time) (contract.Color, error) {
	want := day.Format(dayLayout)
	for _, v := range r.Calendars.Values {
		if !strings.HasPrefix(v.StartDate, want) {
			continue
		}
		return contract.ParseColor(v.Value)
	}
	return "", fmt.Errorf("%s: %w", want, ErrColorUnavailable)
}
