package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type warnRecorder struct {
	warns []string
}

func (r *warnRecorder) Debugf(string, ...any)         {}
func (r *warnRecorder) Debugw(string, map[string]any) {}
func (r *warnRecorder) Infof(string, ...any)          {}
func (r *warnRecorder) Warnf(format string, args ...any) {
	r.warns = append(r.warns, fmt.Sprintf(format, args...))
}
func (r *warnRecorder) Warnw(string, map[string]any) {}
func (r *warnRecorder) Errorf(string, ...any)        {}

func TestReportWarnings(t *testing.T) {
	rec := &warnRecorder{}
	reportWarnings(rec, []error{
		errors.New(`node "pump": unknown class "pomp"`),
		errors.New(`node "car": missing max_power`),
	})
	assert.Equal(t, []string{
		`node "pump": unknown class "pomp"`,
		`node "car": missing max_power`,
	}, rec.warns)

	reportWarnings(rec, nil)
	assert.Len(t, rec.warns, 2)
}
