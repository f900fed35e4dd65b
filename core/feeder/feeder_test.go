package feeder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	rev        uint64
	values     map[string]any
	registered map[string]Kind
	reads      int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{values: map[string]any{}, registered: map[string]Kind{}}
}

func (p *fakeProvider) RegisterEntity(id string, kind Kind) { p.registered[id] = kind }
func (p *fakeProvider) Revision() uint64                     { return p.rev }
func (p *fakeProvider) EntityValue(id string) (any, error) {
	p.reads++
	v, ok := p.values[id]
	if !ok {
		return nil, errors.New("unknown entity")
	}
	return v, nil
}

func TestSourceReadsOncePerRevision(t *testing.T) {
	p := newFakeProvider()
	p.values["sensor.power"] = "120"
	p.rev = 1
	s := NewSource(p, "sensor.power", KindFloat, ToFloat, 0)
	if p.registered["sensor.power"] != KindFloat {
		t.Fatalf("entity not registered")
	}
	v, err := s.Value()
	require.NoError(t, err)
	assert.Equal(t, 120.0, v)

	p.values["sensor.power"] = "300"
	v, _ = s.Value()
	if v != 120 || p.reads != 1 {
		t.Fatalf("expected cached 120 with one read, got %v after %d reads", v, p.reads)
	}
	p.rev++
	v, _ = s.Value()
	if v != 300 || p.reads != 2 {
		t.Fatalf("expected 300 after revision bump, got %v", v)
	}
}

func TestSourceCastError(t *testing.T) {
	p := newFakeProvider()
	p.values["sensor.power"] = "unavailable"
	p.rev = 1
	s := NewSource(p, "sensor.power", KindFloat, ToFloat, 42)
	v, err := s.Value()
	var ce *CastError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CastError, got %v", err)
	}
	assert.Equal(t, 42.0, v)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, "sensor.power", ce.Entity)

	p.values["sensor.power"] = 10
	p.rev++
	v, err = s.Value()
	require.NoError(t, err)
	assert.Equal(t, 10.0, v)
}

func TestSumPropagatesFirstError(t *testing.T) {
	p := newFakeProvider()
	p.rev = 1
	p.values["a"] = 5
	good := NewSource(p, "a", KindFloat, ToFloat, 0)
	bad := NewSource(p, "b", KindFloat, ToFloat, 0)
	total, err := Sum(NewConstant(3.0), good, bad).Value()
	if err == nil {
		t.Fatal("expected error from missing entity")
	}
	if total != 8 {
		t.Fatalf("expected partial sum 8, got %v", total)
	}
}

func TestFloatFromConfig(t *testing.T) {
	p := newFakeProvider()
	f, err := Float(p, 3000)
	require.NoError(t, err)
	v, _ := f.Value()
	assert.Equal(t, 3000.0, v)

	f, err = Float(p, "2.5")
	require.NoError(t, err)
	v, _ = f.Value()
	assert.Equal(t, 2.5, v)

	f, err = Float(p, "sensor.grid")
	require.NoError(t, err)
	if _, ok := f.(*Source[float64]); !ok {
		t.Fatalf("expected a source feeder, got %T", f)
	}
	if _, err := Float(p, nil); !errors.Is(err, ErrMissing) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
}

func TestBoolCasts(t *testing.T) {
	cases := map[any]bool{"on": true, "OFF": false, "vrai": true, 1: true, 0.0: false, true: true}
	for raw, want := range cases {
		got, err := ToBool(raw)
		if err != nil {
			t.Fatalf("ToBool(%v): %v", raw, err)
		}
		if got != want {
			t.Fatalf("ToBool(%v)=%v want %v", raw, got, want)
		}
	}
	if _, err := ToBool("maybe"); err == nil {
		t.Fatal("expected error for maybe")
	}
	b, err := Bool(newFakeProvider(), "switch.pump")
	require.NoError(t, err)
	if _, ok := b.(*Source[bool]); !ok {
		t.Fatalf("expected source, got %T", b)
	}
}

func TestStringFeeder(t *testing.T) {
	p := newFakeProvider()
	p.rev = 1
	p.values["sensor.color"] = "BLEU"
	f, err := String(p, "entity:sensor.color")
	require.NoError(t, err)
	v, err := f.Value()
	require.NoError(t, err)
	assert.Equal(t, "BLEU", v)
	c, _ := String(p, "fixed")
	v, _ = c.Value()
	assert.Equal(t, "fixed", v)
}
