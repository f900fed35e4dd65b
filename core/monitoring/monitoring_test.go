package monitoring

import (
	"errors"
	"testing"
	"time"
)

type recorder struct {
	errs   []error
	tags   []map[string]string
	panics []any
}

func (r *recorder) CaptureException(err error, tags map[string]string) {
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}
func (r *recorder) CapturePanic(v any, _ map[string]string) { r.panics = append(r.panics, v) }
func (r *recorder) Flush(time.Duration)                     {}

func TestCaptureCycle(t *testing.T) {
	rec := &recorder{}
	Init(rec)
	defer Init(nil)

	CaptureException(nil, nil)
	CaptureCycle(errors.New("refresh failed"), "refresh", 42)
	if len(rec.errs) != 1 {
		t.Fatalf("expected 1 capture, got %d", len(rec.errs))
	}
	if rec.tags[0]["phase"] != "refresh" || rec.tags[0]["cycle"] != "42" {
		t.Fatalf("unexpected tags %v", rec.tags[0])
	}
}

func TestRecoverRepanics(t *testing.T) {
	rec := &recorder{}
	Init(rec)
	defer Init(nil)

	defer func() {
		if r := recover(); r != "boom" {
			t.Fatalf("expected re-panic, got %v", r)
		}
		if len(rec.panics) != 1 {
			t.Fatalf("panic not captured")
		}
	}()
	func() {
		defer Recover()
		panic("boom")
	}()
}

func TestInitNilRestoresNop(t *testing.T) {
	Init(nil)
	if _, ok := Current().(NopMonitor); !ok {
		t.Fatalf("expected NopMonitor, got %T", Current())
	}
}
