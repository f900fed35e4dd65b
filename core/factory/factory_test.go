package factory

import (
	"strings"
	"testing"
	"time"
)

type sample struct{ A int }

type sampleConf struct {
	A int `json:"a"`
}

func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry[*sample]()
	if err := reg.Register("s", func(conf map[string]any) (*sample, error) {
		var c sampleConf
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return &sample{A: c.A}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	inst, err := reg.Create(ModuleConfig{Type: "S", Conf: map[string]any{"a": "3"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inst.A != 3 {
		t.Fatalf("expected 3 got %d", inst.A)
	}
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry[int]()
	if err := reg.Register("x", func(map[string]any) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("X", func(map[string]any) (int, error) { return 2, nil }); err == nil {
		t.Fatal("expected duplicate error")
	}
	if err := reg.Register("y", nil); err == nil {
		t.Fatal("expected nil factory error")
	}
	_, err := reg.Create(ModuleConfig{Type: "y"})
	if err == nil || !strings.Contains(err.Error(), "known: x") {
		t.Fatalf("expected unknown type error listing names, got %v", err)
	}
}

func TestRegistry_Alias(t *testing.T) {
	reg := NewRegistry[string]().WithAlias(func(s string) string {
		return strings.TrimSuffix(s, "contract")
	})
	if err := reg.Register("generic", func(map[string]any) (string, error) { return "ok", nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	v, err := reg.Create(ModuleConfig{Type: "GenericContract"})
	if err != nil || v != "ok" {
		t.Fatalf("alias lookup failed: %v %q", err, v)
	}
}

func TestDecode_Duration(t *testing.T) {
	var c struct {
		Freq time.Duration `json:"freq"`
	}
	if err := Decode(map[string]any{"freq": "15m"}, &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Freq != 15*time.Minute {
		t.Fatalf("unexpected duration %v", c.Freq)
	}
}

func TestDecode_DurationSeconds(t *testing.T) {
	var c struct {
		On  time.Duration `json:"on"`
		Off time.Duration `json:"off"`
	}
	if err := Decode(map[string]any{"on": 3600, "off": "90"}, &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.On != time.Hour || c.Off != 90*time.Second {
		t.Fatalf("unexpected durations %v %v", c.On, c.Off)
	}
}
