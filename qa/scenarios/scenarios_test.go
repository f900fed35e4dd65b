package scenarios

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario(t *testing.T) {
	files, err := filepath.Glob("*.yaml")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no scenario found")
	}
	for _, f := range files {
		sc, err := Load(f)
		if err != nil {
			t.Fatalf("load %s: %v", f, err)
		}
		t.Run(sc.Name, func(t *testing.T) {
			RunScenario(t, sc)
		})
	}
}

func TestLoadInvalid(t *testing.T) {
	if _, err := Load("no-file.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
	dir := t.TempDir()
	cases := map[string]string{
		"syntax":   ":",
		"no name":  "start: \"2026-01-05T12:00\"\nsteps: [{}]\n",
		"no start": "name: x\nsteps: [{}]\n",
		"no steps": "name: x\nstart: \"2026-01-05T12:00\"\n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, "bad.yaml")
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestBuildUnknownStrategy(t *testing.T) {
	sc := &Scenario{
		Name:       "bad",
		Start:      "2026-01-05T12:00",
		Strategies: []map[string]any{{"class": "nope"}},
		Steps:      []Step{{}},
	}
	_, err := Build(sc)
	require.Error(t, err)
}

func TestApplyRejectsUnknownLoad(t *testing.T) {
	sc := &Scenario{
		Name:  "apply",
		Start: "2026-01-05T12:00",
		Nodes: []map[string]any{{"id": "boiler", "class": "switch", "max_power": 2000}},
		Steps: []Step{{}},
	}
	h, err := Build(sc)
	require.NoError(t, err)
	require.Empty(t, h.Warnings)

	err = h.Apply(Step{AdvanceMinutes: 10, Schedules: map[string]ScheduleDef{"heater": {DurationMinutes: 5}}})
	require.Error(t, err)
	assert.Equal(t, time.Date(2026, 1, 5, 12, 10, 0, 0, time.UTC), h.Now)

	require.NoError(t, h.Apply(Step{Schedules: map[string]ScheduleDef{"boiler": {DurationMinutes: 5, Timeout: "2026-01-05T14:00"}}}))
	errs := h.Check(Step{Expect: map[string]bool{"boiler": true}, ExpectRemaining: map[string]int{"boiler": 5}})
	require.Len(t, errs, 1)
}

func TestCheckSeesOrdersOfTheCycle(t *testing.T) {
	sc := &Scenario{
		Name:        "same-cycle",
		Start:       "2026-06-15T12:00",
		BaseLoad:    500,
		SolarEntity: "solar_power",
		Values:      map[string]any{"solar_power": 3000},
		Nodes: []map[string]any{
			{"id": "grid", "class": "publicpowergrid", "max_power": 6000, "min_power": -6000,
				"contract": map[string]any{"class": "rtetarifbleu"}},
			{"id": "boiler", "class": "switch", "max_power": 2000},
		},
		Strategies: []map[string]any{{"class": "nosell"}},
		Steps:      []Step{{}},
	}
	h, err := Build(sc)
	require.NoError(t, err)
	require.Empty(t, h.Warnings)

	st := Step{
		Schedules: map[string]ScheduleDef{"boiler": {DurationMinutes: 60}},
		Expect:    map[string]bool{"boiler": true},
	}
	require.NoError(t, h.Apply(st))
	_, err = h.Controller.RunCycle(context.Background())
	require.NoError(t, err)

	node, ok := h.Network.Node("boiler")
	require.True(t, ok)
	assert.False(t, node.IsOn(), "the network sees the order on the next refresh")
	assert.Empty(t, h.Check(st))
	assert.NotEmpty(t, h.Check(Step{Expect: map[string]bool{"boiler": false}}))
}
