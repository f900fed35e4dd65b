package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/core/network"
)

type lineServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies []string
}

func newLineServer(t *testing.T) *lineServer {
	t.Helper()
	s := &lineServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.bodies = append(s.bodies, strings.TrimSpace(string(data)))
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(s.Close)
	return s
}

func line(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestInfluxSink_RecordCycle(t *testing.T) {
	srv := newLineServer(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "token", Org: "org", Bucket: "bucket"})
	defer sink.Close()
	now := time.Now()
	ev := coremetrics.CycleEvent{Cycle: 7, Duration: 1500 * time.Microsecond, GridPower: 1234.5678, Margin: 100, Deactivated: 1, Time: now}
	if err := sink.RecordCycle(ev); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("cycle").
		AddTag("failed", "false").
		AddField("cycle", int64(7)).
		AddField("duration_ms", 1.5).
		AddField("grid_power_w", 1234.568).
		AddField("margin_w", 100.0).
		AddField("deactivated", 1).
		SetTime(now)
	if len(srv.bodies) != 1 || srv.bodies[0] != line(p) {
		t.Errorf("unexpected bodies: %#v", srv.bodies)
	}
}

func TestInfluxSink_RecordSwitch(t *testing.T) {
	srv := newLineServer(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Org: "org", Bucket: "bucket"})
	defer sink.Close()
	now := time.Now()
	if err := sink.RecordSwitch(coremetrics.SwitchEvent{Node: "boiler", Strategy: "offpeak", Requested: true, Actual: false, Power: 2000, Time: now}); err != nil {
		t.Fatalf("record: %v", err)
	}
	p := write.NewPointWithMeasurement("switch").
		AddTag("node", "boiler").
		AddTag("strategy", "offpeak").
		AddField("requested", true).
		AddField("actual", false).
		AddField("power_w", 2000.0).
		SetTime(now)
	if len(srv.bodies) != 1 || srv.bodies[0] != line(p) {
		t.Errorf("bodies: %#v", srv.bodies)
	}
}

func TestInfluxSink_RecordSnapshot(t *testing.T) {
	srv := newLineServer(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Org: "org", Bucket: "bucket"})
	defer sink.Close()
	snap := network.Snapshot{Time: time.Now(), Nodes: []network.NodeState{
		{ID: "grid", Kind: "publicpowergrid", Power: 500, On: true},
		{ID: "boiler", Kind: "switch", Schedule: &network.ScheduleState{Duration: 60}},
	}}
	if err := sink.RecordSnapshot(snap); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(srv.bodies) != 2 {
		t.Fatalf("expected one point per node, got %#v", srv.bodies)
	}
	if !strings.Contains(srv.bodies[1], "schedule_s=60i") {
		t.Errorf("missing schedule field: %s", srv.bodies[1])
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "tok", Org: "org", Bucket: "bucket"})
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}
