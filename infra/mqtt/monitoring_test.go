package mqtt

import (
	"fmt"
	"testing"
	"time"

	coremon "github.com/kilianp07/hems/core/monitoring"
)

type recordMonitor struct {
	coremon.NopMonitor
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.err = err
	r.tags = tags
}

func TestSwitchOnErrorCaptured(t *testing.T) {
	fail := fmt.Errorf("net fail")
	mc := &mockClient{publishErrs: []error{fail, fail, fail, fail}}
	useMock(t, mc)
	mon := &recordMonitor{}
	coremon.Init(mon)
	defer coremon.Init(nil)
	u, err := NewUpdater(Config{Broker: "tcp://localhost:1883", BackoffMS: 1})
	if err != nil {
		t.Fatalf("updater: %v", err)
	}
	start := time.Now()
	if _, err := u.SwitchOn(testSwitch(t, "boiler"), true); err == nil {
		t.Fatalf("expected error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("retries took too long")
	}
	if mon.err == nil {
		t.Fatalf("error not captured")
	}
	if mon.tags["node_id"] != "boiler" || mon.tags["module"] != "mqtt" {
		t.Fatalf("tags not set: %v", mon.tags)
	}
}
