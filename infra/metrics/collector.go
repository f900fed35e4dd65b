package metrics

import (
	"context"

	coremetrics "github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/core/network"
	"github.com/kilianp07/hems/internal/eventbus"
)

// SnapshotRecorder records the per-node state published after each cycle.
type SnapshotRecorder interface {
	RecordSnapshot(snap network.Snapshot) error
}

// StartSnapshotCollector subscribes to the bus and forwards every snapshot
// to the sinks able to record it. It stops when ctx is canceled or the bus
// is closed.
func StartSnapshotCollector(ctx context.Context, bus *eventbus.TypedBus[network.Snapshot], sinks ...any) {
	var recs []SnapshotRecorder
	var add func(s any)
	add = func(s any) {
		switch v := s.(type) {
		case *coremetrics.MultiSink:
			for _, inner := range v.Sinks {
				add(inner)
			}
		case SnapshotRecorder:
			recs = append(recs, v)
		}
	}
	for _, s := range sinks {
		add(s)
	}
	if bus == nil || len(recs) == 0 {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-sub:
				if !ok {
					return
				}
				for _, r := range recs {
					_ = r.RecordSnapshot(snap)
				}
			}
		}
	}()
}
