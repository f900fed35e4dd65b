package metrics

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	corelogger "github.com/kilianp07/hems/core/logger"
	coremetrics "github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/core/network"
	"github.com/kilianp07/hems/infra/logger"
)

// InfluxConfig locates the InfluxDB bucket.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes control-loop events to InfluxDB using the official
// client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      corelogger.Logger
}

// NewInfluxSink creates a sink for the given endpoint. A trailing
// /api/v2/write is ignored.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings InfluxDB and returns a NopSink if the
// health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

func (s *InfluxSink) write(points ...*write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, points...)
}

func (s *InfluxSink) RecordCycle(ev coremetrics.CycleEvent) error {
	p := write.NewPointWithMeasurement("cycle").
		AddTag("failed", strconv.FormatBool(ev.Failed)).
		AddField("cycle", int64(ev.Cycle)).
		AddField("duration_ms", round3(ev.Duration.Seconds()*1000)).
		AddField("grid_power_w", round3(ev.GridPower)).
		AddField("margin_w", round3(ev.Margin)).
		AddField("deactivated", ev.Deactivated).
		SetTime(ev.Time)
	return s.write(p)
}

func (s *InfluxSink) RecordSwitch(ev coremetrics.SwitchEvent) error {
	p := write.NewPointWithMeasurement("switch").
		AddTag("node", ev.Node).
		AddTag("strategy", ev.Strategy).
		AddField("requested", ev.Requested).
		AddField("actual", ev.Actual).
		AddField("power_w", round3(ev.Power)).
		SetTime(ev.Time)
	return s.write(p)
}

func (s *InfluxSink) RecordOptimization(ev coremetrics.OptimizationEvent) error {
	p := write.NewPointWithMeasurement("optimization").
		AddTag("strategy", ev.Strategy).
		AddTag("algorithm", ev.Algorithm).
		AddField("objective", round3(ev.Objective)).
		AddField("initial", round3(ev.Initial)).
		AddField("total_power_w", round3(ev.TotalPower)).
		AddField("duration_ms", round3(ev.Duration.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

func (s *InfluxSink) RecordPrice(ev coremetrics.PriceEvent) error {
	p := write.NewPointWithMeasurement("price").
		AddTag("offpeak", strconv.FormatBool(ev.OffPeak)).
		AddField("price", ev.Price).
		SetTime(ev.Time)
	if ev.Color != "" {
		p.AddTag("color", ev.Color)
	}
	return s.write(p)
}

// RecordSnapshot writes one node_state point per node.
func (s *InfluxSink) RecordSnapshot(snap network.Snapshot) error {
	var errs []error
	for _, n := range snap.Nodes {
		p := write.NewPointWithMeasurement("node_state").
			AddTag("node", n.ID).
			AddTag("kind", n.Kind).
			AddField("power_w", round3(n.Power)).
			AddField("on", n.On).
			SetTime(snap.Time)
		if n.Schedule != nil {
			p.AddField("schedule_s", n.Schedule.Duration)
		}
		errs = append(errs, s.write(p))
	}
	return errors.Join(errs...)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
