// Command simulator plays a home-automation system on an MQTT broker so
// hems can be run end to end without real devices.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	coremetrics "github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/infra/metrics"
)

func main() {
	cfg := parseFlags()
	if err := (&cfg).Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if !cfg.Verbose {
		log.SetOutput(io.Discard)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	home := defaultHome()
	if cfg.HomeFile != "" {
		var err error
		if home, err = readHomeFile(cfg.HomeFile); err != nil {
			log.Fatalf("home file: %v", err)
		}
	}
	prof := defaultProfile()
	if cfg.ProfileFile != "" {
		data, err := os.ReadFile(cfg.ProfileFile)
		if err != nil {
			log.Fatalf("profile file: %v", err)
		}
		if prof, err = LoadProfile(data); err != nil {
			log.Fatalf("profile file: %v", err)
		}
	}

	var sink coremetrics.MetricsSink = coremetrics.NopSink{}
	if cfg.InfluxURL != "" {
		sink = metrics.NewInfluxSinkWithFallback(metrics.InfluxConfig{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
	}
	h := NewSimulatedHome(cfg, home, prof, RandomAck{Delay: cfg.AckLatency, DropRate: cfg.DropRate})
	h.Metrics = sink
	if err := h.Run(ctx); err != nil {
		log.Fatalf("simulator: %v", err)
	}
}

func parseFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.Broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.StringVar(&cfg.StatePrefix, "state-prefix", "hems/state/", "prefix of the entity topics")
	flag.StringVar(&cfg.CommandPrefix, "command-prefix", "hems/command/", "prefix of the switch command topics")
	flag.StringVar(&cfg.AckTopic, "ack-topic", "hems/ack", "acknowledgment topic, empty to never ack")
	flag.DurationVar(&cfg.Interval, "interval", 10*time.Second, "state publish interval")
	flag.DurationVar(&cfg.AckLatency, "ack-latency", 0, "ack latency")
	flag.Float64Var(&cfg.DropRate, "drop-rate", 0, "ack drop rate")
	flag.StringVar(&cfg.HomeFile, "home-file", "", "YAML description of the simulated loads")
	flag.StringVar(&cfg.ProfileFile, "profile-file", "", "hourly base load JSON")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "enable verbose logging")
	flag.StringVar(&cfg.InfluxURL, "influx-url", "", "InfluxDB URL")
	flag.StringVar(&cfg.InfluxToken, "influx-token", "", "InfluxDB token")
	flag.StringVar(&cfg.InfluxOrg, "influx-org", "", "InfluxDB organization")
	flag.StringVar(&cfg.InfluxBucket, "influx-bucket", "", "InfluxDB bucket")
	flag.Parse()
	return cfg
}

// defaultProfile is a flat 400 W night and a 900 W evening peak.
func defaultProfile() [24]float64 {
	var prof [24]float64
	for i := range prof {
		prof[i] = 400
		if i >= 18 && i < 22 {
			prof[i] = 900
		}
	}
	return prof
}
