// Package app wires the configuration into a running home energy manager.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/hems/api/schedule"
	"github.com/kilianp07/hems/config"
	"github.com/kilianp07/hems/core/contract"
	"github.com/kilianp07/hems/core/controller"
	"github.com/kilianp07/hems/core/decisionlog"
	coremetrics "github.com/kilianp07/hems/core/metrics"
	coremon "github.com/kilianp07/hems/core/monitoring"
	"github.com/kilianp07/hems/core/network"
	"github.com/kilianp07/hems/core/notification"
	"github.com/kilianp07/hems/core/strategy"
	"github.com/kilianp07/hems/infra/fake"
	"github.com/kilianp07/hems/infra/logger"
	"github.com/kilianp07/hems/infra/metrics"
	"github.com/kilianp07/hems/infra/monitoring"
	"github.com/kilianp07/hems/infra/mqtt"
	"github.com/kilianp07/hems/internal/eventbus"
	"github.com/kilianp07/hems/rte"
)

// Service owns every long-running part of the manager.
type Service struct {
	cfg        *config.Config
	log        logger.Logger
	Network    *network.Network
	Controller *controller.Controller
	API        *schedule.Server
	Warnings   []error

	updater   network.Updater
	sink      coremetrics.MetricsSink
	decisions decisionlog.Store
	bus       *eventbus.TypedBus[network.Snapshot]
	hub       *schedule.Hub
	tempoMock *rte.ServerMock
	cancel    context.CancelFunc
}

// New builds the service. Nodes that fail to load are skipped and reported
// in Warnings; every other error is fatal.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	if err := logger.Configure(logger.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	s := &Service{cfg: cfg, log: logger.New("service"), bus: eventbus.NewTyped[network.Snapshot]()}

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	if s.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if s.decisions, err = decisionlog.New(cfg.DecisionLog); err != nil {
		return nil, fmt.Errorf("decision log: %w", err)
	}
	if s.updater, err = newUpdater(cfg); err != nil {
		s.Close()
		return nil, err
	}
	colors, err := rte.NewProvider(cfg.Tempo)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("tempo: %w", err)
	}
	s.tempoMock, _ = colors.(*rte.ServerMock)

	netCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	opts := []network.Option{network.WithLogger(logger.New("network"))}
	if len(cfg.Strategies) > 0 {
		opts = append(opts, network.WithDefaultStrategy(strategy.ConfiguredID(cfg.Strategies[0])))
	}
	s.Network = network.New(netCtx, s.updater, opts...)
	var notifier controller.Notifier
	if !cfg.Notification.Direct {
		mgr := notification.New(s.updater, notification.WithLogger(logger.New("notification")))
		s.Network.SetNotifier(mgr)
		notifier = mgr
	}

	contracts := contract.Builder{
		Registry: contract.NewRegistry(contract.Deps{Provider: s.updater, Colors: colors, Logger: logger.New("contract")}),
		Defaults: cfg.Contract.Defaults,
	}
	nodes := network.Builder{Provider: s.updater, Defaults: cfg.Network.Defaults, Contract: contracts.Build}
	s.Warnings = nodes.Build(s.Network, cfg.Network.Nodes)

	strategies, err := strategy.Build(strategy.NewRegistry(strategy.Deps{
		Network:   s.Network,
		Logger:    logger.New("strategy"),
		Decisions: s.decisions,
		Metrics:   s.sink,
	}, nil), cfg.Strategies)
	if err != nil {
		s.Close()
		return nil, &config.ConfigurationError{Section: "strategies", Err: err}
	}

	s.Controller, err = controller.New(cfg.Server.Controller(), s.Network, strategies,
		controller.WithLogger(logger.New("controller")),
		controller.WithMetrics(s.sink),
		controller.WithNotifier(notifier),
		controller.WithBus(s.bus),
	)
	if err != nil {
		s.Close()
		return nil, err
	}
	if cfg.API.Enabled {
		s.hub = schedule.NewHub()
		s.API = schedule.New(cfg.API, s.Network, s.Controller, s.decisions, s.hub)
	}
	s.log.Infof("home loaded: %d nodes, %d strategies, %d warnings", len(s.Network.Nodes()), len(strategies), len(s.Warnings))
	return s, nil
}

func newUpdater(cfg *config.Config) (network.Updater, error) {
	switch cfg.Network.Driver {
	case config.DriverMQTT:
		u, err := mqtt.NewUpdater(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("mqtt: %w", err)
		}
		return u, nil
	case config.DriverFake:
		return fake.New(), nil
	}
	return nil, &config.ConfigurationError{Section: "network", Err: fmt.Errorf("unknown driver %q", cfg.Network.Driver)}
}

func (s *Service) hasPromSink() bool {
	for _, c := range s.cfg.Metrics.Sinks {
		if c.Type == "prometheus" {
			return true
		}
	}
	return false
}

// Run blocks until ctx is canceled or a component fails.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Controller.Run(ctx) })
	metrics.StartSnapshotCollector(ctx, s.bus, s.sink)
	if s.hasPromSink() && s.cfg.Metrics.Addr != "" {
		g.Go(func() error { return metrics.StartPromServer(ctx, s.cfg.Metrics.Addr) })
	}
	if s.API != nil {
		g.Go(func() error {
			s.hub.Run(ctx, s.bus)
			return nil
		})
		g.Go(func() error { return s.API.Start(ctx) })
	}
	if s.tempoMock != nil {
		g.Go(func() error { return s.tempoMock.Start(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the resources held by the service.
func (s *Service) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.bus.Close()
	var errs []error
	if s.decisions != nil {
		errs = append(errs, s.decisions.Close())
	}
	if u, ok := s.updater.(*mqtt.Updater); ok {
		u.Disconnect()
	}
	closeSink(s.sink)
	coremon.Flush(2 * time.Second)
	errs = append(errs, logger.Close())
	return errors.Join(errs...)
}

func closeSink(sink coremetrics.MetricsSink) {
	switch v := sink.(type) {
	case *coremetrics.MultiSink:
		for _, inner := range v.Sinks {
			closeSink(inner)
		}
	case interface{ Close() }:
		v.Close()
	}
}
