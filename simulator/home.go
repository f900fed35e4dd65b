package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	coremetrics "github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/infra/fake"
	"github.com/kilianp07/hems/infra/mqtt"
)

// Entities published besides the per-load ones.
const (
	GridEntity         = "grid_power"
	SolarEntity        = "solar_power"
	BatteryLevelEntity = "battery_level"
	BatteryPowerEntity = "battery_power"
)

type load struct {
	def LoadDef
	on  bool
}

type pending struct {
	commandID string
	on        bool
}

// SimulatedHome plays the home-automation side of the MQTT bridge: it
// publishes entity values and executes switch commands.
type SimulatedHome struct {
	Config    Config
	Profile   [24]float64
	SolarPeak float64
	Battery   *Battery
	Strategy  AckStrategy
	Metrics   coremetrics.MetricsSink

	mu     sync.Mutex
	loads  map[string]*load
	order  []string
	client publisher
	ackCh  chan pending
}

// NewSimulatedHome creates the home described by def.
func NewSimulatedHome(cfg Config, def HomeDef, profile [24]float64, strat AckStrategy) *SimulatedHome {
	h := &SimulatedHome{
		Config:    cfg,
		Profile:   profile,
		SolarPeak: def.SolarPeak,
		Strategy:  strat,
		Metrics:   coremetrics.NopSink{},
		loads:     map[string]*load{},
		ackCh:     make(chan pending, 50),
	}
	for _, l := range def.Loads {
		h.loads[l.ID] = &load{def: l, on: l.On}
		h.order = append(h.order, l.ID)
	}
	if b := def.Battery; b != nil {
		h.Battery = &Battery{CapacityWh: b.CapacityWh, Level: b.Level, MaxIn: b.MaxIn, MaxOut: b.MaxOut}
	}
	return h
}

func newMQTTClient(broker, clientID string) (paho.Client, error) {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts.AutoReconnect = true
	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return cli, nil
}

// Run connects to the broker, listens for commands and publishes the state
// every Interval until ctx is done.
func (h *SimulatedHome) Run(ctx context.Context) error {
	cli, err := newMQTTClient(h.Config.Broker, "hems-sim")
	if err != nil {
		return err
	}
	h.client = cli
	for i := 0; i < 5; i++ {
		go h.worker(ctx)
	}
	topic := h.Config.CommandPrefix + "#"
	if token := cli.Subscribe(topic, 0, h.onCommand); token.Wait() && token.Error() != nil {
		cli.Disconnect(250)
		return token.Error()
	}
	t := time.NewTicker(h.Config.Interval)
	defer t.Stop()
	last := time.Now()
	h.publishState(h.step(last, 0))
	for {
		select {
		case <-ctx.Done():
			cli.Disconnect(250)
			return nil
		case now := <-t.C:
			h.publishState(h.step(now, now.Sub(last)))
			last = now
		}
	}
}

func (h *SimulatedHome) onCommand(_ paho.Client, msg paho.Message) {
	var cmd mqtt.Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		log.Printf("decode command: %v", err)
		return
	}
	if cmd.NodeID == "" {
		cmd.NodeID = strings.TrimPrefix(msg.Topic(), h.Config.CommandPrefix)
	}
	h.mu.Lock()
	l, ok := h.loads[cmd.NodeID]
	if ok {
		l.on = cmd.On
	}
	h.mu.Unlock()
	if !ok {
		log.Printf("command for unknown load %s", cmd.NodeID)
		return
	}
	log.Printf("%s switched %s", cmd.NodeID, onOff(cmd.On))
	if rec, ok := h.Metrics.(coremetrics.SwitchRecorder); ok {
		power := 0.0
		if cmd.On {
			power = l.def.MaxPower
		}
		_ = rec.RecordSwitch(coremetrics.SwitchEvent{
			Node: cmd.NodeID, Strategy: "simulator", Requested: cmd.On, Actual: cmd.On, Power: power, Time: time.Now(),
		})
	}
	select {
	case h.ackCh <- pending{commandID: cmd.CommandID, on: cmd.On}:
	default:
		log.Printf("ack queue full, dropping command %s", cmd.CommandID)
	}
}

func (h *SimulatedHome) worker(ctx context.Context) {
	for {
		select {
		case p := <-h.ackCh:
			h.Strategy.Ack(ctx, h.client, h.Config.AckTopic, p.commandID, p.on)
		case <-ctx.Done():
			return
		}
	}
}

// solar follows a sine bell between 6h and 20h.
func (h *SimulatedHome) solar(now time.Time) float64 {
	hour := float64(now.Hour()) + float64(now.Minute())/60
	if hour <= 6 || hour >= 20 {
		return 0
	}
	return math.Round(h.SolarPeak * math.Sin(math.Pi*(hour-6)/14))
}

// step advances the home by dt and returns the entity values at now.
func (h *SimulatedHome) step(now time.Time, dt time.Duration) map[string]any {
	values := map[string]any{}
	net := h.Profile[now.Hour()]
	h.mu.Lock()
	for _, id := range h.order {
		l := h.loads[id]
		power := 0.0
		if l.on {
			power = l.def.MaxPower
		}
		net += power
		values[fake.StateEntity(id)] = l.on
		values[fake.PowerEntity(id)] = power
	}
	h.mu.Unlock()
	if h.SolarPeak > 0 {
		s := h.solar(now)
		net -= s
		values[SolarEntity] = s
	}
	if h.Battery != nil {
		// charge from surplus, discharge to cover the import
		applied := h.Battery.ApplyPower(-net, dt)
		net += applied
		values[BatteryPowerEntity] = applied
		values[BatteryLevelEntity] = math.Round(h.Battery.Snapshot()*10) / 10
	}
	values[GridEntity] = net
	return values
}

func (h *SimulatedHome) publishState(values map[string]any) {
	for id, v := range values {
		payload, err := json.Marshal(v)
		if err != nil {
			log.Printf("marshal %s: %v", id, err)
			continue
		}
		token := h.client.Publish(h.Config.StatePrefix+id, 0, true, payload)
		if !token.WaitTimeout(5 * time.Second) {
			log.Printf("publish timeout for %s", id)
			continue
		}
		if err := token.Error(); err != nil {
			log.Printf("publish %s: %v", id, err)
		}
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// LoadProfile reads a hourly base load profile, in W, from JSON.
func LoadProfile(data []byte) ([24]float64, error) {
	var m map[string]float64
	var prof [24]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return prof, err
	}
	for h, v := range m {
		var hour int
		if _, err := fmt.Sscanf(h, "%d", &hour); err != nil {
			continue
		}
		if hour >= 0 && hour < 24 {
			prof[hour] = v
		}
	}
	return prof, nil
}
