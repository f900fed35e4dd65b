// Package mqtt bridges the network to a home-automation system over MQTT.
// Entity values arrive on state topics; switch orders, raw values and
// notifications are published on command, set and notify topics.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/hems/core/feeder"
	corelogger "github.com/kilianp07/hems/core/logger"
	coremon "github.com/kilianp07/hems/core/monitoring"
	"github.com/kilianp07/hems/core/network"
	"github.com/kilianp07/hems/infra/logger"
)

var (
	// ErrAckTimeout is returned when no acknowledgment is received before the timeout.
	ErrAckTimeout = errors.New("timeout waiting for ack")
	// ErrNotConnected is returned by Refresh while the broker is unreachable.
	ErrNotConnected = errors.New("mqtt: not connected")
	// ErrNoValue is returned for an entity nothing was published for yet.
	ErrNoValue = errors.New("mqtt: no value for entity")
)

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Updater implements network.Updater on top of an MQTT broker.
type Updater struct {
	cfg    Config
	cli    pahoClient
	logger corelogger.Logger

	mu       sync.Mutex
	incoming map[string]any
	values   map[string]any
	kinds    map[string]feeder.Kind
	rev      uint64
	ackChans map[string]chan bool
}

// Command is the payload of a switch order.
type Command struct {
	CommandID string `json:"command_id"`
	NodeID    string `json:"node_id"`
	On        bool   `json:"on"`
	Timestamp int64  `json:"timestamp"`
}

// NewUpdater connects to the broker and subscribes to the state and ack
// topics.
func NewUpdater(cfg Config) (*Updater, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_updater")
	u := &Updater{
		cfg:      cfg,
		logger:   log,
		incoming: map[string]any{},
		values:   map[string]any{},
		kinds:    map[string]feeder.Kind{},
		rev:      1,
		ackChans: map[string]chan bool{},
	}
	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		u.subscribe(c)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	u.cli = c
	if token := c.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, token.Error()
	}
	return u, nil
}

type subscriber interface {
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

func (u *Updater) subscribe(c subscriber) {
	topic := u.cfg.StatePrefix + "#"
	if token := c.Subscribe(topic, u.cfg.qos("state"), u.onState); token.Wait() && token.Error() != nil {
		u.logger.Errorf("subscribe %s: %v", topic, token.Error())
	}
	if u.cfg.AckTopic == "" {
		return
	}
	if token := c.Subscribe(u.cfg.AckTopic, u.cfg.qos("ack"), u.onAck); token.Wait() && token.Error() != nil {
		u.logger.Errorf("subscribe %s: %v", u.cfg.AckTopic, token.Error())
	}
}

// decodePayload keeps JSON scalars typed and anything else as a string.
func decodePayload(p []byte) any {
	s := strings.TrimSpace(string(p))
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		switch v.(type) {
		case float64, bool, string:
			return v
		}
	}
	return s
}

func (u *Updater) onState(_ paho.Client, msg paho.Message) {
	id := strings.TrimPrefix(msg.Topic(), u.cfg.StatePrefix)
	if id == "" {
		return
	}
	v := decodePayload(msg.Payload())
	u.mu.Lock()
	u.incoming[id] = v
	u.mu.Unlock()
}

func (u *Updater) onAck(_ paho.Client, msg paho.Message) {
	var m struct {
		CommandID string `json:"command_id"`
		On        bool   `json:"on"`
	}
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		u.logger.Errorf("failed to decode ack: %v", err)
		return
	}
	u.mu.Lock()
	ch, ok := u.ackChans[m.CommandID]
	u.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- m.On:
	default:
	}
	u.logger.Debugf("received ack %s", m.CommandID)
}

// RegisterEntity records the kind expected for id.
func (u *Updater) RegisterEntity(id string, kind feeder.Kind) {
	u.mu.Lock()
	u.kinds[id] = kind
	u.mu.Unlock()
}

// Revision increases on every successful Refresh.
func (u *Updater) Revision() uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rev
}

// EntityValue returns the value seen at the last Refresh.
func (u *Updater) EntityValue(id string) (any, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	v, ok := u.values[id]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoValue, id)
	}
	return v, nil
}

// Refresh freezes the values received since the last call. Registered
// entities still without a value are logged once per refresh.
func (u *Updater) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !u.cli.IsConnected() {
		return ErrNotConnected
	}
	u.mu.Lock()
	for k, v := range u.incoming {
		u.values[k] = v
	}
	var missing []string
	for id := range u.kinds {
		if _, ok := u.values[id]; !ok {
			missing = append(missing, id)
		}
	}
	u.rev++
	u.mu.Unlock()
	if len(missing) > 0 {
		u.logger.Debugw("entities without value", map[string]any{"entities": missing})
	}
	return nil
}

// SwitchOn publishes an order for node. Without an ack topic the requested
// state is assumed reached; otherwise the acknowledged state is returned.
func (u *Updater) SwitchOn(node *network.Switch, on bool) (bool, error) {
	cmd := Command{CommandID: uuid.NewString(), NodeID: node.ID(), On: on, Timestamp: time.Now().UnixMilli()}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return node.IsOn(), err
	}
	var ch chan bool
	if u.cfg.AckTopic != "" {
		ch = make(chan bool, 1)
		u.mu.Lock()
		u.ackChans[cmd.CommandID] = ch
		u.mu.Unlock()
		defer func() {
			u.mu.Lock()
			delete(u.ackChans, cmd.CommandID)
			u.mu.Unlock()
		}()
	}
	topic := u.cfg.CommandPrefix + node.ID()
	if err := u.publish(topic, u.cfg.qos("command"), payload, map[string]string{"node_id": node.ID()}); err != nil {
		return node.IsOn(), err
	}
	if ch == nil {
		return on, nil
	}
	timer := time.NewTimer(u.cfg.ackTimeout())
	defer timer.Stop()
	select {
	case actual := <-ch:
		return actual, nil
	case <-timer.C:
		return node.IsOn(), fmt.Errorf("%s: %w", node.ID(), ErrAckTimeout)
	}
}

// SetValue publishes a raw value for entity.
func (u *Updater) SetValue(entity string, value any) error {
	var payload string
	switch v := value.(type) {
	case string:
		payload = v
	case float64:
		payload = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		payload = fmt.Sprint(v)
	}
	return u.publish(u.cfg.SetPrefix+entity, u.cfg.qos("command"), []byte(payload), map[string]string{"entity": entity})
}

// Notify publishes a user-visible message.
func (u *Updater) Notify(message string) error {
	return u.publish(u.cfg.NotifyTopic, u.cfg.qos("notify"), []byte(message), nil)
}

// publish retries with a doubling backoff and reports the final failure.
func (u *Updater) publish(topic string, qos byte, payload []byte, tags map[string]string) error {
	backoff := time.Duration(u.cfg.BackoffMS) * time.Millisecond
	var publishErr error
	for attempt := 0; attempt <= u.cfg.MaxRetries; attempt++ {
		token := u.cli.Publish(topic, qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			u.logger.Debugf("published to %s", topic)
			return nil
		}
		u.logger.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, publishErr)
		if attempt < u.cfg.MaxRetries {
			time.Sleep(backoff * time.Duration(1<<attempt))
		}
	}
	t := map[string]string{"module": "mqtt", "topic": topic}
	for k, v := range tags {
		t[k] = v
	}
	coremon.CaptureException(publishErr, t)
	return publishErr
}

// Disconnect gracefully closes the MQTT connection.
func (u *Updater) Disconnect() {
	if u.cli != nil && u.cli.IsConnected() {
		u.cli.Disconnect(250)
	}
}

var _ network.Updater = (*Updater)(nil)
