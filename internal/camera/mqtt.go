package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/banshee-data/speedgate/internal/monitoring"
	"github.com/banshee-data/speedgate/internal/queue"
	"github.com/banshee-data/speedgate/internal/traffic"
)

// MQTTConfig configures an MQTTBridge.
type MQTTConfig struct {
	BrokerURL    string
	ClientID     string
	Username     string
	Password     string
	TriggerTopic string
	ResultTopic  string
	QoS          byte

	// TriggerCapacity is the trigger subscription buffer.
	TriggerCapacity int
}

// client is the part of mqtt.Client the bridge uses.
type client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// MQTTBridge publishes camera triggers to a broker and feeds camera results
// received from the broker back into the result topic.
type MQTTBridge struct {
	cfg      MQTTConfig
	client   client
	triggers *queue.Topic[traffic.CameraTrigger]
	results  *queue.Topic[traffic.CameraResult]
}

// NewMQTTBridge builds the paho client. It does not connect; Run does.
func NewMQTTBridge(cfg MQTTConfig, triggers *queue.Topic[traffic.CameraTrigger], results *queue.Topic[traffic.CameraResult]) *MQTTBridge {
	if cfg.ClientID == "" {
		cfg.ClientID = "speedgate-" + uuid.NewString()[:8]
	}
	if cfg.TriggerTopic == "" {
		cfg.TriggerTopic = "speedgate/camera/trigger"
	}
	if cfg.ResultTopic == "" {
		cfg.ResultTopic = "speedgate/camera/result"
	}
	if cfg.TriggerCapacity < 1 {
		cfg.TriggerCapacity = DefaultTriggerCapacity
	}
	b := &MQTTBridge{cfg: cfg, triggers: triggers, results: results}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetOrderMatters(false).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(c mqtt.Client) {
		monitoring.Logf("mqtt: connected to %s", cfg.BrokerURL)
		if err := b.subscribe(c); err != nil {
			monitoring.Warnf("mqtt: %v", err)
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		monitoring.Warnf("mqtt: connection lost: %v", err)
	}

	b.client = mqtt.NewClient(opts)
	return b
}

func (b *MQTTBridge) subscribe(c client) error {
	if token := c.Subscribe(b.cfg.ResultTopic, b.cfg.QoS, b.handleResult); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", b.cfg.ResultTopic, token.Error())
	}
	monitoring.Logf("mqtt: subscribed to %s (QoS %d)", b.cfg.ResultTopic, b.cfg.QoS)
	return nil
}

func (b *MQTTBridge) handleResult(_ mqtt.Client, msg mqtt.Message) {
	var res traffic.CameraResult
	if err := json.Unmarshal(msg.Payload(), &res); err != nil {
		monitoring.Warnf("mqtt: invalid camera result on %s: %v", msg.Topic(), err)
		return
	}
	b.results.Publish(res)
}

func (b *MQTTBridge) publishTrigger(trig traffic.CameraTrigger) error {
	payload, err := json.Marshal(trig)
	if err != nil {
		return err
	}
	token := b.client.Publish(b.cfg.TriggerTopic, b.cfg.QoS, false, payload)
	if !token.WaitTimeout(5*time.Second) {
		return fmt.Errorf("publish trigger %d: timed out", trig.ID)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish trigger %d: %w", trig.ID, err)
	}
	return nil
}

// Run connects to the broker, retrying with exponential backoff, and then
// forwards triggers until ctx is done.
func (b *MQTTBridge) Run(ctx context.Context) error {
	id, triggers, err := b.triggers.Subscribe(b.cfg.TriggerCapacity)
	if err != nil {
		return err
	}
	defer b.triggers.Unsubscribe(id)

	if err := b.connect(ctx, time.Second, 30*time.Second); err != nil {
		return err
	}
	defer b.client.Disconnect(250)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case trig, ok := <-triggers:
			if !ok {
				return nil
			}
			if err := b.publishTrigger(trig); err != nil {
				monitoring.Warnf("mqtt: %v", err)
			}
		}
	}
}

func (b *MQTTBridge) connect(ctx context.Context, start, max time.Duration) error {
	backoff := start
	for {
		token := b.client.Connect()
		if token.Wait() && token.Error() == nil {
			return nil
		}
		monitoring.Warnf("mqtt: connect error: %v; retrying in %s", token.Error(), backoff)
		select {
		case <-time.After(backoff):
			if backoff < max {
				backoff *= 2
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
