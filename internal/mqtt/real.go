package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/sweeney/filament-sensor/internal/logging"
)

// outboxLimit bounds the messages kept while the broker is unreachable.
const outboxLimit = 256

// RealPublisher publishes to an actual MQTT broker. Messages published while
// disconnected are queued and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topic  string
	log    *logrus.Entry

	mu        sync.Mutex
	out       *outbox
	handler   func(Command)
	connected bool
	lost      bool
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(broker string) (*RealPublisher, error) {
	p := &RealPublisher{
		topic: Topic,
		log:   logging.NewLogger("mqtt"),
		out:   newOutbox(outboxLimit),
	}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "LWT"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("filament-sensor").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	p.connected = true
	reconnected := p.lost
	p.lost = false
	pending, dropped := p.out.take()
	handler := p.handler
	p.mu.Unlock()

	if handler != nil {
		if err := p.subscribe(handler); err != nil {
			p.log.Warnf("mqtt: resubscribe: %v", err)
		}
	}
	if reconnected {
		if payload, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"}); err == nil {
			c.Publish(TopicSystem, 1, true, payload)
		}
	}
	if dropped > 0 {
		p.log.Warnf("mqtt: %d messages dropped while disconnected", dropped)
	}
	if len(pending) > 0 {
		p.log.Infof("mqtt: replaying %d queued messages", len(pending))
	}
	for _, msg := range pending {
		c.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.log.Warnf("mqtt: connection lost: %v", err)
	p.mu.Lock()
	p.connected = false
	p.lost = true
	p.mu.Unlock()
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	if !p.connected {
		p.out.push(message{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.mu.Lock()
		p.out.push(message{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Publish sends a sensor state change to the MQTT broker.
func (p *RealPublisher) Publish(event SensorEvent) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.publish(p.topic, 0, false, payload)
}

// PublishGcode sends an injected command to the MQTT broker.
func (p *RealPublisher) PublishGcode(event GcodeEvent) error {
	payload, err := FormatGcodePayload(event)
	if err != nil {
		return fmt.Errorf("format gcode payload: %w", err)
	}

	// QoS 1 (at-least-once), a lost M600 means a failed print
	return p.publish(TopicGcode, 1, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	if err := p.publish(TopicSystem, 1, event.Retained, payload); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// Subscribe registers handler for messages on TopicCommands. The
// subscription is renewed after every reconnect.
func (p *RealPublisher) Subscribe(handler func(Command)) error {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
	return p.subscribe(handler)
}

func (p *RealPublisher) subscribe(handler func(Command)) error {
	token := p.client.Subscribe(TopicCommands, 1, func(_ paho.Client, msg paho.Message) {
		cmd, err := ParseCommand(msg.Payload())
		if err != nil {
			p.log.Warnf("mqtt: ignoring command: %v", err)
			return
		}
		handler(cmd)
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
