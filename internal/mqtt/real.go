package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/sweeney/evse-monitor/internal/logic"
)

// DefaultBufferSize is the number of publishes held while disconnected.
const DefaultBufferSize = 256

// client is the subset of paho.Client used here.
type client interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Disconnect(quiesce uint)
}

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Topics     Topics
	Router     *Router // nil disables subscriptions
	BufferSize int
	Logger     *zap.Logger
}

// RealPublisher publishes to an actual MQTT broker. Publishes made while the
// connection is down are buffered and replayed in order on reconnect.
type RealPublisher struct {
	client client
	topics Topics
	router *Router
	logger *zap.Logger

	mu  sync.Mutex
	buf *backlog[outgoing]
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	p := newPublisher(nil, o)

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "SHUTDOWN", Reason: "MQTT_DISCONNECT"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(p.topics.System, will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn("mqtt connection lost", zap.Error(err))
		})

	c := paho.NewClient(opts)
	p.client = c
	// With connect-retry the token only completes once connected; until
	// then publishes are buffered.
	token := c.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		p.logger.Warn("mqtt broker not reachable yet, buffering", zap.String("broker", o.Broker))
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

func newPublisher(c client, o Options) *RealPublisher {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.Topics == (Topics{}) {
		o.Topics = NewTopics(DefaultPrefix)
	}
	return &RealPublisher{
		client: c,
		topics: o.Topics,
		router: o.Router,
		logger: o.Logger.Named("mqtt"),
		buf:    newBacklog[outgoing](o.BufferSize),
	}
}

// onConnect resubscribes and replays buffered messages. Holding mu while
// replaying keeps newer publishes behind the backlog.
func (p *RealPublisher) onConnect() {
	if p.router != nil {
		for _, topic := range p.router.Subscriptions() {
			p.client.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
				p.router.Handle(m.Topic(), m.Payload())
			})
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	pending := p.buf.take()
	for _, msg := range pending {
		p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	}
	if len(pending) > 0 {
		p.logger.Info("replayed buffered messages", zap.Int("count", len(pending)))
	}
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	if !p.client.IsConnectionOpen() {
		if p.buf.put(outgoing{topic: topic, payload: payload, qos: qos, retained: retained}) {
			p.logger.Warn("mqtt buffer full, dropping oldest", zap.Int("capacity", p.buf.cap()))
		}
		p.mu.Unlock()
		return nil
	}
	token := p.client.Publish(topic, qos, retained, payload)
	p.mu.Unlock()

	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Publish sends a transition event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 1: faults must not be lost
	return p.publish(p.topics.Events, 1, false, payload)
}

// PublishSelfTest sends a self-test report, retained so the last result is
// visible to late subscribers.
func (p *RealPublisher) PublishSelfTest(event SelfTestEvent) error {
	payload, err := FormatSelfTestPayload(event)
	if err != nil {
		return fmt.Errorf("format selftest payload: %w", err)
	}
	return p.publish(p.topics.SelfTest, 1, true, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(p.topics.System, 1, event.Retained, payload)
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
