package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/sweeney/alarm-monitor/internal/store"
)

// DefaultQueueSize is the number of messages kept while the broker is unreachable.
const DefaultQueueSize = 500

// Options configures a RealPublisher.
type Options struct {
	Broker    string
	ClientID  string
	Topics    Topics
	QueueSize int
	Logger    *zap.Logger
}

// RealPublisher publishes to an actual MQTT broker, queueing while disconnected.
type RealPublisher struct {
	client paho.Client
	topics Topics
	logger *zap.Logger

	mu     sync.Mutex
	outbox *outbox
}

// NewRealPublisher creates a publisher for the given broker.
// If the broker is unreachable the publisher is still returned and keeps retrying in the background.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.Broker == "" {
		return nil, errors.New("mqtt: empty broker")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &RealPublisher{
		topics: opts.Topics,
		logger: logger,
		outbox: newOutbox(opts.QueueSize),
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(opts.Topics.System, string(willPayload()), 1, true).
		SetOnConnectHandler(func(paho.Client) { p.flush() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		})

	p.client = paho.NewClient(clientOpts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		logger.Warn("mqtt broker not reachable yet, queueing", zap.String("broker", opts.Broker))
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// Publish sends a transition record to the broker.
func (p *RealPublisher) Publish(r store.Record) error {
	payload, err := FormatPayload(r)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 1 (at-least-once), not retained
	return p.send(message{topic: p.topics.Transitions, payload: payload, qos: 1})
}

// PublishSystem sends a system lifecycle event to the broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.send(message{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) send(msg message) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		first := p.outbox.push(msg)
		p.mu.Unlock()
		if first {
			p.logger.Warn("mqtt outbox full, dropping oldest transitions", zap.Int("capacity", p.outbox.capacity))
		}
		return nil
	}
	return p.publish(msg)
}

func (p *RealPublisher) publish(msg message) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// flush replays queued messages in order after a (re)connect.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	pending := p.outbox.drain()
	p.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	p.logger.Info("mqtt connected, replaying queued messages", zap.Int("count", len(pending)))
	for _, msg := range pending {
		// Publishing from the connect handler must not block on the token.
		p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	}
}

// Queued returns the number of messages waiting for a connection.
func (p *RealPublisher) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outbox.len()
}

// Dropped returns how many queued transitions were discarded because the outbox was full.
func (p *RealPublisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outbox.dropped
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
