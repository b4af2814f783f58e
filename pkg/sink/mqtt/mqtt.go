// Package mqtt publishes monitor events to an MQTT broker.
//
// Each event is published as JSON on <prefix>/<process id>/<event kind>.
// The sink also maintains a retained <prefix>/status topic that reads
// "online" while connected and "offline" after a clean or unclean exit.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/modoterra/procwatch/pkg/bus"
	"github.com/modoterra/procwatch/pkg/core"
)

const (
	defaultTopicPrefix    = "procwatch"
	defaultClientID       = "procwatch"
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	disconnectQuiesce     = 250 // milliseconds
	maxQoS                = 2
)

var (
	// ErrConnectionFailed wraps broker connection failures.
	ErrConnectionFailed = errors.New("mqtt connection failed")
	// ErrInvalidQoS is returned for QoS levels above 2.
	ErrInvalidQoS = errors.New("invalid qos")
)

// Config configures the sink.
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
	Username    string
	Password    string
}

// publisher is the subset of pahomqtt.Client the sink publishes through.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// Sink publishes bus events to MQTT.
type Sink struct {
	client pahomqtt.Client
	pub    publisher
	prefix string
	qos    byte
	logger *slog.Logger

	b   *bus.Bus
	sub *bus.Subscription
}

// Connect dials the broker and returns a ready sink.
func Connect(cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.QoS > maxQoS {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQoS, cfg.QoS)
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = withDefaults(cfg)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(defaultConnectTimeout).
		SetWill(StatusTopic(cfg.TopicPrefix), "offline", 1, true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "broker", cfg.Broker, "err", err)
	})
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		c.Publish(StatusTopic(cfg.TopicPrefix), 1, true, "online")
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	logger.Info("mqtt connected", "broker", cfg.Broker, "prefix", cfg.TopicPrefix)

	s := newSink(client, cfg, logger)
	s.client = client
	return s, nil
}

func newSink(pub publisher, cfg Config, logger *slog.Logger) *Sink {
	cfg = withDefaults(cfg)
	return &Sink{pub: pub, prefix: cfg.TopicPrefix, qos: cfg.QoS, logger: logger}
}

func withDefaults(cfg Config) Config {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = defaultTopicPrefix
	}
	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID
	}
	return cfg
}

// Topic returns the topic ev is published on.
func Topic(prefix string, ev core.Event) string {
	return prefix + "/" + ev.Process() + "/" + string(ev.Kind())
}

// StatusTopic returns the retained online/offline topic.
func StatusTopic(prefix string) string {
	return prefix + "/status"
}

// Attach subscribes the sink to every event on b.
func (s *Sink) Attach(b *bus.Bus) {
	s.b = b
	s.sub = b.SubscribeAll(s.Handle)
}

// Handle publishes ev. QoS 0 publishes are fire and forget; higher levels
// are confirmed off the caller's goroutine.
func (s *Sink) Handle(ev core.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("encode event", "kind", ev.Kind(), "err", err)
		return
	}
	topic := Topic(s.prefix, ev)
	token := s.pub.Publish(topic, s.qos, false, payload)
	if s.qos == 0 {
		return
	}
	go func() {
		if !token.WaitTimeout(defaultPublishTimeout) {
			s.logger.Warn("mqtt publish timed out", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			s.logger.Warn("mqtt publish failed", "topic", topic, "err", err)
		}
	}()
}

// Close detaches from the bus, marks the sink offline and disconnects.
func (s *Sink) Close() error {
	if s.b != nil {
		s.b.Unsubscribe(s.sub)
	}
	if s.client == nil {
		return nil
	}
	if s.client.IsConnected() {
		token := s.client.Publish(StatusTopic(s.prefix), 1, true, "offline")
		token.WaitTimeout(defaultPublishTimeout)
	}
	s.client.Disconnect(disconnectQuiesce)
	return nil
}
