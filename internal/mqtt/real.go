package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	appLog "calpresence/internal/log"
	"calpresence/internal/model"
)

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client paho.Client
	prefix string
}

// NewRealPublisher creates a publisher connected to the configured broker.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	clientID := o.ClientID
	if clientID == "" {
		clientID = "calpresence"
	}
	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) {
			appLog.Info("mqtt connected", "broker", o.Broker)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			appLog.Warn("mqtt connection lost", "broker", o.Broker, "error", err.Error())
		})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &RealPublisher{client: client, prefix: o.TopicPrefix}, nil
}

// PublishPresence sends the reading retained, so late subscribers see the
// current state.
func (p *RealPublisher) PublishPresence(state model.PresenceState) error {
	payload, err := FormatPayload(state)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 1 (at-least-once), retained
	token := p.client.Publish(Topic(p.prefix, state.Device), 1, true, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// IsConnected reports the client's connection state.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
