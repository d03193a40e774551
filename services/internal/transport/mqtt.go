// Package transport wraps the MQTT client used to reach both the cloud broker
// and the device-local broker. Reconnects and QoS handling stay inside paho;
// this package only exposes connect, publish and subscribe.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var (
	// ErrNotConnected is returned by Publish while the broker link is down.
	ErrNotConnected = errors.New("mqtt client not connected")
	// ErrTimeout is returned when the broker does not acknowledge in time.
	ErrTimeout = errors.New("mqtt operation timed out")
)

// Handler receives the raw payload of every message on a subscribed topic.
// Handlers run on the client's delivery goroutine, in arrival order, and
// must not block.
type Handler func(payload []byte)

// Client is a connected MQTT session.
type Client struct {
	opts   Options
	client mqtt.Client
	log    *slog.Logger

	mu        sync.Mutex
	subs      map[string]Handler
	connected bool
}

// New prepares a client; nothing is dialled until Connect.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.BrokerURL == "" {
		return nil, errors.New("mqtt broker url is required")
	}
	tlsCfg, err := NewTLSConfig(opts.TLS)
	if err != nil {
		return nil, err
	}

	c := &Client{
		opts: opts,
		log:  logger.With("broker", opts.BrokerURL, "client_id", opts.ClientID),
		subs: make(map[string]Handler),
	}

	mo := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetConnectTimeout(opts.ConnectTimeout).
		SetKeepAlive(opts.KeepAlive).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)
	if opts.Username != "" {
		mo.SetUsername(opts.Username)
		mo.SetPassword(opts.Password)
	}
	if tlsCfg != nil {
		mo.SetTLSConfig(tlsCfg)
	}

	c.client = mqtt.NewClient(mo)
	return c, nil
}

// Connect dials the broker and waits for the CONNACK.
func (c *Client) Connect(ctx context.Context) error {
	c.log.Info("connecting to broker")
	if err := c.wait(ctx, c.client.Connect()); err != nil {
		return fmt.Errorf("connect %s: %w", c.opts.BrokerURL, err)
	}
	c.log.Info("connected")
	return nil
}

// Disconnect closes the session, giving in-flight work a short grace period.
func (c *Client) Disconnect() {
	c.log.Info("disconnecting")
	c.client.Disconnect(250)
}

// Publish hands payload to the client and returns without waiting for the
// broker acknowledgement; delivery failures are only logged.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.opts.QoS, false, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			c.log.Warn("publish failed", "topic", topic, "error", err)
		}
	}()
	return nil
}

// Subscribe registers handler for topic and waits for the SUBACK. The
// subscription is renewed automatically after a reconnect.
func (c *Client) Subscribe(ctx context.Context, topic string, handler Handler) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	c.log.Info("subscribing", "topic", topic)
	token := c.client.Subscribe(topic, c.opts.QoS, wrap(handler))
	if err := c.wait(ctx, token); err != nil {
		c.mu.Lock()
		delete(c.subs, topic)
		c.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	if st, ok := token.(*mqtt.SubscribeToken); ok {
		c.log.Info("subscribed", "topic", topic, "granted_qos", st.Result()[topic])
	}
	return nil
}

// onConnect renews subscriptions after a reconnect. The first connect is
// skipped since Subscribe registers its own topics.
func (c *Client) onConnect(client mqtt.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		c.connected = true
		return
	}
	for topic, handler := range c.subs {
		token := client.Subscribe(topic, c.opts.QoS, wrap(handler))
		go func(topic string) {
			<-token.Done()
			if err := token.Error(); err != nil {
				c.log.Error("resubscribe failed", "topic", topic, "error", err)
				return
			}
			c.log.Info("resubscribed", "topic", topic)
		}(topic)
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.log.Warn("connection lost", "error", err)
}

func (c *Client) wait(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(c.opts.OperationTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}

func wrap(handler Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	}
}
