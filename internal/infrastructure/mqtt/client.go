package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/twolfekc/monozone-pi/internal/infrastructure/config"
)

// Client is the MonoZone MQTT connection. It wraps paho.mqtt.golang
// with subscription bookkeeping so handlers survive a broker
// reconnect, and announces process liveness on the system status
// topic (retained, with a matching last-will for crash detection).
//
// All methods are safe for concurrent use.
type Client struct {
	paho pahomqtt.Client
	cfg  config.MQTTConfig

	// up mirrors the broker session state. Kept separately from
	// paho's own flag so zero-value and half-constructed clients
	// answer IsConnected without touching a nil session.
	up atomic.Bool

	// mu guards subs, the lifecycle hooks and the logger.
	mu     sync.RWMutex
	subs   map[string]subEntry
	onUp   func()
	onDown func(error)
	log    Logger
}

// Logger is the subset of the logging package the client needs for
// reporting handler failures. A nil logger silences them.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives inbound messages. Paho invokes handlers on
// its own goroutines, so they must not block for long; a returned
// error is logged and does not affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// subEntry remembers enough of a subscription to replay it after the
// broker connection drops and comes back.
type subEntry struct {
	qos     byte
	handler MessageHandler
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{
		cfg:  cfg,
		subs: make(map[string]subEntry),
	}
}

// Connect dials the broker described by cfg and blocks until the
// session is up or the connect timeout passes. The returned client
// has auto-reconnect enabled and has published "online" on
// monozone/system/status.
//
// Returns:
//   - *Client: connected client
//   - error: ErrConnectionFailed when the broker cannot be reached in time
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.brokerUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.brokerDown(err) })

	c.paho = pahomqtt.NewClient(opts)
	token := c.paho.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: no broker response within %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Paho runs the on-connect handler asynchronously, so mark the
	// session up here as well or IsConnected could briefly lie to
	// the caller that just got a nil error back.
	c.up.Store(true)

	return c, nil
}

// brokerUp runs on every established session, initial and reconnect.
func (c *Client) brokerUp() {
	c.up.Store(true)

	c.resubscribe()
	c.announce(statusOnline, "")

	c.mu.RLock()
	hook := c.onUp
	c.mu.RUnlock()
	if hook != nil {
		hook()
	}
}

func (c *Client) brokerDown(err error) {
	c.up.Store(false)

	c.mu.RLock()
	hook := c.onDown
	c.mu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// resubscribe replays the tracked subscriptions against a fresh
// session. Failures are ignored; paho retries the session itself and
// the next brokerUp replays again.
func (c *Client) resubscribe() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for topic, sub := range c.subs {
		c.paho.Subscribe(topic, sub.qos, c.guard(sub.handler))
	}
}

// announce publishes a retained liveness message on the system
// status topic. Reason is empty for "online".
func (c *Client) announce(status, reason string) {
	payload := statusPayload(c.cfg.Broker.ClientID, status, reason)
	c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, payload)
}

// Close announces a graceful shutdown and disconnects. Distinct from
// the last-will message, which the broker only sends when the client
// vanishes without closing.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		payload := statusPayload(c.cfg.Broker.ClientID, statusOffline, reasonShutdown)
		token := c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, payload)
		token.WaitTimeout(publishTimeout)
	}

	c.paho.Disconnect(disconnectQuiesceMS)
	c.up.Store(false)
	return nil
}

// HealthCheck reports whether the broker session is usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known session state.
func (c *Client) IsConnected() bool {
	return c.up.Load() && c.paho != nil && c.paho.IsConnected()
}

// SetOnConnect registers a hook invoked on every established
// session, including reconnects.
func (c *Client) SetOnConnect(hook func()) {
	c.mu.Lock()
	c.onUp = hook
	c.mu.Unlock()
}

// SetOnDisconnect registers a hook invoked when the session drops,
// with the error that killed it.
func (c *Client) SetOnDisconnect(hook func(error)) {
	c.mu.Lock()
	c.onDown = hook
	c.mu.Unlock()
}

// SetLogger routes handler failures to the given logger.
func (c *Client) SetLogger(log Logger) {
	c.mu.Lock()
	c.log = log
	c.mu.Unlock()
}

func (c *Client) logger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.log
}

// guard adapts a MessageHandler to paho's callback shape, containing
// panics and logging handler errors. A panicking handler must not
// take down the paho read loop.
func (c *Client) guard(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if log := c.logger(); log != nil {
					log.Error("mqtt handler panicked", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if log := c.logger(); log != nil {
				log.Warn("mqtt handler failed", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
