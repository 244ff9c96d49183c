package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/twolfekc/monozone-pi/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "monozone-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// stubMessage satisfies paho's Message interface for handler tests.
type stubMessage struct {
	topic   string
	payload []byte
}

func (m stubMessage) Duplicate() bool   { return false }
func (m stubMessage) Qos() byte         { return 1 }
func (m stubMessage) Retained() bool    { return false }
func (m stubMessage) Topic() string     { return m.topic }
func (m stubMessage) MessageID() uint16 { return 0 }
func (m stubMessage) Payload() []byte   { return m.payload }
func (m stubMessage) Ack()              {}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

// ─── Options ───

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("broker count = %d, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://127.0.0.1:1883" {
		t.Errorf("broker URL = %q, want tcp://127.0.0.1:1883", got)
	}
	if opts.ClientID != "monozone-test" {
		t.Errorf("client ID = %q, want monozone-test", opts.ClientID)
	}
	if !opts.CleanSession {
		t.Error("clean session not enabled")
	}
	if !opts.AutoReconnect {
		t.Error("auto-reconnect not enabled")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)
	if got := opts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("broker scheme = %q, want ssl", got)
	}
	if opts.TLSConfig == nil {
		t.Fatal("TLS config not set")
	}
}

func TestBuildClientOptions_LastWill(t *testing.T) {
	opts := buildClientOptions(testConfig())

	if opts.WillTopic != "monozone/system/status" {
		t.Errorf("will topic = %q, want monozone/system/status", opts.WillTopic)
	}
	if !opts.WillRetained {
		t.Error("will message not retained")
	}

	var msg statusMessage
	if err := json.Unmarshal(opts.WillPayload, &msg); err != nil {
		t.Fatalf("unmarshalling will payload: %v", err)
	}
	if msg.Status != statusOffline {
		t.Errorf("will status = %q, want %q", msg.Status, statusOffline)
	}
	if msg.Reason != reasonCrash {
		t.Errorf("will reason = %q, want %q", msg.Reason, reasonCrash)
	}
}

func TestStatusPayload(t *testing.T) {
	raw := statusPayload("monozone-pi", statusOnline, "")

	var msg statusMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshalling status payload: %v", err)
	}
	if msg.Status != statusOnline {
		t.Errorf("status = %q, want %q", msg.Status, statusOnline)
	}
	if msg.ClientID != "monozone-pi" {
		t.Errorf("client_id = %q, want monozone-pi", msg.ClientID)
	}
	if msg.Timestamp == "" {
		t.Error("timestamp missing")
	}

	// An online announcement carries no reason field at all.
	if strings.Contains(string(raw), "reason") {
		t.Errorf("online payload carries a reason: %s", raw)
	}
}

// ─── Validation ───

func TestPublish_Validation(t *testing.T) {
	c := newClient(testConfig())

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"qos too high", "monozone/state/zone/1", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "monozone/state/zone/1", make([]byte, maxPayload+1), 1, ErrPublishFailed},
		{"not connected", "monozone/state/zone/1", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := newClient(testConfig())
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{"empty topic", "", 1, handler, ErrInvalidTopic},
		{"qos too high", "monozone/command/zone/+", 3, handler, ErrInvalidQoS},
		{"nil handler", "monozone/command/zone/+", 1, nil, ErrSubscribeFailed},
		{"not connected", "monozone/command/zone/+", 1, handler, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestUnsubscribe_Validation(t *testing.T) {
	c := newClient(testConfig())

	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Unsubscribe("monozone/command/zone/+"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

// ─── Lifecycle ───

func TestZeroValueClient(t *testing.T) {
	var c Client

	if c.IsConnected() {
		t.Error("IsConnected() = true on zero-value client")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on zero-value client = %v, want nil", err)
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := newClient(testConfig())
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

// ─── Subscription bookkeeping ───

func TestSubscriptionBookkeeping(t *testing.T) {
	c := newClient(testConfig())
	handler := func(string, []byte) error { return nil }

	if c.SubscriptionCount() != 0 {
		t.Fatalf("SubscriptionCount() = %d on fresh client, want 0", c.SubscriptionCount())
	}

	topics := []string{
		Topics{}.AllZoneCommands(),
		Topics{}.SystemStatus(),
	}
	for _, topic := range topics {
		c.remember(topic, 1, handler)
	}

	if c.SubscriptionCount() != 2 {
		t.Errorf("SubscriptionCount() = %d, want 2", c.SubscriptionCount())
	}
	for _, topic := range topics {
		if !c.HasSubscription(topic) {
			t.Errorf("HasSubscription(%s) = false, want true", topic)
		}
	}

	c.forget(topics[0])
	if c.HasSubscription(topics[0]) {
		t.Errorf("HasSubscription(%s) = true after forget", topics[0])
	}
	if c.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d after forget, want 1", c.SubscriptionCount())
	}
}

// ─── Handler guard ───

func TestGuard_LogsHandlerError(t *testing.T) {
	c := newClient(testConfig())
	log := &recordingLogger{}
	c.SetLogger(log)

	wrapped := c.guard(func(string, []byte) error {
		return errors.New("bad payload")
	})
	wrapped(nil, stubMessage{topic: "monozone/command/zone/2", payload: []byte("{")})

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.warns) != 1 {
		t.Fatalf("warn count = %d, want 1", len(log.warns))
	}
}

func TestGuard_RecoversPanic(t *testing.T) {
	c := newClient(testConfig())
	log := &recordingLogger{}
	c.SetLogger(log)

	wrapped := c.guard(func(string, []byte) error {
		panic("handler blew up")
	})
	wrapped(nil, stubMessage{topic: "monozone/command/zone/2"})

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.errors) != 1 {
		t.Fatalf("error count = %d, want 1", len(log.errors))
	}
}

func TestGuard_NilLogger(t *testing.T) {
	c := newClient(testConfig())

	// Must not panic with no logger installed.
	wrapped := c.guard(func(string, []byte) error {
		panic("handler blew up")
	})
	wrapped(nil, stubMessage{topic: "monozone/command/zone/2"})
}

// ─── Topics ───

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"ZoneState", Topics{}.ZoneState(3), "monozone/state/zone/3"},
		{"ZoneCommand", Topics{}.ZoneCommand(1), "monozone/command/zone/1"},
		{"BridgeHealth", Topics{}.BridgeHealth(), "monozone/health/bridge"},
		{"ScheduleFired", Topics{}.ScheduleFired("morning-wakeup"), "monozone/schedule/morning-wakeup/fired"},
		{"SystemStatus", Topics{}.SystemStatus(), "monozone/system/status"},
		{"AllZoneCommands", Topics{}.AllZoneCommands(), "monozone/command/zone/+"},
		{"AllZoneStates", Topics{}.AllZoneStates(), "monozone/state/zone/+"},
		{"AllTopics", Topics{}.AllTopics(), "monozone/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestParseZoneCommandTopic(t *testing.T) {
	tests := []struct {
		name     string
		topic    string
		wantZone int
		wantOK   bool
	}{
		{"valid zone", "monozone/command/zone/4", 4, true},
		{"state topic", "monozone/state/zone/4", 0, false},
		{"missing zone segment", "monozone/command/zone/", 0, false},
		{"non-numeric zone", "monozone/command/zone/kitchen", 0, false},
		{"empty topic", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			zone, ok := ParseZoneCommandTopic(tt.topic)
			if ok != tt.wantOK {
				t.Fatalf("ParseZoneCommandTopic(%q) ok = %v, want %v", tt.topic, ok, tt.wantOK)
			}
			if ok && zone != tt.wantZone {
				t.Errorf("ParseZoneCommandTopic(%q) zone = %d, want %d", tt.topic, zone, tt.wantZone)
			}
		})
	}
}
