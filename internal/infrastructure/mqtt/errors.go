package mqtt

import "errors"

// Sentinel errors for the MQTT layer. Callers categorise failures
// with errors.Is; operational detail is wrapped around them.
var (
	// ErrNotConnected means the broker session is down. Publishes
	// and subscriptions fail fast rather than queueing.
	ErrNotConnected = errors.New("mqtt: not connected to broker")

	// ErrConnectionFailed means the initial dial never produced a
	// usable session.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed wraps broker-side publish failures and
	// acknowledgement timeouts.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps subscription failures, including a
	// nil handler.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed wraps unsubscribe failures.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level")

	// ErrInvalidTopic rejects an empty topic.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
