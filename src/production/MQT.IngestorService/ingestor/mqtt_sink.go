package mqtingestor

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	snapshot "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Snapshot"
)

const publishQoS = 1

// ErrNotConnected is returned by MQTTSink when the broker session is down
var ErrNotConnected = errors.New("mqtt: not connected")

type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes snapshots at QoS 1, not retained
type MQTTSink struct {
	client  publisher
	timeout time.Duration
}

// NewMQTTSink creates an MQTTSink. timeout bounds the wait for the broker ack.
func NewMQTTSink(client publisher, timeout time.Duration) *MQTTSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTSink{client: client, timeout: timeout}
}

// Name implements snapshot.Sink
func (s *MQTTSink) Name() string { return "mqtt" }

// Publish implements snapshot.Sink
func (s *MQTTSink) Publish(ctx context.Context, msg snapshot.Message) error {
	if !s.client.IsConnected() {
		return ErrNotConnected
	}

	tk := s.client.Publish(msg.Topic, publishQoS, false, msg.Payload)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-tk.Done():
		return tk.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("mqtt publish to %s: no ack after %s", msg.Topic, s.timeout)
	}
}
