package snapshot

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	logger "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Models"
)

const defaultInterval = 5 * time.Second

// Message is one snapshot ready for delivery
type Message struct {
	Topic    string
	Location string
	Room     string
	Payload  []byte
}

// Sink delivers snapshot messages somewhere (MQTT, redis, ...)
type Sink interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
}

// Config configures a Publisher
type Config struct {
	Interval    time.Duration
	TopicPrefix string
	Now         func() time.Time
}

// Publisher periodically publishes every entry of a Table to its sinks
type Publisher struct {
	table   *Table
	sinks   []Sink
	cfg     Config
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewPublisher creates a Publisher
func NewPublisher(table *Table, sinks []Sink, cfg Config, m *metrics.Metrics, log *logger.Logger) *Publisher {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{
		table:   table,
		sinks:   sinks,
		cfg:     cfg,
		metrics: m,
		logger:  log.WithComponent("snapshot"),
	}
}

// Run publishes on every tick until ctx is cancelled
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Logger.Info().Dur("interval", p.cfg.Interval).Int("sinks", len(p.sinks)).Msg("Snapshot publisher started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Snapshot publisher stopped")
			return
		case <-ticker.C:
			p.PublishOnce(ctx)
		}
	}
}

// PublishOnce publishes the current table contents once and returns the
// number of messages built. A tick never outlives the interval.
func (p *Publisher) PublishOnce(ctx context.Context) int {
	readings := p.table.Snapshot()
	if len(readings) == 0 {
		p.logger.Debug("No readings yet, nothing to publish")
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Interval)
	defer cancel()

	now := p.cfg.Now().UTC().Format(time.RFC3339)
	for _, r := range readings {
		payload, err := json.Marshal(mqtmodels.Snapshot{
			Temp:      r.Temperature,
			Room:      r.Room,
			House:     r.Location,
			ID:        r.SensorID,
			Timestamp: now,
		})
		if err != nil {
			p.logger.ErrorWithError(err, "Failed to encode snapshot")
			continue
		}

		msg := Message{
			Topic:    Topic(p.cfg.TopicPrefix, r.Location, r.Room),
			Location: r.Location,
			Room:     r.Room,
			Payload:  payload,
		}
		for _, sink := range p.sinks {
			if err := sink.Publish(ctx, msg); err != nil {
				p.metrics.SnapshotsPublished.WithLabelValues(sink.Name(), "error").Inc()
				p.logger.Logger.Warn().Err(err).Str("sink", sink.Name()).Str("topic", msg.Topic).Msg("Snapshot publish failed")
				continue
			}
			p.metrics.SnapshotsPublished.WithLabelValues(sink.Name(), "ok").Inc()
		}
	}

	p.logger.Logger.Debug().Int("snapshots", len(readings)).Msg("Snapshots published")
	return len(readings)
}

var topicSegmentReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// Topic builds "<prefix>/<location>/<room>". Wildcard and separator
// characters inside location or room are replaced so the topic stays a
// valid three-level publish topic.
func Topic(prefix, location, room string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + topicSegmentReplacer.Replace(location) + "/" + topicSegmentReplacer.Replace(room)
}
