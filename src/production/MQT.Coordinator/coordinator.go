// Package coordinator decides, for every inbound reading, whether it is
// written straight to the store or appended to the durable buffer, and when
// buffered readings are retried.
//
// The pipeline is either Online (readings go to the store) or Offline
// (readings go to the buffer). Any store failure switches to Offline; a drain
// pass that empties the buffer switches back to Online. A single mutex guards
// the state together with every buffer operation, so a reading can never be
// appended to the buffer after the drain that would have flushed it.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	buffer "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Buffer"
	mqterrors "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Errors"
	logger "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Metrics"
	normalizer "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Normalizer"
	interfaces "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Repository/Interfaces"
	snapshot "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Snapshot"
)

// State is the write path currently in use
type State int

const (
	Online State = iota
	Offline
)

func (s State) String() string {
	if s == Offline {
		return "offline"
	}
	return "online"
}

// Message is one raw inbound bus message
type Message struct {
	Topic   string
	Payload []byte
}

// Coordinator owns the Online/Offline state machine
type Coordinator struct {
	mu    sync.Mutex
	state State

	// mirrors state for readers that must not wait on a drain
	current atomic.Int32

	normalizer *normalizer.Normalizer
	store      interfaces.ReadingStore
	buffer     *buffer.Buffer
	table      *snapshot.Table
	metrics    *metrics.Metrics
	logger     *logger.Logger
}

// New creates a Coordinator in the Online state
func New(n *normalizer.Normalizer, store interfaces.ReadingStore, buf *buffer.Buffer, table *snapshot.Table, m *metrics.Metrics, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.Nop()
	}
	c := &Coordinator{
		state:      Online,
		normalizer: n,
		store:      store,
		buffer:     buf,
		table:      table,
		metrics:    m,
		logger:     log.WithComponent("coordinator"),
	}
	m.BufferDepth.Set(float64(buf.Len()))
	return c
}

// Resume switches to Offline when the buffer still holds readings from a
// previous run, so that the next Tick flushes them before new readings are
// written directly.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if depth := c.buffer.Len(); depth > 0 {
		c.setState(Offline)
		c.logger.Logger.Info().Int("buffered", depth).Msg("Buffered readings found at startup, starting offline")
	}
}

// Handle processes one inbound message. A returned error is always a
// per-message error (the message was dropped) or a buffer failure (the
// reading was lost); store failures are absorbed by buffering.
func (c *Coordinator) Handle(ctx context.Context, payload []byte, topic string) error {
	r, err := c.normalizer.Normalize(payload, topic)
	if err != nil {
		c.metrics.Messages.WithLabelValues(metrics.OutcomeDropped).Inc()
		c.metrics.Dropped.WithLabelValues(string(mqterrors.TypeOf(err))).Inc()
		c.logger.Logger.Warn().
			Err(err).
			Str("topic", topic).
			Str("error_type", string(mqterrors.TypeOf(err))).
			Int("payload_bytes", len(payload)).
			Msg("Dropping message")
		return err
	}

	if r.Suspect {
		c.logger.Logger.Warn().
			Int64("sensor_id", r.SensorID).
			Float64("temperature", r.Temperature).
			Msg("Temperature outside plausible range")
	}

	c.table.Put(r)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Online {
		err := c.store.Commit(ctx, r)
		if err == nil {
			c.metrics.Commits.WithLabelValues("ok").Inc()
			c.metrics.Messages.WithLabelValues(metrics.OutcomeCommitted).Inc()
			c.logger.Logger.Debug().Int64("sensor_id", r.SensorID).Str("topic", topic).Msg("Reading stored")
			return nil
		}
		c.metrics.Commits.WithLabelValues(string(mqterrors.TypeOf(err))).Inc()
		c.logger.Logger.Warn().
			Err(err).
			Str("error_type", string(mqterrors.TypeOf(err))).
			Int64("sensor_id", r.SensorID).
			Msg("Store write failed, switching to offline")
		c.setState(Offline)
	}

	if err := c.buffer.Append(r); err != nil {
		c.metrics.Messages.WithLabelValues(metrics.OutcomeLost).Inc()
		if errors.Is(err, buffer.ErrBufferFull) {
			c.logger.Logger.Error().Int64("sensor_id", r.SensorID).Int("depth", c.buffer.Len()).Msg("Buffer full, reading lost")
		} else {
			c.logger.Logger.Error().Err(err).Int64("sensor_id", r.SensorID).Msg("Failed to buffer reading, reading lost")
		}
		return err
	}
	c.metrics.Messages.WithLabelValues(metrics.OutcomeBuffered).Inc()
	c.metrics.BufferDepth.Set(float64(c.buffer.Len()))
	return nil
}

// Tick retries the buffered readings when Offline; Online it does nothing
func (c *Coordinator) Tick(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Online {
		return
	}

	res, err := c.buffer.Drain(ctx, c.store.Commit)
	c.metrics.Commits.WithLabelValues("ok").Add(float64(res.Committed))
	c.metrics.BufferDepth.Set(float64(res.Remaining))
	if err != nil {
		c.logger.Logger.Warn().Err(err).Int("remaining", res.Remaining).Msg("Buffer rewrite failed, staying offline")
		return
	}

	if res.Remaining == 0 {
		c.setState(Online)
		c.logger.Logger.Info().Int("committed", res.Committed).Msg("Buffer drained, back online")
		return
	}

	c.logger.Logger.Info().
		Int("committed", res.Committed).
		Int("remaining", res.Remaining).
		Bool("store_unavailable", res.StillOffline).
		Msg("Buffer partially drained, staying offline")
}

// Reconnected is called after the bus connection is re-established
func (c *Coordinator) Reconnected(ctx context.Context) {
	c.logger.Debug("Bus reconnected, retrying buffer")
	c.Tick(ctx)
}

// State returns the current write path without waiting for a drain in progress
func (c *Coordinator) State() State {
	return State(c.current.Load())
}

// BufferDepth returns the number of buffered readings
func (c *Coordinator) BufferDepth() int {
	return c.buffer.Len()
}

// Run handles messages from inbound one at a time, in order, until the
// channel is closed or ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, inbound <-chan Message) {
	c.logger.Info("Message task started")
	defer c.logger.Info("Message task stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			_ = c.Handle(ctx, msg.Payload, msg.Topic)
		}
	}
}

// RunDrainLoop calls Tick every interval until ctx is cancelled
func (c *Coordinator) RunDrainLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// setState changes the state. Caller holds mu.
func (c *Coordinator) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.current.Store(int32(s))
	c.metrics.SetOnline(s == Online)
}
