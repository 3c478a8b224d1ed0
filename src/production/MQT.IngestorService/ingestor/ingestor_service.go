package mqtingestor

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	config "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Config"
	coordinator "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Coordinator"
	logger "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Logger"
)

const (
	subscribeQoS      = 1
	connectWait       = 10 * time.Second
	disconnectQuiesce = 250 // ms
)

// Ingestor owns the MQTT session: it subscribes to the sensor topics and
// feeds every message, in arrival order, into a bounded channel consumed by
// the coordinator.
type Ingestor struct {
	broker     config.BrokerConfig
	cfg        config.MQTTConfig
	mqttClient mqtt.Client
	logger     *logger.Logger

	// mu guards msgCh against sends after close
	mu     sync.RWMutex
	msgCh  chan coordinator.Message
	closed bool

	onConnect func()
}

// New builds the MQTT client. No connection is made until Start.
func New(broker config.BrokerConfig, cfg config.MQTTConfig, queueSize int, log *logger.Logger) (*Ingestor, error) {
	if queueSize <= 0 {
		queueSize = 1
	}
	i := &Ingestor{
		broker: broker,
		cfg:    cfg,
		msgCh:  make(chan coordinator.Message, queueSize),
		logger: log.WithComponent("mqtt"),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(i.brokerURL()).
		SetClientID(cfg.ClientID).
		SetOrderMatters(true).
		SetKeepAlive(cfg.KeepAlive).
		SetPingTimeout(cfg.PingTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(false)

	if broker.User != "" {
		opts.SetUsername(broker.User)
		opts.SetPassword(broker.Pass)
	}

	if broker.UseTLS {
		tlsCfg, err := tlsConfig(broker.CACertPath)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		i.logger.WithError(err).Error("MQTT connection lost")
	}
	opts.OnReconnecting = func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		i.logger.Debug("MQTT reconnecting")
	}
	opts.OnConnect = i.handleConnect

	i.mqttClient = mqtt.NewClient(opts)
	return i, nil
}

// OnConnect registers fn to run, in its own goroutine, after every successful
// (re)connection and subscription. Must be called before Start.
func (i *Ingestor) OnConnect(fn func()) {
	i.onConnect = fn
}

// Messages returns the inbound channel. It is closed by StopReceiving.
func (i *Ingestor) Messages() <-chan coordinator.Message {
	return i.msgCh
}

// Start connects to the broker. If the broker does not answer within a few
// seconds Start returns nil and paho keeps retrying in the background.
func (i *Ingestor) Start() error {
	i.logger.Logger.Info().Str("broker", i.brokerURL()).Str("client_id", i.cfg.ClientID).Msg("Connecting to MQTT broker")

	tk := i.mqttClient.Connect()
	if !tk.WaitTimeout(connectWait) {
		i.logger.Warn("MQTT broker not reachable yet, retrying in background")
		return nil
	}
	return tk.Error()
}

// Pending returns the number of messages received but not yet taken by the
// message task
func (i *Ingestor) Pending() int {
	return len(i.msgCh)
}

// StopReceiving unsubscribes and closes the inbound channel once any message
// being handed over has been queued.
func (i *Ingestor) StopReceiving() {
	if i.mqttClient.IsConnected() {
		tk := i.mqttClient.Unsubscribe(i.cfg.Topics...)
		if tk.WaitTimeout(2*time.Second) && tk.Error() != nil {
			i.logger.Logger.Warn().Err(tk.Error()).Msg("Failed to unsubscribe")
		}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.closed {
		i.closed = true
		close(i.msgCh)
	}
}

// Disconnect closes the MQTT session
func (i *Ingestor) Disconnect() {
	if i.mqttClient.IsConnectionOpen() {
		i.mqttClient.Disconnect(disconnectQuiesce)
	}
	i.logger.Info("MQTT client disconnected")
}

// IsConnected reports whether the broker session is up
func (i *Ingestor) IsConnected() bool {
	return i.mqttClient != nil && i.mqttClient.IsConnected()
}

// Sink returns a snapshot sink publishing through this client
func (i *Ingestor) Sink() *MQTTSink {
	return NewMQTTSink(i.mqttClient, i.cfg.PublishTimeout)
}

func (i *Ingestor) handleConnect(c mqtt.Client) {
	filters := make(map[string]byte, len(i.cfg.Topics))
	for _, t := range i.cfg.Topics {
		filters[t] = subscribeQoS
	}

	i.logger.Logger.Info().Strs("topics", i.cfg.Topics).Msg("MQTT connected, subscribing to topics")
	if token := c.SubscribeMultiple(filters, i.onMessage); token.Wait() && token.Error() != nil {
		i.logger.Logger.Error().Err(token.Error()).Strs("topics", i.cfg.Topics).Msg("Failed to subscribe to MQTT topics")
		return
	}

	if i.onConnect != nil {
		go i.onConnect()
	}
}

// onMessage runs on paho's router goroutine. With ordered delivery a full
// channel blocks the router, which is the backpressure we want.
func (i *Ingestor) onMessage(_ mqtt.Client, m mqtt.Message) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		i.logger.Logger.Debug().Str("topic", m.Topic()).Msg("Message after shutdown ignored")
		return
	}

	i.logger.Logger.Debug().Str("topic", m.Topic()).Int("bytes", len(m.Payload())).Msg("Received MQTT message")
	i.msgCh <- coordinator.Message{Topic: m.Topic(), Payload: m.Payload()}
}

func (i *Ingestor) brokerURL() string {
	scheme := "tcp"
	if i.broker.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, i.broker.Host, i.broker.Port)
}

func tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file")
	}
	cfg.RootCAs = cp
	return cfg, nil
}
