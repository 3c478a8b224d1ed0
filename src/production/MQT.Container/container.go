package container

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	buffer "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Buffer"
	config "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Config"
	coordinator "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Coordinator"
	"gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.IngestorService/health"
	mqtingestor "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.IngestorService/ingestor"
	logger "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Metrics"
	normalizer "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Normalizer"
	implementation "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Repository/Implementation"
	snapshot "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Snapshot"
)

// IngestorContainer wires the relay's components together and owns their
// lifecycle
type IngestorContainer struct {
	config  *config.IngestorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics

	store       *implementation.SQLReadingGateway
	buffer      *buffer.Buffer
	table       *snapshot.Table
	coordinator *coordinator.Coordinator
	ingestor    *mqtingestor.Ingestor
	publisher   *snapshot.Publisher
	redis       *redis.Client

	// Cleanup functions, run in reverse order on Shutdown
	cleanupFuncs []func() error
}

// NewIngestorContainer loads configuration from configFile (may be empty),
// the environment and .env, then builds every component. Nothing connects to
// the network here.
func NewIngestorContainer(configFile string) (*IngestorContainer, error) {
	cfg, err := config.LoadIngestorConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load ingestor configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging).WithService("sensor-relay")
	return newIngestorContainer(cfg, log)
}

func newIngestorContainer(cfg *config.IngestorConfig, log *logger.Logger) (*IngestorContainer, error) {
	c := &IngestorContainer{
		config:  cfg,
		logger:  log,
		metrics: metrics.New(),
		table:   snapshot.NewTable(),
	}

	store, err := implementation.NewSQLReadingGateway(cfg.Store.Driver, cfg.GetDatabaseDSN(), cfg.Store.Timeout, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create store gateway: %w", err)
	}
	c.store = store
	c.AddCleanupFunc(store.Close)

	buf, err := buffer.Open(cfg.Buffer.Path, buffer.Options{MaxEntries: cfg.Buffer.MaxEntries, Logger: log})
	if err != nil {
		c.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to open buffer: %w", err)
	}
	c.buffer = buf

	n := normalizer.New(normalizer.Config{LocationTokens: cfg.MQTT.LocationTokens})
	c.coordinator = coordinator.New(n, store, buf, c.table, c.metrics, log)

	ing, err := mqtingestor.New(cfg.Broker, cfg.MQTT, cfg.Ingest.QueueSize, log)
	if err != nil {
		c.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create MQTT ingestor: %w", err)
	}
	c.ingestor = ing

	sinks := []snapshot.Sink{ing.Sink()}
	if cfg.Redis.Addr != "" {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.AddCleanupFunc(c.redis.Close)
		sinks = append(sinks, snapshot.NewRedisSink(c.redis, cfg.Redis.Prefix, 3*cfg.Publish.Interval))
	}

	c.publisher = snapshot.NewPublisher(c.table, sinks, snapshot.Config{
		Interval:    cfg.Publish.Interval,
		TopicPrefix: cfg.Publish.TopicPrefix,
	}, c.metrics, log)

	return c, nil
}

// InitializeStore creates the tables when configured to. An unreachable
// store is not fatal: readings are buffered until it comes back.
func (c *IngestorContainer) InitializeStore(ctx context.Context) {
	if !c.config.Store.EnsureSchema {
		return
	}
	if err := c.store.EnsureSchema(ctx); err != nil {
		c.logger.Logger.Warn().Err(err).Str("driver", c.config.Store.Driver).Msg("Could not ensure store schema, continuing")
	}
}

// HealthController builds the controller for the health server
func (c *IngestorContainer) HealthController() *health.HealthController {
	return health.NewHealthController(c.ingestor, c.coordinator, c.store, c.metrics.Handler())
}

// GetConfig returns the ingestor configuration
func (c *IngestorContainer) GetConfig() *config.IngestorConfig {
	return c.config
}

// GetLogger returns the logger
func (c *IngestorContainer) GetLogger() *logger.Logger {
	return c.logger
}

// GetCoordinator returns the ingestion coordinator
func (c *IngestorContainer) GetCoordinator() *coordinator.Coordinator {
	return c.coordinator
}

// GetIngestor returns the MQTT ingestor
func (c *IngestorContainer) GetIngestor() *mqtingestor.Ingestor {
	return c.ingestor
}

// GetPublisher returns the snapshot publisher
func (c *IngestorContainer) GetPublisher() *snapshot.Publisher {
	return c.publisher
}

// AddCleanupFunc adds a cleanup function
func (c *IngestorContainer) AddCleanupFunc(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown releases store and redis connections. Goroutines using them must
// already be stopped.
func (c *IngestorContainer) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down ingestor container...")

	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}
	c.cleanupFuncs = nil

	c.logger.Info("Ingestor container shutdown complete")
	return nil
}
