package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	coordinator "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Coordinator"
)

// BrokerStatus reports the MQTT session state
type BrokerStatus interface {
	IsConnected() bool
}

// PipelineStatus reports the coordinator state
type PipelineStatus interface {
	State() coordinator.State
	BufferDepth() int
}

// StorePinger checks store reachability
type StorePinger interface {
	Ping(ctx context.Context) error
}

// HealthController serves liveness, readiness and metrics
type HealthController struct {
	broker   BrokerStatus
	pipeline PipelineStatus
	store    StorePinger
	metrics  http.Handler
}

// NewHealthController creates a new health controller
func NewHealthController(broker BrokerStatus, pipeline PipelineStatus, store StorePinger, metrics http.Handler) *HealthController {
	return &HealthController{
		broker:   broker,
		pipeline: pipeline,
		store:    store,
		metrics:  metrics,
	}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router *gin.Engine) {
	router.GET("/health/live", c.HealthLive)
	router.GET("/health/ready", c.HealthReady)
	router.GET("/metrics", gin.WrapH(c.metrics))
}

func (c *HealthController) HealthLive(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// HealthReady is 503 only while the broker session is down. An unreachable
// store is reported but does not fail readiness: readings are buffered.
func (c *HealthController) HealthReady(ctx *gin.Context) {
	mqttUp := c.broker.IsConnected()

	pingCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()
	storeUp := c.store.Ping(pingCtx) == nil

	status := "ready"
	code := http.StatusOK
	if !mqttUp {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}

	ctx.JSON(code, gin.H{
		"status":       status,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"mqtt":         mqttUp,
		"db":           storeUp,
		"pipeline":     c.pipeline.State().String(),
		"buffer_depth": c.pipeline.BufferDepth(),
	})
}
