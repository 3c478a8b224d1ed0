package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	container "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Container"
	"gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.IngestorService/health"
)

func main() {
	configFile := pflag.StringP("config", "c", "", "optional YAML config file")
	pflag.Parse()

	// Initialize dependency injection container
	ctr, err := container.NewIngestorContainer(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize container: %v\n", err)
		os.Exit(1)
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	config := ctr.GetConfig()
	logger.Logger.Info().
		Str("broker", config.GetMQTTBrokerURL()).
		Str("store_driver", config.Store.Driver).
		Str("buffer", config.Buffer.Path).
		Msg("Starting sensor relay")

	ctr.InitializeStore(context.Background())

	coord := ctr.GetCoordinator()
	ing := ctr.GetIngestor()
	coord.Resume()

	// timers stop on signal; the message task stops when its channel closes
	timersCtx, stopTimers := context.WithCancel(context.Background())
	defer stopTimers()

	msgDone := make(chan struct{})
	go func() {
		defer close(msgDone)
		coord.Run(context.Background(), ing.Messages())
	}()

	ing.OnConnect(func() { coord.Reconnected(timersCtx) })
	if err := ing.Start(); err != nil {
		logger.FatalWithError(err, "Failed to start MQTT ingestor")
	}

	var timers sync.WaitGroup
	timers.Add(2)
	go func() {
		defer timers.Done()
		coord.RunDrainLoop(timersCtx, config.Ingest.DrainInterval)
	}()
	go func() {
		defer timers.Done()
		ctr.GetPublisher().Run(timersCtx)
	}()

	// Start health check server
	srv := health.NewServer(config.Server.Port, health.NewRouter(ctr.HealthController(), config.Server.AllowedOrigins))
	go func() {
		logger.Info("Health server starting on port " + config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalWithError(err, "Failed to start health server")
		}
	}()

	logger.Info("Sensor relay running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")

	// stop subscribing, then let the message task finish what was queued
	ing.StopReceiving()
	select {
	case <-msgDone:
	case <-time.After(config.Server.ShutdownTimeout):
		// already acknowledged to the broker, so these are lost
		logger.Logger.Error().
			Int("abandoned", ing.Pending()).
			Dur("timeout", config.Server.ShutdownTimeout).
			Msg("Message task did not finish in time, abandoning queued messages")
	}

	stopTimers()
	timers.Wait()

	ing.Disconnect()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Health server forced to shutdown")
	}
	// deferred: container shutdown closes the store and redis
}
