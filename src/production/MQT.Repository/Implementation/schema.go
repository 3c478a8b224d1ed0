package implementation

import (
	"context"
	"fmt"
	"time"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS sensors (
		sensor_id     BIGINT PRIMARY KEY,
		display_name  TEXT NOT NULL,
		room          TEXT NOT NULL,
		location      TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS readings (
		id           BIGSERIAL PRIMARY KEY,
		ts           TIMESTAMPTZ NOT NULL,
		temperature  DOUBLE PRECISION NOT NULL,
		sensor_id    BIGINT NOT NULL REFERENCES sensors(sensor_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_sensor_ts ON readings (sensor_id, ts DESC)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS sensors (
		sensor_id     INTEGER PRIMARY KEY,
		display_name  TEXT NOT NULL,
		room          TEXT NOT NULL,
		location      TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS readings (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		ts           TIMESTAMP NOT NULL,
		temperature  REAL NOT NULL,
		sensor_id    INTEGER NOT NULL REFERENCES sensors(sensor_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_sensor_ts ON readings (sensor_id, ts DESC)`,
}

// EnsureSchema creates the sensors and readings tables if they don't exist
func (g *SQLReadingGateway) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	statements := postgresSchema
	if g.driver == "sqlite3" {
		statements = sqliteSchema
	}

	for _, stmt := range statements {
		if _, err := g.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	g.logger.Logger.Info().Str("driver", g.driver).Msg("Store schema ensured")
	return nil
}
