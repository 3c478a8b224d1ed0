package implementation

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	mqterrors "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Errors"
	logger "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Models"
)

const defaultStoreTimeout = 5 * time.Second

const (
	upsertSensorQuery = `
		INSERT INTO sensors (sensor_id, display_name, room, location)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (sensor_id)
		DO UPDATE SET display_name = excluded.display_name,
			room = excluded.room,
			location = excluded.location
	`
	insertReadingQuery = `
		INSERT INTO readings (ts, temperature, sensor_id)
		VALUES (?, ?, ?)
	`
)

// SQLReadingGateway writes readings to a relational store through database/sql.
// The same queries run on postgres (lib/pq or pgx) and sqlite3; placeholders
// are rebound for the driver once at construction.
type SQLReadingGateway struct {
	db      *sqlx.DB
	driver  string
	timeout time.Duration
	logger  *logger.Logger

	upsertSensor  string
	insertReading string
}

// NewSQLReadingGateway prepares a connection pool. No connection is made here:
// the store may be down at startup, and every Commit checks reachability on
// its own.
func NewSQLReadingGateway(driver, dsn string, timeout time.Duration, log *logger.Logger) (*SQLReadingGateway, error) {
	if log == nil {
		log = logger.Nop()
	}
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open %s store: %w", driver, err)
	}

	if driver == "sqlite3" {
		// sqlite serializes writers anyway; a single connection avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	return &SQLReadingGateway{
		db:            db,
		driver:        driver,
		timeout:       timeout,
		logger:        log.WithComponent("gateway"),
		upsertSensor:  db.Rebind(upsertSensorQuery),
		insertReading: db.Rebind(insertReadingQuery),
	}, nil
}

// Commit upserts the sensor identity and inserts the reading in a single
// transaction.
func (g *SQLReadingGateway) Commit(ctx context.Context, r mqtmodels.Reading) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	conn, err := g.db.Connx(ctx)
	if err != nil {
		return mqterrors.NewStoreUnavailable("acquiring connection", err)
	}
	defer conn.Close()

	if err := conn.PingContext(ctx); err != nil {
		return mqterrors.NewStoreUnavailable("pinging store", err)
	}

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return storeFailure(ctx, "beginning transaction", err)
	}
	defer tx.Rollback()

	id := r.Identity()
	if _, err := tx.ExecContext(ctx, g.upsertSensor, id.SensorID, id.DisplayName, id.Room, id.Location); err != nil {
		return storeFailure(ctx, "upserting sensor", err)
	}

	rec := r.Record()
	if _, err := tx.ExecContext(ctx, g.insertReading, rec.Timestamp.UTC(), rec.Temperature, rec.SensorID); err != nil {
		return storeFailure(ctx, "inserting reading", err)
	}

	if err := tx.Commit(); err != nil {
		return storeFailure(ctx, "committing transaction", err)
	}

	g.logger.Logger.Debug().
		Int64("sensor_id", r.SensorID).
		Float64("temperature", r.Temperature).
		Msg("Reading committed")
	return nil
}

// storeFailure classifies an error raised after the connection was acquired.
// Running out of the per-call timeout means the store stopped answering, so
// it is reported as unavailable rather than as a per-record error.
func storeFailure(ctx context.Context, msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return mqterrors.NewStoreUnavailable(msg, err)
	}
	return mqterrors.NewStoreError(msg, err)
}

// Ping checks the store is reachable within the configured timeout
func (g *SQLReadingGateway) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.db.PingContext(ctx); err != nil {
		return mqterrors.NewStoreUnavailable("pinging store", err)
	}
	return nil
}

// GetSensor returns the stored identity for id, or nil if there is none
func (g *SQLReadingGateway) GetSensor(ctx context.Context, id int64) (*mqtmodels.SensorIdentity, error) {
	var s []mqtmodels.SensorIdentity
	query := g.db.Rebind(`SELECT sensor_id, display_name, room, location FROM sensors WHERE sensor_id = ?`)
	if err := g.db.SelectContext(ctx, &s, query, id); err != nil {
		return nil, err
	}
	if len(s) == 0 {
		return nil, nil
	}
	return &s[0], nil
}

// ListReadings returns every stored reading of a sensor, oldest first
func (g *SQLReadingGateway) ListReadings(ctx context.Context, sensorID int64) ([]mqtmodels.ReadingRecord, error) {
	var out []mqtmodels.ReadingRecord
	query := g.db.Rebind(`SELECT id, ts, temperature, sensor_id FROM readings WHERE sensor_id = ? ORDER BY id`)
	if err := g.db.SelectContext(ctx, &out, query, sensorID); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the connection pool
func (g *SQLReadingGateway) Close() error {
	return g.db.Close()
}
