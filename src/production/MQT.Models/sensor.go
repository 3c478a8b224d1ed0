package mqtmodels

import (
	"strconv"
	"time"
)

// SensorIdentity is the persistent description of a sensor, keyed by SensorID
type SensorIdentity struct {
	SensorID    int64  `db:"sensor_id" json:"sensor_id"`
	DisplayName string `db:"display_name" json:"display_name"`
	Room        string `db:"room" json:"room"`
	Location    string `db:"location" json:"location"`
}

// ReadingRecord is one persisted temperature sample
type ReadingRecord struct {
	ID          int64     `db:"id" json:"id"`
	Timestamp   time.Time `db:"ts" json:"ts"`
	Temperature float64   `db:"temperature" json:"temperature"`
	SensorID    int64     `db:"sensor_id" json:"sensor_id"`
}

// SensorDisplayName builds the default display name for a sensor id
func SensorDisplayName(id int64) string {
	return "capteur_" + strconv.FormatInt(id, 10)
}
