package mqtmodels

import "time"

// Unknown is the sentinel used for a room or location that could not be resolved
const Unknown = "unknown"

// Encoding identifies the wire encoding a payload was decoded from
type Encoding string

const (
	EncodingJSON     Encoding = "json"
	EncodingKeyValue Encoding = "key_value"
)

// Reading is the canonical form of one inbound sensor message
type Reading struct {
	SensorID    int64             `json:"sensor_id"`
	Timestamp   time.Time         `json:"timestamp"`
	Temperature float64           `json:"temperature"`
	Suspect     bool              `json:"suspect,omitempty"`
	Room        string            `json:"room"`
	Location    string            `json:"location"`
	Topic       string            `json:"topic"`
	Encoding    Encoding          `json:"encoding"`
	RawFields   map[string]string `json:"raw_fields"`
}

// DisplayName returns the descriptive name stored with the sensor identity
func (r Reading) DisplayName() string {
	return SensorDisplayName(r.SensorID)
}

// Identity returns the SensorIdentity implied by the reading
func (r Reading) Identity() SensorIdentity {
	return SensorIdentity{
		SensorID:    r.SensorID,
		DisplayName: r.DisplayName(),
		Room:        r.Room,
		Location:    r.Location,
	}
}

// Record returns the ReadingRecord to insert for the reading
func (r Reading) Record() ReadingRecord {
	return ReadingRecord{
		Timestamp:   r.Timestamp,
		Temperature: r.Temperature,
		SensorID:    r.SensorID,
	}
}
