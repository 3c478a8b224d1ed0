// Package normalizer turns raw sensor payloads into canonical readings.
//
// Two wire encodings are accepted: a JSON object, and the flat
// "key=value,key=value" form sent by the older sensor firmware. Field names
// are matched case-insensitively and several historical spellings are
// accepted for the same field.
package normalizer

import (
	"math"
	"strconv"
	"strings"
	"time"

	mqterrors "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Errors"
	mqtmodels "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Models"
)

// Field aliases, lowest precedence first: when several are present the last one wins.
var (
	sensorIDAliases = []string{"id", "idcapteur"}
	roomAliases     = []string{"room", "piece"}
	locationAliases = []string{"house", "location", "emplacement"}
	timeAliases     = []string{"heure", "time"}
)

const (
	minPlausibleTemp = -50.0
	maxPlausibleTemp = 100.0
)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Config configures a Normalizer
type Config struct {
	// LocationTokens are matched case-insensitively against the topic when the
	// payload carries no location. The first match wins.
	LocationTokens []string
	// Now returns the ingestion time; defaults to time.Now
	Now func() time.Time
}

// Normalizer converts raw payloads into Readings. It holds no mutable state
// and is safe for concurrent use.
type Normalizer struct {
	tokens []string
	now    func() time.Time
}

// New creates a Normalizer
func New(cfg Config) *Normalizer {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Normalizer{tokens: cfg.LocationTokens, now: now}
}

// Normalize parses payload received on topic into a Reading. The returned
// error is always a *mqterrors.Error of one of the per-message kinds.
func (n *Normalizer) Normalize(payload []byte, topic string) (mqtmodels.Reading, error) {
	d, err := decode(payload)
	if err != nil {
		return mqtmodels.Reading{}, err
	}

	ts, err := n.timestamp(d)
	if err != nil {
		return mqtmodels.Reading{}, err
	}

	temp, err := parseTemperature(d)
	if err != nil {
		return mqtmodels.Reading{}, err
	}

	id, err := parseSensorID(d)
	if err != nil {
		return mqtmodels.Reading{}, err
	}

	room := mqtmodels.Unknown
	if v, ok := d.lookup(roomAliases...); ok && v != "" {
		room = v
	}

	location := n.inferLocation(topic)
	if v, ok := d.lookup(locationAliases...); ok && v != "" {
		location = v
	}

	return mqtmodels.Reading{
		SensorID:    id,
		Timestamp:   ts,
		Temperature: temp,
		Suspect:     temp < minPlausibleTemp || temp > maxPlausibleTemp,
		Room:        room,
		Location:    location,
		Topic:       topic,
		Encoding:    d.encoding,
		RawFields:   d.raw,
	}, nil
}

func (n *Normalizer) inferLocation(topic string) string {
	lower := strings.ToLower(topic)
	for _, tok := range n.tokens {
		if tok != "" && strings.Contains(lower, strings.ToLower(tok)) {
			return tok
		}
	}
	return mqtmodels.Unknown
}

func (n *Normalizer) timestamp(d decoded) (time.Time, error) {
	if v, ok := d.get("timestamp"); ok && v != "" {
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, mqterrors.NewInvalidTimestamp("timestamp="+strconv.Quote(v), nil)
	}

	date, hasDate := d.get("date")
	clock, hasClock := d.lookup(timeAliases...)
	if !hasDate && !hasClock {
		return n.now().UTC(), nil
	}
	if date == "" || clock == "" {
		return time.Time{}, mqterrors.NewInvalidTimestamp("date and time must both be present", nil)
	}

	layout := "2006-01-02 15:04:05"
	if strings.Contains(date, "/") {
		layout = "02/01/2006 15:04:05"
	}
	t, err := time.Parse(layout, date+" "+clock)
	if err != nil {
		return time.Time{}, mqterrors.NewInvalidTimestamp("date="+strconv.Quote(date)+" time="+strconv.Quote(clock), err)
	}
	return t.UTC(), nil
}

func parseTemperature(d decoded) (float64, error) {
	v, ok := d.get("temp")
	if !ok || v == "" {
		return 0, mqterrors.NewInvalidTemperature("temp field missing", nil)
	}
	s := strings.ReplaceAll(strings.TrimSpace(v), ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, mqterrors.NewInvalidTemperature("temp="+strconv.Quote(v), err)
	}
	return f, nil
}

func parseSensorID(d decoded) (int64, error) {
	v, ok := d.lookup(sensorIDAliases...)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return 0, mqterrors.NewMissingSensorID("no sensor id field", nil)
	}
	if id, err := strconv.ParseInt(v, 10, 64); err == nil {
		return id, nil
	}
	// JSON numbers such as 12.0 still name an integer sensor
	if f, err := strconv.ParseFloat(v, 64); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f), nil
	}
	return 0, mqterrors.NewMissingSensorID("id="+strconv.Quote(v)+" is not an integer", nil)
}
