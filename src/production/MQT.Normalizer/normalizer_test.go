package normalizer

import (
	"testing"
	"time"

	mqterrors "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Errors"
	mqtmodels "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Models"
)

const topicMaison1 = "IUT/Colmar2025/SAE2.04/Maison1"

var fixedNow = time.Date(2025, 6, 24, 10, 30, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return New(Config{
		LocationTokens: []string{"Maison1", "Maison2"},
		Now:            func() time.Time { return fixedNow },
	})
}

// sameReading compares the canonical fields; encoding and raw fields differ by design.
func sameReading(t *testing.T, got, want mqtmodels.Reading) {
	t.Helper()
	if got.SensorID != want.SensorID {
		t.Errorf("SensorID = %d, want %d", got.SensorID, want.SensorID)
	}
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, want.Timestamp)
	}
	if got.Temperature != want.Temperature {
		t.Errorf("Temperature = %v, want %v", got.Temperature, want.Temperature)
	}
	if got.Room != want.Room {
		t.Errorf("Room = %q, want %q", got.Room, want.Room)
	}
	if got.Location != want.Location {
		t.Errorf("Location = %q, want %q", got.Location, want.Location)
	}
	if got.Suspect != want.Suspect {
		t.Errorf("Suspect = %v, want %v", got.Suspect, want.Suspect)
	}
}

// --- encodings ---

func TestNormalize_KeyValueWithDecimalComma(t *testing.T) {
	r, err := newTestNormalizer().Normalize([]byte("id=12,temp=26,35,piece=sejour"), topicMaison1)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	sameReading(t, r, mqtmodels.Reading{
		SensorID:    12,
		Timestamp:   fixedNow,
		Temperature: 26.35,
		Room:        "sejour",
		Location:    "Maison1",
	})
	if r.Encoding != mqtmodels.EncodingKeyValue {
		t.Errorf("Encoding = %q, want key_value", r.Encoding)
	}
	if r.RawFields["temp"] != "26,35" {
		t.Errorf("RawFields[temp] = %q, want 26,35", r.RawFields["temp"])
	}
	if r.Topic != topicMaison1 {
		t.Errorf("Topic = %q", r.Topic)
	}
}

func TestNormalize_EquivalentEncodingsProduceEqualReadings(t *testing.T) {
	cases := []struct {
		name     string
		kv, json string
	}{
		{
			name: "minimal",
			kv:   "id=12,temp=26.35,room=sejour",
			json: `{"id": 12, "temp": 26.35, "room": "sejour"}`,
		},
		{
			name: "date and time",
			kv:   "Id=7,piece=cuisine,date=24/06/2025,heure=10:15:00,temp=21,5",
			json: `{"id":"7","piece":"cuisine","date":"24/06/2025","heure":"10:15:00","temp":"21,5"}`,
		},
		{
			name: "iso timestamp and house",
			kv:   "idCapteur=3,temp=19.0,house=Maison2,timestamp=2025-06-24T08:00:00Z",
			json: `{"idCapteur":3,"temp":19.0,"house":"Maison2","timestamp":"2025-06-24T08:00:00Z"}`,
		},
	}

	n := newTestNormalizer()
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			fromKV, err := n.Normalize([]byte(c.kv), topicMaison1)
			if err != nil {
				t.Fatalf("Normalize(kv) error = %v", err)
			}
			fromJSON, err := n.Normalize([]byte(c.json), topicMaison1)
			if err != nil {
				t.Fatalf("Normalize(json) error = %v", err)
			}
			sameReading(t, fromJSON, fromKV)
			if fromJSON.Encoding != mqtmodels.EncodingJSON {
				t.Errorf("Encoding = %q, want json", fromJSON.Encoding)
			}
		})
	}
}

func TestNormalize_JSONRawFieldsKeepOriginalKeys(t *testing.T) {
	r, err := newTestNormalizer().Normalize([]byte(`{"Id":5,"temp":20,"extra":{"a":1}}`), topicMaison1)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if r.RawFields["Id"] != "5" {
		t.Errorf("RawFields[Id] = %q, want 5", r.RawFields["Id"])
	}
	if r.RawFields["extra"] != `{"a":1}` {
		t.Errorf("RawFields[extra] = %q", r.RawFields["extra"])
	}
}

// --- field resolution ---

func TestNormalize_AliasPrecedenceFollowsAliasList(t *testing.T) {
	n := newTestNormalizer()

	r, err := n.Normalize([]byte("id=1,temp=20,room=salon,piece=chambre,house=A,emplacement=B"), topicMaison1)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if r.Room != "chambre" {
		t.Errorf("Room = %q, want chambre", r.Room)
	}
	if r.Location != "B" {
		t.Errorf("Location = %q, want B", r.Location)
	}

	// payload order does not matter: piece still beats room
	r, err = n.Normalize([]byte("id=1,temp=20,piece=chambre,room=salon,emplacement=B,house=A"), topicMaison1)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if r.Room != "chambre" {
		t.Errorf("reversed payload: Room = %q, want chambre", r.Room)
	}
	if r.Location != "B" {
		t.Errorf("reversed payload: Location = %q, want B", r.Location)
	}
}

func TestNormalize_LocationFromTopicAndDefaults(t *testing.T) {
	n := newTestNormalizer()

	r, err := n.Normalize([]byte("id=1,temp=20"), "iut/colmar2025/sae2.04/maison2")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if r.Location != "Maison2" {
		t.Errorf("Location = %q, want Maison2", r.Location)
	}
	if r.Room != mqtmodels.Unknown {
		t.Errorf("Room = %q, want %q", r.Room, mqtmodels.Unknown)
	}

	r, err = n.Normalize([]byte("id=1,temp=20"), "other/topic")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if r.Location != mqtmodels.Unknown {
		t.Errorf("Location = %q, want %q", r.Location, mqtmodels.Unknown)
	}
}

func TestNormalize_PayloadLocationBeatsTopic(t *testing.T) {
	r, err := newTestNormalizer().Normalize([]byte("id=1,temp=20,emplacement=Garage"), topicMaison1)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if r.Location != "Garage" {
		t.Errorf("Location = %q, want Garage", r.Location)
	}
}

func TestNormalize_Timestamps(t *testing.T) {
	cases := []struct {
		payload string
		want    time.Time
	}{
		{"id=1,temp=20,date=24/06/2025,heure=10:15:30", time.Date(2025, 6, 24, 10, 15, 30, 0, time.UTC)},
		{"id=1,temp=20,date=2025-06-24,time=10:15:30", time.Date(2025, 6, 24, 10, 15, 30, 0, time.UTC)},
		{"id=1,temp=20,timestamp=2025-06-24T10:15:30", time.Date(2025, 6, 24, 10, 15, 30, 0, time.UTC)},
		{"id=1,temp=20,timestamp=2025-06-24T12:15:30+02:00", time.Date(2025, 6, 24, 10, 15, 30, 0, time.UTC)},
		{"id=1,temp=20", fixedNow},
	}

	n := newTestNormalizer()
	for _, c := range cases {
		r, err := n.Normalize([]byte(c.payload), topicMaison1)
		if err != nil {
			t.Errorf("Normalize(%q) error = %v", c.payload, err)
			continue
		}
		if !r.Timestamp.Equal(c.want) {
			t.Errorf("Normalize(%q).Timestamp = %v, want %v", c.payload, r.Timestamp, c.want)
		}
	}
}

func TestNormalize_OutOfRangeTemperatureIsFlaggedNotRejected(t *testing.T) {
	r, err := newTestNormalizer().Normalize([]byte("id=1,temp=150"), topicMaison1)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !r.Suspect {
		t.Error("Suspect = false, want true")
	}
	if r.Temperature != 150 {
		t.Errorf("Temperature = %v, want 150", r.Temperature)
	}
}

func TestNormalize_SensorIDFromJSONFloat(t *testing.T) {
	r, err := newTestNormalizer().Normalize([]byte(`{"id":12.0,"temp":20}`), topicMaison1)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if r.SensorID != 12 {
		t.Errorf("SensorID = %d, want 12", r.SensorID)
	}
}

// --- errors ---

func TestNormalize_Errors(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    mqterrors.ErrorType
	}{
		{"no separator", "foo;bar", mqterrors.ErrorTypeMalformedPayload},
		{"empty", "   ", mqterrors.ErrorTypeMalformedPayload},
		{"empty key", "=3,temp=1", mqterrors.ErrorTypeMalformedPayload},
		{"json scalar", "42", mqterrors.ErrorTypeMalformedPayload},
		{"missing id", "temp=20,piece=sejour", mqterrors.ErrorTypeMissingSensorID},
		{"hex id", "Id=12A6B8AF6CD3,temp=20", mqterrors.ErrorTypeMissingSensorID},
		{"fractional id", `{"id":1.5,"temp":20}`, mqterrors.ErrorTypeMissingSensorID},
		{"bad temp", "id=1,temp=warm", mqterrors.ErrorTypeInvalidTemperature},
		{"missing temp", "id=1,piece=sejour", mqterrors.ErrorTypeInvalidTemperature},
		{"bad date", "id=1,temp=20,date=32/13/2025,heure=10:00:00", mqterrors.ErrorTypeInvalidTimestamp},
		{"date only", "id=1,temp=20,date=24/06/2025", mqterrors.ErrorTypeInvalidTimestamp},
		{"bad iso", "id=1,temp=20,timestamp=yesterday", mqterrors.ErrorTypeInvalidTimestamp},
	}

	n := newTestNormalizer()
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := n.Normalize([]byte(c.payload), topicMaison1)
			if err == nil {
				t.Fatalf("Normalize(%q) error = nil, want %s", c.payload, c.want)
			}
			if got := mqterrors.TypeOf(err); got != c.want {
				t.Errorf("Normalize(%q) error type = %q, want %q (err: %v)", c.payload, got, c.want, err)
			}
		})
	}
}
