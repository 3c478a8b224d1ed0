package normalizer

import (
	"bytes"
	"encoding/json"
	"strings"

	mqterrors "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Errors"
	mqtmodels "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Models"
)

// decoded is a payload after wire decoding: fields holds lower-cased keys for
// lookup, raw keeps the keys exactly as they were sent.
type decoded struct {
	encoding mqtmodels.Encoding
	fields   map[string]string
	raw      map[string]string
}

func (d decoded) get(key string) (string, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// lookup returns the value of the last alias present in aliases
func (d decoded) lookup(aliases ...string) (string, bool) {
	var (
		value string
		found bool
	)
	for _, a := range aliases {
		if v, ok := d.fields[a]; ok {
			value, found = v, true
		}
	}
	return value, found
}

// decode tries the structured encoding first, then the flat key=value one
func decode(payload []byte) (decoded, error) {
	if d, ok := decodeJSON(payload); ok {
		return d, nil
	}
	return decodeKeyValue(string(payload))
}

func decodeJSON(payload []byte) (decoded, bool) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return decoded{}, false
	}
	// trailing garbage means this was not a single JSON object
	if dec.More() {
		return decoded{}, false
	}

	d := decoded{
		encoding: mqtmodels.EncodingJSON,
		fields:   make(map[string]string, len(obj)),
		raw:      make(map[string]string, len(obj)),
	}
	for k, v := range obj {
		s := jsonText(v)
		d.raw[k] = s
		d.fields[strings.ToLower(strings.TrimSpace(k))] = s
	}
	return d, true
}

func jsonText(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// decodeKeyValue parses "k1=v1,k2=v2". A segment without "=" belongs to the
// previous value, which keeps decimal commas such as temp=26,35 intact.
func decodeKeyValue(s string) (decoded, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decoded{}, mqterrors.NewMalformedPayload("empty payload", nil)
	}

	d := decoded{
		encoding: mqtmodels.EncodingKeyValue,
		fields:   make(map[string]string),
		raw:      make(map[string]string),
	}
	var order []string
	for _, seg := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(seg, "=")
		if !ok {
			if len(order) == 0 {
				return decoded{}, mqterrors.NewMalformedPayload("no key=value pair in payload", nil)
			}
			last := order[len(order)-1]
			d.raw[last] += "," + seg
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return decoded{}, mqterrors.NewMalformedPayload("empty key in payload", nil)
		}
		if _, seen := d.raw[key]; !seen {
			order = append(order, key)
		} else {
			order = append(removeKey(order, key), key)
		}
		d.raw[key] = strings.TrimSpace(value)
	}

	for _, k := range order {
		d.raw[k] = strings.TrimSpace(d.raw[k])
		d.fields[strings.ToLower(k)] = d.raw[k]
	}
	return d, nil
}

func removeKey(keys []string, key string) []string {
	out := keys[:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}
