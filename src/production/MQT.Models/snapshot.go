package mqtmodels

// Snapshot is the canonical flattened payload republished for dashboards.
// Field names are part of the outbound wire contract.
type Snapshot struct {
	Temp      float64 `json:"temp"`
	Room      string  `json:"room"`
	House     string  `json:"house"`
	ID        int64   `json:"id"`
	Timestamp string  `json:"timestamp"`
}
