package types

// WriteEvent is emitted by the telemetry store after each successful
// append. Exactly one event is emitted per append, even under concurrent
// appends to the same machine. The refresh coordinator debounces these per
// (machine, bucket); the notification broker forwards them to external
// subscribers.
type WriteEvent struct {
	MachineID   string `json:"machine_id"`
	ClientID    string `json:"client_id"`
	SensorType  string `json:"sensor_type"`
	TimestampMs int64  `json:"timestamp_ms"`
	HourStart   int64  `json:"hour_start_ms"`
}

// NewWriteEvent builds the event for an accepted reading.
func NewWriteEvent(r *Reading) WriteEvent {
	return WriteEvent{
		MachineID:   r.MachineID,
		ClientID:    r.ClientID,
		SensorType:  r.SensorType,
		TimestampMs: r.TimestampMs,
		HourStart:   r.HourStart(),
	}
}
