package incident

import "time"

// CallRecord is one audit entry for an enrichment attempt. Records are written
// once and never modified. Latency is recorded in whole milliseconds.
type CallRecord struct {
	IncidentID    string    `json:"incident_id"`
	RequestDigest string    `json:"request_digest"`
	Model         string    `json:"model"`
	LatencyMS     int64     `json:"latency_ms"`
	Attempted     bool      `json:"attempted"`
	Succeeded     bool      `json:"succeeded"`
	Error         *string   `json:"error"`
	Timestamp     time.Time `json:"timestamp"`
}

// Failed returns a copy of r marked as failed with the given reason.
func (r CallRecord) Failed(reason string) CallRecord {
	r.Succeeded = false
	r.Error = &reason
	return r
}
