package analytics

import "time"

// EventTimestamp picks the time an event row is filed under: the domain time
// carried by the payload, else the envelope time, else fallback.
func EventTimestamp(payloadAt, envelopeAt, fallback time.Time) time.Time {
	if !payloadAt.IsZero() {
		return payloadAt.UTC()
	}
	if !envelopeAt.IsZero() {
		return envelopeAt.UTC()
	}
	return fallback.UTC()
}
