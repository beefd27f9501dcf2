package models

import "time"

type EventKind string

const (
	EventOfferIssued     EventKind = "offer_issued"
	EventOfferResolved   EventKind = "offer_resolved"
	EventStatusChanged   EventKind = "status_changed"
	EventLocationUpdated EventKind = "location_updated"
	EventEtaUpdated      EventKind = "eta_updated"
)

// Event is what subscribers of a booking receive. Only the fields relevant to
// Kind are populated.
type Event struct {
	Kind      EventKind     `json:"kind"`
	BookingID string        `json:"booking_id"`
	At        time.Time     `json:"at"`
	Status    BookingStatus `json:"status,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Offer     *Offer        `json:"offer,omitempty"`
	VehicleID string        `json:"vehicle_id,omitempty"`
	Location  *Location     `json:"location,omitempty"`
	EtaSecs   int           `json:"eta_s,omitempty"`
}
