package models

import "time"

// BookingStatus follows the trip lifecycle in strict order. CANCELED is
// reachable from any non-terminal state.
type BookingStatus string

const (
	StatusRequested  BookingStatus = "REQUESTED"
	StatusOffering   BookingStatus = "OFFERING"
	StatusAccepted   BookingStatus = "ACCEPTED"
	StatusEnroute    BookingStatus = "ENROUTE"
	StatusAtPickup   BookingStatus = "AT_PICKUP"
	StatusToHospital BookingStatus = "TO_HOSPITAL"
	StatusCompleted  BookingStatus = "COMPLETED"
	StatusCanceled   BookingStatus = "CANCELED"
)

func (s BookingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Cancellation reasons recorded on Booking.CancelReason.
const (
	CancelReasonRequester    = "REQUESTER"
	CancelReasonOperator     = "OPERATOR"
	CancelReasonNoCandidates = "NO_CANDIDATES"
	CancelReasonExhausted    = "EXHAUSTED"
)

type VehicleClass string

const (
	ClassBLS VehicleClass = "BLS" // basic life support
	ClassALS VehicleClass = "ALS" // advanced life support
	ClassNEO VehicleClass = "NEO" // neonatal
)

func (c VehicleClass) Valid() bool {
	return c == ClassBLS || c == ClassALS || c == ClassNEO
}

type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

type BookingRequest struct {
	RequesterID  string       `json:"requester_id"`
	Pickup       Location     `json:"pickup"`
	Destination  Location     `json:"destination"`
	HospitalID   string       `json:"hospital_id,omitempty"`
	Class        VehicleClass `json:"class"`
	PatientName  string       `json:"patient_name,omitempty"`
	ContactPhone string       `json:"contact_phone,omitempty"`
}

type Booking struct {
	ID             string        `json:"id"`
	Code           string        `json:"code"`
	RequesterID    string        `json:"requester_id"`
	Pickup         Location      `json:"pickup"`
	Destination    Location      `json:"destination"`
	HospitalID     string        `json:"hospital_id,omitempty"`
	Class          VehicleClass  `json:"class"`
	PatientName    string        `json:"patient_name,omitempty"`
	ContactPhone   string        `json:"contact_phone,omitempty"`
	Status         BookingStatus `json:"status"`
	CancelReason   string        `json:"cancel_reason,omitempty"`
	VehicleID      string        `json:"vehicle_id,omitempty"` // empty until a claim wins
	DistanceMeters int           `json:"distance_m"`
	EtaSeconds     int           `json:"eta_s"`
	Fare           int64         `json:"fare"`
	Geometry       string        `json:"geometry,omitempty"` // encoded polyline, may be empty
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// OfferState is the disposition of an Offer. An offer resolves into exactly
// one of ACCEPTED, REJECTED or EXPIRED and is immutable afterwards.
type OfferState string

const (
	OfferPending  OfferState = "PENDING"
	OfferAccepted OfferState = "ACCEPTED"
	OfferRejected OfferState = "REJECTED"
	OfferExpired  OfferState = "EXPIRED"
)

// Rejection reasons recorded on Offer.Reason.
const (
	OfferReasonSuperseded = "SUPERSEDED"
	OfferReasonDeclined   = "DECLINED"
	OfferReasonCanceled   = "CANCELED"
)

type Offer struct {
	ID             string     `json:"id"`
	BookingID      string     `json:"booking_id"`
	VehicleID      string     `json:"vehicle_id"`
	Round          int        `json:"round"`
	IssuedAt       time.Time  `json:"issued_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	DistanceMeters int        `json:"distance_m"` // vehicle to pickup, snapshot at issue
	EtaSeconds     int        `json:"eta_s"`
	Fare           int64      `json:"fare"`
	State          OfferState `json:"state"`
	Reason         string     `json:"reason,omitempty"`
}

func (o *Offer) ExpiredAt(now time.Time) bool { return now.After(o.ExpiresAt) }

type Vehicle struct {
	ID           string       `json:"id"`
	Registration string       `json:"registration,omitempty"`
	Class        VehicleClass `json:"class"`
	Loc          Location     `json:"loc"`
	Online       bool         `json:"online"`
	Busy         bool         `json:"busy"`
	Rating       float64      `json:"rating"` // 0..5
	Updated      time.Time    `json:"updated"`
}

// Claim is a candidate's attempt to accept its offer. ClientTS is informational
// only; arbitration order is arrival order, client clocks are untrusted.
type Claim struct {
	OfferID   string    `json:"offer_id"`
	VehicleID string    `json:"vehicle_id"`
	BookingID string    `json:"booking_id,omitempty"`
	ClientTS  time.Time `json:"client_ts,omitempty"`
}
