package dispatch

import "github.com/example/ambulance-dispatch/internal/models"

// Notifier delivers offers to candidate vehicles and retracts them once the
// booking is decided, so driver UIs drop stale offers immediately instead of
// waiting for local expiry.
type Notifier interface {
	OfferIssued(vehicleID string, offer models.Offer) error
	OfferRetracted(vehicleID, offerID, reason string) error
}

// Chain tries each notifier in order until one succeeds. Typical wiring is
// websocket first, HTTP push as fallback.
type Chain []Notifier

func (c Chain) OfferIssued(vehicleID string, offer models.Offer) error {
	var err error
	for _, n := range c {
		if err = n.OfferIssued(vehicleID, offer); err == nil {
			return nil
		}
	}
	return err
}

func (c Chain) OfferRetracted(vehicleID, offerID, reason string) error {
	var err error
	for _, n := range c {
		if err = n.OfferRetracted(vehicleID, offerID, reason); err == nil {
			return nil
		}
	}
	return err
}
