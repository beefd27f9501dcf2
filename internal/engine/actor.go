package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/observability"
)

var errStopped = errors.New("engine: booking closed")

// actor owns all mutable state of one booking. Every command runs on its
// goroutine, so claims, expiries, cancellations and status changes apply in
// true arrival order with no further locking.
type actor struct {
	e  *Engine
	id string

	mailbox  chan func()
	stopped  chan struct{}
	stopOnce sync.Once

	booking    *models.Booking
	version    uint64
	offers     map[string]*models.Offer
	order      []string        // offer IDs in issue order
	excluded   map[string]bool // vehicles that declined this booking
	lastLoc    *models.Location
	round      int
	roundTimer *time.Timer
}

func newActor(e *Engine, b *models.Booking) *actor {
	return &actor{
		e:        e,
		id:       b.ID,
		mailbox:  make(chan func(), 64),
		stopped:  make(chan struct{}),
		booking:  b,
		offers:   make(map[string]*models.Offer),
		excluded: make(map[string]bool),
	}
}

func (a *actor) run() {
	for {
		select {
		case fn := <-a.mailbox:
			fn()
		case <-a.stopped:
			return
		}
	}
}

// call runs fn on the actor goroutine and waits for it to finish.
func (a *actor) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case a.mailbox <- wrapped:
	case <-a.stopped:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-a.stopped:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post enqueues fn without waiting; used by timers and heartbeats.
func (a *actor) post(fn func()) {
	select {
	case a.mailbox <- fn:
	case <-a.stopped:
	}
}

func (a *actor) stop() {
	a.stopOnce.Do(func() { close(a.stopped) })
}

func (a *actor) snapshot() *models.Booking {
	cp := *a.booking
	return &cp
}

func (a *actor) publish(ev models.Event) {
	ev.BookingID = a.id
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	a.e.events.Publish(a.id, ev)
}

func (a *actor) publishOfferResolved(o *models.Offer) {
	cp := *o
	a.publish(models.Event{Kind: models.EventOfferResolved, Offer: &cp, VehicleID: o.VehicleID, Reason: o.Reason})
}

// startRound issues the next batch of offers. It returns a non-nil error only
// when the very first round finds an empty market, so CreateBooking can
// surface NoCandidatesAvailable synchronously.
func (a *actor) startRound() error {
	if a.booking.Status.Terminal() {
		return nil
	}
	a.stopRoundTimer()
	a.round++
	if a.round > a.e.cfg.MaxRounds {
		observability.RoundsExhausted.Inc()
		a.terminate(models.CancelReasonExhausted)
		return nil
	}
	cands := a.e.selector.Candidates(a.booking.Pickup, a.booking.Class, a.excluded, a.e.cfg.Fanout)
	if len(cands) == 0 {
		if a.round == 1 {
			a.terminate(models.CancelReasonNoCandidates)
			return newError(KindNoCandidates, "no eligible %s vehicles near pickup", a.booking.Class)
		}
		// the market may recover; retry after backoff, consuming a round
		a.roundTimer = time.AfterFunc(a.e.cfg.RoundBackoff, func() {
			a.post(func() { _ = a.startRound() })
		})
		return nil
	}

	if a.booking.Status == models.StatusRequested {
		a.setStatus(models.StatusOffering, "")
	}

	now := time.Now()
	window := a.e.cfg.OfferWindow
	round := a.round
	for _, v := range cands {
		leg := a.e.routes.Route(v.Loc, a.booking.Pickup)
		o := &models.Offer{
			ID:             uuid.NewString(),
			BookingID:      a.id,
			VehicleID:      v.ID,
			Round:          round,
			IssuedAt:       now,
			ExpiresAt:      now.Add(window),
			DistanceMeters: leg.DistanceMeters,
			EtaSeconds:     leg.DurationSeconds,
			Fare:           a.booking.Fare,
			State:          models.OfferPending,
		}
		a.offers[o.ID] = o
		a.order = append(a.order, o.ID)
		a.e.indexOffer(o.ID, a.id)
		a.e.persistOffer(o)
		if err := a.e.notifier.OfferIssued(v.ID, *o); err != nil {
			a.e.logger.Debug("offer delivery failed", "offer_id", o.ID, "vehicle_id", v.ID, "error", err)
		}
		cp := *o
		a.publish(models.Event{Kind: models.EventOfferIssued, Offer: &cp, VehicleID: v.ID})
		observability.OffersIssued.Inc()

		oid := o.ID
		time.AfterFunc(window, func() {
			a.post(func() { a.offerExpired(oid) })
		})
	}
	a.roundTimer = time.AfterFunc(window, func() {
		a.post(func() { a.roundExpired(round) })
	})
	a.e.logger.Info("offer round started",
		"booking_id", a.id, "round", round, "offers", len(cands), "window", window)
	return nil
}

func (a *actor) stopRoundTimer() {
	if a.roundTimer != nil {
		a.roundTimer.Stop()
		a.roundTimer = nil
	}
}

// offerExpired handles a single offer's deadline. The deadline is re-checked
// here because a claim may have resolved the offer between the timer firing
// and this running.
func (a *actor) offerExpired(offerID string) {
	o := a.offers[offerID]
	if o == nil || o.State != models.OfferPending {
		return
	}
	if !o.ExpiredAt(time.Now()) {
		return
	}
	o.State = models.OfferExpired
	a.e.persistOffer(o)
	a.publishOfferResolved(o)
	a.maybeAdvanceRound()
}

// roundExpired is the backstop for a whole round timing out. Individual offer
// timers normally get there first; anything still pending is expired here.
func (a *actor) roundExpired(round int) {
	if a.round != round || a.booking.Status != models.StatusOffering {
		return
	}
	for _, id := range a.order {
		o := a.offers[id]
		if o.State != models.OfferPending {
			continue
		}
		o.State = models.OfferExpired
		a.e.persistOffer(o)
		a.publishOfferResolved(o)
	}
	_ = a.startRound()
}

// maybeAdvanceRound starts the next round early once every offer of the
// current round is resolved.
func (a *actor) maybeAdvanceRound() {
	if a.booking.Status != models.StatusOffering {
		return
	}
	for _, o := range a.offers {
		if o.State == models.OfferPending {
			return
		}
	}
	_ = a.startRound()
}

// handleClaim is the arbitration point. The winner is simply the first claim
// to run here while the booking is still OFFERING and its offer unexpired;
// client timestamps carry no weight.
func (a *actor) handleClaim(c models.Claim) (*models.Booking, error) {
	o := a.offers[c.OfferID]
	if o == nil {
		observability.ClaimsRejected.Inc()
		return nil, newError(KindOfferExpiredOrSuperseded, "offer %s is no longer open", c.OfferID)
	}
	if o.VehicleID != c.VehicleID {
		return nil, newError(KindValidation, "offer %s does not belong to vehicle %s", c.OfferID, c.VehicleID)
	}
	if o.State != models.OfferPending || a.booking.Status != models.StatusOffering {
		observability.ClaimsRejected.Inc()
		return nil, newError(KindOfferExpiredOrSuperseded, "booking %s already decided", a.id)
	}
	now := time.Now()
	if o.ExpiredAt(now) {
		// claim-time check wins over any timer race
		o.State = models.OfferExpired
		a.e.persistOffer(o)
		a.publishOfferResolved(o)
		observability.ClaimsRejected.Inc()
		a.maybeAdvanceRound()
		return nil, newError(KindOfferExpiredOrSuperseded, "offer %s expired", c.OfferID)
	}

	// a vehicle holds at most one active booking; reserve it before committing
	if !a.e.tryAssign(c.VehicleID, a.id) {
		o.State = models.OfferRejected
		o.Reason = models.OfferReasonSuperseded
		a.e.persistOffer(o)
		a.publishOfferResolved(o)
		observability.ClaimsRejected.Inc()
		a.maybeAdvanceRound()
		return nil, newError(KindOfferExpiredOrSuperseded, "vehicle %s already holds an active booking", c.VehicleID)
	}

	// persist the decision before applying it, so a dead store cannot leave
	// two parties believing different outcomes
	updated := *a.booking
	updated.Status = models.StatusAccepted
	updated.VehicleID = c.VehicleID
	updated.UpdatedAt = now
	version, err := a.e.persistBooking(context.Background(), &updated, a.version)
	if err != nil {
		a.e.unassign(c.VehicleID)
		return nil, err
	}
	a.version = version
	a.booking = &updated
	a.stopRoundTimer()

	o.State = models.OfferAccepted
	a.e.persistOffer(o)

	for _, id := range a.order {
		other := a.offers[id]
		if other.State != models.OfferPending {
			continue
		}
		other.State = models.OfferRejected
		other.Reason = models.OfferReasonSuperseded
		a.e.persistOffer(other)
		_ = a.e.notifier.OfferRetracted(other.VehicleID, other.ID, other.Reason)
		a.publishOfferResolved(other)
	}

	a.e.roster.SetBusy(c.VehicleID, true)
	observability.ClaimsWon.Inc()
	observability.ClaimLatency.Observe(now.Sub(o.IssuedAt).Seconds())
	observability.ActiveTrips.Inc()

	a.publishOfferResolved(o)
	a.publish(models.Event{Kind: models.EventStatusChanged, Status: models.StatusAccepted, VehicleID: c.VehicleID})
	a.clearOffers()
	a.e.logger.Info("claim won", "booking_id", a.id, "vehicle_id", c.VehicleID, "offer_id", c.OfferID)
	return a.snapshot(), nil
}

func (a *actor) handleDecline(offerID, vehicleID string) error {
	o := a.offers[offerID]
	if o == nil {
		return newError(KindOfferExpiredOrSuperseded, "offer %s is no longer open", offerID)
	}
	if o.VehicleID != vehicleID {
		return newError(KindValidation, "offer %s does not belong to vehicle %s", offerID, vehicleID)
	}
	if o.State != models.OfferPending {
		// already resolved; declining again is harmless
		return nil
	}
	o.State = models.OfferRejected
	o.Reason = models.OfferReasonDeclined
	a.excluded[vehicleID] = true
	a.e.persistOffer(o)
	a.publishOfferResolved(o)
	a.maybeAdvanceRound()
	return nil
}

func (a *actor) advanceStatus(vehicleID string, target models.BookingStatus) (*models.Booking, error) {
	if a.booking.Status.Terminal() {
		return nil, newError(KindInvalidTransition, "booking %s is %s", a.id, a.booking.Status)
	}
	if vehicleID == "" || vehicleID != a.booking.VehicleID {
		return nil, newError(KindValidation, "vehicle %s is not assigned to booking %s", vehicleID, a.id)
	}
	if !driverTransition(a.booking.Status, target) {
		return nil, newError(KindInvalidTransition, "%s -> %s", a.booking.Status, target)
	}
	updated := *a.booking
	updated.Status = target
	updated.UpdatedAt = time.Now()
	version, err := a.e.persistBooking(context.Background(), &updated, a.version)
	if err != nil {
		return nil, err
	}
	a.version = version
	a.booking = &updated
	a.publish(models.Event{Kind: models.EventStatusChanged, Status: target, VehicleID: vehicleID})
	if target == models.StatusCompleted {
		a.e.roster.SetBusy(vehicleID, false)
		a.e.unassign(vehicleID)
		observability.ActiveTrips.Dec()
		a.finish()
	}
	return a.snapshot(), nil
}

func (a *actor) cancel(actorID string) (*models.Booking, error) {
	if a.booking.Status.Terminal() {
		return nil, newError(KindInvalidTransition, "booking %s is already %s", a.id, a.booking.Status)
	}
	reason := models.CancelReasonRequester
	if actorID != "" && actorID != a.booking.RequesterID {
		reason = models.CancelReasonOperator
	}
	wasActive := a.booking.VehicleID != ""

	updated := *a.booking
	updated.Status = models.StatusCanceled
	updated.CancelReason = reason
	updated.UpdatedAt = time.Now()
	version, err := a.e.persistBooking(context.Background(), &updated, a.version)
	if err != nil {
		return nil, err
	}
	a.version = version
	prevVehicle := a.booking.VehicleID
	a.booking = &updated
	a.stopRoundTimer()

	for _, id := range a.order {
		o := a.offers[id]
		if o.State != models.OfferPending {
			continue
		}
		o.State = models.OfferRejected
		o.Reason = models.OfferReasonCanceled
		a.e.persistOffer(o)
		_ = a.e.notifier.OfferRetracted(o.VehicleID, o.ID, o.Reason)
		a.publishOfferResolved(o)
	}
	if wasActive {
		a.e.roster.SetBusy(prevVehicle, false)
		a.e.unassign(prevVehicle)
		observability.ActiveTrips.Dec()
	}
	a.publish(models.Event{Kind: models.EventStatusChanged, Status: models.StatusCanceled, Reason: reason})
	a.finish()
	return a.snapshot(), nil
}

// terminate cancels the booking from inside the engine (empty market,
// exhausted rounds). Storage failures here are logged, not surfaced: there is
// no caller left to retry.
func (a *actor) terminate(reason string) {
	updated := *a.booking
	updated.Status = models.StatusCanceled
	updated.CancelReason = reason
	updated.UpdatedAt = time.Now()
	if version, err := a.e.persistBooking(context.Background(), &updated, a.version); err == nil {
		a.version = version
	} else {
		a.e.logger.Error("persist terminal booking failed", "booking_id", a.id, "error", err)
	}
	a.booking = &updated
	a.stopRoundTimer()
	for _, id := range a.order {
		o := a.offers[id]
		if o.State != models.OfferPending {
			continue
		}
		o.State = models.OfferExpired
		a.e.persistOffer(o)
		a.publishOfferResolved(o)
	}
	a.publish(models.Event{Kind: models.EventStatusChanged, Status: models.StatusCanceled, Reason: reason})
	a.e.logger.Info("booking escalated", "booking_id", a.id, "reason", reason, "rounds", a.round)
	a.finish()
}

// setStatus applies an engine-driven transition (REQUESTED→OFFERING).
func (a *actor) setStatus(s models.BookingStatus, reason string) {
	updated := *a.booking
	updated.Status = s
	updated.CancelReason = reason
	updated.UpdatedAt = time.Now()
	if version, err := a.e.persistBooking(context.Background(), &updated, a.version); err == nil {
		a.version = version
	} else {
		a.e.logger.Error("persist booking status failed", "booking_id", a.id, "status", s, "error", err)
	}
	a.booking = &updated
	a.publish(models.Event{Kind: models.EventStatusChanged, Status: s, Reason: reason})
}

// vehicleMoved relays a heartbeat from the assigned vehicle to subscribers
// and refreshes the ETA toward the current leg target.
func (a *actor) vehicleMoved(loc models.Location) {
	if a.booking.Status.Terminal() {
		return
	}
	a.lastLoc = &loc
	cp := loc
	a.publish(models.Event{Kind: models.EventLocationUpdated, Location: &cp, VehicleID: a.booking.VehicleID})

	var target models.Location
	switch a.booking.Status {
	case models.StatusAccepted, models.StatusEnroute:
		target = a.booking.Pickup
	case models.StatusAtPickup, models.StatusToHospital:
		target = a.booking.Destination
	default:
		return
	}
	r := a.e.routes.Route(loc, target)
	a.booking.EtaSeconds = r.DurationSeconds
	a.publish(models.Event{Kind: models.EventEtaUpdated, EtaSecs: r.DurationSeconds, VehicleID: a.booking.VehicleID})
}

// clearOffers garbage-collects offer state once the booking leaves OFFERING.
// Claims against any of these IDs then miss the engine's offer index and are
// rejected as superseded.
func (a *actor) clearOffers() {
	if len(a.order) == 0 {
		return
	}
	a.e.dropOffers(a.order)
	a.offers = make(map[string]*models.Offer)
	a.order = nil
}

// finish closes the booking: offers are collected and, after a grace period
// that lets subscribers read the final state, the event stream closes and the
// actor is torn down. Reads fall back to the durable store afterwards.
func (a *actor) finish() {
	a.stopRoundTimer()
	a.clearOffers()
	// remove the actor before closing the stream: Subscribe routes to the
	// store replay path once the actor is gone, so nobody can register on a
	// registry entry that will never close again
	time.AfterFunc(a.e.cfg.TerminalGrace, func() {
		a.e.removeActor(a.id)
		a.e.events.Close(a.id)
		a.stop()
	})
}
