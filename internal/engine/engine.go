package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ambulance-dispatch/internal/dispatch"
	"github.com/example/ambulance-dispatch/internal/eligibility"
	"github.com/example/ambulance-dispatch/internal/eta"
	"github.com/example/ambulance-dispatch/internal/events"
	"github.com/example/ambulance-dispatch/internal/fare"
	"github.com/example/ambulance-dispatch/internal/fleet"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/observability"
	"github.com/example/ambulance-dispatch/internal/storage"
)

// Config holds the offer and round tuning for the engine.
type Config struct {
	OfferWindow   time.Duration // per-offer deadline
	Fanout        int           // max offers per round
	MaxRounds     int           // rounds before escalating to EXHAUSTED
	RoundBackoff  time.Duration // wait before retrying an empty round
	TerminalGrace time.Duration // event stream stays open this long after a terminal state
}

func (c Config) withDefaults() Config {
	if c.OfferWindow <= 0 {
		c.OfferWindow = 15 * time.Second
	}
	if c.Fanout <= 0 {
		c.Fanout = 5
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = 3
	}
	if c.RoundBackoff <= 0 {
		c.RoundBackoff = 2 * time.Second
	}
	if c.TerminalGrace <= 0 {
		c.TerminalGrace = 5 * time.Second
	}
	return c
}

type Deps struct {
	Selector *eligibility.Selector
	Roster   fleet.Roster
	Store    storage.KV
	Events   *events.Registry
	Notifier dispatch.Notifier
	Routes   *eta.Resolver
	Logger   *slog.Logger
}

// Engine is the dispatch and offer-arbitration core. Every mutating operation
// on a booking funnels through that booking's single actor goroutine, so
// claims and transitions on one booking never interleave while different
// bookings proceed independently.
type Engine struct {
	cfg      Config
	selector *eligibility.Selector
	roster   fleet.Roster
	store    storage.KV
	events   *events.Registry
	notifier dispatch.Notifier
	routes   *eta.Resolver
	logger   *slog.Logger

	mu          sync.Mutex
	actors      map[string]*actor
	offerIndex  map[string]string // offerID -> bookingID, dropped when the booking leaves OFFERING
	assignments map[string]string // vehicleID -> bookingID
}

func New(cfg Config, d Deps) *Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Engine{
		cfg:         cfg.withDefaults(),
		selector:    d.Selector,
		roster:      d.Roster,
		store:       d.Store,
		events:      d.Events,
		notifier:    d.Notifier,
		routes:      d.Routes,
		logger:      d.Logger,
		actors:      make(map[string]*actor),
		offerIndex:  make(map[string]string),
		assignments: make(map[string]string),
	}
}

// CreateBooking validates the request, persists a new booking and runs the
// first offer round synchronously so the caller learns right away when no
// vehicle is near the pickup. Later rounds run asynchronously; their outcome
// is streamed to subscribers.
func (e *Engine) CreateBooking(ctx context.Context, req models.BookingRequest) (*models.Booking, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	route := e.routes.Route(req.Pickup, req.Destination)
	now := time.Now()
	b := &models.Booking{
		ID:             uuid.NewString(),
		Code:           bookingCode(),
		RequesterID:    req.RequesterID,
		Pickup:         req.Pickup,
		Destination:    req.Destination,
		HospitalID:     req.HospitalID,
		Class:          req.Class,
		PatientName:    req.PatientName,
		ContactPhone:   req.ContactPhone,
		Status:         models.StatusRequested,
		DistanceMeters: route.DistanceMeters,
		EtaSeconds:     route.DurationSeconds,
		Fare:           fare.Estimate(route.DistanceMeters, req.Class),
		Geometry:       route.Geometry,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	a := newActor(e, b)
	version, err := e.persistBooking(ctx, b, 0)
	if err != nil {
		return nil, err
	}
	a.version = version

	e.mu.Lock()
	e.actors[b.ID] = a
	e.mu.Unlock()
	go a.run()
	observability.BookingsCreated.Inc()

	var (
		out  *models.Booking
		rerr error
	)
	if err := a.call(ctx, func() {
		rerr = a.startRound()
		out = a.snapshot()
	}); err != nil {
		return nil, err
	}
	return out, rerr
}

// SubmitClaim arbitrates a candidate's acceptance. The first valid claim to
// reach the booking's actor wins; everything later loses, including duplicate
// deliveries of the winning claim.
func (e *Engine) SubmitClaim(ctx context.Context, claim models.Claim) (*models.Booking, error) {
	if claim.OfferID == "" || claim.VehicleID == "" {
		return nil, newError(KindValidation, "claim requires offer_id and vehicle_id")
	}
	a := e.actorForOffer(claim.OfferID)
	if a == nil {
		observability.ClaimsRejected.Inc()
		return nil, e.staleClaimError(ctx, claim)
	}
	var (
		b    *models.Booking
		rerr error
	)
	if err := a.call(ctx, func() { b, rerr = a.handleClaim(claim) }); err != nil {
		if errors.Is(err, errStopped) {
			observability.ClaimsRejected.Inc()
			return nil, e.staleClaimError(ctx, claim)
		}
		return nil, err
	}
	return b, rerr
}

// staleClaimError classifies a claim whose offer is gone. When the claim
// names its booking and that booking ran out of offer rounds, the caller
// learns that no offer was accepted rather than the generic superseded case.
func (e *Engine) staleClaimError(ctx context.Context, claim models.Claim) error {
	if claim.BookingID != "" {
		if b, err := e.loadBooking(ctx, claim.BookingID); err == nil &&
			b.Status == models.StatusCanceled && b.CancelReason == models.CancelReasonExhausted {
			return newError(KindNoOfferAccepted, "no offer was accepted for booking %s", claim.BookingID)
		}
	}
	return newError(KindOfferExpiredOrSuperseded, "offer %s is no longer open", claim.OfferID)
}

// DeclineOffer resolves the offer REJECTED and excludes the vehicle from
// later rounds of this booking.
func (e *Engine) DeclineOffer(ctx context.Context, offerID, vehicleID string) error {
	if offerID == "" || vehicleID == "" {
		return newError(KindValidation, "decline requires offer_id and vehicle_id")
	}
	a := e.actorForOffer(offerID)
	if a == nil {
		return newError(KindOfferExpiredOrSuperseded, "offer %s is no longer open", offerID)
	}
	var rerr error
	if err := a.call(ctx, func() { rerr = a.handleDecline(offerID, vehicleID) }); err != nil {
		if errors.Is(err, errStopped) {
			return newError(KindOfferExpiredOrSuperseded, "offer %s is no longer open", offerID)
		}
		return err
	}
	return rerr
}

// AdvanceStatus applies a status command from the assigned vehicle. Only the
// next adjacent state is accepted.
func (e *Engine) AdvanceStatus(ctx context.Context, bookingID, vehicleID string, target models.BookingStatus) (*models.Booking, error) {
	a := e.actorFor(bookingID)
	if a == nil {
		b, err := e.loadBooking(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		return nil, newError(KindInvalidTransition, "booking %s is %s", bookingID, b.Status)
	}
	var (
		b    *models.Booking
		rerr error
	)
	if err := a.call(ctx, func() { b, rerr = a.advanceStatus(vehicleID, target) }); err != nil {
		if errors.Is(err, errStopped) {
			return nil, newError(KindInvalidTransition, "booking %s is closed", bookingID)
		}
		return nil, err
	}
	return b, rerr
}

// CancelBooking cancels a non-terminal booking, invalidating all outstanding
// offers immediately.
func (e *Engine) CancelBooking(ctx context.Context, bookingID, actorID string) (*models.Booking, error) {
	a := e.actorFor(bookingID)
	if a == nil {
		b, err := e.loadBooking(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		return nil, newError(KindInvalidTransition, "booking %s is %s", bookingID, b.Status)
	}
	var (
		b    *models.Booking
		rerr error
	)
	if err := a.call(ctx, func() { b, rerr = a.cancel(actorID) }); err != nil {
		if errors.Is(err, errStopped) {
			return nil, newError(KindInvalidTransition, "booking %s is closed", bookingID)
		}
		return nil, err
	}
	return b, rerr
}

func (e *Engine) SetVehicleOnline(vehicleID string, online bool) {
	e.roster.SetOnline(vehicleID, online)
}

// ReportLocation updates the roster and, when the vehicle is on an active
// trip, relays the position and a refreshed ETA to the booking's subscribers.
func (e *Engine) ReportLocation(vehicleID string, loc models.Location) {
	v, ok := e.roster.Get(vehicleID)
	if !ok {
		v = models.Vehicle{ID: vehicleID, Online: true}
	}
	v.Loc = loc
	e.roster.Upsert(v)

	e.mu.Lock()
	var a *actor
	if bid, ok := e.assignments[vehicleID]; ok {
		a = e.actors[bid]
	}
	e.mu.Unlock()
	if a != nil {
		a.post(func() { a.vehicleMoved(loc) })
	}
}

// Subscribe attaches an event stream to a booking. For bookings already in a
// terminal state it replays the final status and closes immediately.
func (e *Engine) Subscribe(ctx context.Context, bookingID string) (<-chan models.Event, func(), error) {
	if e.actorFor(bookingID) != nil {
		ch, cancel := e.events.Subscribe(bookingID)
		// teardown may have run between the check and the registration;
		// re-check so the subscription cannot outlive the stream
		if e.actorFor(bookingID) != nil {
			return ch, cancel, nil
		}
		cancel()
	}
	b, err := e.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan models.Event, 1)
	ch <- models.Event{Kind: models.EventStatusChanged, BookingID: bookingID, Status: b.Status, Reason: b.CancelReason, At: b.UpdatedAt}
	close(ch)
	return ch, func() {}, nil
}

func (e *Engine) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	if a := e.actorFor(bookingID); a != nil {
		var b *models.Booking
		if err := a.call(ctx, func() { b = a.snapshot() }); err == nil {
			return b, nil
		}
	}
	return e.loadBooking(ctx, bookingID)
}

// Track returns the booking with the last reported vehicle location, if any.
func (e *Engine) Track(ctx context.Context, bookingID string) (*models.Booking, *models.Location, error) {
	if a := e.actorFor(bookingID); a != nil {
		var (
			b   *models.Booking
			loc *models.Location
		)
		if err := a.call(ctx, func() {
			b = a.snapshot()
			if a.lastLoc != nil {
				cp := *a.lastLoc
				loc = &cp
			}
		}); err == nil {
			return b, loc, nil
		}
	}
	b, err := e.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	return b, nil, nil
}

// ActiveTrips reports bookings currently holding a vehicle.
func (e *Engine) ActiveTrips() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.assignments)
}

func validateRequest(req models.BookingRequest) error {
	if req.RequesterID == "" {
		return newError(KindValidation, "requester_id required")
	}
	if !req.Class.Valid() {
		return newError(KindValidation, "unknown vehicle class %q", req.Class)
	}
	if !validCoord(req.Pickup) {
		return newError(KindValidation, "pickup out of range")
	}
	if !validCoord(req.Destination) {
		return newError(KindValidation, "destination out of range")
	}
	return nil
}

func validCoord(l models.Location) bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

func bookingCode() string {
	s := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "AMB" + s[:6]
}

// --- actor registry and indexes ---

func (e *Engine) actorFor(bookingID string) *actor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.actors[bookingID]
}

func (e *Engine) actorForOffer(offerID string) *actor {
	e.mu.Lock()
	defer e.mu.Unlock()
	bid, ok := e.offerIndex[offerID]
	if !ok {
		return nil
	}
	return e.actors[bid]
}

func (e *Engine) removeActor(bookingID string) {
	e.mu.Lock()
	delete(e.actors, bookingID)
	e.mu.Unlock()
}

func (e *Engine) indexOffer(offerID, bookingID string) {
	e.mu.Lock()
	e.offerIndex[offerID] = bookingID
	e.mu.Unlock()
}

func (e *Engine) dropOffers(offerIDs []string) {
	e.mu.Lock()
	for _, id := range offerIDs {
		delete(e.offerIndex, id)
	}
	e.mu.Unlock()
}

// tryAssign reserves the vehicle for the booking. It fails when the vehicle
// already holds a different booking, so concurrent claims from one vehicle on
// two bookings cannot both commit.
func (e *Engine) tryAssign(vehicleID, bookingID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.assignments[vehicleID]; ok && cur != bookingID {
		return false
	}
	e.assignments[vehicleID] = bookingID
	return true
}

func (e *Engine) unassign(vehicleID string) {
	e.mu.Lock()
	delete(e.assignments, vehicleID)
	e.mu.Unlock()
}

// --- persistence ---

func bookingKey(id string) string { return "booking:" + id }
func offerKey(id string) string   { return "offer:" + id }

func (e *Engine) loadBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	v, ok, err := e.store.Get(ctx, bookingKey(bookingID))
	if err != nil {
		return nil, &Error{Kind: KindStorageUnavailable, Msg: "load booking " + bookingID, Err: err}
	}
	if !ok {
		return nil, ErrNotFound
	}
	var b models.Booking
	if err := json.Unmarshal(v.Value, &b); err != nil {
		return nil, &Error{Kind: KindStorageUnavailable, Msg: "decode booking " + bookingID, Err: err}
	}
	return &b, nil
}

// persistBooking writes a booking snapshot with optimistic versioning,
// retrying transient store failures with backoff. Version conflicts are a
// bug (the actor is the only writer) and are not retried.
func (e *Engine) persistBooking(ctx context.Context, b *models.Booking, version uint64) (uint64, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return 0, newError(KindValidation, "encode booking: %v", err)
	}
	delay := 100 * time.Millisecond
	var lastErr error
	for i := 0; i < 3; i++ {
		next, err := e.store.CompareAndSwap(ctx, bookingKey(b.ID), data, version)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, storage.ErrVersionConflict) {
			return 0, &Error{Kind: KindStorageUnavailable, Msg: "booking version conflict", Err: err}
		}
		lastErr = err
		time.Sleep(delay)
		delay *= 2
	}
	return 0, &Error{Kind: KindStorageUnavailable, Msg: "persist booking " + b.ID, Err: lastErr}
}

func (e *Engine) persistOffer(o *models.Offer) {
	data, err := json.Marshal(o)
	if err != nil {
		return
	}
	delay := 100 * time.Millisecond
	for i := 0; i < 3; i++ {
		if _, err = e.store.Put(context.Background(), offerKey(o.ID), data); err == nil {
			return
		}
		time.Sleep(delay)
		delay *= 2
	}
	e.logger.Error("persist offer failed", "offer_id", o.ID, "booking_id", o.BookingID, "error", err)
}
