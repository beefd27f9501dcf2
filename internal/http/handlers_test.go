package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/example/ambulance-dispatch/internal/dispatch"
	"github.com/example/ambulance-dispatch/internal/eligibility"
	"github.com/example/ambulance-dispatch/internal/engine"
	"github.com/example/ambulance-dispatch/internal/eta"
	"github.com/example/ambulance-dispatch/internal/events"
	"github.com/example/ambulance-dispatch/internal/fleet"
	"github.com/example/ambulance-dispatch/internal/hospitals"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/storage"
)

type captureNotifier struct {
	mu     sync.Mutex
	offers []models.Offer
}

func (c *captureNotifier) OfferIssued(vehicleID string, offer models.Offer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers = append(c.offers, offer)
	return nil
}

func (c *captureNotifier) OfferRetracted(vehicleID, offerID, reason string) error { return nil }

func (c *captureNotifier) waitOffer(t *testing.T) models.Offer {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.offers) > 0 {
			o := c.offers[0]
			c.mu.Unlock()
			return o
		}
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no offer issued")
	return models.Offer{}
}

func newTestServer(t *testing.T) (*Server, *fleet.Index, *captureNotifier) {
	t.Helper()
	logger := slog.Default()
	roster := fleet.NewIndex()
	notifier := &captureNotifier{}
	eng := engine.New(engine.Config{
		OfferWindow:   5 * time.Second,
		Fanout:        5,
		MaxRounds:     3,
		RoundBackoff:  10 * time.Millisecond,
		TerminalGrace: 50 * time.Millisecond,
	}, engine.Deps{
		Selector: &eligibility.Selector{Roster: roster, RadiusM: 10000},
		Roster:   roster,
		Store:    storage.NewMemoryKV(),
		Events:   events.NewRegistry(32),
		Notifier: notifier,
		Routes:   &eta.Resolver{FallbackMps: 8.33},
		Logger:   logger,
	})
	srv := NewServer(eng, roster, hospitals.NewDirectory(hospitals.Seed()), nil, dispatch.NewWSRegistry(logger), logger)
	return srv, roster, notifier
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func onlineVehicle(roster *fleet.Index, id string) {
	roster.Upsert(models.Vehicle{
		ID:     id,
		Class:  models.ClassALS,
		Loc:    models.Location{Lat: 13.05, Lng: 80.25},
		Online: true,
	})
}

func bookingBody() map[string]any {
	return map[string]any{
		"requester_id": "user-1",
		"pickup":       map[string]any{"lat": 13.05, "lng": 80.25},
		"destination":  map[string]any{"lat": 13.08, "lng": 80.27},
		"class":        "ALS",
	}
}

func TestCreateBookingAndClaimOverHTTP(t *testing.T) {
	srv, roster, notifier := newTestServer(t)
	onlineVehicle(roster, "amb-1")

	rec := doJSON(t, srv, "POST", "/api/v1/bookings", bookingBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Booking models.Booking `json:"booking"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.Booking.Status != models.StatusOffering || created.Booking.Code == "" {
		t.Fatalf("unexpected booking %+v", created.Booking)
	}
	if created.Booking.Fare <= 0 {
		t.Fatalf("fare should be estimated, got %d", created.Booking.Fare)
	}

	offer := notifier.waitOffer(t)
	rec = doJSON(t, srv, "POST", "/api/v1/offers/"+offer.ID+"/claim", map[string]any{"vehicle_id": "amb-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("claim: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, "GET", "/api/v1/bookings/"+created.Booking.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	var got struct {
		Booking models.Booking `json:"booking"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Booking.Status != models.StatusAccepted || got.Booking.VehicleID != "amb-1" {
		t.Fatalf("unexpected booking after claim: %+v", got.Booking)
	}
}

func TestCreateBookingNoAmbulanceAvailable(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, "POST", "/api/v1/bookings", bookingBody())
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Kind    string         `json:"kind"`
		Error   string         `json:"error"`
		Booking models.Booking `json:"booking"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Kind != "no_candidates_available" || resp.Error != "no ambulance available" {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if resp.Booking.Status != models.StatusCanceled {
		t.Fatalf("booking should come back CANCELED, got %s", resp.Booking.Status)
	}
}

func TestCreateBookingValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := bookingBody()
	body["class"] = "HELICOPTER"
	rec := doJSON(t, srv, "POST", "/api/v1/bookings", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}

	body = bookingBody()
	body["hospital_id"] = "no-such-hospital"
	rec = doJSON(t, srv, "POST", "/api/v1/bookings", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown hospital: status %d", rec.Code)
	}
}

func TestCreateBookingResolvesHospitalDestination(t *testing.T) {
	srv, roster, _ := newTestServer(t)
	onlineVehicle(roster, "amb-1")

	body := bookingBody()
	body["hospital_id"] = "h1"
	delete(body, "destination")
	rec := doJSON(t, srv, "POST", "/api/v1/bookings", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Booking models.Booking `json:"booking"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.Booking.Destination.Lat != 13.0475 {
		t.Fatalf("destination should be the hospital's location, got %+v", created.Booking.Destination)
	}
}

func TestClaimConflictMapsTo409(t *testing.T) {
	srv, roster, notifier := newTestServer(t)
	onlineVehicle(roster, "amb-1")
	onlineVehicle(roster, "amb-2")

	rec := doJSON(t, srv, "POST", "/api/v1/bookings", bookingBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d", rec.Code)
	}
	offer := notifier.waitOffer(t)
	if rec = doJSON(t, srv, "POST", "/api/v1/offers/"+offer.ID+"/claim", map[string]any{"vehicle_id": offer.VehicleID}); rec.Code != http.StatusOK {
		t.Fatalf("first claim: %d", rec.Code)
	}
	rec = doJSON(t, srv, "POST", "/api/v1/offers/"+offer.ID+"/claim", map[string]any{"vehicle_id": offer.VehicleID})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate claim should 409, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestGetBookingNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv, "GET", "/api/v1/bookings/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestVehicleLocationIngestAndDashboard(t *testing.T) {
	srv, roster, _ := newTestServer(t)

	rec := doJSON(t, srv, "POST", "/internal/vehicle/locations", map[string]any{
		"id":    "amb-7",
		"class": "BLS",
		"loc":   map[string]any{"lat": 13.06, "lng": 80.26},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("ingest: status %d body %s", rec.Code, rec.Body.String())
	}
	v, ok := roster.Get("amb-7")
	if !ok || !v.Online {
		t.Fatalf("heartbeat should upsert an online vehicle: %+v", v)
	}

	rec = doJSON(t, srv, "GET", "/api/v1/dashboard/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard: %d", rec.Code)
	}
	var dash struct {
		ActiveTrips    int `json:"activeTrips"`
		VehiclesOnline int `json:"vehiclesOnline"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &dash); err != nil {
		t.Fatal(err)
	}
	if dash.VehiclesOnline != 1 || dash.ActiveTrips != 0 {
		t.Fatalf("unexpected dashboard: %+v", dash)
	}
}

func TestHospitalsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, "GET", "/api/v1/hospitals?needs=NEO&near=13.05,80.25", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var list []hospitals.Hospital
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 NEO hospitals, got %d", len(list))
	}
	if list[0].DistanceKm > list[1].DistanceKm {
		t.Fatal("hospitals should be sorted by distance")
	}

	rec = doJSON(t, srv, "GET", "/api/v1/hospitals?near=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad near should 400, got %d", rec.Code)
	}
}

func TestStatusProgressionOverHTTP(t *testing.T) {
	srv, roster, notifier := newTestServer(t)
	onlineVehicle(roster, "amb-1")

	rec := doJSON(t, srv, "POST", "/api/v1/bookings", bookingBody())
	var created struct {
		Booking models.Booking `json:"booking"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	offer := notifier.waitOffer(t)
	doJSON(t, srv, "POST", "/api/v1/offers/"+offer.ID+"/claim", map[string]any{"vehicle_id": "amb-1"})

	statusURL := fmt.Sprintf("/api/v1/bookings/%s/status", created.Booking.ID)
	for _, next := range []string{"enroute", "at_pickup", "to_hospital", "completed"} {
		rec = doJSON(t, srv, "POST", statusURL, map[string]any{"vehicle_id": "amb-1", "status": next})
		if rec.Code != http.StatusOK {
			t.Fatalf("advance to %s: status %d body %s", next, rec.Code, rec.Body.String())
		}
	}
	// further commands hit a terminal booking
	rec = doJSON(t, srv, "POST", statusURL, map[string]any{"vehicle_id": "amb-1", "status": "enroute"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("terminal booking should 409, got %d", rec.Code)
	}
}

func TestCancelOverHTTP(t *testing.T) {
	srv, roster, _ := newTestServer(t)
	onlineVehicle(roster, "amb-1")

	rec := doJSON(t, srv, "POST", "/api/v1/bookings", bookingBody())
	var created struct {
		Booking models.Booking `json:"booking"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	rec = doJSON(t, srv, "POST", "/api/v1/bookings/"+created.Booking.ID+"/cancel", map[string]any{"actor_id": "user-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: status %d body %s", rec.Code, rec.Body.String())
	}
	var got struct {
		Booking models.Booking `json:"booking"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Booking.Status != models.StatusCanceled || got.Booking.CancelReason != models.CancelReasonRequester {
		t.Fatalf("unexpected cancel result: %+v", got.Booking)
	}
}
