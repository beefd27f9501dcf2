package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ambulance-dispatch/internal/dispatch"
	"github.com/example/ambulance-dispatch/internal/engine"
	"github.com/example/ambulance-dispatch/internal/fleet"
	"github.com/example/ambulance-dispatch/internal/hospitals"
	"github.com/example/ambulance-dispatch/internal/ingest"
	"github.com/example/ambulance-dispatch/internal/models"
)

type Server struct {
	Engine    *engine.Engine
	Roster    fleet.Roster
	Hospitals *hospitals.Directory
	Kafka     *ingest.KafkaProducer // optional
	WSReg     *dispatch.WSRegistry
	logger    *slog.Logger
	mux       *mux.Router
}

func NewServer(eng *engine.Engine, roster fleet.Roster, dir *hospitals.Directory, kafka *ingest.KafkaProducer, wsreg *dispatch.WSRegistry, logger *slog.Logger) *Server {
	s := &Server{
		Engine:    eng,
		Roster:    roster,
		Hospitals: dir,
		Kafka:     kafka,
		WSReg:     wsreg,
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/bookings", s.handleCreateBooking).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}", s.handleGetBooking).Methods("GET")
	s.mux.HandleFunc("/api/v1/bookings/{id}/cancel", s.handleCancelBooking).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/status", s.handleAdvanceStatus).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/track", s.handleTrack).Methods("GET")
	s.mux.HandleFunc("/api/v1/offers/{id}/claim", s.handleClaim).Methods("POST")
	s.mux.HandleFunc("/api/v1/offers/{id}/decline", s.handleDecline).Methods("POST")
	s.mux.HandleFunc("/api/v1/vehicles/{id}/online", s.handleVehicleOnline).Methods("PATCH")
	s.mux.HandleFunc("/api/v1/hospitals", s.handleHospitals).Methods("GET")
	s.mux.HandleFunc("/api/v1/dashboard/metrics", s.handleDashboard).Methods("GET")
	s.mux.HandleFunc("/internal/vehicle/locations", s.handleVehicleLocation).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/vehicles/{vehicle_id}", s.handleVehicleWS)
	s.mux.HandleFunc("/ws/bookings/{booking_id}", s.handleBookingWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req models.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	// a hospital ID wins over a raw destination
	if req.HospitalID != "" {
		h, ok := s.Hospitals.Get(req.HospitalID)
		if !ok {
			writeError(w, http.StatusBadRequest, "validation", "unknown hospital "+req.HospitalID)
			return
		}
		req.Destination = h.Location
	}
	b, err := s.Engine.CreateBooking(r.Context(), req)
	if err != nil {
		if engine.KindOf(err) == engine.KindNoCandidates && b != nil {
			// explicit "no ambulance available" rather than a hang
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"booking": b,
				"kind":    string(engine.KindNoCandidates),
				"error":   "no ambulance available",
			})
			return
		}
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"booking": b})
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b, err := s.Engine.GetBooking(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": b})
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		ActorID string `json:"actor_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	b, err := s.Engine.CancelBooking(r.Context(), id, body.ActorID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": b})
}

func (s *Server) handleAdvanceStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		VehicleID string `json:"vehicle_id"`
		Status    string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	target := models.BookingStatus(strings.ToUpper(strings.TrimSpace(body.Status)))
	b, err := s.Engine.AdvanceStatus(r.Context(), id, body.VehicleID, target)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": b})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b, loc, err := s.Engine.Track(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"booking_id": b.ID,
		"status":     b.Status,
		"location":   loc,
		"eta_s":      b.EtaSeconds,
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	offerID := mux.Vars(r)["id"]
	var body models.Claim
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	body.OfferID = offerID
	b, err := s.Engine.SubmitClaim(r.Context(), body)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": b})
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	offerID := mux.Vars(r)["id"]
	var body struct {
		VehicleID string `json:"vehicle_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if err := s.Engine.DeclineOffer(r.Context(), offerID, body.VehicleID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "declined"})
}

func (s *Server) handleVehicleOnline(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	s.Engine.SetVehicleOnline(id, body.Online)
	writeJSON(w, http.StatusOK, map[string]any{"online": body.Online})
}

func (s *Server) handleHospitals(w http.ResponseWriter, r *http.Request) {
	var near *models.Location
	if v := r.URL.Query().Get("near"); v != "" {
		parts := strings.Split(v, ",")
		if len(parts) != 2 {
			writeError(w, http.StatusBadRequest, "validation", "near must be lat,lng")
			return
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil {
			writeError(w, http.StatusBadRequest, "validation", "near must be lat,lng")
			return
		}
		near = &models.Location{Lat: lat, Lng: lng}
	}
	var needs []string
	if v := r.URL.Query().Get("needs"); v != "" {
		needs = strings.Split(v, ",")
	}
	writeJSON(w, http.StatusOK, s.Hospitals.List(near, needs))
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"activeTrips":    s.Engine.ActiveTrips(),
		"vehiclesOnline": s.Roster.OnlineCount(),
	})
}

func (s *Server) handleVehicleLocation(w http.ResponseWriter, r *http.Request) {
	var v models.Vehicle
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if v.ID == "" {
		writeError(w, http.StatusBadRequest, "validation", "vehicle id required")
		return
	}
	v.Online = true
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(v); err != nil {
			s.logger.Warn("kafka publish failed", "vehicle_id", v.ID, "error", err)
		}
	}
	s.Roster.Upsert(v)
	s.Engine.ReportLocation(v.ID, v.Loc)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "booking not found")
		return
	}
	kind := engine.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case engine.KindValidation:
		status = http.StatusBadRequest
	case engine.KindOfferExpiredOrSuperseded, engine.KindInvalidTransition:
		status = http.StatusConflict
	case engine.KindNoCandidates, engine.KindNoOfferAccepted, engine.KindStorageUnavailable:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, string(kind), err.Error())
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]any{"kind": kind, "error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
