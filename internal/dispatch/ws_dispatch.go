package dispatch

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ambulance-dispatch/internal/models"
)

// Message is the envelope written to a vehicle's socket.
type Message struct {
	Type    string        `json:"type"` // "offer" | "offer_retracted"
	Offer   *models.Offer `json:"offer,omitempty"`
	OfferID string        `json:"offer_id,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}

// WSSession represents a connected vehicle session
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(m)
}

// WSRegistry holds vehicle sessions and implements Notifier over them.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

func (r *WSRegistry) Add(vehicleID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.sessions[vehicleID]; ok {
		_ = prev.conn.Close()
	}
	r.sessions[vehicleID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(vehicleID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[vehicleID]; ok && cur.conn == conn {
		delete(r.sessions, vehicleID)
	}
}

func (r *WSRegistry) Connected(vehicleID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[vehicleID]
	return ok
}

func (r *WSRegistry) OfferIssued(vehicleID string, offer models.Offer) error {
	return r.write(vehicleID, Message{Type: "offer", Offer: &offer})
}

func (r *WSRegistry) OfferRetracted(vehicleID, offerID, reason string) error {
	return r.write(vehicleID, Message{Type: "offer_retracted", OfferID: offerID, Reason: reason})
}

func (r *WSRegistry) write(vehicleID string, m Message) error {
	r.mu.RLock()
	s, ok := r.sessions[vehicleID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.send(m); err != nil {
		r.logger.Warn("ws send error", "vehicle_id", vehicleID, "error", err)
		return err
	}
	return nil
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
