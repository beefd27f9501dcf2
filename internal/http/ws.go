package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/ambulance-dispatch/internal/models"
)

var upgrader = websocket.Upgrader{}

// vehicleInbound is what a connected vehicle may send over its socket.
// Offers and retractions flow the other way through the WS registry.
type vehicleInbound struct {
	Type     string           `json:"type"` // "location"
	Location *models.Location `json:"location,omitempty"`
}

func (s *Server) handleVehicleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["vehicle_id"]
	if id == "" {
		writeError(w, http.StatusBadRequest, "validation", "vehicle_id required")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "upgrade failed")
		return
	}
	s.WSReg.Add(id, conn)
	go s.vehicleReadLoop(id, conn)
}

func (s *Server) vehicleReadLoop(vehicleID string, conn *websocket.Conn) {
	defer func() {
		s.WSReg.Remove(vehicleID, conn)
		_ = conn.Close()
	}()
	for {
		var msg vehicleInbound
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "location":
			if msg.Location != nil {
				s.Engine.ReportLocation(vehicleID, *msg.Location)
			}
		default:
			// unknown message types are ignored, the socket stays up
		}
	}
}

func (s *Server) handleBookingWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["booking_id"]
	ch, cancel, err := s.Engine.Subscribe(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		return
	}
	closed := make(chan struct{})
	go func() {
		// drain client frames so we notice a disconnect
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	go func() {
		defer func() {
			cancel()
			_ = conn.Close()
		}()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	}()
}
