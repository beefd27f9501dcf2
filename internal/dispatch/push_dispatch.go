package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
)

// PushNotifier posts offers to a driver-app push gateway (FCM-style HTTP
// endpoint). Used as fallback when the vehicle has no live socket.
type PushNotifier struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewPushNotifier(endpoint, key string) *PushNotifier {
	return &PushNotifier{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (p *PushNotifier) OfferIssued(vehicleID string, offer models.Offer) error {
	return p.post(map[string]interface{}{"vehicle_id": vehicleID, "type": "offer", "offer": offer})
}

func (p *PushNotifier) OfferRetracted(vehicleID, offerID, reason string) error {
	return p.post(map[string]interface{}{"vehicle_id": vehicleID, "type": "offer_retracted", "offer_id": offerID, "reason": reason})
}

func (p *PushNotifier) post(payload map[string]interface{}) error {
	body := map[string]interface{}{"message": map[string]interface{}{"data": payload}}
	b, _ := json.Marshal(body)
	req, err := http.NewRequest("POST", p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Key != "" {
		req.Header.Set("Authorization", "Bearer "+p.Key)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway status %d", resp.StatusCode)
	}
	return nil
}
