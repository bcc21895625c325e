package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"order-service/internal/models"
)

// Notifications delivers user-facing messages via the external notifications
// service.
type Notifications struct {
	client  *Client
	baseURL string
	token   string
}

func NewNotifications(client *Client, baseURL, token string) *Notifications {
	return &Notifications{client: client, baseURL: baseURL, token: token}
}

// Send posts one notification envelope. Reports false when the service
// answered with anything but 201.
func (n *Notifications) Send(ctx context.Context, payload models.NotificationPayload) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("clients: encode notification: %w", err)
	}

	resp, err := n.client.Do(ctx, http.MethodPost, n.baseURL,
		map[string]string{"X-API-Key": n.token}, body)
	if err != nil {
		return false, fmt.Errorf("clients: notifications request: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusCreated, nil
}
