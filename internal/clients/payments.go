package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"order-service/internal/models"
)

// Payments submits payment requests to the external payments service. The
// service reports the outcome asynchronously on the callback URL; a 201 here
// only means the request was accepted.
type Payments struct {
	client      *Client
	baseURL     string
	token       string
	callbackURL string
}

func NewPayments(client *Client, baseURL, token, callbackURL string) *Payments {
	return &Payments{client: client, baseURL: baseURL, token: token, callbackURL: callbackURL}
}

// CreatePayment posts one payment request. Reports false when the service
// answered with anything but 201; the outbox row then stays pending.
func (p *Payments) CreatePayment(ctx context.Context, payload models.PaymentRequestedPayload) (bool, error) {
	body, err := json.Marshal(struct {
		models.PaymentRequestedPayload
		CallbackURL string `json:"callback_url"`
	}{payload, p.callbackURL})
	if err != nil {
		return false, fmt.Errorf("clients: encode payment request: %w", err)
	}

	resp, err := p.client.Do(ctx, http.MethodPost, p.baseURL,
		map[string]string{"X-API-Key": p.token}, body)
	if err != nil {
		return false, fmt.Errorf("clients: payments request: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusCreated, nil
}
