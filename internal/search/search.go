// Package search provides an Elasticsearch projection of orders.
//
// Index lifecycle:
//   - The create-order transaction upserts a document after commit.
//   - The inbox applier upserts again on every status advance.
//   - The API reads the projection to serve GET /api/v1/orders/search.
//   - Postgres remains the source of truth; a lost upsert means a stale
//     search result, never a lost order.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"order-service/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const ordersIndex = "orders"

// Client wraps the Elasticsearch client with domain-level operations.
type Client struct {
	es *elasticsearch.Client
}

// New creates an Elasticsearch client pointed at the given URL.
func New(url string) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{url},
	}
	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("search: create client: %w", err)
	}
	return &Client{es: es}, nil
}

// orderDoc is the indexed projection: the order core plus its current status.
type orderDoc struct {
	OrderID   uuid.UUID       `json:"order_id"`
	UserID    string          `json:"user_id"`
	ItemID    uuid.UUID       `json:"item_id"`
	Quantity  int             `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
	Status    models.Status   `json:"status"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// UpsertOrder indexes the order document keyed by order ID, so replays and
// later status advances overwrite the same document.
func (c *Client) UpsertOrder(ctx context.Context, order *models.Order, status models.Status) error {
	doc := orderDoc{
		OrderID:   order.ID,
		UserID:    order.UserID,
		ItemID:    order.ItemID,
		Quantity:  order.Quantity,
		Amount:    order.Amount,
		Status:    status,
		UpdatedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	res, err := c.es.Index(
		ordersIndex,
		bytes.NewReader(body),
		c.es.Index.WithDocumentID(order.ID.String()),
		c.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("search: index request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("search: index error [%s]: %s", res.Status(), body)
	}
	return nil
}

// SearchOrders filters the projection by user ID and/or status and returns
// the raw Elasticsearch response body for the API to proxy directly.
func (c *Client) SearchOrders(ctx context.Context, userID, status string) (json.RawMessage, error) {
	var must []map[string]any
	if userID != "" {
		must = append(must, map[string]any{
			"term": map[string]any{"user_id.keyword": userID},
		})
	}
	if status != "" {
		must = append(must, map[string]any{
			"term": map[string]any{"status.keyword": status},
		})
	}
	query := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{"must": must},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, err
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(ordersIndex),
		c.es.Search.WithBody(&buf),
		c.es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, fmt.Errorf("search: query request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search: query error [%s]: %s", res.Status(), body)
	}

	return io.ReadAll(res.Body)
}
