package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"order-service/internal/models"

	"github.com/google/uuid"
)

// Catalog looks up items in the external catalog service.
type Catalog struct {
	client  *Client
	baseURL string
	token   string
}

func NewCatalog(client *Client, baseURL, token string) *Catalog {
	return &Catalog{client: client, baseURL: baseURL, token: token}
}

// GetItemStock fetches one item. Any non-200 response means the catalog does
// not know the item and resolves to (nil, nil).
func (c *Catalog) GetItemStock(ctx context.Context, itemID uuid.UUID) (*models.Item, error) {
	resp, err := c.client.Do(ctx, http.MethodGet, c.baseURL+"/"+itemID.String(),
		map[string]string{"X-API-Key": c.token}, nil)
	if err != nil {
		return nil, fmt.Errorf("clients: catalog request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	var item models.Item
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("clients: decode catalog response: %w", err)
	}
	return &item, nil
}
