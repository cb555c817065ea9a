package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Invoice is the slice of the gateway's invoice the engine depends on.
type Invoice struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	PayURL string `json:"checkoutLink"`
}

// Paid reports whether the gateway considers the invoice settled.
func (i Invoice) Paid() bool {
	return i.Status == "Settled" || i.Status == "Complete"
}

// Client talks to a BTCPay-shaped payment gateway.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
	storeID string
}

func NewClient(baseURL, apiKey, storeID string) *Client {
	return &Client{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
		storeID: storeID,
	}
}

// CreateInvoice opens an invoice for a fiat amount in minor units and
// returns its id and checkout link.
func (c *Client) CreateInvoice(ctx context.Context, amountMinor int64, description string) (Invoice, error) {
	body := map[string]any{
		"amount":   float64(amountMinor) / 100,
		"currency": "USD",
		"metadata": map[string]string{
			"orderId": description,
		},
		"checkout": map[string]any{
			"expirationMinutes": 60,
		},
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return Invoice{}, fmt.Errorf("marshal invoice request: %w", err)
	}
	url := fmt.Sprintf("%s/api/v1/stores/%s/invoices", c.baseURL, c.storeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return Invoice{}, err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return Invoice{}, fmt.Errorf("create invoice: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Invoice{}, fmt.Errorf("create invoice: unexpected status %d", resp.StatusCode)
	}
	var invoice Invoice
	if err := json.NewDecoder(resp.Body).Decode(&invoice); err != nil {
		return Invoice{}, fmt.Errorf("decode invoice: %w", err)
	}
	if invoice.ID == "" {
		return Invoice{}, fmt.Errorf("create invoice: empty invoice id")
	}
	return invoice, nil
}

// FetchInvoices reads current invoice states by id. Unknown ids are
// skipped, not errors: the watcher keeps polling the rest.
func (c *Client) FetchInvoices(ctx context.Context, ids []string) ([]Invoice, error) {
	invoices := make([]Invoice, 0, len(ids))
	for _, id := range ids {
		url := fmt.Sprintf("%s/api/v1/stores/%s/invoices/%s", c.baseURL, c.storeID, id)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		c.authorize(req)
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch invoice %s: %w", id, err)
		}
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch invoice %s: unexpected status %d", id, resp.StatusCode)
		}
		var invoice Invoice
		err = json.NewDecoder(resp.Body).Decode(&invoice)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode invoice %s: %w", id, err)
		}
		invoices = append(invoices, invoice)
	}
	return invoices, nil
}

// Transfer pays out to an external destination, for withdrawals. Returns
// the gateway's payout id.
func (c *Client) Transfer(ctx context.Context, destination string, amountMinor int64) (string, error) {
	body := map[string]any{
		"destination": destination,
		"amount":      float64(amountMinor) / 100,
		"currency":    "USD",
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal transfer request: %w", err)
	}
	url := fmt.Sprintf("%s/api/v1/stores/%s/payouts", c.baseURL, c.storeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("create payout: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("create payout: unexpected status %d", resp.StatusCode)
	}
	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode payout: %w", err)
	}
	return result.ID, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", fmt.Sprintf("token %s", c.apiKey))
}
