// Package adapters holds the concrete channel integrations.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/odyssey-erp/stocksync/internal/inventory"
)

// StatusError reports a non-success response from a channel API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("channel api returned %d", e.Code)
	}
	return fmt.Sprintf("channel api returned %d: %s", e.Code, e.Body)
}

// HTTPAdapter talks to a marketplace style REST API.
type HTTPAdapter struct {
	channel    inventory.Channel
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPAdapter constructs an adapter for base. The client timeout is an upper
// bound; the sync context usually expires first.
func NewHTTPAdapter(ch inventory.Channel, base, token string, timeout time.Duration) *HTTPAdapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAdapter{
		channel:    ch,
		baseURL:    strings.TrimRight(base, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type allocationPayload struct {
	Channel  inventory.Channel `json:"channel"`
	Quantity int64             `json:"quantity"`
}

type salesResponse struct {
	Events []inventory.SaleEvent `json:"events"`
}

// PushAllocation publishes the sellable quantity for sku.
func (a *HTTPAdapter) PushAllocation(ctx context.Context, sku string, quantity int64) error {
	body, err := json.Marshal(allocationPayload{Channel: a.channel, Quantity: quantity})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, a.skuURL(sku, "allocation"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// PullSales fetches sale and return events recorded after since.
func (a *HTTPAdapter) PullSales(ctx context.Context, sku string, since time.Time) ([]inventory.SaleEvent, error) {
	endpoint := a.skuURL(sku, "sales")
	if !since.IsZero() {
		endpoint += "?" + url.Values{"since": {since.UTC().Format(time.RFC3339Nano)}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := a.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload salesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode %s sales: %w", a.channel, err)
	}
	return payload.Events, nil
}

func (a *HTTPAdapter) do(req *http.Request) (*http.Response, error) {
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}

func (a *HTTPAdapter) skuURL(sku, leaf string) string {
	return a.baseURL + "/skus/" + url.PathEscape(sku) + "/" + leaf
}
