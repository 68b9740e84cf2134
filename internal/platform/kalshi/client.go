// Package kalshi is the Kalshi exchange adapter: a signed REST client, an
// orderbook WebSocket feed, and a domain.Venue for order entry.
package kalshi

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Client is the REST client for the Kalshi trade API.
type Client struct {
	baseURL    *url.URL
	apiKeyID   string
	privateKey *rsa.PrivateKey
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a Kalshi REST client.
//
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
func NewClient(baseURL, apiKeyID string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("kalshi: parse base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    u,
		apiKeyID:   apiKeyID,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}, nil
}

// SetRSAPrivateKey loads a PEM-encoded PKCS#8 or PKCS#1 RSA key used to
// sign every request.
func (c *Client) SetRSAPrivateKey(pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return fmt.Errorf("kalshi: no PEM block found in private key")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		c.privateKey = key
		return nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("kalshi: parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	c.privateKey = rsaKey
	return nil
}

// GetMarkets returns one page of markets with the given status filter
// ("open", "closed", ...). An empty cursor requests the first page.
func (c *Client) GetMarkets(ctx context.Context, status, cursor string, limit int) (MarketsPage, error) {
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var page MarketsPage
	if err := c.do(ctx, http.MethodGet, "/markets", params, nil, &page); err != nil {
		return MarketsPage{}, fmt.Errorf("kalshi: get markets: %w", err)
	}
	return page, nil
}

// ListOpenMarkets follows the cursor until every open market is loaded or
// max markets were read.
func (c *Client) ListOpenMarkets(ctx context.Context, max int) ([]Market, error) {
	var (
		out    []Market
		cursor string
	)
	for {
		page, err := c.GetMarkets(ctx, "open", cursor, 1000)
		if err != nil {
			return out, err
		}
		out = append(out, page.Markets...)
		if page.Cursor == "" || len(page.Markets) == 0 || (max > 0 && len(out) >= max) {
			return out, nil
		}
		cursor = page.Cursor
	}
}

// GetMarket returns a single market by ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (Market, error) {
	var resp struct {
		Market Market `json:"market"`
	}
	if err := c.do(ctx, http.MethodGet, "/markets/"+url.PathEscape(ticker), nil, nil, &resp); err != nil {
		return Market{}, fmt.Errorf("kalshi: get market %s: %w", ticker, err)
	}
	return resp.Market, nil
}

// GetOrderbook returns the current bid ladders of a market.
func (c *Client) GetOrderbook(ctx context.Context, ticker string) (Orderbook, error) {
	var resp struct {
		Orderbook Orderbook `json:"orderbook"`
	}
	path := "/markets/" + url.PathEscape(ticker) + "/orderbook"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return Orderbook{}, fmt.Errorf("kalshi: get orderbook %s: %w", ticker, err)
	}
	return resp.Orderbook, nil
}

// PlaceOrder submits an order and returns its state after matching.
func (c *Client) PlaceOrder(ctx context.Context, order Order) (OrderState, error) {
	var resp OrderResponse
	if err := c.do(ctx, http.MethodPost, "/portfolio/orders", nil, order, &resp); err != nil {
		return OrderState{}, fmt.Errorf("kalshi: place order: %w", err)
	}
	return resp.Order, nil
}

// GetOrder returns the current state of an order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (OrderState, error) {
	var resp OrderResponse
	if err := c.do(ctx, http.MethodGet, "/portfolio/orders/"+url.PathEscape(orderID), nil, nil, &resp); err != nil {
		return OrderState{}, fmt.Errorf("kalshi: get order %s: %w", orderID, err)
	}
	return resp.Order, nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.do(ctx, http.MethodDelete, "/portfolio/orders/"+url.PathEscape(orderID), nil, nil, nil); err != nil {
		return fmt.Errorf("kalshi: cancel order %s: %w", orderID, err)
	}
	return nil
}

// AuthHeaders returns the signed access headers for method on the absolute
// path, e.g. "/trade-api/ws/v2" for the WebSocket handshake.
func (c *Client) AuthHeaders(method, path string) (http.Header, error) {
	if c.privateKey == nil {
		return nil, fmt.Errorf("kalshi: RSA private key not configured: %w", domain.ErrUnauthorized)
	}
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)

	digest := sha256.Sum256([]byte(ts + method + path))
	sig, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return nil, fmt.Errorf("kalshi: %w: %v", domain.ErrSigningFailed, err)
	}

	h := http.Header{}
	h.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	h.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(sig))
	h.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return h, nil
}

// do sends a signed request. The signature covers the absolute path
// without the query string.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	headers, err := c.AuthHeaders(method, u.Path)
	if err != nil {
		return err
	}
	req.Header = headers
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkStatus maps non-2xx HTTP status codes to domain errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr ErrorResponse
	_ = json.Unmarshal(body, &apiErr)
	detail := apiErr.Error.Message
	if apiErr.Error.Code != "" {
		detail += " (" + apiErr.Error.Code + ")"
	}
	if detail == "" {
		detail = strings.TrimSpace(string(body))
	}

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, detail)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, detail)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, detail)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrInvalidOrder, detail)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, detail)
	}
}
