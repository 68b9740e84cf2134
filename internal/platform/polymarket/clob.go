// Package polymarket is the Polymarket adapter: Gamma discovery, the CLOB
// REST client with L1/L2 authentication, the market WebSocket feed, and a
// domain.Venue placing signed fill-or-kill orders.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/crypto"
	"github.com/alanyoungcy/crossarb/internal/domain"
)

// ClobClient is the REST client for the Polymarket CLOB API.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	now        func() time.Time

	mu    sync.RWMutex
	creds crypto.Credentials
}

// NewClobClient creates a CLOB client. signer may be nil for read-only use
// (books only).
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
func NewClobClient(baseURL string, signer *crypto.Signer, timeout time.Duration) *ClobClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ClobClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		signer:     signer,
		now:        time.Now,
	}
}

// SetCredentials installs L2 API credentials obtained out of band.
func (c *ClobClient) SetCredentials(creds crypto.Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
}

// Credentials returns the installed L2 credentials.
func (c *ClobClient) Credentials() crypto.Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// DeriveAPIKey signs a ClobAuth attestation and exchanges it, with L1
// headers, for the wallet's L2 credentials, which it installs.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) (crypto.Credentials, error) {
	if c.signer == nil {
		return crypto.Credentials{}, fmt.Errorf("polymarket/clob: %w: no signer", domain.ErrUnauthorized)
	}
	ts := c.now().Unix()
	const nonce = 0
	sig, err := c.signer.SignClobAuth(ts, nonce)
	if err != nil {
		return crypto.Credentials{}, fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return crypto.Credentials{}, fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(ts, 10))
	req.Header.Set("POLY_NONCE", strconv.Itoa(nonce))

	body, err := c.send(req)
	if err != nil {
		return crypto.Credentials{}, fmt.Errorf("polymarket/clob: derive api key: %w", err)
	}
	var creds crypto.Credentials
	if err := json.Unmarshal(body, &creds); err != nil {
		return crypto.Credentials{}, fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}
	if !creds.Valid() {
		return crypto.Credentials{}, fmt.Errorf("polymarket/clob: %w: incomplete credentials", domain.ErrUnauthorized)
	}
	c.SetCredentials(creds)
	return creds, nil
}

// GetBook fetches the orderbook of one outcome token.
func (c *ClobClient) GetBook(ctx context.Context, tokenID string) (BookResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/book?token_id="+url.QueryEscape(tokenID), nil)
	if err != nil {
		return BookResponse{}, fmt.Errorf("polymarket/clob: create request: %w", err)
	}
	body, err := c.send(req)
	if err != nil {
		return BookResponse{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}
	var book BookResponse
	if err := json.Unmarshal(body, &book); err != nil {
		return BookResponse{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	return book, nil
}

// PostOrder submits a signed order. A rejection the exchange explains
// (HTTP 400 or success=false) is returned as a result, not an error: the
// order is known not to have executed.
func (c *ClobClient) PostOrder(ctx context.Context, order PostOrderRequest) (OrderResult, error) {
	body, err := c.doAuthenticated(ctx, http.MethodPost, "/order", order)
	var status *statusError
	if errors.As(err, &status) && status.code == http.StatusBadRequest {
		return rejection(status.body), nil
	}
	if err != nil {
		return OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var res OrderResult
	if err := json.Unmarshal(body, &res); err != nil {
		return OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	return res, nil
}

// GetOrder fetches the current state of an order placed with these
// credentials.
func (c *ClobClient) GetOrder(ctx context.Context, orderID string) (OpenOrder, error) {
	body, err := c.doAuthenticated(ctx, http.MethodGet, "/data/order/"+url.PathEscape(orderID), nil)
	if err != nil {
		return OpenOrder{}, fmt.Errorf("polymarket/clob: get order %s: %w", orderID, err)
	}
	var order OpenOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return OpenOrder{}, fmt.Errorf("polymarket/clob: decode order: %w", err)
	}
	if order.ID == "" {
		return OpenOrder{}, fmt.Errorf("polymarket/clob: get order %s: %w", orderID, domain.ErrNotFound)
	}
	return order, nil
}

// CancelOrder cancels a single order by its ID.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	body, err := c.doAuthenticated(ctx, http.MethodDelete, "/order", map[string]string{"orderID": orderID})
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}
	var res struct {
		NotCanceled map[string]string `json:"not_canceled"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if reason, ok := res.NotCanceled[orderID]; ok {
		return fmt.Errorf("polymarket/clob: cancel %s refused: %s", orderID, reason)
	}
	return nil
}

// doAuthenticated marshals body, applies L2 headers and sends the request.
func (c *ClobClient) doAuthenticated(ctx context.Context, method, path string, body any) ([]byte, error) {
	creds := c.Credentials()
	if c.signer == nil || !creds.Valid() {
		return nil, fmt.Errorf("%w: no api credentials", domain.ErrUnauthorized)
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	hdr, err := creds.Headers(c.signer.Address().Hex(), method, path, string(payload), c.now())
	if err != nil {
		return nil, err
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	return c.send(req)
}

func (c *ClobClient) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func rejection(body []byte) OrderResult {
	res := OrderResult{}
	if json.Unmarshal(body, &res) == nil && res.ErrorMsg != "" {
		res.Success = false
		return res
	}
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return OrderResult{ErrorMsg: e.Error}
	}
	return OrderResult{ErrorMsg: strings.TrimSpace(string(body))}
}

// statusError is a non-2xx response that maps to no domain sentinel.
type statusError struct {
	code int
	body []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, e.body)
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, body)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, body)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, body)
	default:
		return &statusError{code: statusCode, body: body}
	}
}
