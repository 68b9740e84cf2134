package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

const gammaPageSize = 100

// GammaClient reads the public Gamma catalog. Discovery uses it to list
// open binary markets; it never needs credentials.
type GammaClient struct {
	base string
	hc   *http.Client
}

// NewGammaClient returns a client rooted at baseURL, for example
// "https://gamma-api.polymarket.com". A non-positive timeout means 30s.
func NewGammaClient(baseURL string, timeout time.Duration) *GammaClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GammaClient{base: strings.TrimRight(baseURL, "/"), hc: &http.Client{Timeout: timeout}}
}

// GetMarkets fetches one page of the open catalog starting at offset.
func (g *GammaClient) GetMarkets(ctx context.Context, limit, offset int) ([]GammaMarket, error) {
	q := url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
		"active": {"true"},
		"closed": {"false"},
	}
	var page []GammaMarket
	if err := g.getJSON(ctx, "/markets?"+q.Encode(), &page); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: markets at offset %d: %w", offset, err)
	}
	return page, nil
}

// ListActive walks the catalog page by page and keeps active binary
// listings. It stops after max listings when max is positive.
func (g *GammaClient) ListActive(ctx context.Context, max int) ([]domain.Listing, error) {
	var out []domain.Listing
	offset := 0
	for {
		page, err := g.GetMarkets(ctx, gammaPageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, m := range page {
			if l, ok := m.Listing(); ok && l.Active {
				out = append(out, l)
			}
			if max > 0 && len(out) == max {
				return out, nil
			}
		}
		if len(page) < gammaPageSize {
			return out, nil
		}
		offset += len(page)
	}
}

func (g *GammaClient) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return checkHTTPStatus(resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
