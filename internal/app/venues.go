package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/crypto"
	"github.com/alanyoungcy/crossarb/internal/discovery"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/feed"
	"github.com/alanyoungcy/crossarb/internal/platform/kalshi"
	"github.com/alanyoungcy/crossarb/internal/platform/paper"
	"github.com/alanyoungcy/crossarb/internal/platform/polymarket"
)

// venueSet is everything built for the two exchanges.
type venueSet struct {
	kalshi  *kalshi.Client
	gamma   *polymarket.GammaClient
	streams []feed.Stream
	// orders is empty in monitor mode.
	orders []domain.Venue
	// routers learn token ids for venues that need them.
	routers map[domain.VenueID]discovery.Router
}

// buildVenues creates the catalog clients, quote streams and, outside
// monitor mode, the order venues.
func buildVenues(ctx context.Context, cfg *config.Config, quotes paper.QuoteSource, logger *slog.Logger) (*venueSet, error) {
	kc, err := kalshi.NewClient(cfg.Kalshi.BaseURL, cfg.Kalshi.APIKey, cfg.Kalshi.Timeout.Duration)
	if err != nil {
		return nil, err
	}
	signed := false
	if cfg.Kalshi.RSAPrivateKeyPath != "" {
		pem, err := os.ReadFile(cfg.Kalshi.RSAPrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("kalshi: read private key: %w", err)
		}
		if err := kc.SetRSAPrivateKey(pem); err != nil {
			return nil, err
		}
		signed = true
	}

	vs := &venueSet{
		kalshi:  kc,
		gamma:   polymarket.NewGammaClient(cfg.Polymarket.GammaHost, cfg.Polymarket.Timeout.Duration),
		routers: make(map[domain.VenueID]discovery.Router),
	}

	// The Kalshi socket requires a signed handshake; without a key the
	// public orderbook endpoint is polled instead.
	if signed {
		wsPath := "/trade-api/ws/v2"
		if u, err := url.Parse(cfg.Kalshi.WsURL); err == nil && u.Path != "" {
			wsPath = u.Path
		}
		headers := func() (http.Header, error) { return kc.AuthHeaders(http.MethodGet, wsPath) }
		vs.streams = append(vs.streams, feed.Kalshi(kalshi.NewWSClient(cfg.Kalshi.WsURL, headers, logger)))
	} else {
		logger.Warn("app: kalshi key not configured, polling orderbooks",
			slog.Duration("interval", cfg.Arbitrage.PollInterval.Duration),
		)
		vs.streams = append(vs.streams, feed.NewPoller(kalshi.NewVenue(kc), cfg.Arbitrage.PollInterval.Duration, logger))
	}
	vs.streams = append(vs.streams, feed.Polymarket(polymarket.NewWSClient(cfg.Polymarket.WsHost, logger)))

	switch cfg.Mode {
	case "paper":
		for i, id := range []domain.VenueID{domain.VenueKalshi, domain.VenuePolymarket} {
			seed := cfg.Paper.Seed
			if seed != 0 {
				seed += uint64(i)
			}
			vs.orders = append(vs.orders, paper.NewVenue(paper.Config{
				Venue:       id,
				Latency:     cfg.Paper.Latency.Duration,
				FailureRate: cfg.Paper.FailureRate,
				Seed:        seed,
			}, quotes, logger))
		}

	case "live":
		pv, err := buildPolymarketVenue(ctx, cfg)
		if err != nil {
			return nil, err
		}
		vs.orders = append(vs.orders, kalshi.NewVenue(kc), pv)
		vs.routers[domain.VenuePolymarket] = pv
	}
	return vs, nil
}

// buildPolymarketVenue loads the signing key, derives L2 API credentials
// and returns an order venue.
func buildPolymarketVenue(ctx context.Context, cfg *config.Config) (*polymarket.Venue, error) {
	pc := cfg.Polymarket
	key, err := crypto.LoadKey(crypto.KeySource{
		RawHex:   pc.PrivateKey,
		File:     pc.EncryptedKeyPath,
		Password: pc.KeyPassword,
	})
	if err != nil {
		return nil, err
	}
	signer, err := crypto.NewSigner(key, pc.ChainID, pc.ExchangeAddress)
	if err != nil {
		return nil, err
	}
	clob := polymarket.NewClobClient(pc.ClobHost, signer, pc.Timeout.Duration)
	creds, err := clob.DeriveAPIKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("polymarket: derive api key: %w", err)
	}
	clob.SetCredentials(creds)
	return polymarket.NewVenue(clob, signer, polymarket.VenueConfig{
		Funder:        pc.FunderAddress,
		SignatureType: pc.SignatureType,
		FeeRateBps:    pc.FeeRateBps,
	}), nil
}
