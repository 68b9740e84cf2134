package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Credentials are the CLOB L2 API credentials returned by key derivation.
type Credentials struct {
	Key        string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Valid reports whether all three parts are present.
func (c Credentials) Valid() bool {
	return c.Key != "" && c.Secret != "" && c.Passphrase != ""
}

// Sign computes the L2 request signature: URL-safe base64 of
// HMAC-SHA256(secret, timestamp+method+path+body). The secret itself is
// URL-safe base64.
func (c Credentials) Sign(ts int64, method, path, body string) (string, error) {
	secret, err := decodeSecret(c.Secret)
	if err != nil {
		return "", fmt.Errorf("crypto: decode api secret: %w", err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10) + method + path + body))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Headers returns the L2 authentication headers for one request.
func (c Credentials) Headers(address, method, path, body string, at time.Time) (http.Header, error) {
	ts := at.Unix()
	sig, err := c.Sign(ts, method, path, body)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("POLY_ADDRESS", address)
	h.Set("POLY_API_KEY", c.Key)
	h.Set("POLY_PASSPHRASE", c.Passphrase)
	h.Set("POLY_TIMESTAMP", strconv.FormatInt(ts, 10))
	h.Set("POLY_SIGNATURE", sig)
	return h, nil
}

// String returns a redacted representation suitable for logging.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{key=%s, secret=%s, passphrase=%s}", redact(c.Key), redact(c.Secret), redact(c.Passphrase))
}

func decodeSecret(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
