package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known test key (hardhat account #0).
const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcaff07f6b8ad2ff80"

func TestSigner_OrderSignatureRecovers(t *testing.T) {
	s, err := NewSigner(testKey, PolygonChainID, "")
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address().Hex())

	o := Order{
		Salt: 12345, Maker: s.Address().Hex(), Signer: s.Address().Hex(),
		TokenID:     "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount: 4_000_000, TakerAmount: 10_000_000, Side: Buy,
	}
	sig, err := s.SignOrder(o)
	require.NoError(t, err)
	assert.Len(t, sig, 2+130)

	got, err := RecoverSigner(s.OrderTypedData(o), sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)

	o.MakerAmount++
	other, err := RecoverSigner(s.OrderTypedData(o), sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other, "signature binds the amounts")
}

func TestSigner_ClobAuthRecovers(t *testing.T) {
	s, err := NewSigner(testKey, PolygonChainID, "")
	require.NoError(t, err)
	sig, err := s.SignClobAuth(1700000000, 0)
	require.NoError(t, err)
	got, err := RecoverSigner(s.ClobAuthTypedData(1700000000, 0), sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)
}

func TestNewSigner_RejectsBadKey(t *testing.T) {
	_, err := NewSigner("zz", PolygonChainID, "")
	assert.Error(t, err)
}

func TestCredentials_Headers(t *testing.T) {
	secret := base64.URLEncoding.EncodeToString([]byte("super-secret"))
	c := Credentials{Key: "k", Secret: secret, Passphrase: "p"}
	require.True(t, c.Valid())

	h, err := c.Headers("0xabc", "POST", "/order", `{"a":1}`, time.Unix(1700000000, 0))
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte("super-secret"))
	mac.Write([]byte(`1700000000POST/order{"a":1}`))
	assert.Equal(t, base64.URLEncoding.EncodeToString(mac.Sum(nil)), h.Get("POLY_SIGNATURE"))
	assert.Equal(t, "1700000000", h.Get("POLY_TIMESTAMP"))
	assert.Equal(t, "0xabc", h.Get("POLY_ADDRESS"))
	assert.NotContains(t, c.String(), "super")
}

func TestSealAndLoadKey(t *testing.T) {
	sealed, err := SealKey(testKey, "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, sealed, 0o600))

	got, err := LoadKey(KeySource{File: path, Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, testKey[2:], got)

	_, err = LoadKey(KeySource{File: path, Password: "wrong"})
	assert.ErrorContains(t, err, "wrong password")

	raw, err := LoadKey(KeySource{RawHex: testKey, File: path})
	require.NoError(t, err)
	assert.Equal(t, testKey[2:], raw)

	_, err = LoadKey(KeySource{})
	assert.Error(t, err)
	_, err = SealKey("abcd", "pw")
	assert.Error(t, err)
}
