package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Polygon mainnet exchange contract.
const (
	PolygonChainID     = 137
	CTFExchangeAddress = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
)

const (
	zeroAddress          = "0x0000000000000000000000000000000000000000"
	clobAuthAttestation  = "This message attests that I control the given wallet"
	exchangeDomainName   = "Polymarket CTF Exchange"
	clobAuthDomainName   = "ClobAuthDomain"
	typedDataVersion     = "1"
	orderPrimaryType     = "Order"
	clobAuthPrimaryType  = "ClobAuth"
	eip712DomainTypeName = "EIP712Domain"
)

// OrderSide is the CLOB side encoding inside a signed order.
type OrderSide uint8

const (
	Buy  OrderSide = 0
	Sell OrderSide = 1
)

func (s OrderSide) String() string {
	if s == Sell {
		return "SELL"
	}
	return "BUY"
}

// Order is the signed part of a CLOB order. Amounts are base units
// (six decimals for both USDC and outcome tokens).
type Order struct {
	Salt          int64
	Maker         string
	Signer        string
	Taker         string
	TokenID       string
	MakerAmount   int64
	TakerAmount   int64
	Expiration    int64
	Nonce         int64
	FeeRateBps    int64
	Side          OrderSide
	SignatureType int
}

// Signer produces EIP-712 signatures for CLOB orders and API-key
// derivation.
type Signer struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	chainID  int64
	exchange string
}

// NewSigner creates a Signer from a hex-encoded secp256k1 key for the given
// chain and exchange contract. An empty exchange means the CTF exchange.
func NewSigner(privateKeyHex string, chainID int64, exchange string) (*Signer, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	if exchange == "" {
		exchange = CTFExchangeAddress
	}
	return &Signer{
		key:      key,
		address:  ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
		exchange: exchange,
	}, nil
}

// Address returns the wallet address of the signing key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignOrder signs o under the exchange domain and returns a 0x-prefixed
// 65-byte signature.
func (s *Signer) SignOrder(o Order) (string, error) {
	return s.sign(s.OrderTypedData(o))
}

// OrderTypedData is the EIP-712 payload SignOrder signs.
func (s *Signer) OrderTypedData(o Order) apitypes.TypedData {
	taker := o.Taker
	if taker == "" {
		taker = zeroAddress
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			eip712DomainTypeName: domainFields(true),
			orderPrimaryType: {
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: orderPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              exchangeDomainName,
			Version:           typedDataVersion,
			ChainId:           math.NewHexOrDecimal256(s.chainID),
			VerifyingContract: s.exchange,
		},
		Message: apitypes.TypedDataMessage{
			"salt":          itoa(o.Salt),
			"maker":         o.Maker,
			"signer":        o.Signer,
			"taker":         taker,
			"tokenId":       o.TokenID,
			"makerAmount":   itoa(o.MakerAmount),
			"takerAmount":   itoa(o.TakerAmount),
			"expiration":    itoa(o.Expiration),
			"nonce":         itoa(o.Nonce),
			"feeRateBps":    itoa(o.FeeRateBps),
			"side":          itoa(int64(o.Side)),
			"signatureType": itoa(int64(o.SignatureType)),
		},
	}
}

// SignClobAuth signs the L1 attestation used to derive API credentials.
func (s *Signer) SignClobAuth(timestamp, nonce int64) (string, error) {
	return s.sign(s.ClobAuthTypedData(timestamp, nonce))
}

// ClobAuthTypedData is the EIP-712 payload SignClobAuth signs.
func (s *Signer) ClobAuthTypedData(timestamp, nonce int64) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			eip712DomainTypeName: domainFields(false),
			clobAuthPrimaryType: {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: clobAuthPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:    clobAuthDomainName,
			Version: typedDataVersion,
			ChainId: math.NewHexOrDecimal256(s.chainID),
		},
		Message: apitypes.TypedDataMessage{
			"address":   s.address.Hex(),
			"timestamp": itoa(timestamp),
			"nonce":     itoa(nonce),
			"message":   clobAuthAttestation,
		},
	}
}

func (s *Signer) sign(td apitypes.TypedData) (string, error) {
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return "", fmt.Errorf("crypto: %w: hash %s: %v", domain.ErrSigningFailed, td.PrimaryType, err)
	}
	sig, err := ethcrypto.Sign(digest, s.key)
	if err != nil {
		return "", fmt.Errorf("crypto: %w: %v", domain.ErrSigningFailed, err)
	}
	// go-ethereum returns v in {0,1}; the exchange expects {27,28}.
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverSigner returns the address that produced sig over td's digest.
func RecoverSigner(td apitypes.TypedData, sig string) (common.Address, error) {
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return common.Address{}, err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil || len(raw) != 65 {
		return common.Address{}, fmt.Errorf("crypto: malformed signature")
	}
	raw[64] -= 27
	pub, err := ethcrypto.SigToPub(digest, raw)
	if err != nil {
		return common.Address{}, err
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func domainFields(withContract bool) []apitypes.Type {
	fields := []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
	}
	if withContract {
		fields = append(fields, apitypes.Type{Name: "verifyingContract", Type: "address"})
	}
	return fields
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
