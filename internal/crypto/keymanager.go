// Package crypto signs Polymarket CLOB orders (EIP-712), computes L2 HMAC
// request headers, and loads the wallet key from the environment or an
// encrypted key file.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

const (
	kdfScrypt = "scrypt"
	kdfPBKDF2 = "pbkdf2-sha256"

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1

	pbkdf2Iterations = 480_000

	saltLen   = 16
	aesKeyLen = 32
)

// sealedKey is the on-disk format of an encrypted wallet key.
type sealedKey struct {
	KDF        string `json:"kdf"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where LoadKey finds the wallet key.
type KeySource struct {
	// RawHex is a hex private key, with or without 0x. It wins when set.
	RawHex string
	// File is a sealed key produced by SealKey, opened with Password.
	File     string
	Password string
}

// SealKey encrypts a hex private key with AES-256-GCM under a scrypt-derived
// key and returns the JSON file contents.
func SealKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	plain, err := decodeKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	aead, err := newAEAD(kdfScrypt, password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	return json.MarshalIndent(sealedKey{
		KDF:        kdfScrypt,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, plain, nil)),
	}, "", "  ")
}

// OpenKey decrypts a sealed key file and returns the hex private key
// without 0x. Files without a kdf field are PBKDF2-sealed.
func OpenKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	var sk sealedKey
	if err := json.Unmarshal(data, &sk); err != nil {
		return "", fmt.Errorf("crypto: parse sealed key: %w", err)
	}
	if sk.KDF == "" {
		sk.KDF = kdfPBKDF2
	}

	salt, err := base64.StdEncoding.DecodeString(sk.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(sk.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(sk.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decode ciphertext: %w", err)
	}

	aead, err := newAEAD(sk.KDF, password, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", fmt.Errorf("crypto: bad nonce length %d", len(nonce))
	}
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", errors.New("crypto: decryption failed (wrong password?)")
	}
	return hex.EncodeToString(plain), nil
}

// LoadKey resolves the wallet key: the raw hex value first, then the
// sealed file.
func LoadKey(src KeySource) (string, error) {
	if src.RawHex != "" {
		plain, err := decodeKeyHex(src.RawHex)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(plain), nil
	}
	if src.File != "" {
		data, err := os.ReadFile(src.File)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return OpenKey(data, src.Password)
	}
	return "", errors.New("crypto: no private key configured")
}

func newAEAD(kdf, password string, salt []byte) (cipher.AEAD, error) {
	var (
		key []byte
		err error
	)
	switch kdf {
	case kdfScrypt:
		key, err = scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, aesKeyLen)
		if err != nil {
			return nil, fmt.Errorf("crypto: derive key: %w", err)
		}
	case kdfPBKDF2:
		key = pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	default:
		return nil, fmt.Errorf("crypto: unsupported kdf %q", kdf)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func decodeKeyHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: private key is not hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(b))
	}
	return b, nil
}
