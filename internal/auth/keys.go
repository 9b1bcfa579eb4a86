// Package auth issues and verifies the short-lived JWTs the frontend uses to call the
// access API, and combines them with cookie sessions.
package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mr-tron/base58"
)

// KeyManager holds the site's ECDSA P-256 signing key.
type KeyManager struct {
	privateKey *ecdsa.PrivateKey
	kid        string // base58(sha256(public key DER))
}

// NewKeyManager creates a KeyManager with a fresh keypair. Tokens signed by it do not
// survive a restart.
func NewKeyManager() (*KeyManager, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	return newKeyManager(privateKey)
}

// LoadKeyManager reads a PEM encoded EC private key from path.
func LoadKeyManager(path string) (*KeyManager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}

	privateKey, err := jwt.ParseECPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}

	return newKeyManager(privateKey)
}

func newKeyManager(privateKey *ecdsa.PrivateKey) (*KeyManager, error) {
	if privateKey.Curve != elliptic.P256() {
		return nil, errors.New("signing key must use the P-256 curve")
	}

	pubKeyDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	hash := sha256.Sum256(pubKeyDER)

	return &KeyManager{
		privateKey: privateKey,
		kid:        base58.Encode(hash[:]),
	}, nil
}

// Kid returns the key ID.
func (km *KeyManager) Kid() string {
	return km.kid
}

// PublicKey returns the verification key.
func (km *KeyManager) PublicKey() *ecdsa.PublicKey {
	return &km.privateKey.PublicKey
}

// SignJWT signs claims with ES256 and stamps the kid header.
func (km *KeyManager) SignJWT(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = km.kid

	tokenString, err := token.SignedString(km.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}

	return tokenString, nil
}

// JWK is a public EC key in JSON Web Key form.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Crv string `json:"crv"`
	Kid string `json:"kid"`
	X   string `json:"x"`
	Y   string `json:"y"`
	Alg string `json:"alg"`
}

// JWK returns the public key as a JWK.
func (km *KeyManager) JWK() (JWK, error) {
	pub, err := km.privateKey.PublicKey.ECDH()
	if err != nil {
		return JWK{}, fmt.Errorf("failed to convert public key: %w", err)
	}

	// uncompressed point: 0x04 || X || Y
	point := pub.Bytes()
	size := (len(point) - 1) / 2

	return JWK{
		Kty: "EC",
		Use: "sig",
		Crv: "P-256",
		Kid: km.kid,
		X:   base64.RawURLEncoding.EncodeToString(point[1 : 1+size]),
		Y:   base64.RawURLEncoding.EncodeToString(point[1+size:]),
		Alg: "ES256",
	}, nil
}
