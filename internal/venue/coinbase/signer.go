package coinbase

import (
	"crypto/ecdsa"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	_jwtIssuer = "cdp"
	_jwtTTL    = 2 * time.Minute
)

type requestClaims struct {
	jwt.RegisteredClaims
	URI string `json:"uri"`
}

// signer issues the short-lived ES256 token every CDP key request carries as a bearer.
type signer struct {
	keyName string
	key     *ecdsa.PrivateKey
	host    string
}

// newSigner parses the PEM secret; a secret pasted into .env with literal \n is accepted too.
func newSigner(keyName, secret, baseURL string) (*signer, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(strings.ReplaceAll(secret, `\n`, "\n")))
	if err != nil {
		return nil, fmt.Errorf("%w: can't parse api secret as ec private key", err)
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: can't parse base url", err)
	}

	return &signer{
		keyName: keyName,
		key:     key,
		host:    u.Host,
	}, nil
}

// token signs "METHOD host/path", the path without query.
func (s *signer) token(method, path string, now time.Time) (string, error) {
	claims := requestClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.keyName,
			Issuer:    _jwtIssuer,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(_jwtTTL)),
		},
		URI: method + " " + s.host + path,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	t.Header["kid"] = s.keyName
	t.Header["nonce"] = strings.ReplaceAll(uuid.NewString(), "-", "")

	signed, err := t.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("%w: can't sign request token", err)
	}
	return signed, nil
}
