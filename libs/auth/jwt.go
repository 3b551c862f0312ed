package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrInvalidToken = errors.New("invalid token")

// clockSkew is tolerated on exp and nbf.
const clockSkew = 30 * time.Second

// Claims is the identity the external Auth collaborator signs into access tokens.
type Claims struct {
	Sub      string `json:"sub"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	Name     string `json:"name,omitempty"`
	Exp      int64  `json:"exp"`
	Nbf      int64  `json:"nbf,omitempty"`
	Iat      int64  `json:"iat"`
}

func (c Claims) validAt(now time.Time) bool {
	if c.Sub == "" {
		return false
	}
	if c.Exp > 0 && now.Add(-clockSkew).Unix() > c.Exp {
		return false
	}
	if c.Nbf > 0 && now.Add(clockSkew).Unix() < c.Nbf {
		return false
	}
	return true
}

type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid"`
}

// token is a compact JWS split into its parts. signingInput is "header.payload".
type token struct {
	header       Header
	payload      string
	signingInput string
	signature    []byte
}

func parseToken(raw string) (*token, error) {
	head, rest, ok := strings.Cut(raw, ".")
	if !ok {
		return nil, ErrInvalidToken
	}
	payload, sig, ok := strings.Cut(rest, ".")
	if !ok || strings.Contains(sig, ".") {
		return nil, ErrInvalidToken
	}
	t := &token{payload: payload, signingInput: head + "." + payload}
	if err := decodeSegment(head, &t.header); err != nil {
		return nil, err
	}
	var err error
	if t.signature, err = base64.RawURLEncoding.DecodeString(sig); err != nil {
		return nil, ErrInvalidToken
	}
	return t, nil
}

func (t *token) claims(now time.Time) (*Claims, error) {
	var c Claims
	if err := decodeSegment(t.payload, &c); err != nil {
		return nil, err
	}
	if !c.validAt(now) {
		return nil, ErrInvalidToken
	}
	return &c, nil
}

func ParseHeader(raw string) (*Header, error) {
	t, err := parseToken(raw)
	if err != nil {
		return nil, err
	}
	return &t.header, nil
}

func SignHS256(claims Claims, secret string) (string, error) {
	unsigned, err := encodeUnsigned(map[string]string{"alg": "HS256", "typ": "JWT"}, claims)
	if err != nil {
		return "", err
	}
	return unsigned + "." + base64.RawURLEncoding.EncodeToString(hs256(unsigned, secret)), nil
}

// ParseAndVerifyHS256 rejects tokens whose header names any other algorithm.
func ParseAndVerifyHS256(raw, secret string) (*Claims, error) {
	t, err := parseToken(raw)
	if err != nil {
		return nil, err
	}
	if t.header.Alg != "HS256" || secret == "" {
		return nil, ErrInvalidToken
	}
	if !hmac.Equal(t.signature, hs256(t.signingInput, secret)) {
		return nil, ErrInvalidToken
	}
	return t.claims(time.Now())
}

func VerifyRS256(raw string, pubKey crypto.PublicKey) (*Claims, error) {
	t, err := parseToken(raw)
	if err != nil {
		return nil, err
	}
	key, ok := pubKey.(*rsa.PublicKey)
	if !ok || t.header.Alg != "RS256" {
		return nil, ErrInvalidToken
	}
	digest := sha256.Sum256([]byte(t.signingInput))
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], t.signature); err != nil {
		return nil, ErrInvalidToken
	}
	return t.claims(time.Now())
}

func encodeUnsigned(header map[string]string, claims Claims) (string, error) {
	h, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	p, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(h) + "." + base64.RawURLEncoding.EncodeToString(p), nil
}

func decodeSegment(seg string, dst any) error {
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return ErrInvalidToken
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return ErrInvalidToken
	}
	return nil
}

func hs256(data, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(data))
	return mac.Sum(nil)
}
