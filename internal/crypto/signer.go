package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Header names used by the marketplace's signed API.
const (
	HeaderAPIKey    = "X-Api-Key"
	HeaderSignDate  = "X-Sign-Date"
	HeaderSignature = "X-Request-Sign"
)

// RequestSigner signs marketplace requests. The signed message is
// method + path-with-query + body + unix timestamp.
type RequestSigner struct {
	publicKey string
	key       ed25519.PrivateKey
}

// NewRequestSigner pairs the account's public API key with its secret key.
func NewRequestSigner(publicKey string, key ed25519.PrivateKey) *RequestSigner {
	return &RequestSigner{publicKey: publicKey, key: key}
}

// Headers returns the auth headers for a request issued now.
func (s *RequestSigner) Headers(method, pathQuery, body string) map[string]string {
	return s.HeadersAt(method, pathQuery, body, time.Now().Unix())
}

// HeadersAt is Headers with an explicit timestamp.
func (s *RequestSigner) HeadersAt(method, pathQuery, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	sig := ed25519.Sign(s.key, []byte(method+pathQuery+body+ts))
	return map[string]string{
		HeaderAPIKey:    s.publicKey,
		HeaderSignDate:  ts,
		HeaderSignature: "dmar ed25519 " + hex.EncodeToString(sig),
	}
}

// String returns a redacted representation suitable for logging.
func (s *RequestSigner) String() string {
	key := s.publicKey
	if len(key) > 4 {
		key = key[:4]
	}
	return fmt.Sprintf("RequestSigner{public=%s****}", key)
}
