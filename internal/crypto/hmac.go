package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the credentials required for L2-authenticated requests
// against the CLOB API.
type HMACAuth struct {
	Key        string // API key
	Secret     string // API secret, base64-encoded
	Passphrase string // API passphrase
}

// L2Headers returns the HTTP headers for an authenticated CLOB request using
// the current time.
//
// Returned header keys:
//   - POLY_ADDRESS
//   - POLY_SIGNATURE
//   - POLY_TIMESTAMP
//   - POLY_API_KEY
//   - POLY_PASSPHRASE
func (h *HMACAuth) L2Headers(address, method, path, body string) map[string]string {
	return h.L2HeadersAt(address, method, path, body, time.Now().Unix())
}

// L2HeadersAt is like L2Headers but lets the caller supply the Unix
// timestamp (useful for deterministic testing). The signature is
// base64url(HMAC-SHA256(secret, timestamp + method + path + body)); the
// secret is decoded as URL-safe base64 first, falling back to standard
// base64 when that fails.
func (h *HMACAuth) L2HeadersAt(address, method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	secretBytes, err := base64.URLEncoding.DecodeString(h.Secret)
	if err != nil {
		secretBytes, err = base64.StdEncoding.DecodeString(h.Secret)
	}
	if err != nil {
		// Undecodable secret: use raw bytes so the caller gets an
		// obviously-wrong signature (a 401) rather than a panic.
		secretBytes = []byte(h.Secret)
	}

	message := ts + method + path + body
	sig := hmacSHA256Base64URL(secretBytes, message)

	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  ts,
		"POLY_API_KEY":    h.Key,
		"POLY_PASSPHRASE": h.Passphrase,
	}
}

// Configured reports whether all three credential parts are present.
func (h *HMACAuth) Configured() bool {
	return h.Key != "" && h.Secret != "" && h.Passphrase != ""
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}

// hmacSHA256Base64URL computes HMAC-SHA256 of message using key and returns
// the result as a base64 URL-safe encoded string.
func hmacSHA256Base64URL(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}
