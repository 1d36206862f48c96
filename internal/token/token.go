// Package token implements the compact upload authorization token checked by
// the delivery edge.
//
// A token is <expiry><signature>: 4 base36 characters encoding whole hours
// since a fixed epoch, followed by the first 16 characters of a base64url
// HMAC-SHA256 over "path:expiry". Short enough for a query parameter,
// expiry readable without a separator.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Epoch is the token time origin: 2025-01-01 00:00:00 UTC.
const Epoch = 1735689600

const (
	expiryWidth = 4
	sigWidth    = 16
	// MinLength is the shortest token Verify will consider.
	MinLength = expiryWidth + sigWidth
)

var (
	ErrMalformed        = errors.New("token malformed")
	ErrExpired          = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid token signature")
)

// Codec issues and verifies upload tokens with a shared secret.
type Codec struct {
	secret []byte
}

// NewCodec returns a Codec signing with secret.
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Issue creates a token authorizing one write to path for ttlHours.
func (c *Codec) Issue(path string, ttlHours int, now time.Time) string {
	expiryHours := int64((now.Unix()-Epoch)/3600) + int64(ttlHours)
	expiryField := encodeExpiry(expiryHours)
	return expiryField + c.sign(path, expiryField)
}

// Verify checks token against path at time now. The signature is recomputed
// over the presented expiry field, so a tampered expiry fails the signature
// check rather than shifting the window.
func (c *Codec) Verify(path, tok string, now time.Time) error {
	if len(tok) < MinLength {
		return ErrMalformed
	}
	expiryField := tok[:expiryWidth]
	sig := tok[expiryWidth:]

	expiryHours, err := strconv.ParseInt(expiryField, 36, 64)
	if err != nil {
		return ErrMalformed
	}
	expiresAt := Epoch + expiryHours*3600
	if now.Unix() > expiresAt {
		return ErrExpired
	}

	expected := c.sign(path, expiryField)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

func (c *Codec) sign(path, expiryField string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(path + ":" + expiryField))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return sig[:sigWidth]
}

func encodeExpiry(hours int64) string {
	s := strconv.FormatInt(hours, 36)
	if len(s) < expiryWidth {
		s = strings.Repeat("0", expiryWidth-len(s)) + s
	}
	return s
}
