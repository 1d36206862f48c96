// Package payment implements the x402-style payment gate: it turns a priced
// request plus a payment proof header into a verified, settled payment and a
// payer identity, or a structured 402 challenge.
package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

const protocolVersion = 2

// Header names carrying the payment proof, checked in priority order.
var proofHeaderNames = []string{"Payment-Signature", "X-Payment"}

// ProofHeader returns the first present payment proof header value, or "".
func ProofHeader(h http.Header) string {
	for _, name := range proofHeaderNames {
		if v := h.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// ResponseHeaderName carries the encoded settlement receipt on success.
const ResponseHeaderName = "Payment-Response"

// RequiredHeaderName carries the encoded challenge on 402 responses.
const RequiredHeaderName = "Payment-Required"

// Payload is a decoded payment proof presented by the caller.
type Payload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// DecodeProofHeader decodes a base64 JSON payment proof header.
func DecodeProofHeader(header string) (*Payload, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("decode payment header: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse payment header: %w", err)
	}
	return &p, nil
}

// Requirement is one acceptable way to pay for a resource.
type Requirement struct {
	Scheme            string  `json:"scheme"`
	Network           string  `json:"network"`
	PayTo             string  `json:"payTo"`
	MaxAmountRequired string  `json:"maxAmountRequired"` // atomic units, 6 decimals
	PriceUSD          float64 `json:"price"`
	Resource          string  `json:"resource"`
	Description       string  `json:"description"`
	MimeType          string  `json:"mimeType"`
}

// AtomicAmount converts a USD price to 6-decimal atomic units.
func AtomicAmount(priceUSD float64) string {
	return strconv.FormatInt(int64(priceUSD*1e6+0.5), 10)
}

// Matches reports whether payload p can satisfy requirement r.
func (r *Requirement) Matches(p *Payload) bool {
	return p.Scheme == r.Scheme && p.Network == r.Network
}

// VerifyResult is the oracle's judgment of a payment proof.
type VerifyResult struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResult is the oracle's report of a settlement attempt.
type SettleResult struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

// EncodeSettleHeader encodes a settlement result for the response header.
func EncodeSettleHeader(res *SettleResult) string {
	b, _ := json.Marshal(res)
	return base64.StdEncoding.EncodeToString(b)
}

// Facilitator is the external settlement oracle. Verify checks a proof
// against a requirement without moving funds; Settle moves them.
type Facilitator interface {
	Initialize(ctx context.Context) error
	Verify(ctx context.Context, p *Payload, r *Requirement) (*VerifyResult, error)
	Settle(ctx context.Context, p *Payload, r *Requirement) (*SettleResult, error)
}

// Challenge is the structured "payment required" response body. It is a
// protocol step, not an error: it names the price and the input schema so
// callers can discover how to pay.
type Challenge struct {
	X402Version int            `json:"x402Version"`
	Error       string         `json:"error,omitempty"`
	Resource    ResourceInfo   `json:"resource"`
	Accepts     []*Requirement `json:"accepts"`
	Extensions  map[string]any `json:"extensions,omitempty"`
}

// ResourceInfo describes the priced resource inside a challenge.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// EncodeChallengeHeader encodes a challenge for the 402 response header.
func EncodeChallengeHeader(c *Challenge) string {
	b, _ := json.Marshal(c)
	return base64.StdEncoding.EncodeToString(b)
}

var evmAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidAddress reports whether addr is a well-formed payer address.
func ValidAddress(addr string) bool {
	return evmAddressPattern.MatchString(addr)
}

// NormalizeAddress lowercases an address for storage and comparison.
func NormalizeAddress(addr string) string {
	return strings.ToLower(addr)
}

// payerFromPayload digs the payer address out of the proof payload. The exact
// scheme nests it under authorization.from; some schemes put it at top level.
func payerFromPayload(p *Payload) string {
	var inner struct {
		From          string `json:"from"`
		Authorization struct {
			From string `json:"from"`
		} `json:"authorization"`
	}
	if err := json.Unmarshal(p.Payload, &inner); err != nil {
		return ""
	}
	if inner.Authorization.From != "" {
		return NormalizeAddress(inner.Authorization.From)
	}
	if inner.From != "" {
		return NormalizeAddress(inner.From)
	}
	return ""
}
