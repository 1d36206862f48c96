// Package walletauth gates the read-only query path with a signed
// proof-of-address-ownership, separate from the payment path.
package walletauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"paydrop/internal/ledger"
	"paydrop/internal/logging"
	"paydrop/internal/payment"
)

// Header names carrying the ownership proof, checked in priority order.
var proofHeaderNames = []string{"Sign-In-With-X", "X-Wallet-Proof"}

const verifyTimeout = 10 * time.Second

// Proof is a decoded sign-in message plus its signature. The URI binds the
// proof to one exact request URL so it cannot be replayed elsewhere.
type Proof struct {
	Domain    string `json:"domain"`
	Address   string `json:"address"`
	URI       string `json:"uri"`
	Network   string `json:"network"`
	Nonce     string `json:"nonce"`
	IssuedAt  string `json:"issuedAt"`
	Statement string `json:"statement,omitempty"`
	Signature string `json:"signature"`
}

// Verifier is the external signature-verification primitive. It validates
// the cryptographic proof and returns the proven address.
type Verifier interface {
	Verify(ctx context.Context, p *Proof) (string, error)
}

// AuthError reports why authentication failed; the HTTP layer turns it into
// a challenge response.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

// Authenticator verifies ownership proofs and lazily registers payers.
type Authenticator struct {
	verifier Verifier
	store    ledger.Store
	domain   string
	network  string
}

// New returns an Authenticator issuing challenges for domain on network.
func New(verifier Verifier, store ledger.Store, domain, network string) *Authenticator {
	return &Authenticator{verifier: verifier, store: store, domain: domain, network: network}
}

// Authenticate verifies the proof attached to r and returns the normalized
// payer address. A missing, unparseable, misbound, or cryptographically
// invalid proof yields an *AuthError.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (string, error) {
	var header string
	for _, name := range proofHeaderNames {
		if v := r.Header.Get(name); v != "" {
			header = v
			break
		}
	}
	if header == "" {
		return "", &AuthError{Reason: "missing ownership proof header"}
	}

	proof, err := decodeProofHeader(header)
	if err != nil {
		return "", &AuthError{Reason: "malformed ownership proof"}
	}

	if !sameResource(proof.URI, requestURL(r)) {
		return "", &AuthError{Reason: "proof bound to a different resource"}
	}

	verifyCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	address, err := a.verifier.Verify(verifyCtx, proof)
	if err != nil {
		logging.Internal.Printf("wallet proof verification failed: %v", err)
		return "", &AuthError{Reason: "signature verification failed"}
	}

	address = payment.NormalizeAddress(address)
	if !payment.ValidAddress(address) {
		return "", &AuthError{Reason: "invalid address in proof"}
	}

	// JIT payer registration; a registration failure does not block reads.
	if err := a.store.UpsertPayer(ctx, address); err != nil {
		logging.Internal.Printf("payer upsert failed for %s: %v", address, err)
	}

	return address, nil
}

// Challenge builds a pure authentication challenge: same wire shape as a
// payment challenge but with an empty accepts set, plus a fresh single-use
// nonce and issuance timestamp the client must echo inside a valid proof.
func (a *Authenticator) Challenge(r *http.Request, reason string) *payment.Challenge {
	if reason == "" {
		reason = "Authentication required"
	}
	return &payment.Challenge{
		X402Version: 2,
		Error:       reason,
		Resource: payment.ResourceInfo{
			URL:         requestURL(r),
			Description: "Wallet authentication required",
			MimeType:    "application/json",
		},
		Accepts: []*payment.Requirement{},
		Extensions: map[string]any{
			"sign-in-with-x": map[string]any{
				"domain":    a.domain,
				"uri":       requestURL(r),
				"network":   a.network,
				"statement": "Sign in to access your uploads",
				"nonce":     newNonce(),
				"issuedAt":  time.Now().UTC().Format(time.RFC3339),
			},
		},
	}
}

func decodeProofHeader(header string) (*Proof, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("decode proof header: %w", err)
	}
	var p Proof
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse proof header: %w", err)
	}
	if p.Address == "" || p.Signature == "" {
		return nil, errors.New("proof missing address or signature")
	}
	return &p, nil
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// sameResource compares proof and request URLs ignoring query strings.
func sameResource(proofURI, requestURI string) bool {
	trim := func(s string) string {
		if i := strings.IndexByte(s, '?'); i >= 0 {
			s = s[:i]
		}
		return strings.TrimRight(s, "/")
	}
	return trim(proofURI) == trim(requestURI)
}

func newNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
