package walletauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPVerifier delegates signature verification to a remote verification
// service over HTTP, the same oracle pattern the payment facilitator uses.
type HTTPVerifier struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPVerifier returns a verifier client for baseURL.
func NewHTTPVerifier(baseURL string) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: verifyTimeout,
		},
	}
}

type verifyResponse struct {
	Valid   bool   `json:"valid"`
	Address string `json:"address,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Verify posts the proof to the verification service and returns the proven
// address.
func (v *HTTPVerifier) Verify(ctx context.Context, p *Proof) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal proof: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("verifier unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("verifier returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode verifier response: %w", err)
	}
	if !result.Valid {
		reason := result.Error
		if reason == "" {
			reason = "signature rejected"
		}
		return "", fmt.Errorf("proof invalid: %s", reason)
	}
	return result.Address, nil
}

var _ Verifier = (*HTTPVerifier)(nil)
