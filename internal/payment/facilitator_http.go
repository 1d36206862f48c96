package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"paydrop/internal/logging"
)

// HTTPFacilitator talks to a remote x402 facilitator over its verify/settle
// HTTP API.
type HTTPFacilitator struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// HTTPFacilitatorConfig holds configuration for the facilitator client.
type HTTPFacilitatorConfig struct {
	BaseURL string
	APIKey  string // optional bearer token
}

// NewHTTPFacilitator creates a facilitator client. No network traffic happens
// here; the connection test runs in Initialize on first use.
func NewHTTPFacilitator(cfg HTTPFacilitatorConfig) (*HTTPFacilitator, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("facilitator base URL is required")
	}
	return &HTTPFacilitator{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: externalCallTimeout,
		},
	}, nil
}

// Initialize checks the facilitator is reachable and supports the protocol.
func (c *HTTPFacilitator) Initialize(ctx context.Context) error {
	logging.Payment.Println("testing facilitator connection...")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/supported", nil)
	if err != nil {
		return err
	}
	c.auth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("facilitator unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("facilitator returned status %d: %s", resp.StatusCode, string(body))
	}

	logging.Payment.Println("facilitator connected")
	return nil
}

type facilitatorRequest struct {
	X402Version         int          `json:"x402Version"`
	PaymentPayload      *Payload     `json:"paymentPayload"`
	PaymentRequirements *Requirement `json:"paymentRequirements"`
}

func (c *HTTPFacilitator) Verify(ctx context.Context, p *Payload, r *Requirement) (*VerifyResult, error) {
	var result VerifyResult
	if err := c.post(ctx, "/verify", p, r, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPFacilitator) Settle(ctx context.Context, p *Payload, r *Requirement) (*SettleResult, error) {
	var result SettleResult
	if err := c.post(ctx, "/settle", p, r, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPFacilitator) post(ctx context.Context, path string, p *Payload, r *Requirement, out any) error {
	body, err := json.Marshal(facilitatorRequest{
		X402Version:         protocolVersion,
		PaymentPayload:      p,
		PaymentRequirements: r,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("facilitator %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("facilitator %s returned status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}

	logging.Payment.Printf("%s completed in %s", path, time.Since(start))
	return nil
}

func (c *HTTPFacilitator) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
