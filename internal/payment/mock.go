package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
)

// MockFacilitator implements Facilitator for testing and development. By
// default it accepts every proof and settles with a generated transaction
// reference; tests flip the failure knobs to exercise each rejection path.
type MockFacilitator struct {
	mu sync.Mutex

	InvalidReason string // non-empty: Verify reports the proof invalid
	VerifyErr     error  // non-nil: Verify itself fails (transport-level)
	FailReason    string // non-empty: Settle reports failure
	SettleErr     error  // non-nil: Settle itself fails

	Payer string // payer reported by Verify when the proof carries none

	verifyCalls int
	settleCalls int
}

// NewMockFacilitator creates a mock that approves everything.
func NewMockFacilitator() *MockFacilitator {
	return &MockFacilitator{}
}

func (m *MockFacilitator) Initialize(ctx context.Context) error {
	return nil
}

func (m *MockFacilitator) Verify(ctx context.Context, p *Payload, r *Requirement) (*VerifyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyCalls++

	if m.VerifyErr != nil {
		return nil, m.VerifyErr
	}
	if m.InvalidReason != "" {
		return &VerifyResult{IsValid: false, InvalidReason: m.InvalidReason}, nil
	}
	return &VerifyResult{IsValid: true, Payer: m.Payer}, nil
}

func (m *MockFacilitator) Settle(ctx context.Context, p *Payload, r *Requirement) (*SettleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settleCalls++

	if m.SettleErr != nil {
		return nil, m.SettleErr
	}
	if m.FailReason != "" {
		return &SettleResult{Success: false, ErrorReason: m.FailReason}, nil
	}
	return &SettleResult{
		Success:     true,
		Transaction: "0x" + randomHex(32),
		Network:     p.Network,
	}, nil
}

// SettleCalls reports how many times Settle was invoked.
func (m *MockFacilitator) SettleCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settleCalls
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
