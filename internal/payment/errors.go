package payment

import "fmt"

// VerificationError means the proof was rejected before any funds moved.
// The caller can retry with a fresh proof.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("payment verification failed: %s", e.Reason)
}

// SettlementError means the oracle refused or failed the settlement itself.
// Distinct from VerificationError because the proof was otherwise acceptable.
type SettlementError struct {
	Reason string
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("payment settlement failed: %s", e.Reason)
}
