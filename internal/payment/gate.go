package payment

import (
	"context"
	"sync"
	"time"

	"paydrop/internal/logging"
	"paydrop/internal/tiers"
)

// externalCallTimeout bounds every facilitator round trip.
const externalCallTimeout = 30 * time.Second

// Receipt is the outcome of a successful settlement.
type Receipt struct {
	Payer          string // normalized lowercase address
	SettlementRef  string // transaction reference from the oracle
	ResponseHeader string // encoded settlement result for the client
}

// Gate orchestrates the settlement oracle. It is constructed explicitly and
// injected; the facilitator's own network initialization is deferred until
// first use behind a single-flight guard, since concurrent first callers must
// not race it.
type Gate struct {
	facilitator Facilitator
	network     string
	payee       string

	initMu      sync.Mutex
	initialized bool
}

// NewGate returns a Gate settling on network and paying out to payee.
func NewGate(f Facilitator, network, payee string) *Gate {
	return &Gate{facilitator: f, network: network, payee: payee}
}

func (g *Gate) ensureInitialized(ctx context.Context) error {
	g.initMu.Lock()
	defer g.initMu.Unlock()
	if g.initialized {
		return nil
	}
	if err := g.facilitator.Initialize(ctx); err != nil {
		return err
	}
	g.initialized = true
	return nil
}

// Quote builds the payment requirement for one tier of the given resource.
func (g *Gate) Quote(resourceURL string, t tiers.Tier) *Requirement {
	return &Requirement{
		Scheme:            "exact",
		Network:           g.network,
		PayTo:             g.payee,
		MaxAmountRequired: AtomicAmount(t.PriceUSD),
		PriceUSD:          t.PriceUSD,
		Resource:          resourceURL,
		Description:       "Upload slot (" + t.Label + ", 6 months)",
		MimeType:          "application/json",
	}
}

// Challenge builds the 402 body quoting req, with an optional rejection
// reason and discovery extensions.
func (g *Gate) Challenge(req *Requirement, reason string, extensions map[string]any) *Challenge {
	errText := reason
	if errText == "" {
		errText = "Payment required"
	}
	return &Challenge{
		X402Version: protocolVersion,
		Error:       errText,
		Resource: ResourceInfo{
			URL:         req.Resource,
			Description: req.Description,
			MimeType:    req.MimeType,
		},
		Accepts:    []*Requirement{req},
		Extensions: extensions,
	}
}

// Settle runs the full gate pipeline on a presented proof header:
// decode, match, verify, extract the payer, then settle.
//
// The payer is extracted strictly before settlement. Settlement is
// irreversible, so it must not proceed without knowing who the slot will be
// attributed to. Every failure before Settle returns a VerificationError and
// leaves funds untouched; once the oracle's Settle is invoked, any failure is
// a SettlementError.
func (g *Gate) Settle(ctx context.Context, proofHeader string, req *Requirement) (*Receipt, error) {
	if err := g.ensureInitialized(ctx); err != nil {
		return nil, &VerificationError{Reason: "payment facilitator unavailable: " + err.Error()}
	}

	payload, err := DecodeProofHeader(proofHeader)
	if err != nil {
		logging.Payment.Printf("failed to decode payment proof: %v", err)
		return nil, &VerificationError{Reason: "invalid payment format"}
	}

	if !req.Matches(payload) {
		return nil, &VerificationError{Reason: "payment does not match requirements"}
	}

	verifyCtx, cancel := context.WithTimeout(ctx, externalCallTimeout)
	defer cancel()
	verdict, err := g.facilitator.Verify(verifyCtx, payload, req)
	if err != nil {
		return nil, &VerificationError{Reason: "verification failed: " + err.Error()}
	}
	if !verdict.IsValid {
		reason := verdict.InvalidReason
		if reason == "" {
			reason = "verification failed"
		}
		return nil, &VerificationError{Reason: reason}
	}

	payer := payerFromPayload(payload)
	if payer == "" && verdict.Payer != "" {
		payer = NormalizeAddress(verdict.Payer)
	}
	if payer == "" {
		return nil, &VerificationError{Reason: "could not determine payer address"}
	}
	if !ValidAddress(payer) {
		return nil, &VerificationError{Reason: "invalid payer address format"}
	}

	// Point of no return: funds move here.
	settleCtx, cancel := context.WithTimeout(ctx, externalCallTimeout)
	defer cancel()
	result, err := g.facilitator.Settle(settleCtx, payload, req)
	if err != nil {
		return nil, &SettlementError{Reason: err.Error()}
	}
	if !result.Success {
		reason := result.ErrorReason
		if reason == "" {
			reason = "settlement failed"
		}
		return nil, &SettlementError{Reason: reason}
	}

	logging.Payment.Printf("settled %s for %s (tx %s)", req.MaxAmountRequired, payer, result.Transaction)

	return &Receipt{
		Payer:          payer,
		SettlementRef:  result.Transaction,
		ResponseHeader: EncodeSettleHeader(result),
	}, nil
}
