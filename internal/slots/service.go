// Package slots sells upload slots and reconciles them against storage.
package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paydrop/internal/ledger"
	"paydrop/internal/logging"
	"paydrop/internal/payment"
	"paydrop/internal/storage"
	"paydrop/internal/tiers"
	"paydrop/internal/token"
)

// uploadWindowHours is how long a grant's write authorization stays valid.
const uploadWindowHours = 1

// DevPayer attributes slots created while payments are disabled.
const DevPayer = "0x00000000000000000000000000000000000dev00"

// ErrPaymentRequired signals that no payment proof was attached; the HTTP
// layer answers with a discovery challenge, not an error payload.
var ErrPaymentRequired = errors.New("payment required")

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PostSettlementError is the hazard window failure: funds moved but the slot
// could not be delivered. It carries the settlement reference so a human
// recovery path exists. Never retried automatically — a retry could
// double-grant.
type PostSettlementError struct {
	SettlementRef string
	Payer         string
	Err           error
}

func (e *PostSettlementError) Error() string {
	return fmt.Sprintf("post-settlement failure (tx %s): %v", e.SettlementRef, e.Err)
}

func (e *PostSettlementError) Unwrap() error { return e.Err }

// GrantRequest is the caller's slot purchase request.
type GrantRequest struct {
	Filename    string
	ContentType string
	Tier        string
	ProofHeader string // empty when no payment proof was attached
}

// Grant is a sold slot: a write URL valid for a bounded window and the
// permanent public URL the file will be served from.
type Grant struct {
	SlotID                string    `json:"slotId"`
	UploadURL             string    `json:"uploadUrl"`
	PublicURL             string    `json:"publicUrl"`
	ExpiresAt             time.Time `json:"expiresAt"`
	MaxBytes              int64     `json:"maxBytes"`
	SettlementRef         string    `json:"settlementRef,omitempty"`
	CurlExample           string    `json:"curlExample"`
	PaymentResponseHeader string    `json:"-"`
}

// Service is the issuance pipeline.
type Service struct {
	store   ledger.Store
	objects storage.ObjectStore
	gate    *payment.Gate // nil disables payments (dev mode)
	codec   *token.Codec  // nil falls back to presigned PUTs
	baseURL string
}

// NewService wires the issuance pipeline. gate may be nil to run without
// payments; codec may be nil to use storage presigning instead of edge
// tokens.
func NewService(store ledger.Store, objects storage.ObjectStore, gate *payment.Gate, codec *token.Codec, baseURL string) *Service {
	return &Service{
		store:   store,
		objects: objects,
		gate:    gate,
		codec:   codec,
		baseURL: baseURL,
	}
}

// ResourceURL is the priced resource this pipeline sells.
func (s *Service) ResourceURL() string {
	return s.baseURL + "/api/slots"
}

// Gate exposes the payment gate for challenge construction; nil when
// payments are disabled.
func (s *Service) Gate() *payment.Gate { return s.gate }

// CreateSlot validates the request, runs the payment gate, mints exactly one
// slot, and returns the grant.
//
// The pipeline is not idempotent: resubmitting the same proof fails at
// settlement (the oracle prevents double spends) and every successful call
// mints a new slot.
func (s *Service) CreateSlot(ctx context.Context, req GrantRequest, now time.Time) (*Grant, error) {
	if req.Filename == "" || len(req.Filename) > 512 {
		return nil, &ValidationError{Field: "filename", Reason: "must be 1-512 characters"}
	}
	if req.ContentType == "" {
		return nil, &ValidationError{Field: "contentType", Reason: "is required"}
	}
	tier, ok := tiers.Get(req.Tier)
	if !ok {
		return nil, &ValidationError{Field: "tier", Reason: "unknown tier " + req.Tier}
	}

	filename := sanitizeFilename(req.Filename)

	var receipt *payment.Receipt
	payer := DevPayer
	if s.gate != nil {
		if req.ProofHeader == "" {
			return nil, ErrPaymentRequired
		}
		// Once settlement starts the request runs to completion server-side;
		// aborting mid-way would desynchronize payment from ledger state.
		settleCtx := context.WithoutCancel(ctx)
		var err error
		receipt, err = s.gate.Settle(settleCtx, req.ProofHeader, s.gate.Quote(s.ResourceURL(), tier))
		if err != nil {
			return nil, err
		}
		payer = receipt.Payer
		ctx = settleCtx
	}

	id, err := newSlotID()
	if err != nil {
		return nil, s.afterSettlement(receipt, fmt.Errorf("generate slot id: %w", err))
	}

	// The key derives from the generated id, never from user input alone,
	// so two buyers of "photo.png" can never collide.
	key := "uploads/" + id + "/" + filename
	publicURL := s.objects.PublicURL(key)
	expiresAt := now.Add(tiers.Retention)

	slot := &ledger.Slot{
		ID:           id,
		PayerAddress: payer,
		StorageKey:   key,
		Filename:     filename,
		ContentType:  req.ContentType,
		TierKey:      tier.Key,
		MaxBytes:     tier.MaxBytes,
		PublicURL:    publicURL,
		Status:       ledger.StatusPending,
		PricePaid:    tier.PriceUSD,
		ExpiresAt:    expiresAt,
		CreatedAt:    now,
	}
	if receipt != nil {
		slot.SettlementRef = receipt.SettlementRef
	}

	if err := s.store.UpsertPayer(ctx, payer); err != nil {
		return nil, s.afterSettlement(receipt, fmt.Errorf("register payer: %w", err))
	}
	if err := s.store.CreateSlot(ctx, slot); err != nil {
		return nil, s.afterSettlement(receipt, fmt.Errorf("persist slot: %w", err))
	}

	uploadURL, err := s.uploadURL(ctx, slot, now)
	if err != nil {
		return nil, s.afterSettlement(receipt, fmt.Errorf("authorize upload: %w", err))
	}

	logging.Internal.Printf("created slot %s (tier=%s, payer=%s)", id, tier.Key, payer[:10])

	grant := &Grant{
		SlotID:      id,
		UploadURL:   uploadURL,
		PublicURL:   publicURL,
		ExpiresAt:   expiresAt,
		MaxBytes:    tier.MaxBytes,
		CurlExample: fmt.Sprintf(`curl -X PUT "%s" -H "Content-Type: %s" --data-binary @'%s'`, uploadURL, req.ContentType, filename),
	}
	if receipt != nil {
		grant.SettlementRef = receipt.SettlementRef
		grant.PaymentResponseHeader = receipt.ResponseHeader
	}
	return grant, nil
}

// uploadURL prefers a signed edge token scoped to the storage key; without an
// edge-signing secret it falls back to a storage-provider presigned URL. The
// two are interchangeable: one bounded-lifetime PUT to exactly one key.
func (s *Service) uploadURL(ctx context.Context, slot *ledger.Slot, now time.Time) (string, error) {
	if s.codec != nil {
		t := s.codec.Issue("/"+slot.StorageKey, uploadWindowHours, now)
		return slot.PublicURL + "?t=" + t, nil
	}
	return s.objects.PresignPut(ctx, slot.StorageKey, slot.ContentType, uploadWindowHours*time.Hour)
}

// afterSettlement classifies a pipeline failure. Before settlement it passes
// through unchanged; after, it becomes the post-settlement hazard: the payer
// has paid with nothing to show for it, so it is logged at highest severity
// with everything a human needs to reconcile.
func (s *Service) afterSettlement(receipt *payment.Receipt, err error) error {
	if receipt == nil {
		return err
	}
	logging.Internal.Printf("CRITICAL: slot delivery failed after settlement: tx=%s payer=%s err=%v",
		receipt.SettlementRef, receipt.Payer, err)
	return &PostSettlementError{
		SettlementRef: receipt.SettlementRef,
		Payer:         receipt.Payer,
		Err:           err,
	}
}
