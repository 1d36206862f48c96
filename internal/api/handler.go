// Package api is the HTTP surface of the slot service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"paydrop/internal/ledger"
	"paydrop/internal/logging"
	"paydrop/internal/payment"
	"paydrop/internal/slots"
	"paydrop/internal/tiers"
	"paydrop/internal/walletauth"
)

// Config holds HTTP-surface configuration.
type Config struct {
	SweepSecret    string
	AllowedOrigins []string // empty allows all (development)
	DisableLimits  bool     // disables per-IP rate limiting (development)
}

// Handler routes and serves all API requests. It is fully configured at
// construction; nothing is resolved lazily at request time.
type Handler struct {
	slots   *slots.Service
	sweeper *slots.Sweeper
	store   ledger.Store
	auth    *walletauth.Authenticator // nil attributes reads to the dev payer
	cfg     Config
	router  chi.Router
}

// NewHandler builds the router with all middleware and routes registered.
// edge, when non-nil, serves the tokenized direct-upload path.
func NewHandler(svc *slots.Service, sweeper *slots.Sweeper, store ledger.Store, auth *walletauth.Authenticator, edge http.Handler, cfg Config) *Handler {
	h := &Handler{
		slots:   svc,
		sweeper: sweeper,
		store:   store,
		auth:    auth,
		cfg:     cfg,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger)
	r.Use(chimiddleware.Recoverer)
	if !cfg.DisableLimits {
		r.Use(RateLimit(DefaultRateLimitConfig()))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg.AllowedOrigins),
		AllowedMethods: []string{"GET", "POST", "PUT", "HEAD", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Payment-Signature", "X-Payment", "Sign-In-With-X", "X-Wallet-Proof"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/slots", h.handleCreateSlot)
		r.Get("/slots", h.handleListSlots)
		r.Get("/slots/{id}", h.handleSlotDetails)
		r.Post("/sweep", h.handleSweep)
	})

	if edge != nil {
		r.Handle("/uploads/*", edge)
	}

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

type createSlotRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Tier        string `json:"tier"`
}

func (h *Handler) handleCreateSlot(w http.ResponseWriter, r *http.Request) {
	gate := h.slots.Gate()
	proof := payment.ProofHeader(r.Header)

	var req createSlotRequest
	parseErr := json.NewDecoder(r.Body).Decode(&req)

	// No proof attached: answer with the discovery challenge even when the
	// body is malformed. This is how callers learn the price and schema.
	if gate != nil && proof == "" {
		tier := tiers.Cheapest()
		if t, ok := tiers.Get(req.Tier); ok {
			tier = t
		}
		quote := gate.Quote(h.slots.ResourceURL(), tier)
		writeChallenge(w, gate.Challenge(quote, "", discoveryExtensions()))
		return
	}

	if parseErr != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	grant, err := h.slots.CreateSlot(r.Context(), slots.GrantRequest{
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Tier:        req.Tier,
		ProofHeader: proof,
	}, time.Now().UTC())
	if err != nil {
		h.writeCreateError(w, req, err)
		return
	}

	if grant.PaymentResponseHeader != "" {
		w.Header().Set(payment.ResponseHeaderName, grant.PaymentResponseHeader)
	}
	writeJSON(w, http.StatusOK, grant)
}

func (h *Handler) writeCreateError(w http.ResponseWriter, req createSlotRequest, err error) {
	var validationErr *slots.ValidationError
	var verificationErr *payment.VerificationError
	var settlementErr *payment.SettlementError
	var postSettleErr *slots.PostSettlementError

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Error())

	case errors.As(err, &verificationErr):
		h.writeRejection(w, req, verificationErr.Reason)

	case errors.As(err, &settlementErr):
		h.writeRejection(w, req, settlementErr.Reason)

	case errors.As(err, &postSettleErr):
		// Real money moved with nothing to show for it; give the caller the
		// settlement reference so support can reconcile by hand.
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":         "internal error after payment settled — contact support with your settlement reference",
			"settlementRef": postSettleErr.SettlementRef,
		})

	default:
		logging.API.Printf("create slot failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeRejection answers a rejected proof with a fresh challenge naming the
// distinguishing reason, so the caller can retry with a new proof.
func (h *Handler) writeRejection(w http.ResponseWriter, req createSlotRequest, reason string) {
	gate := h.slots.Gate()
	tier := tiers.Cheapest()
	if t, ok := tiers.Get(req.Tier); ok {
		tier = t
	}
	quote := gate.Quote(h.slots.ResourceURL(), tier)
	writeChallenge(w, gate.Challenge(quote, reason, nil))
}

// slotView is the read-path projection of a slot. The storage key stays
// internal.
type slotView struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	ContentType   string    `json:"contentType"`
	Tier          string    `json:"tier"`
	MaxBytes      int64     `json:"maxBytes"`
	ObservedSize  *int64    `json:"observedSize,omitempty"`
	PublicURL     string    `json:"publicUrl"`
	Status        string    `json:"status"`
	PricePaid     float64   `json:"pricePaid"`
	SettlementRef string    `json:"settlementRef,omitempty"`
	ExpiresAt     time.Time `json:"expiresAt"`
	CreatedAt     time.Time `json:"createdAt"`
}

func viewOf(s *ledger.Slot, includeSettlement bool) slotView {
	v := slotView{
		ID:           s.ID,
		Filename:     s.Filename,
		ContentType:  s.ContentType,
		Tier:         s.TierKey,
		MaxBytes:     s.MaxBytes,
		ObservedSize: s.ObservedSize,
		PublicURL:    s.PublicURL,
		Status:       string(s.Status),
		PricePaid:    s.PricePaid,
		ExpiresAt:    s.ExpiresAt,
		CreatedAt:    s.CreatedAt,
	}
	if includeSettlement {
		v.SettlementRef = s.SettlementRef
	}
	return v
}

// authenticate resolves the caller's payer address, or writes the auth
// challenge and returns false.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.auth == nil {
		return slots.DevPayer, true
	}
	payer, err := h.auth.Authenticate(r.Context(), r)
	if err != nil {
		var authErr *walletauth.AuthError
		reason := "Authentication required"
		if errors.As(err, &authErr) {
			reason = authErr.Reason
		}
		writeChallenge(w, h.auth.Challenge(r, reason))
		return "", false
	}
	return payer, true
}

func (h *Handler) handleListSlots(w http.ResponseWriter, r *http.Request) {
	payer, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	records, err := h.store.ListSlotsByPayer(r.Context(), payer)
	if err != nil {
		logging.API.Printf("list slots failed for %s: %v", payer, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	views := make([]slotView, 0, len(records))
	for _, s := range records {
		views = append(views, viewOf(s, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": views})
}

func (h *Handler) handleSlotDetails(w http.ResponseWriter, r *http.Request) {
	payer, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	slot, err := h.store.GetSlot(r.Context(), id)
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "slot not found")
		return
	}
	if err != nil {
		logging.API.Printf("get slot %s failed: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if slot.PayerAddress != payer {
		writeError(w, http.StatusForbidden, "slot belongs to a different wallet")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"slot": viewOf(slot, true)})
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	if h.cfg.SweepSecret == "" {
		writeError(w, http.StatusInternalServerError, "sweep secret not configured")
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+h.cfg.SweepSecret {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	result, err := h.sweeper.Run(r.Context(), time.Now().UTC())
	if err != nil {
		logging.API.Printf("sweep failed: %v", err)
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// discoveryExtensions describes the purchase request and response shape
// inside the 402 challenge so agents can drive the API without docs.
func discoveryExtensions() map[string]any {
	return map[string]any{
		"discovery": map[string]any{
			"bodyType": "json",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"filename":    map[string]any{"type": "string", "description": "Name of the file to upload"},
					"contentType": map[string]any{"type": "string", "description": "MIME type of the file (e.g. image/png)"},
					"tier":        map[string]any{"type": "string", "enum": tiers.Keys(), "description": "Upload tier"},
				},
				"required": []string{"filename", "contentType", "tier"},
			},
			"output": map[string]any{
				"example": map[string]any{
					"slotId":    "k7gm3nqp2x",
					"uploadUrl": "https://f.paydrop.dev/uploads/k7gm3nqp2x/photo.png?t=...",
					"publicUrl": "https://f.paydrop.dev/uploads/k7gm3nqp2x/photo.png",
				},
			},
		},
	}
}
