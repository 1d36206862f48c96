package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"paydrop/internal/ledger"
	"paydrop/internal/payment"
	"paydrop/internal/slots"
)

const (
	testNetwork = "eip155:84532"
	testPayee   = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testBuyer   = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	testSecret  = "sweep-secret"
)

type testServer struct {
	handler *Handler
	store   *mockStore
	fac     *payment.MockFacilitator
}

// newTestServer wires the full handler stack: payments via the mock
// facilitator, reads in dev mode (nil authenticator), no rate limiting.
func newTestServer(withGate bool) *testServer {
	store := newMockStore()
	objects := newMockObjects()
	fac := payment.NewMockFacilitator()

	var gate *payment.Gate
	if withGate {
		gate = payment.NewGate(fac, testNetwork, testPayee)
	}
	svc := slots.NewService(store, objects, gate, nil, "https://drop.example")
	sweeper := slots.NewSweeper(store, objects)

	h := NewHandler(svc, sweeper, store, nil, nil, Config{
		SweepSecret:   testSecret,
		DisableLimits: true,
	})
	return &testServer{handler: h, store: store, fac: fac}
}

func (s *testServer) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for name, values := range header {
		r.Header[name] = values
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, r)
	return w
}

func proofHeader(t *testing.T, from string) http.Header {
	t.Helper()
	p := payment.Payload{
		X402Version: 2,
		Scheme:      "exact",
		Network:     testNetwork,
		Payload:     json.RawMessage(`{"authorization":{"from":"` + from + `"}}`),
	}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal proof: %v", err)
	}
	return http.Header{"Payment-Signature": {base64.StdEncoding.EncodeToString(b)}}
}

func decodeChallenge(t *testing.T, w *httptest.ResponseRecorder) *payment.Challenge {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(w.Header().Get(payment.RequiredHeaderName))
	if err != nil {
		t.Fatalf("decode challenge header: %v", err)
	}
	var c payment.Challenge
	if err := json.Unmarshal(raw, &c); err != nil {
		t.Fatalf("parse challenge: %v", err)
	}
	return &c
}

func TestHealth(t *testing.T) {
	s := newTestServer(true)
	w := s.do(t, "GET", "/health", "", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestCreateSlotDiscoveryChallenge(t *testing.T) {
	s := newTestServer(true)

	// No proof at all, not even a body: still a parsable challenge.
	w := s.do(t, "POST", "/api/slots", "", nil)
	if w.Code != 402 {
		t.Fatalf("status = %d, want 402", w.Code)
	}
	c := decodeChallenge(t, w)
	if len(c.Accepts) != 1 {
		t.Fatalf("accepts = %+v", c.Accepts)
	}
	// Without a requested tier the challenge quotes the cheapest one.
	if c.Accepts[0].MaxAmountRequired != "100000" {
		t.Errorf("quoted amount = %q, want cheapest tier", c.Accepts[0].MaxAmountRequired)
	}
	if _, ok := c.Extensions["discovery"]; !ok {
		t.Error("discovery extension missing")
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if body["paymentRequired"] != true {
		t.Errorf("body = %v", body)
	}

	// A requested tier prices the challenge for that tier.
	w = s.do(t, "POST", "/api/slots", `{"tier":"1gb"}`, nil)
	c = decodeChallenge(t, w)
	if c.Accepts[0].MaxAmountRequired != "10000000" {
		t.Errorf("quoted amount = %q, want 1gb price", c.Accepts[0].MaxAmountRequired)
	}
}

func TestCreateSlotWithProof(t *testing.T) {
	s := newTestServer(true)
	body := `{"filename":"photo.png","contentType":"image/png","tier":"10mb"}`

	w := s.do(t, "POST", "/api/slots", body, proofHeader(t, testBuyer))
	if w.Code != 200 {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if s.fac.SettleCalls() != 1 {
		t.Errorf("settle called %d times", s.fac.SettleCalls())
	}
	if w.Header().Get(payment.ResponseHeaderName) == "" {
		t.Error("settlement response header missing")
	}

	var grant slots.Grant
	if err := json.Unmarshal(w.Body.Bytes(), &grant); err != nil {
		t.Fatalf("parse grant: %v", err)
	}
	if grant.SlotID == "" || grant.UploadURL == "" || grant.SettlementRef == "" {
		t.Errorf("grant incomplete: %+v", grant)
	}

	if _, err := s.store.GetSlot(context.Background(), grant.SlotID); err != nil {
		t.Errorf("slot not persisted: %v", err)
	}
}

func TestCreateSlotBadRequests(t *testing.T) {
	s := newTestServer(true)
	header := proofHeader(t, testBuyer)

	w := s.do(t, "POST", "/api/slots", "{not json", header)
	if w.Code != 400 {
		t.Errorf("malformed body status = %d, want 400", w.Code)
	}

	w = s.do(t, "POST", "/api/slots", `{"filename":"a.txt","contentType":"text/plain","tier":"5tb"}`, proofHeader(t, testBuyer))
	if w.Code != 400 {
		t.Errorf("unknown tier status = %d, want 400", w.Code)
	}
}

func TestCreateSlotRejectedProof(t *testing.T) {
	s := newTestServer(true)
	s.fac.InvalidReason = "insufficient funds"

	body := `{"filename":"a.txt","contentType":"text/plain","tier":"10mb"}`
	w := s.do(t, "POST", "/api/slots", body, proofHeader(t, testBuyer))
	if w.Code != 402 {
		t.Fatalf("status = %d, want 402", w.Code)
	}
	c := decodeChallenge(t, w)
	if c.Error != "insufficient funds" {
		t.Errorf("challenge error = %q", c.Error)
	}
}

func TestCreateSlotDevMode(t *testing.T) {
	s := newTestServer(false)
	body := `{"filename":"a.txt","contentType":"text/plain","tier":"10mb"}`

	w := s.do(t, "POST", "/api/slots", body, nil)
	if w.Code != 200 {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if s.fac.SettleCalls() != 0 {
		t.Error("dev mode reached the facilitator")
	}
}

func seedSlot(s *testServer, id, payer string, status ledger.Status) {
	s.store.slots[id] = &ledger.Slot{
		ID:            id,
		PayerAddress:  payer,
		StorageKey:    "uploads/" + id + "/f.bin",
		Filename:      "f.bin",
		ContentType:   "application/octet-stream",
		TierKey:       "10mb",
		MaxBytes:      10 << 20,
		PublicURL:     "https://files.example/uploads/" + id + "/f.bin",
		Status:        status,
		PricePaid:     0.10,
		SettlementRef: "0xfeed",
		ExpiresAt:     time.Now().Add(time.Hour),
		CreatedAt:     time.Now(),
	}
}

func TestListSlots(t *testing.T) {
	s := newTestServer(true)
	seedSlot(s, "mine234567", slots.DevPayer, ledger.StatusUploaded)
	seedSlot(s, "their23456", testBuyer, ledger.StatusUploaded)

	w := s.do(t, "GET", "/api/slots", "", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Slots []map[string]any `json:"slots"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if len(body.Slots) != 1 || body.Slots[0]["id"] != "mine234567" {
		t.Errorf("slots = %+v", body.Slots)
	}
	// The list view never exposes settlement references or storage keys.
	if _, ok := body.Slots[0]["settlementRef"]; ok {
		t.Error("list view leaked settlement ref")
	}
	if _, ok := body.Slots[0]["storageKey"]; ok {
		t.Error("list view leaked storage key")
	}
}

func TestSlotDetails(t *testing.T) {
	s := newTestServer(true)
	seedSlot(s, "mine234567", slots.DevPayer, ledger.StatusUploaded)
	seedSlot(s, "their23456", testBuyer, ledger.StatusUploaded)

	w := s.do(t, "GET", "/api/slots/mine234567", "", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Slot map[string]any `json:"slot"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if body.Slot["settlementRef"] != "0xfeed" {
		t.Errorf("details view = %+v", body.Slot)
	}

	if w := s.do(t, "GET", "/api/slots/their23456", "", nil); w.Code != 403 {
		t.Errorf("foreign slot status = %d, want 403", w.Code)
	}
	if w := s.do(t, "GET", "/api/slots/missing2345", "", nil); w.Code != 404 {
		t.Errorf("missing slot status = %d, want 404", w.Code)
	}
}

func TestSweepEndpoint(t *testing.T) {
	s := newTestServer(true)

	if w := s.do(t, "POST", "/api/sweep", "", nil); w.Code != 401 {
		t.Errorf("no auth status = %d, want 401", w.Code)
	}
	wrong := http.Header{"Authorization": {"Bearer nope"}}
	if w := s.do(t, "POST", "/api/sweep", "", wrong); w.Code != 401 {
		t.Errorf("wrong secret status = %d, want 401", w.Code)
	}

	right := http.Header{"Authorization": {"Bearer " + testSecret}}
	w := s.do(t, "POST", "/api/sweep", "", right)
	if w.Code != 200 {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var res slots.SweepResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("parse result: %v", err)
	}
}

func TestSweepUnconfigured(t *testing.T) {
	store := newMockStore()
	objects := newMockObjects()
	svc := slots.NewService(store, objects, nil, nil, "https://drop.example")
	h := NewHandler(svc, slots.NewSweeper(store, objects), store, nil, nil, Config{DisableLimits: true})

	r := httptest.NewRequest("POST", "/api/sweep", nil)
	r.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != 500 {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
