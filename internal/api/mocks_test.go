package api

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"paydrop/internal/ledger"
	"paydrop/internal/storage"
)

type mockStore struct {
	mu     sync.Mutex
	slots  map[string]*ledger.Slot
	payers map[string]int
}

func newMockStore() *mockStore {
	return &mockStore{
		slots:  make(map[string]*ledger.Slot),
		payers: make(map[string]int),
	}
}

func (m *mockStore) CreateSlot(ctx context.Context, s *ledger.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.slots[s.ID] = &cp
	return nil
}

func (m *mockStore) GetSlot(ctx context.Context, id string) (*ledger.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockStore) ListSlotsByPayer(ctx context.Context, payer string) ([]*ledger.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.Slot
	for _, s := range m.slots {
		if s.PayerAddress == payer {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*ledger.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.Slot
	for _, s := range m.slots {
		if s.Status == ledger.StatusPending && s.CreatedAt.Before(cutoff) && len(out) < limit {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*ledger.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.Slot
	for _, s := range m.slots {
		nonTerminal := s.Status == ledger.StatusPending || s.Status == ledger.StatusUploaded
		if nonTerminal && s.ExpiresAt.Before(now) && len(out) < limit {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) ListErasable(ctx context.Context, limit int) ([]*ledger.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.Slot
	for _, s := range m.slots {
		if s.Status == ledger.StatusExpired && len(out) < limit {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) SetStatus(ctx context.Context, id string, status ledger.Status, observedSize *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return ledger.ErrNotFound
	}
	s.Status = status
	if observedSize != nil {
		size := *observedSize
		s.ObservedSize = &size
	}
	return nil
}

func (m *mockStore) UpsertPayer(ctx context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payers[address]++
	return nil
}

func (m *mockStore) Close() error { return nil }

type mockObjects struct {
	mu    sync.Mutex
	sizes map[string]int64
}

func newMockObjects() *mockObjects {
	return &mockObjects{sizes: make(map[string]int64)}
}

func (m *mockObjects) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) (int64, error) {
	b, _ := io.ReadAll(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes[key] = int64(len(b))
	return int64(len(b)), nil
}

func (m *mockObjects) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	size, ok := m.sizes[key]
	if !ok {
		return nil, fmt.Errorf("no such key %q", key)
	}
	return io.NopCloser(strings.NewReader(strings.Repeat("x", int(size)))), nil
}

func (m *mockObjects) Head(ctx context.Context, key string) (storage.HeadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	size, ok := m.sizes[key]
	if !ok {
		return storage.HeadResult{Exists: false}, nil
	}
	return storage.HeadResult{Exists: true, Size: size}, nil
}

func (m *mockObjects) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sizes, key)
	return nil
}

func (m *mockObjects) PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error) {
	return "https://storage.example/presign/" + key, nil
}

func (m *mockObjects) PublicURL(key string) string {
	return "https://files.example/" + key
}
