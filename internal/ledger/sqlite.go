package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite. It is the default backend for
// development and single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) a SQLite-backed store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := migrateSQLite(db); err != nil {
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrateSQLite(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS slots (
			id TEXT PRIMARY KEY,
			payer_address TEXT NOT NULL,
			storage_key TEXT NOT NULL UNIQUE,
			filename TEXT NOT NULL,
			content_type TEXT NOT NULL,
			tier TEXT NOT NULL,
			max_bytes INTEGER NOT NULL,
			observed_size INTEGER,
			public_url TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			price_paid REAL NOT NULL,
			settlement_ref TEXT NOT NULL DEFAULT '',
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_slots_payer ON slots(payer_address);
		CREATE INDEX IF NOT EXISTS idx_slots_status_created ON slots(status, created_at);
		CREATE INDEX IF NOT EXISTS idx_slots_expires ON slots(expires_at);
		CREATE TABLE IF NOT EXISTS payers (
			address TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`)
	return err
}

const slotColumns = `id, payer_address, storage_key, filename, content_type, tier,
	max_bytes, observed_size, public_url, status, price_paid, settlement_ref,
	expires_at, created_at`

func (s *SQLiteStore) CreateSlot(ctx context.Context, slot *Slot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO slots (`+slotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, slot.ID, slot.PayerAddress, slot.StorageKey, slot.Filename, slot.ContentType,
		slot.TierKey, slot.MaxBytes, slot.ObservedSize, slot.PublicURL, string(slot.Status),
		slot.PricePaid, slot.SettlementRef, slot.ExpiresAt, slot.CreatedAt)
	return err
}

func scanSlot(scan func(dest ...any) error) (*Slot, error) {
	var slot Slot
	var observed sql.NullInt64
	var status string
	err := scan(&slot.ID, &slot.PayerAddress, &slot.StorageKey, &slot.Filename,
		&slot.ContentType, &slot.TierKey, &slot.MaxBytes, &observed, &slot.PublicURL,
		&status, &slot.PricePaid, &slot.SettlementRef, &slot.ExpiresAt, &slot.CreatedAt)
	if err != nil {
		return nil, err
	}
	if observed.Valid {
		slot.ObservedSize = &observed.Int64
	}
	slot.Status = Status(status)
	return &slot, nil
}

func (s *SQLiteStore) GetSlot(ctx context.Context, id string) (*Slot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = ?`, id)
	slot, err := scanSlot(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return slot, err
}

func (s *SQLiteStore) querySlots(ctx context.Context, query string, args ...any) ([]*Slot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []*Slot
	for rows.Next() {
		slot, err := scanSlot(rows.Scan)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

func (s *SQLiteStore) ListSlotsByPayer(ctx context.Context, payer string) ([]*Slot, error) {
	return s.querySlots(ctx, `
		SELECT `+slotColumns+` FROM slots
		WHERE payer_address = ? ORDER BY created_at DESC
	`, payer)
}

func (s *SQLiteStore) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Slot, error) {
	return s.querySlots(ctx, `
		SELECT `+slotColumns+` FROM slots
		WHERE status = ? AND created_at < ?
		ORDER BY created_at LIMIT ?
	`, string(StatusPending), cutoff, limit)
}

func (s *SQLiteStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*Slot, error) {
	return s.querySlots(ctx, `
		SELECT `+slotColumns+` FROM slots
		WHERE status IN (?, ?) AND expires_at < ?
		ORDER BY expires_at LIMIT ?
	`, string(StatusPending), string(StatusUploaded), now, limit)
}

func (s *SQLiteStore) ListErasable(ctx context.Context, limit int) ([]*Slot, error) {
	return s.querySlots(ctx, `
		SELECT `+slotColumns+` FROM slots
		WHERE status = ? ORDER BY expires_at LIMIT ?
	`, string(StatusExpired), limit)
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status Status, observedSize *int64) error {
	var result sql.Result
	var err error

	if observedSize != nil {
		result, err = s.db.ExecContext(ctx, `
			UPDATE slots SET status = ?, observed_size = ? WHERE id = ?
		`, string(status), *observedSize, id)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE slots SET status = ? WHERE id = ?
		`, string(status), id)
	}
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpsertPayer(ctx context.Context, address string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payers (address, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET updated_at = excluded.updated_at
	`, address, now, now)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
