package ledger

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"paydrop/internal/logging"
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL, applies pending migrations, and
// returns a ready store.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migratePostgres(databaseURL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func migratePostgres(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	logging.Internal.Println("ledger migrations applied")
	return nil
}

const pgSlotColumns = `id, payer_address, storage_key, filename, content_type, tier,
	max_bytes, observed_size, public_url, status, price_paid, settlement_ref,
	expires_at, created_at`

func (s *PostgresStore) CreateSlot(ctx context.Context, slot *Slot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO slots (`+pgSlotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, slot.ID, slot.PayerAddress, slot.StorageKey, slot.Filename, slot.ContentType,
		slot.TierKey, slot.MaxBytes, slot.ObservedSize, slot.PublicURL, string(slot.Status),
		slot.PricePaid, slot.SettlementRef, slot.ExpiresAt, slot.CreatedAt)
	return err
}

func pgScanSlot(row pgx.Row) (*Slot, error) {
	var slot Slot
	var status string
	err := row.Scan(&slot.ID, &slot.PayerAddress, &slot.StorageKey, &slot.Filename,
		&slot.ContentType, &slot.TierKey, &slot.MaxBytes, &slot.ObservedSize, &slot.PublicURL,
		&status, &slot.PricePaid, &slot.SettlementRef, &slot.ExpiresAt, &slot.CreatedAt)
	if err != nil {
		return nil, err
	}
	slot.Status = Status(status)
	return &slot, nil
}

func (s *PostgresStore) GetSlot(ctx context.Context, id string) (*Slot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgSlotColumns+` FROM slots WHERE id = $1`, id)
	slot, err := pgScanSlot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return slot, err
}

func (s *PostgresStore) querySlots(ctx context.Context, query string, args ...any) ([]*Slot, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []*Slot
	for rows.Next() {
		slot, err := pgScanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

func (s *PostgresStore) ListSlotsByPayer(ctx context.Context, payer string) ([]*Slot, error) {
	return s.querySlots(ctx, `
		SELECT `+pgSlotColumns+` FROM slots
		WHERE payer_address = $1 ORDER BY created_at DESC
	`, payer)
}

func (s *PostgresStore) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Slot, error) {
	return s.querySlots(ctx, `
		SELECT `+pgSlotColumns+` FROM slots
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at LIMIT $3
	`, string(StatusPending), cutoff, limit)
}

func (s *PostgresStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*Slot, error) {
	return s.querySlots(ctx, `
		SELECT `+pgSlotColumns+` FROM slots
		WHERE status = ANY($1) AND expires_at < $2
		ORDER BY expires_at LIMIT $3
	`, []string{string(StatusPending), string(StatusUploaded)}, now, limit)
}

func (s *PostgresStore) ListErasable(ctx context.Context, limit int) ([]*Slot, error) {
	return s.querySlots(ctx, `
		SELECT `+pgSlotColumns+` FROM slots
		WHERE status = $1 ORDER BY expires_at LIMIT $2
	`, string(StatusExpired), limit)
}

func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status, observedSize *int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE slots SET status = $1, observed_size = COALESCE($2, observed_size)
		WHERE id = $3
	`, string(status), observedSize, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpsertPayer(ctx context.Context, address string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payers (address, created_at, updated_at) VALUES ($1, $2, $2)
		ON CONFLICT (address) DO UPDATE SET updated_at = EXCLUDED.updated_at
	`, address, now)
	return err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
