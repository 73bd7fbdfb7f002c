package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// PermitStore hands out a named permit at most once per interval across every
// process sharing the database.
type PermitStore struct {
	db dbtx
}

// NewPermitStore constructs a PermitStore over a pool (or pgxmock pool).
func NewPermitStore(db dbtx) (*PermitStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PermitStore{db: db}, nil
}

// Acquire takes the permit and returns 0, or returns how long until it frees up.
// The check-and-set is a single statement so concurrent callers cannot both win.
func (s *PermitStore) Acquire(ctx context.Context, name string, interval time.Duration) (time.Duration, error) {
	var availableAt time.Time
	err := s.db.QueryRow(ctx, `
INSERT INTO throttle_permits (name, available_at)
VALUES ($1, now() + $2 * interval '1 millisecond')
ON CONFLICT (name) DO UPDATE
SET available_at = EXCLUDED.available_at
WHERE throttle_permits.available_at <= now()
RETURNING available_at`, name, millis(interval)).Scan(&availableAt)
	if err == nil {
		return 0, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("acquire permit %q: %w", name, err)
	}

	var waitMillis int64
	err = s.db.QueryRow(ctx, `
SELECT GREATEST(CEIL(EXTRACT(EPOCH FROM (available_at - now())) * 1000), 1)::bigint
FROM throttle_permits
WHERE name = $1`, name).Scan(&waitMillis)
	if errors.Is(err, pgx.ErrNoRows) {
		// Row vanished between statements; let the caller retry promptly.
		return time.Millisecond, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read permit %q: %w", name, err)
	}
	return time.Duration(waitMillis) * time.Millisecond, nil
}
