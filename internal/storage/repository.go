package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS streak_events (
        account      TEXT        NOT NULL,
        block_number BIGINT      NOT NULL,
        log_index    BIGINT      NOT NULL,
        tx_hash      TEXT        NOT NULL,
        new_streak   BIGINT      NOT NULL,
        discount_bps BIGINT      NOT NULL,
        block_time   TIMESTAMPTZ,
        created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (account, block_number, log_index)
    );
    CREATE TABLE IF NOT EXISTS streak_snapshots (
        account             TEXT        NOT NULL,
        fetched_at          TIMESTAMPTZ NOT NULL,
        last_activity_time  BIGINT      NOT NULL,
        streak_count        BIGINT      NOT NULL,
        cumulative_volume   NUMERIC     NOT NULL,
        fee_bps             INTEGER     NOT NULL,
        next_deadline       BIGINT      NOT NULL,
        created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (account, fetched_at)
    );`

	upsertStreakEventSQL = `INSERT INTO streak_events (
        account,
        block_number,
        log_index,
        tx_hash,
        new_streak,
        discount_bps,
        block_time
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (account, block_number, log_index) DO NOTHING;`

	listRecentEventsSQL = `SELECT
        account,
        block_number,
        log_index,
        tx_hash,
        new_streak,
        discount_bps,
        block_time,
        created_at
    FROM streak_events
    WHERE account = $1
    ORDER BY block_number DESC, log_index DESC
    LIMIT $2;`

	insertSnapshotSQL = `INSERT INTO streak_snapshots (
        account,
        fetched_at,
        last_activity_time,
        streak_count,
        cumulative_volume,
        fee_bps,
        next_deadline
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (account, fetched_at) DO NOTHING;`

	listSnapshotsBetweenSQL = `SELECT
        account,
        fetched_at,
        last_activity_time,
        streak_count,
        cumulative_volume::text,
        fee_bps,
        next_deadline,
        created_at
    FROM streak_snapshots
    WHERE account = $1
      AND fetched_at >= $2
      AND fetched_at < $3
    ORDER BY fetched_at;`

	countSnapshotsSQL = `SELECT COUNT(*) FROM streak_snapshots;`
)

// EventStore persists streak events.
type EventStore interface {
	UpsertStreakEvent(ctx context.Context, rec StreakEventRecord) error
	ListRecentEvents(ctx context.Context, account string, limit int) ([]StreakEventRecord, error)
}

// SnapshotStore persists loyalty snapshots.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, rec SnapshotRecord) error
	ListSnapshotsBetween(ctx context.Context, account string, from, to time.Time) ([]SnapshotRecord, error)
	CountSnapshots(ctx context.Context) (int64, error)
}

// Store aggregates access to events and snapshots.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, schemaSQL); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
}

// UpsertStreakEvent stores an event once; replays are ignored.
func (s *Store) UpsertStreakEvent(ctx context.Context, rec StreakEventRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var blockTime interface{}
	if rec.BlockTime != nil {
		blockTime = rec.BlockTime.UTC()
	}

	_, execErr := pool.Exec(ctx, upsertStreakEventSQL,
		NormalizeAccount(rec.Account),
		rec.BlockNumber,
		rec.LogIndex,
		rec.TxHash,
		rec.NewStreak,
		rec.DiscountBps,
		blockTime,
	)
	if execErr != nil {
		return fmt.Errorf("upsert streak event: %w", execErr)
	}
	return nil
}

// ListRecentEvents lists the newest events for an account.
func (s *Store) ListRecentEvents(ctx context.Context, account string, limit int) ([]StreakEventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	rows, queryErr := pool.Query(ctx, listRecentEventsSQL, NormalizeAccount(account), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]StreakEventRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanStreakEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// InsertSnapshot appends a committed snapshot.
func (s *Store) InsertSnapshot(ctx context.Context, rec SnapshotRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertSnapshotSQL,
		NormalizeAccount(rec.Account),
		rec.FetchedAt.UTC(),
		rec.LastActivityTime,
		rec.StreakCount,
		rec.CumulativeVolume.String(),
		rec.FeeBps,
		rec.NextDeadline,
	)
	if execErr != nil {
		return fmt.Errorf("insert snapshot: %w", execErr)
	}
	return nil
}

// ListSnapshotsBetween lists an account's snapshots within a time window.
func (s *Store) ListSnapshotsBetween(ctx context.Context, account string, from, to time.Time) ([]SnapshotRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsBetweenSQL, NormalizeAccount(account), from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	defer rows.Close()

	snapshots := make([]SnapshotRecord, 0)
	for rows.Next() {
		rec, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

// CountSnapshots counts stored snapshots.
func (s *Store) CountSnapshots(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSnapshotsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count snapshots: %w", scanErr)
	}
	return count, nil
}

// NormalizeAccount lowercases a hex address so lookups ignore checksum casing.
func NormalizeAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}

func scanStreakEvent(rows pgx.Rows) (StreakEventRecord, error) {
	var (
		rec       StreakEventRecord
		blockTime *time.Time
	)
	if err := rows.Scan(
		&rec.Account,
		&rec.BlockNumber,
		&rec.LogIndex,
		&rec.TxHash,
		&rec.NewStreak,
		&rec.DiscountBps,
		&blockTime,
		&rec.CreatedAt,
	); err != nil {
		return StreakEventRecord{}, err
	}
	rec.BlockTime = blockTime
	return rec, nil
}

func scanSnapshot(rows pgx.Rows) (SnapshotRecord, error) {
	var (
		rec       SnapshotRecord
		volumeStr string
	)
	if err := rows.Scan(
		&rec.Account,
		&rec.FetchedAt,
		&rec.LastActivityTime,
		&rec.StreakCount,
		&volumeStr,
		&rec.FeeBps,
		&rec.NextDeadline,
		&rec.CreatedAt,
	); err != nil {
		return SnapshotRecord{}, err
	}

	volume, err := decimal.NewFromString(volumeStr)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("parse cumulative volume: %w", err)
	}
	rec.CumulativeVolume = volume
	return rec, nil
}

var (
	_ EventStore    = (*Store)(nil)
	_ SnapshotStore = (*Store)(nil)
)
