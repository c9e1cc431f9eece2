package session

import (
	"context"
	"math"
	"time"

	"streakwatch/internal/loyalty"
	"streakwatch/internal/storage"
	"streakwatch/internal/telemetry"
)

// Recorder persists what a session observes.
type Recorder interface {
	RecordEvent(ctx context.Context, ev telemetry.Event) error
	RecordSnapshot(ctx context.Context, snap loyalty.Snapshot) error
}

// StoreRecorder records into the storage layer.
type StoreRecorder struct {
	Events    storage.EventStore
	Snapshots storage.SnapshotStore
}

// RecordEvent stores ev once.
func (r StoreRecorder) RecordEvent(ctx context.Context, ev telemetry.Event) error {
	if r.Events == nil {
		return nil
	}
	return r.Events.UpsertStreakEvent(ctx, EventRecord(ev))
}

// RecordSnapshot appends snap to the history.
func (r StoreRecorder) RecordSnapshot(ctx context.Context, snap loyalty.Snapshot) error {
	if r.Snapshots == nil {
		return nil
	}
	return r.Snapshots.InsertSnapshot(ctx, SnapshotRecord(snap))
}

// EventRecord converts a feed event into its stored form.
func EventRecord(ev telemetry.Event) storage.StreakEventRecord {
	rec := storage.StreakEventRecord{
		Account:     ev.User.Hex(),
		BlockNumber: int64(ev.ID.Block),
		LogIndex:    int64(ev.ID.Position),
		TxHash:      ev.TxHash.Hex(),
		NewStreak:   clampInt64(ev.NewStreakCount),
		DiscountBps: int64(ev.DiscountBps),
	}
	if at := ev.ObservedAt(); !at.IsZero() {
		rec.BlockTime = &at
	}
	return rec
}

// SnapshotRecord converts a snapshot into its stored form.
func SnapshotRecord(snap loyalty.Snapshot) storage.SnapshotRecord {
	fetched := snap.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now()
	}
	return storage.SnapshotRecord{
		Account:          snap.Account.Hex(),
		FetchedAt:        fetched.UTC(),
		LastActivityTime: snap.LastActivityTime,
		StreakCount:      clampInt64(snap.StreakCount),
		CumulativeVolume: snap.CumulativeVolume,
		FeeBps:           int32(snap.FeeBps),
		NextDeadline:     snap.NextDeadline,
	}
}

func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

var _ Recorder = StoreRecorder{}
