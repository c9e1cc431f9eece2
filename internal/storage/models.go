package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// StreakEventRecord is a persisted StreakUpdated log.
type StreakEventRecord struct {
	Account     string
	BlockNumber int64
	LogIndex    int64
	TxHash      string
	NewStreak   int64
	DiscountBps int64
	BlockTime   *time.Time
	CreatedAt   time.Time
}

// SnapshotRecord is one committed loyalty snapshot.
type SnapshotRecord struct {
	Account          string
	FetchedAt        time.Time
	LastActivityTime int64
	StreakCount      int64
	CumulativeVolume decimal.Decimal
	FeeBps           int32
	NextDeadline     int64
	CreatedAt        time.Time
}
