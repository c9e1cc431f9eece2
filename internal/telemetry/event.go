// Package telemetry keeps the per-account feed of StreakUpdated events.
package telemetry

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ID identifies one log entry: block number plus log position.
type ID struct {
	Block    uint64
	Position uint
}

// Less orders IDs by block, then position.
func (id ID) Less(other ID) bool {
	if id.Block != other.Block {
		return id.Block < other.Block
	}
	return id.Position < other.Position
}

func (id ID) String() string {
	return fmt.Sprintf("%d:%d", id.Block, id.Position)
}

// RawEntry is a decoded StreakUpdated log before normalisation.
type RawEntry struct {
	User        common.Address
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
	// HasLogIndex is false for sources that cannot report a log position; Ordinal
	// (the position inside the delivered batch) is used instead.
	HasLogIndex bool
	Ordinal     uint

	NewStreak *big.Int
	// DiscountApplied is nil when the payload does not carry the field.
	DiscountApplied *big.Int
	// BlockTime is the block timestamp in Unix seconds, 0 when unknown.
	BlockTime uint64
	// Removed marks a log dropped by a chain reorganisation.
	Removed bool
}

// ID returns the identity of the entry.
func (r RawEntry) ID() ID {
	if r.HasLogIndex {
		return ID{Block: r.BlockNumber, Position: r.LogIndex}
	}
	return ID{Block: r.BlockNumber, Position: r.Ordinal}
}

// Event is one normalised feed entry.
type Event struct {
	ID             ID
	User           common.Address
	TxHash         common.Hash
	NewStreakCount uint64
	DiscountBps    uint32
	BlockTime      uint64
	// Ordinal is the arrival order inside the feed; it stands in for BlockTime when
	// the block timestamp is unknown.
	Ordinal uint64
}

// ObservedAt returns the block time, or the zero time when unknown.
func (e Event) ObservedAt() time.Time {
	if e.BlockTime == 0 {
		return time.Time{}
	}
	return time.Unix(int64(e.BlockTime), 0).UTC()
}

// DiscountPercent renders the applied fee as a percentage.
func (e Event) DiscountPercent() decimal.Decimal {
	return decimal.NewFromInt(int64(e.DiscountBps)).Div(decimal.NewFromInt(100))
}

// Normalize converts a raw entry. An absent discount becomes maxFeeBps.
func Normalize(raw RawEntry, maxFeeBps uint32, ordinal uint64) Event {
	discount := maxFeeBps
	if raw.DiscountApplied != nil {
		discount = clampUint32(raw.DiscountApplied)
	}
	var streak uint64
	if raw.NewStreak != nil && raw.NewStreak.Sign() > 0 {
		if raw.NewStreak.IsUint64() {
			streak = raw.NewStreak.Uint64()
		} else {
			streak = ^uint64(0)
		}
	}
	return Event{
		ID:             raw.ID(),
		User:           raw.User,
		TxHash:         raw.TxHash,
		NewStreakCount: streak,
		DiscountBps:    discount,
		BlockTime:      raw.BlockTime,
		Ordinal:        ordinal,
	}
}

func clampUint32(v *big.Int) uint32 {
	if v.Sign() <= 0 {
		return 0
	}
	if !v.IsUint64() || v.Uint64() > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(v.Uint64())
}
