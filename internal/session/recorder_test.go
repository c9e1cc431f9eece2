package session

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streakwatch/internal/loyalty"
	"streakwatch/internal/telemetry"
)

func TestEventRecord(t *testing.T) {
	raw := telemetry.RawEntry{
		User:        alice,
		TxHash:      common.HexToHash("0xbeef"),
		BlockNumber: 77,
		LogIndex:    3,
		HasLogIndex: true,
		NewStreak:   big.NewInt(6),
		BlockTime:   1_700_000_000,
	}
	rec := EventRecord(telemetry.Normalize(raw, 30, 1))

	assert.Equal(t, alice.Hex(), rec.Account)
	assert.Equal(t, int64(77), rec.BlockNumber)
	assert.Equal(t, int64(3), rec.LogIndex)
	assert.Equal(t, int64(6), rec.NewStreak)
	assert.Equal(t, int64(30), rec.DiscountBps)
	require.NotNil(t, rec.BlockTime)
	assert.Equal(t, int64(1_700_000_000), rec.BlockTime.Unix())
}

func TestSnapshotRecord(t *testing.T) {
	fetched := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := loyalty.Snapshot{
		Account:          bob,
		StreakCount:      2,
		CumulativeVolume: decimal.RequireFromString("12.5"),
		FeeBps:           30,
		NextDeadline:     1_700_086_400,
		FetchedAt:        fetched,
	}
	rec := SnapshotRecord(snap)

	assert.Equal(t, bob.Hex(), rec.Account)
	assert.True(t, rec.FetchedAt.Equal(fetched))
	assert.Equal(t, int32(30), rec.FeeBps)
	assert.True(t, rec.CumulativeVolume.Equal(decimal.RequireFromString("12.5")))
}
