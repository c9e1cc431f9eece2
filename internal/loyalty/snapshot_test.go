package loyalty

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAccount = common.HexToAddress("0x1111111111111111111111111111111111111111")

func TestNewSnapshotNormalizes(t *testing.T) {
	volume, ok := new(big.Int).SetString("1500000000000000000", 10)
	require.True(t, ok)

	info := StreakInfo{
		LastTradeTimestamp: big.NewInt(1_700_000_000),
		CurrentStreak:      big.NewInt(4),
		TotalVolume:        volume,
		LastTradeDay:       big.NewInt(19675),
		NextStreakDeadline: big.NewInt(1_700_086_400),
	}
	fetched := time.Unix(1_700_000_100, 0)

	snap := NewSnapshot(testAccount, info, 15, DefaultPolicy(), fetched)

	assert.Equal(t, int64(1_700_000_000), snap.LastActivityTime)
	assert.Equal(t, uint64(4), snap.StreakCount)
	assert.Equal(t, "1.5", snap.CumulativeVolume.String())
	assert.Equal(t, uint32(15), snap.FeeBps)
	assert.Equal(t, int64(1_700_086_400), snap.NextDeadline)
	assert.False(t, snap.NeverTraded())
}

func TestNewSnapshotDefaultsFee(t *testing.T) {
	snap := NewSnapshot(testAccount, StreakInfo{}, 0, DefaultPolicy(), time.Now())

	assert.Equal(t, DefaultMaxFeeBps, snap.FeeBps)
	assert.True(t, snap.NeverTraded())
	assert.True(t, snap.CumulativeVolume.IsZero())
	assert.True(t, snap.LastActivity().IsZero())
}

func TestZeroSnapshotUsesMaxFee(t *testing.T) {
	snap := ZeroSnapshot(common.Address{}, DefaultPolicy())
	assert.Equal(t, uint32(30), snap.FeeBps)
	assert.Zero(t, snap.StreakCount)
	assert.Zero(t, snap.NextDeadline)
}

func TestTierOf(t *testing.T) {
	policy := DefaultPolicy()

	cold := policy.TierOf(Snapshot{StreakCount: 1, FeeBps: 30})
	assert.False(t, cold.Hot)
	assert.False(t, cold.Discounted)
	assert.Equal(t, uint64(2), cold.StreakToHot)

	hot := policy.TierOf(Snapshot{StreakCount: 3, FeeBps: 15})
	assert.True(t, hot.Hot)
	assert.True(t, hot.Discounted)
	assert.Zero(t, hot.StreakToHot)
}

func TestFeePercent(t *testing.T) {
	assert.Equal(t, "0.30", FeePercent(30).StringFixed(2))
	assert.Equal(t, "0.15", FeePercent(15).StringFixed(2))
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("timeout")

	readErr := fmt.Errorf("refresh: %w", &ReadError{Op: "getFeeForUser", Err: cause})
	var re *ReadError
	require.True(t, errors.As(readErr, &re))
	assert.Equal(t, "getFeeForUser", re.Op)
	assert.ErrorIs(t, readErr, cause)

	writeErr := &WriteError{Err: cause}
	assert.ErrorIs(t, writeErr, cause)

	assert.True(t, IsValidation(&ValidationError{Field: "amount", Reason: "not a number"}))
	assert.False(t, IsValidation(writeErr))
}
