package loyalty

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// VolumeDecimals is the scale of the cumulative volume reported by the hook.
const VolumeDecimals = 18

// StreakInfo is the positional getUserStreakInfo result before normalisation.
type StreakInfo struct {
	LastTradeTimestamp *big.Int
	CurrentStreak      *big.Int
	TotalVolume        *big.Int
	LastTradeDay       *big.Int
	NextStreakDeadline *big.Int
}

// Snapshot is the normalised loyalty state of one account.
type Snapshot struct {
	Account          common.Address
	LastActivityTime int64
	StreakCount      uint64
	CumulativeVolume decimal.Decimal
	FeeBps           uint32
	NextDeadline     int64
	FetchedAt        time.Time
}

// NewSnapshot normalises raw contract results. A zero fee is treated as unavailable
// and replaced by the policy's maximum fee.
func NewSnapshot(account common.Address, info StreakInfo, feeBps uint64, policy Policy, fetchedAt time.Time) Snapshot {
	return Snapshot{
		Account:          account,
		LastActivityTime: bigToInt64(info.LastTradeTimestamp),
		StreakCount:      bigToUint64(info.CurrentStreak),
		CumulativeVolume: bigToDecimal(info.TotalVolume, VolumeDecimals),
		FeeBps:           policy.NormalizeFee(feeBps),
		NextDeadline:     bigToInt64(info.NextStreakDeadline),
		FetchedAt:        fetchedAt,
	}
}

// ZeroSnapshot is what a disconnected or not-yet-loaded account looks like.
func ZeroSnapshot(account common.Address, policy Policy) Snapshot {
	return Snapshot{
		Account:          account,
		CumulativeVolume: decimal.Zero,
		FeeBps:           policy.MaxFeeBps,
	}
}

// NeverTraded reports whether the account has no recorded activity.
func (s Snapshot) NeverTraded() bool {
	return s.LastActivityTime == 0
}

// LastActivity returns the last activity as a time, zero when never traded.
func (s Snapshot) LastActivity() time.Time {
	if s.LastActivityTime == 0 {
		return time.Time{}
	}
	return time.Unix(s.LastActivityTime, 0).UTC()
}

func bigToUint64(v *big.Int) uint64 {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	if !v.IsUint64() {
		return ^uint64(0)
	}
	return v.Uint64()
}

func bigToInt64(v *big.Int) int64 {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	if !v.IsInt64() {
		return int64(^uint64(0) >> 1)
	}
	return v.Int64()
}

func bigToDecimal(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}
