package loyalty

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Default fee schedule observed on the hook.
const (
	DefaultMaxFeeBps          uint32 = 30
	DefaultDiscountFeeBps     uint32 = 15
	DefaultHotStreakThreshold uint64 = 3
)

var hundred = decimal.NewFromInt(100)

// Policy holds the fee tier constants used for normalisation and display.
type Policy struct {
	MaxFeeBps          uint32
	DiscountFeeBps     uint32
	HotStreakThreshold uint64
}

// DefaultPolicy returns the two-tier schedule (30 bps / 15 bps at a 3 day streak).
func DefaultPolicy() Policy {
	return Policy{
		MaxFeeBps:          DefaultMaxFeeBps,
		DiscountFeeBps:     DefaultDiscountFeeBps,
		HotStreakThreshold: DefaultHotStreakThreshold,
	}
}

// NormalizeFee maps an unavailable (zero) fee to the maximum tier.
func (p Policy) NormalizeFee(bps uint64) uint32 {
	if bps == 0 {
		return p.MaxFeeBps
	}
	if bps > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(bps)
}

// Tier is the derived fee tier of a snapshot.
type Tier struct {
	Hot        bool
	Discounted bool
	FeeBps     uint32
	// StreakToHot is how many more days are needed to reach the hot threshold.
	StreakToHot uint64
}

// TierOf derives the tier for a snapshot.
func (p Policy) TierOf(s Snapshot) Tier {
	t := Tier{
		Hot:        s.StreakCount >= p.HotStreakThreshold,
		Discounted: s.FeeBps < p.MaxFeeBps,
		FeeBps:     s.FeeBps,
	}
	if !t.Hot {
		t.StreakToHot = p.HotStreakThreshold - s.StreakCount
	}
	return t
}

// FeePercent renders basis points as a percentage, e.g. 30 -> 0.30.
func FeePercent(bps uint32) decimal.Decimal {
	return decimal.NewFromInt(int64(bps)).Div(hundred)
}

// TxHandle identifies a submitted simulateTrade transaction.
type TxHandle struct {
	ID          string
	Hash        common.Hash
	Account     common.Address
	Token       string
	Amount      *big.Int
	BlockNumber uint64
	SubmittedAt time.Time
}
