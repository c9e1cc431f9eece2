package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const loyaltyHookABIJSON = `[
{"inputs":[{"internalType":"address","name":"user","type":"address"}],"name":"getUserStreakInfo","outputs":[{"internalType":"uint256","name":"lastTradeTimestamp","type":"uint256"},{"internalType":"uint256","name":"currentStreak","type":"uint256"},{"internalType":"uint256","name":"totalVolume","type":"uint256"},{"internalType":"uint256","name":"lastTradeDay","type":"uint256"},{"internalType":"uint256","name":"nextStreakDeadline","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"user","type":"address"}],"name":"getFeeForUser","outputs":[{"internalType":"uint24","name":"","type":"uint24"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"user","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"simulateTrade","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"user","type":"address"},{"indexed":false,"internalType":"uint256","name":"newStreak","type":"uint256"},{"indexed":false,"internalType":"uint256","name":"discountApplied","type":"uint256"}],"name":"StreakUpdated","type":"event"}
]`

const (
	methodStreakInfo    = "getUserStreakInfo"
	methodFeeForUser    = "getFeeForUser"
	methodSimulateTrade = "simulateTrade"
	eventStreakUpdated  = "StreakUpdated"
)

// Parsed at variable initialisation: StreakUpdatedTopic depends on it.
var loyaltyHookABI = mustParseABI(loyaltyHookABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("failed to parse LoyaltyHook ABI: " + err.Error())
	}
	return parsed
}

// HookABI exposes the parsed LoyaltyHook ABI.
func HookABI() abi.ABI {
	return loyaltyHookABI
}

func toBig(v interface{}) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		return n, nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	default:
		return nil, fmt.Errorf("unexpected abi value type %T", v)
	}
}
