package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"streakwatch/internal/telemetry"
)

// StreakUpdatedTopic is topic 0 of StreakUpdated(address,uint256,uint256).
var StreakUpdatedTopic = loyaltyHookABI.Events[eventStreakUpdated].ID

// DecodeStreakUpdatedLog decodes a StreakUpdated log. A payload without the
// discountApplied word yields a nil DiscountApplied.
func DecodeStreakUpdatedLog(vLog types.Log) (telemetry.RawEntry, error) {
	// topics:
	// 0: event sig
	// 1: user (address indexed)
	if len(vLog.Topics) < 2 {
		return telemetry.RawEntry{}, fmt.Errorf("unexpected topics len=%d", len(vLog.Topics))
	}
	if vLog.Topics[0] != StreakUpdatedTopic {
		return telemetry.RawEntry{}, fmt.Errorf("unexpected event topic %s", vLog.Topics[0].Hex())
	}
	if len(vLog.Data) < 32 {
		return telemetry.RawEntry{}, fmt.Errorf("unexpected data len=%d", len(vLog.Data))
	}

	readU256 := func(word int) *big.Int {
		start := word * 32
		return new(big.Int).SetBytes(vLog.Data[start : start+32])
	}

	entry := telemetry.RawEntry{
		User:        common.BytesToAddress(vLog.Topics[1].Bytes()),
		TxHash:      vLog.TxHash,
		BlockNumber: vLog.BlockNumber,
		LogIndex:    vLog.Index,
		HasLogIndex: true,
		NewStreak:   readU256(0),
		Removed:     vLog.Removed,
	}
	if len(vLog.Data) >= 64 {
		entry.DiscountApplied = readU256(1)
	}
	return entry, nil
}

func streakQuery(hook, user common.Address) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{hook},
		Topics:    [][]common.Hash{{StreakUpdatedTopic}, {common.BytesToHash(user.Bytes())}},
	}
}

// BackfillStreakEvents returns every StreakUpdated log for user from fromBlock up
// to the current head, sorted by block and log index, and the head it stopped at.
func (c *Client) BackfillStreakEvents(ctx context.Context, user common.Address, fromBlock uint64) ([]telemetry.RawEntry, uint64, error) {
	hook, err := c.HookAddress()
	if err != nil {
		return nil, 0, err
	}
	backend, err := c.getBackend(ctx)
	if err != nil {
		return nil, 0, err
	}

	head, err := c.head(ctx, backend)
	if err != nil {
		return nil, 0, err
	}
	if fromBlock > head {
		return nil, head, nil
	}

	entries, err := c.filterRange(ctx, backend, streakQuery(hook, user), fromBlock, head)
	if err != nil {
		return nil, 0, err
	}
	c.logger.Debug().Str("user", user.Hex()).Uint64("from", fromBlock).Uint64("to", head).Int("events", len(entries)).Msg("streak events backfilled")
	return entries, head, nil
}

// WatchStreakEvents delivers live StreakUpdated logs for user until ctx is done or
// the stream fails. It subscribes over websocket when configured and polls
// eth_getLogs from fromBlock otherwise.
func (c *Client) WatchStreakEvents(ctx context.Context, user common.Address, fromBlock uint64, sink func(telemetry.RawEntry)) error {
	hook, err := c.HookAddress()
	if err != nil {
		return err
	}
	if c.opts.WSURL != "" {
		return c.subscribe(ctx, hook, user, sink)
	}
	return c.poll(ctx, hook, user, fromBlock, sink)
}

func (c *Client) subscribe(ctx context.Context, hook, user common.Address, sink func(telemetry.RawEntry)) error {
	ws, err := c.getWS(ctx)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}

	logsCh := make(chan types.Log, 64)
	sub, err := ws.SubscribeFilterLogs(ctx, streakQuery(hook, user), logsCh)
	if err != nil {
		c.dropWS()
		return fmt.Errorf("subscribe StreakUpdated: %w", err)
	}
	defer sub.Unsubscribe()

	c.logger.Info().Str("user", user.Hex()).Msg("subscribed to StreakUpdated")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			c.dropWS()
			if err == nil {
				return errors.New("log subscription ended")
			}
			return fmt.Errorf("log subscription: %w", err)
		case vLog := <-logsCh:
			entry, err := DecodeStreakUpdatedLog(vLog)
			if err != nil {
				c.logger.Warn().Err(err).Msg("skipping undecodable StreakUpdated log")
				continue
			}
			entry.BlockTime = c.blockTime(ctx, ws, entry.BlockNumber)
			sink(entry)
		}
	}
}

func (c *Client) poll(ctx context.Context, hook, user common.Address, next uint64, sink func(telemetry.RawEntry)) error {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	query := streakQuery(hook, user)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		backend, err := c.getBackend(ctx)
		if err != nil {
			return err
		}
		head, err := c.head(ctx, backend)
		if err != nil {
			return err
		}
		if head < next {
			continue
		}

		entries, err := c.filterRange(ctx, backend, query, next, head)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			sink(entry)
		}
		next = head + 1
	}
}

func (c *Client) filterRange(ctx context.Context, backend Backend, base ethereum.FilterQuery, from, to uint64) ([]telemetry.RawEntry, error) {
	chunk := c.opts.LogChunkSize
	var logs []types.Log

	for start := from; start <= to; {
		end := start + chunk - 1
		if end > to || end < start {
			end = to
		}

		query := base
		query.FromBlock = new(big.Int).SetUint64(start)
		query.ToBlock = new(big.Int).SetUint64(end)

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		batch, err := backend.FilterLogs(ctx, query)
		if err != nil {
			if chunk > 1 {
				chunk /= 2
				c.logger.Warn().Err(err).Uint64("chunk", chunk).Msg("eth_getLogs failed, retrying with smaller range")
				continue
			}
			return nil, fmt.Errorf("filter StreakUpdated logs: %w", err)
		}
		logs = append(logs, batch...)
		start = end + 1
	}

	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	entries := make([]telemetry.RawEntry, 0, len(logs))
	for _, vLog := range logs {
		entry, err := DecodeStreakUpdatedLog(vLog)
		if err != nil {
			c.logger.Warn().Err(err).Uint64("block", vLog.BlockNumber).Msg("skipping undecodable StreakUpdated log")
			continue
		}
		entry.BlockTime = c.blockTime(ctx, backend, entry.BlockNumber)
		entries = append(entries, entry)
	}
	return entries, nil
}

func (c *Client) head(ctx context.Context, backend Backend) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	head, err := backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch block number: %w", err)
	}
	return head, nil
}

type headerReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// blockTime is best effort: 0 means the timestamp is unknown.
func (c *Client) blockTime(ctx context.Context, reader headerReader, number uint64) uint64 {
	c.timesMux.Lock()
	if ts, ok := c.blockTimes[number]; ok {
		c.timesMux.Unlock()
		return ts
	}
	c.timesMux.Unlock()

	headerCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	if err := c.limiter.Wait(headerCtx); err != nil {
		return 0
	}
	hdr, err := reader.HeaderByNumber(headerCtx, new(big.Int).SetUint64(number))
	if err != nil || hdr == nil {
		c.logger.Debug().Err(err).Uint64("block", number).Msg("block header unavailable")
		return 0
	}

	c.timesMux.Lock()
	c.blockTimes[number] = hdr.Time
	c.timesMux.Unlock()
	return hdr.Time
}
