// Package chain talks to the LoyaltyHook contract over Ethereum JSON-RPC.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"streakwatch/internal/loyalty"
)

// Backend is the subset of ethclient used for reads and logs.
type Backend interface {
	ethereum.ContractCaller
	ethereum.LogFilterer
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Options parameterise the chain client.
type Options struct {
	RPCURL            string
	WSURL             string
	HookAddress       string
	ChainID           int64
	PrivateKey        string
	Timeout           time.Duration
	ConfirmTimeout    time.Duration
	RequestsPerSecond float64
	LogChunkSize      uint64
	PollInterval      time.Duration
}

// Client provides access to the LoyaltyHook contract.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	limiter *rate.Limiter

	clientMux sync.Mutex
	client    *ethclient.Client
	ws        *ethclient.Client
	backend   Backend

	timesMux   sync.Mutex
	blockTimes map[uint64]uint64
}

// NewClient builds a chain client. Connections are dialled lazily.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 2 * time.Minute
	}
	if opts.LogChunkSize == 0 {
		opts.LogChunkSize = 5000
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 4 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := int(math.Ceil(opts.RequestsPerSecond))
	if burst < 1 {
		burst = 1
	}
	return &Client{
		opts:       opts,
		logger:     logger.With().Str("component", "chain_client").Logger(),
		limiter:    rate.NewLimiter(limit, burst),
		blockTimes: make(map[uint64]uint64),
	}
}

// NewClientWithBackend builds a client that reads through an existing backend.
func NewClientWithBackend(opts Options, backend Backend, logger zerolog.Logger) *Client {
	c := NewClient(opts, logger)
	c.backend = backend
	return c
}

// HookAddress returns the configured contract address.
func (c *Client) HookAddress() (common.Address, error) {
	if c.opts.HookAddress == "" {
		return common.Address{}, errors.New("loyalty hook address not configured")
	}
	if !common.IsHexAddress(c.opts.HookAddress) {
		return common.Address{}, fmt.Errorf("invalid loyalty hook address %q", c.opts.HookAddress)
	}
	return common.HexToAddress(c.opts.HookAddress), nil
}

// SignerAddress returns the address of the configured private key.
func (c *Client) SignerAddress() (common.Address, error) {
	key, err := c.privateKey()
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// StreakInfo reads getUserStreakInfo for user.
func (c *Client) StreakInfo(ctx context.Context, user common.Address) (loyalty.StreakInfo, error) {
	outputs, err := c.call(ctx, methodStreakInfo, user)
	if err != nil {
		return loyalty.StreakInfo{}, err
	}
	if len(outputs) < 5 {
		return loyalty.StreakInfo{}, fmt.Errorf("unexpected %s response length %d", methodStreakInfo, len(outputs))
	}

	values := make([]*big.Int, 5)
	for i := range values {
		v, err := toBig(outputs[i])
		if err != nil {
			return loyalty.StreakInfo{}, fmt.Errorf("decode %s output %d: %w", methodStreakInfo, i, err)
		}
		values[i] = v
	}

	return loyalty.StreakInfo{
		LastTradeTimestamp: values[0],
		CurrentStreak:      values[1],
		TotalVolume:        values[2],
		LastTradeDay:       values[3],
		NextStreakDeadline: values[4],
	}, nil
}

// FeeForUser reads getFeeForUser for user, in basis points.
func (c *Client) FeeForUser(ctx context.Context, user common.Address) (uint64, error) {
	outputs, err := c.call(ctx, methodFeeForUser, user)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, fmt.Errorf("unexpected %s response length %d", methodFeeForUser, len(outputs))
	}
	fee, err := toBig(outputs[0])
	if err != nil {
		return 0, fmt.Errorf("decode %s output: %w", methodFeeForUser, err)
	}
	if !fee.IsUint64() {
		return 0, fmt.Errorf("%s out of range: %s", methodFeeForUser, fee)
	}
	return fee.Uint64(), nil
}

// SimulateTrade sends simulateTrade(user, amount) and waits for the receipt.
func (c *Client) SimulateTrade(ctx context.Context, user common.Address, amount *big.Int) (loyalty.TxHandle, error) {
	addr, err := c.HookAddress()
	if err != nil {
		return loyalty.TxHandle{}, err
	}
	key, err := c.privateKey()
	if err != nil {
		return loyalty.TxHandle{}, err
	}

	client, err := c.getClient(ctx)
	if err != nil {
		return loyalty.TxHandle{}, err
	}

	chainID, err := c.chainID(ctx, client)
	if err != nil {
		return loyalty.TxHandle{}, err
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return loyalty.TxHandle{}, fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx

	if err := c.limiter.Wait(ctx); err != nil {
		return loyalty.TxHandle{}, err
	}
	contract := bind.NewBoundContract(addr, loyaltyHookABI, client, client, client)
	tx, err := contract.Transact(opts, methodSimulateTrade, user, amount)
	if err != nil {
		return loyalty.TxHandle{}, err
	}
	submittedAt := time.Now().UTC()
	c.logger.Info().Str("tx", tx.Hash().Hex()).Str("user", user.Hex()).Msg("simulateTrade sent")

	waitCtx, cancel := context.WithTimeout(ctx, c.opts.ConfirmTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, client, tx)
	if err != nil {
		return loyalty.TxHandle{}, fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return loyalty.TxHandle{}, fmt.Errorf("transaction %s reverted", tx.Hash().Hex())
	}

	handle := loyalty.TxHandle{
		Hash:        tx.Hash(),
		SubmittedAt: submittedAt,
	}
	if receipt.BlockNumber != nil {
		handle.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return handle, nil
}

// Close releases open connections.
func (c *Client) Close() {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	addr, err := c.HookAddress()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	backend, err := c.getBackend(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := loyaltyHookABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := backend.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, err
	}

	return loyaltyHookABI.Unpack(method, res)
}

func (c *Client) getBackend(ctx context.Context) (Backend, error) {
	c.clientMux.Lock()
	backend := c.backend
	c.clientMux.Unlock()
	if backend != nil {
		return backend, nil
	}
	return c.getClient(ctx)
}

func (c *Client) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if c.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

func (c *Client) getWS(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.ws != nil {
		return c.ws, nil
	}
	client, err := ethclient.DialContext(ctx, c.opts.WSURL)
	if err != nil {
		return nil, err
	}
	c.ws = client
	return client, nil
}

func (c *Client) dropWS() {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
}

func (c *Client) chainID(ctx context.Context, client *ethclient.Client) (*big.Int, error) {
	if c.opts.ChainID > 0 {
		return big.NewInt(c.opts.ChainID), nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	return id, nil
}

func (c *Client) privateKey() (*ecdsa.PrivateKey, error) {
	hexKey := strings.TrimPrefix(strings.TrimSpace(c.opts.PrivateKey), "0x")
	if hexKey == "" {
		return nil, errors.New("ethereum private key not configured")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}
