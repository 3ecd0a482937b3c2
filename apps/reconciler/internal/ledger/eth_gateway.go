package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/yugo-dao/yugo-sync/pkg/chain"
	"github.com/yugo-dao/yugo-sync/pkg/config"
	"github.com/yugo-dao/yugo-sync/pkg/logger"
	"go.uber.org/zap"
)

// ChainClient is the subset of ethclient.Client the gateway uses
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EthGatewayConfig holds the contract binding and signer
type EthGatewayConfig struct {
	Contract          common.Address
	ChainID           *big.Int
	Key               *ecdsa.PrivateKey
	ABI               abi.ABI
	PollInterval      time.Duration
	SettlementTimeout time.Duration
	Logger            *logger.Logger
}

// EthGateway signs and sends contract calls, then polls for receipts
type EthGateway struct {
	client ChainClient
	cfg    EthGatewayConfig
	from   common.Address
	signer types.Signer
	log    *logger.Logger

	// nonces are allocated and sent one at a time
	sendMu sync.Mutex
}

// NewEthGateway creates a gateway over an already connected client
func NewEthGateway(client ChainClient, cfg EthGatewayConfig) *EthGateway {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.SettlementTimeout <= 0 {
		cfg.SettlementTimeout = 2 * time.Minute
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	return &EthGateway{
		client: client,
		cfg:    cfg,
		from:   crypto.PubkeyToAddress(cfg.Key.PublicKey),
		signer: types.LatestSignerForChainID(cfg.ChainID),
		log:    log.Named("eth-gateway"),
	}
}

// DialEthGateway connects to the configured RPC endpoint
func DialEthGateway(ctx context.Context, cfg *config.LedgerConfig, log *logger.Logger) (*EthGateway, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial %s: %w", cfg.RPCURL, err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SignerKey, "0x"))
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("invalid signer key: %w", err)
	}

	contractABI, err := LoadABI(cfg.ABIPath)
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	contract, err := chain.ToAddress(cfg.ContractAddress)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("invalid contract address: %w", err)
	}

	gw := NewEthGateway(client, EthGatewayConfig{
		Contract:          contract,
		ChainID:           big.NewInt(cfg.ChainID),
		Key:               key,
		ABI:               contractABI,
		PollInterval:      cfg.PollInterval,
		SettlementTimeout: cfg.SettlementTimeout,
		Logger:            log,
	})
	return gw, client, nil
}

// Name returns the gateway name
func (g *EthGateway) Name() string {
	return "ethereum"
}

// From returns the signer address in canonical form
func (g *EthGateway) From() string {
	return chain.FromAddress(g.from)
}

// Submit packs, signs and sends call. Gas estimation failures are reported as
// reverts, signing failures as rejections and send failures as timeouts.
func (g *EthGateway) Submit(ctx context.Context, call Call) (Handle, error) {
	data, err := PackCall(g.cfg.ABI, call)
	if err != nil {
		return nil, Rejected(call.Function, err.Error())
	}

	msg := ethereum.CallMsg{
		From:  g.from,
		To:    &g.cfg.Contract,
		Data:  data,
		Value: call.Value,
	}

	gas, err := g.client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, Reverted(call.Function, "", err.Error())
	}

	g.sendMu.Lock()
	signed, err := g.send(ctx, call, msg, gas)
	g.sendMu.Unlock()
	if err != nil {
		return nil, err
	}

	h := newPendingHandle(call.Function, signed.Hash().Hex())
	g.log.Info("transaction sent",
		zap.String("function", call.Function),
		zap.String("tx_hash", h.txHash),
		zap.Uint64("nonce", signed.Nonce()),
	)

	go g.await(h, msg)
	return h, nil
}

func (g *EthGateway) send(ctx context.Context, call Call, msg ethereum.CallMsg, gas uint64) (*types.Transaction, error) {
	nonce, err := g.client.PendingNonceAt(ctx, g.from)
	if err != nil {
		return nil, Timeout(call.Function, "", err)
	}
	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, Timeout(call.Function, "", err)
	}

	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       msg.To,
		Value:    value,
		Data:     msg.Data,
	})

	signed, err := types.SignTx(tx, g.signer, g.cfg.Key)
	if err != nil {
		return nil, Rejected(call.Function, err.Error())
	}

	if err := g.client.SendTransaction(ctx, signed); err != nil {
		return nil, Timeout(call.Function, signed.Hash().Hex(), err)
	}
	return signed, nil
}

// await polls for the receipt until SettlementTimeout elapses
func (g *EthGateway) await(h *pendingHandle, msg ethereum.CallMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.SettlementTimeout)
	defer cancel()

	hash := common.HexToHash(h.txHash)
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := g.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			h.resolve(g.settle(ctx, h, msg, receipt))
			return
		case errors.Is(err, ethereum.NotFound):
		default:
			g.log.Warn("receipt poll failed", zap.String("tx_hash", h.txHash), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			h.resolve(nil, Timeout(h.function, h.txHash, ctx.Err()))
			return
		case <-ticker.C:
		}
	}
}

func (g *EthGateway) settle(ctx context.Context, h *pendingHandle, msg ethereum.CallMsg, receipt *types.Receipt) (*Settlement, error) {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, Reverted(h.function, h.txHash, g.revertReason(ctx, msg, receipt.BlockNumber))
	}

	events, err := DecodeEvents(g.cfg.ABI, g.cfg.Contract, receipt.Logs)
	if err != nil {
		g.log.Warn("event decode failed", zap.String("tx_hash", h.txHash), zap.Error(err))
	}

	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	return &Settlement{TxHash: h.txHash, BlockNumber: block, Events: events}, nil
}

// revertReason replays the call at the receipt block to recover the message
func (g *EthGateway) revertReason(ctx context.Context, msg ethereum.CallMsg, block *big.Int) string {
	out, err := g.client.CallContract(ctx, msg, block)
	if err != nil {
		return err.Error()
	}
	if reason, uerr := abi.UnpackRevert(out); uerr == nil {
		return reason
	}
	return "execution reverted"
}

// DecodeEvents decodes every log emitted by contract into a payload keyed by
// event name. When an event fires more than once the first occurrence wins.
func DecodeEvents(contractABI abi.ABI, contract common.Address, logs []*types.Log) (map[string]EventPayload, error) {
	events := make(map[string]EventPayload)
	var errs []error

	for _, l := range logs {
		if l.Address != contract || len(l.Topics) == 0 {
			continue
		}
		event, err := contractABI.EventByID(l.Topics[0])
		if err != nil {
			continue
		}
		if _, seen := events[event.Name]; seen {
			continue
		}

		fields := make(map[string]interface{})
		if len(l.Data) > 0 {
			if err := contractABI.UnpackIntoMap(fields, event.Name, l.Data); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", event.Name, err))
				continue
			}
		}

		var indexed abi.Arguments
		for _, arg := range event.Inputs {
			if arg.Indexed {
				indexed = append(indexed, arg)
			}
		}
		if len(indexed) > 0 {
			if err := abi.ParseTopicsIntoMap(fields, indexed, l.Topics[1:]); err != nil {
				errs = append(errs, fmt.Errorf("%s topics: %w", event.Name, err))
				continue
			}
		}

		payload := make(EventPayload, len(fields))
		for k, v := range fields {
			payload[k] = normalizeValue(v)
		}
		events[event.Name] = payload
	}

	return events, errors.Join(errs...)
}
