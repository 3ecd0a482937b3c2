package ledger

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	mu          sync.Mutex
	nonce       uint64
	estimateErr error
	callErr     error
	sent        []*types.Transaction
	receipts    map[common.Hash]*types.Receipt
}

func newFakeChain() *fakeChain {
	return &fakeChain{receipts: make(map[common.Hash]*types.Receipt)}
}

func (f *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 120_000, nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, f.callErr
}

func (f *fakeChain) mine(hash common.Hash, receipt *types.Receipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = receipt
}

func (f *fakeChain) lastSent() *types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

var testContract = common.HexToAddress("0x00000000000000000000000000000000000000c0")

func newTestEthGateway(t *testing.T, fc *fakeChain, timeout time.Duration) *EthGateway {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	parsed, err := DefaultABI()
	require.NoError(t, err)

	return NewEthGateway(fc, EthGatewayConfig{
		Contract:          testContract,
		ChainID:           big.NewInt(1337),
		Key:               key,
		ABI:               parsed,
		PollInterval:      5 * time.Millisecond,
		SettlementTimeout: timeout,
	})
}

func addContestCall() Call {
	return Call{Function: FnAddContest, Params: []Param{
		{Name: "_name", Value: "Clean Water"},
		{Name: "_themeIds", Value: []int{1}},
		{Name: "_eligibleCountryIds", Value: []int{3}},
		{Name: "_applicationEndDate", Value: int64(1)},
		{Name: "_votingEndDate", Value: int64(2)},
		{Name: "_funds", Value: big.NewInt(5)},
	}}
}

func TestEthGateway_SubmitAndSettle(t *testing.T) {
	fc := newFakeChain()
	gw := newTestEthGateway(t, fc, time.Second)
	assert.Equal(t, "ethereum", gw.Name())

	h, err := gw.Submit(context.Background(), addContestCall())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, h.Status())

	tx := fc.lastSent()
	assert.Equal(t, h.TxHash(), tx.Hash().Hex())
	assert.Equal(t, testContract, *tx.To())
	assert.Equal(t, uint64(120_000), tx.Gas())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1337)), tx)
	require.NoError(t, err)
	assert.Equal(t, gw.From(), strings.ToLower(sender.Hex()))

	parsed, _ := DefaultABI()
	event := parsed.Events[EventContestCreated]
	data, err := event.Inputs.NonIndexed().Pack(sender)
	require.NoError(t, err)

	fc.mine(tx.Hash(), &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(42),
		Logs:        []*types.Log{{Address: testContract, Topics: []common.Hash{event.ID}, Data: data}},
	})

	s, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), s.BlockNumber)
	addr, ok := s.Events[EventContestCreated].Address("addressOrga")
	require.True(t, ok)
	assert.Equal(t, gw.From(), addr)
	assert.Equal(t, StatusSettled, h.Status())
}

func TestEthGateway_RevertedReceipt(t *testing.T) {
	fc := newFakeChain()
	fc.callErr = errors.New("execution reverted: contest closed")
	gw := newTestEthGateway(t, fc, time.Second)

	h, err := gw.Submit(context.Background(), addContestCall())
	require.NoError(t, err)

	fc.mine(fc.lastSent().Hash(), &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(7)})

	_, err = h.Wait(context.Background())
	assert.ErrorIs(t, err, ErrReverted)
	assert.Contains(t, err.Error(), "contest closed")
}

func TestEthGateway_EstimateFailureIsRevert(t *testing.T) {
	fc := newFakeChain()
	fc.estimateErr = errors.New("execution reverted: not registered")
	gw := newTestEthGateway(t, fc, time.Second)

	_, err := gw.Submit(context.Background(), addContestCall())
	assert.ErrorIs(t, err, ErrReverted)
	assert.Empty(t, fc.sent)
}

func TestEthGateway_BadParamsAreRejected(t *testing.T) {
	fc := newFakeChain()
	gw := newTestEthGateway(t, fc, time.Second)

	_, err := gw.Submit(context.Background(), Call{Function: FnAddContest})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestEthGateway_SettlementTimeout(t *testing.T) {
	fc := newFakeChain()
	gw := newTestEthGateway(t, fc, 30*time.Millisecond)

	h, err := gw.Submit(context.Background(), addContestCall())
	require.NoError(t, err)

	_, err = h.Wait(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StatusFailed, h.Status())
}

func TestEthGateway_NoncesAdvance(t *testing.T) {
	fc := newFakeChain()
	gw := newTestEthGateway(t, fc, time.Second)

	for i := 0; i < 3; i++ {
		_, err := gw.Submit(context.Background(), addContestCall())
		require.NoError(t, err)
	}
	for i, tx := range fc.sent {
		assert.Equal(t, uint64(i), tx.Nonce())
	}
}
