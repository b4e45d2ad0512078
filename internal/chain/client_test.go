package chain

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/ligun0805/bundle-sweeper/internal/bundlecore"
)

type feeHistoryResult struct {
	OldestBlock  *hexutil.Big     `json:"oldestBlock"`
	Reward       [][]*hexutil.Big `json:"reward,omitempty"`
	BaseFee      []*hexutil.Big   `json:"baseFeePerGas,omitempty"`
	GasUsedRatio []float64        `json:"gasUsedRatio"`
}

// ethService is a minimal in-process node.
type ethService struct {
	head atomic.Uint64
	tip  *big.Int

	mu       sync.Mutex
	receipts map[common.Hash]*types.Receipt
}

func (s *ethService) ChainId() *hexutil.Big { return (*hexutil.Big)(big.NewInt(11155111)) }

func (s *ethService) BlockNumber() hexutil.Uint64 { return hexutil.Uint64(s.head.Load()) }

func (s *ethService) MaxPriorityFeePerGas() (*hexutil.Big, error) {
	return (*hexutil.Big)(s.tip), nil
}

func (s *ethService) GetTransactionCount(_ common.Address, _ string) hexutil.Uint64 {
	return 5
}

func (s *ethService) FeeHistory(count hexutil.Uint64, _ string, pcts []float64) (*feeHistoryResult, error) {
	res := &feeHistoryResult{OldestBlock: (*hexutil.Big)(big.NewInt(90))}
	for i := uint64(0); i < uint64(count); i++ {
		res.GasUsedRatio = append(res.GasUsedRatio, 0.5)
		res.BaseFee = append(res.BaseFee, (*hexutil.Big)(core.GweiToWei(10)))
		if len(pcts) > 0 {
			row := make([]*hexutil.Big, len(pcts))
			for j := range pcts {
				row[j] = (*hexutil.Big)(core.GweiToWei(int64((i + 1) * uint64(j+1))))
			}
			res.Reward = append(res.Reward, row)
		}
	}
	res.BaseFee = append(res.BaseFee, (*hexutil.Big)(core.GweiToWei(12)))
	return res, nil
}

func (s *ethService) GetTransactionReceipt(h common.Hash) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receipts[h], nil
}

func (s *ethService) addReceipt(h common.Hash, block uint64, status uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[h] = &types.Receipt{
		Status:            status,
		CumulativeGasUsed: 21_000,
		GasUsed:           21_000,
		Logs:              []*types.Log{},
		TxHash:            h,
		BlockNumber:       new(big.Int).SetUint64(block),
	}
}

func newTestClient(t *testing.T) (*Client, *ethService) {
	t.Helper()
	svc := &ethService{tip: core.GweiToWei(3), receipts: map[common.Hash]*types.Receipt{}}
	svc.head.Store(100)
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", svc))
	t.Cleanup(srv.Stop)
	c := NewClient(rpc.DialInProc(srv), WithPollInterval(10*time.Millisecond), WithBaseFeeMul(2))
	t.Cleanup(c.Close)
	return c, svc
}

func TestFeeEstimate(t *testing.T) {
	c, _ := newTestClient(t)
	fee, err := c.FeeEstimate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.GweiToWei(3), fee.MaxPriorityFeePerUnit)
	// 12 gwei next base fee * 2 + 3 gwei tip
	assert.Equal(t, core.GweiToWei(27), fee.MaxFeePerUnit)
}

func TestPendingNonce(t *testing.T) {
	c, _ := newTestClient(t)
	n, err := c.PendingNonce(context.Background(), common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)
}

func TestSubscribeBlocksPolling(t *testing.T) {
	c, svc := newTestClient(t)
	ch := make(chan uint64, 8)
	sub, err := c.SubscribeBlocks(context.Background(), ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	next := func() uint64 {
		select {
		case n := <-ch:
			return n
		case <-time.After(2 * time.Second):
			t.Fatal("no head")
		}
		return 0
	}

	svc.head.Store(101)
	assert.Equal(t, uint64(101), next())
	svc.head.Store(104)
	assert.Equal(t, uint64(104), next())
	svc.head.Store(103)
	time.Sleep(50 * time.Millisecond)
	svc.head.Store(105)
	assert.Equal(t, uint64(105), next())
}

func TestWaitInclusion(t *testing.T) {
	c, svc := newTestClient(t)
	h1, h2 := common.HexToHash("0x01"), common.HexToHash("0x02")

	svc.addReceipt(h1, 101, types.ReceiptStatusSuccessful)
	svc.addReceipt(h2, 101, types.ReceiptStatusSuccessful)
	go func() {
		time.Sleep(30 * time.Millisecond)
		svc.head.Store(101)
	}()
	res, err := c.WaitInclusion(context.Background(), []common.Hash{h1, h2}, 101)
	require.NoError(t, err)
	assert.Equal(t, core.Included, res)

	// same txs credited to a different target do not count
	res, err = c.WaitInclusion(context.Background(), []common.Hash{h1, h2}, 100)
	require.NoError(t, err)
	assert.Equal(t, core.NotIncluded, res)

	res, err = c.WaitInclusion(context.Background(), []common.Hash{h1, common.HexToHash("0x03")}, 101)
	require.NoError(t, err)
	assert.Equal(t, core.NotIncluded, res)

	h4 := common.HexToHash("0x04")
	svc.addReceipt(h4, 101, types.ReceiptStatusFailed)
	res, err = c.WaitInclusion(context.Background(), []common.Hash{h1, h4}, 101)
	require.Error(t, err)
	assert.Equal(t, core.NotIncluded, res)
}

func TestWaitInclusionTimeout(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := c.WaitInclusion(ctx, []common.Hash{common.HexToHash("0x01")}, 500)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, core.Pending, res)
}

func TestFeeHistoryStats(t *testing.T) {
	c, _ := newTestClient(t)
	stats, err := c.FeeHistoryStats(context.Background(), 4, []int{50, 99})
	require.NoError(t, err)
	// p50 rewards 1..4 gwei, p99 rewards 2..8 gwei
	assert.Equal(t, core.GweiToWei(1), stats[50].Min)
	assert.Equal(t, core.GweiToWei(4), stats[50].Max)
	assert.Equal(t, big.NewInt(2_500_000_000), stats[50].Avg)
	assert.Equal(t, core.GweiToWei(8), stats[99].Max)
}
