package assets

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Caller is the read side of a node; *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

const retryAttempts = 3

var retryBackoff = 200 * time.Millisecond

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Too Many Requests") || strings.Contains(s, "-32005") || strings.Contains(s, "429")
}

// isRevert reports errors that a retry cannot fix.
func isRevert(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "revert")
}

func withRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	backoff := retryBackoff
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if isRevert(err) || attempt == retryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		if isRateLimitError(err) {
			backoff *= 2
		}
	}
	return zero, lastErr
}

func callWithRetry(ctx context.Context, c Caller, msg ethereum.CallMsg) ([]byte, error) {
	return withRetry(ctx, func() ([]byte, error) { return c.CallContract(ctx, msg, nil) })
}

func estimateGasWithRetry(ctx context.Context, c Caller, msg ethereum.CallMsg) (uint64, error) {
	return withRetry(ctx, func() (uint64, error) { return c.EstimateGas(ctx, msg) })
}

func revertReason(e error) string {
	s := e.Error()
	if i := strings.Index(s, "execution reverted"); i >= 0 {
		return s[i:]
	}
	return s
}
