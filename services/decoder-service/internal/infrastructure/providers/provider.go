package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
)

var (
	// ErrChainNotSupported is a configuration problem: the provider
	// cannot serve the chain and is omitted from the pool.
	ErrChainNotSupported = errors.New("chain not supported")

	// ErrRateLimited means the upstream throttled us; try the next provider
	ErrRateLimited = errors.New("provider rate limit reached")
)

// Provider is one upstream block explorer client
type Provider interface {
	Source() domain.ContractSource
	// GetContractMetadata returns nil metadata when the contract is
	// unknown or unverified. Transport errors are transient.
	GetContractMetadata(ctx context.Context, address common.Address) (*domain.ContractMetadata, error)
}

// limiter bounds in-flight requests with a counting semaphore and
// smooths the request rate.
type limiter struct {
	sem  *semaphore.Weighted
	rate *rate.Limiter
}

func newLimiter(maxRequests int) *limiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	return &limiter{
		sem:  semaphore.NewWeighted(int64(maxRequests)),
		rate: rate.NewLimiter(rate.Limit(maxRequests), maxRequests),
	}
}

func (l *limiter) acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := l.rate.Wait(ctx); err != nil {
		l.sem.Release(1)
		return err
	}
	return nil
}

func (l *limiter) release() {
	l.sem.Release(1)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
