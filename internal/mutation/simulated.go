package mutation

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// SimulatedBackend stands in for a real backend: every call waits Delay
// and is rejected with probability FailureRate.
type SimulatedBackend struct {
	Delay       time.Duration
	FailureRate float64

	mu   sync.Mutex
	rand *rand.Rand
}

// NewSimulatedBackend seeds its random source from the clock
func NewSimulatedBackend(delay time.Duration, failureRate float64) *SimulatedBackend {
	return NewSimulatedBackendWithSource(delay, failureRate, rand.NewSource(time.Now().UnixNano()))
}

// NewSimulatedBackendWithSource makes failures reproducible
func NewSimulatedBackendWithSource(delay time.Duration, failureRate float64, src rand.Source) *SimulatedBackend {
	return &SimulatedBackend{Delay: delay, FailureRate: failureRate, rand: rand.New(src)}
}

func (b *SimulatedBackend) ReassignDelivery(ctx context.Context, deliveryID, driverID string) error {
	return b.call(ctx, fmt.Sprintf("reassign %s to %s", deliveryID, driverID))
}

func (b *SimulatedBackend) CompleteDelivery(ctx context.Context, deliveryID string, _ time.Time) error {
	return b.call(ctx, fmt.Sprintf("complete %s", deliveryID))
}

func (b *SimulatedBackend) SetDriverPaused(ctx context.Context, driverID string, paused bool) error {
	return b.call(ctx, fmt.Sprintf("set %s paused=%t", driverID, paused))
}

func (b *SimulatedBackend) call(ctx context.Context, op string) error {
	if b.Delay > 0 {
		timer := time.NewTimer(b.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.mu.Lock()
	roll := b.rand.Float64()
	b.mu.Unlock()
	if roll < b.FailureRate {
		return fmt.Errorf("%s: simulated server error: %w", op, ErrRejected)
	}
	return nil
}
