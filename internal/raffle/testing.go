package raffle

import (
	"context"
	"fmt"
	"sync"

	"backend/internal/gateway"
)

// MockGateway is an in-memory payment rail for tests. It tracks call counts
// per idempotency key and can be scripted to fail specific keys, which is
// how the settlement-resume and refund-retry paths get exercised.
type MockGateway struct {
	mu          sync.Mutex
	balances    map[string]int64
	failKeys    map[string]error
	transfers   map[string]int
	refunds     map[string]int
	provisional bool
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		balances:  make(map[string]int64),
		failKeys:  make(map[string]error),
		transfers: make(map[string]int),
		refunds:   make(map[string]int),
	}
}

// SetBalance seeds a payer balance. Payers without a balance are treated as
// unlimited, so most tests do not need to seed anything.
func (g *MockGateway) SetBalance(payer string, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[payer] = amount
}

// SetProvisional makes authorizations come back provisional, mimicking the
// fiat rail's checkout flow.
func (g *MockGateway) SetProvisional(provisional bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.provisional = provisional
}

// FailKey makes the next calls carrying the given idempotency key return
// err until ClearFailure is called.
func (g *MockGateway) FailKey(idempotencyKey string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failKeys[idempotencyKey] = err
}

func (g *MockGateway) ClearFailure(idempotencyKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failKeys, idempotencyKey)
}

// TransferCount reports how many times a transfer with the given key was
// attempted. At-most-once settlement means a sent leg never goes above 1
// successful send.
func (g *MockGateway) TransferCount(idempotencyKey string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transfers[idempotencyKey]
}

func (g *MockGateway) RefundCount(idempotencyKey string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refunds[idempotencyKey]
}

func (g *MockGateway) CheckBalance(ctx context.Context, payer string, amount int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	balance, seeded := g.balances[payer]
	if !seeded {
		return true, nil
	}
	return balance >= amount, nil
}

func (g *MockGateway) AuthorizePurchase(ctx context.Context, payer string, amount int64, idempotencyKey string) (*gateway.Authorization, error) {
	sufficient, err := g.CheckBalance(ctx, payer, amount)
	if err != nil {
		return nil, err
	}
	if !sufficient {
		return nil, gateway.ErrInsufficientBalance
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failKeys[idempotencyKey]; err != nil {
		return nil, err
	}
	return &gateway.Authorization{
		Reference:   "auth:" + idempotencyKey,
		RedirectURL: "https://checkout.test/" + idempotencyKey,
		Provisional: g.provisional,
	}, nil
}

func (g *MockGateway) Transfer(ctx context.Context, from string, to string, amount int64, idempotencyKey string) (*gateway.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transfers[idempotencyKey]++
	if err := g.failKeys[idempotencyKey]; err != nil {
		return nil, err
	}
	return &gateway.Receipt{Reference: "tx:" + idempotencyKey, Amount: amount}, nil
}

func (g *MockGateway) Refund(ctx context.Context, receiptRef string, amount int64, idempotencyKey string) (*gateway.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds[idempotencyKey]++
	if err := g.failKeys[idempotencyKey]; err != nil {
		return nil, err
	}
	return &gateway.Receipt{Reference: "rf:" + idempotencyKey, Amount: amount}, nil
}

// MockRandomness returns a scripted sequence of draw results.
type MockRandomness struct {
	mu      sync.Mutex
	results []int64
}

func NewMockRandomness(results ...int64) *MockRandomness {
	return &MockRandomness{results: results}
}

func (r *MockRandomness) Draw(ctx context.Context, upperBoundExclusive int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		return 0, fmt.Errorf("mock randomness exhausted")
	}
	next := r.results[0]
	r.results = r.results[1:]
	if next >= upperBoundExclusive {
		return 0, fmt.Errorf("scripted draw %d outside [0,%d)", next, upperBoundExclusive)
	}
	return next, nil
}
