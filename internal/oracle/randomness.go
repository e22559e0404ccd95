package oracle

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

var ErrRandomnessUnavailable = errors.New("randomness unavailable")

// RandomnessSource supplies the single unbiased integer a winner draw needs.
type RandomnessSource interface {
	Draw(ctx context.Context, upperBoundExclusive int64) (int64, error)
}

// CryptoSource draws from the operating system CSPRNG. rand.Int performs
// rejection sampling, so the result is uniform over [0, upperBoundExclusive).
type CryptoSource struct{}

func NewCryptoSource() *CryptoSource {
	return &CryptoSource{}
}

func (s *CryptoSource) Draw(ctx context.Context, upperBoundExclusive int64) (int64, error) {
	if upperBoundExclusive <= 0 {
		return 0, fmt.Errorf("%w: non-positive bound %d", ErrRandomnessUnavailable, upperBoundExclusive)
	}

	value, err := rand.Int(rand.Reader, big.NewInt(upperBoundExclusive))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRandomnessUnavailable, err)
	}

	return value.Int64(), nil
}
