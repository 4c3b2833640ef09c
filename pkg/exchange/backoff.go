package exchange

import (
	"math"
	"math/rand"
	"time"
)

// RandomSource provides random values for jitter calculation.
// Allows injection of deterministic sources for testing.
type RandomSource interface {
	// Float64 returns a random float64 in [0.0, 1.0).
	Float64() float64
}

// defaultRandomSource uses math/rand for production.
type defaultRandomSource struct{}

func (defaultRandomSource) Float64() float64 {
	return rand.Float64()
}

// DefaultRandomSource is the default random source using math/rand.
var DefaultRandomSource RandomSource = defaultRandomSource{}

// BackoffCalculator computes MRP retransmission backoff times.
//
// The backoff formula from Spec Section 4.12.2.1:
//
//	mrpBackoffTime = i * MRP_BACKOFF_BASE^(max(0, n-MRP_BACKOFF_THRESHOLD))
//	                   * (1.0 + random(0,1) * MRP_BACKOFF_JITTER)
//
// Where:
//   - i = base retry interval (IDLE or ACTIVE) * MRP_BACKOFF_MARGIN
//   - n = number of send attempts before current one (0 for initial)
//
// This creates a two-phase scheme: linear backoff initially (for quick recovery
// from transient drops), transitioning to exponential backoff after threshold
// (for convergence during congestion).
type BackoffCalculator struct {
	random RandomSource
}

// NewBackoffCalculator creates a new backoff calculator with the given random source.
// If random is nil, DefaultRandomSource is used.
func NewBackoffCalculator(random RandomSource) *BackoffCalculator {
	if random == nil {
		random = DefaultRandomSource
	}
	return &BackoffCalculator{random: random}
}

// backoffBase returns i*base^exponent, the part of the Spec 4.12.2.1 formula
// shared before jitter is applied:
//
//	i = baseInterval * MRP_BACKOFF_MARGIN
//	exponent = max(0, attemptNumber - MRP_BACKOFF_THRESHOLD)
func backoffBase(baseInterval time.Duration, attemptNumber int) float64 {
	i := float64(baseInterval) * MRPBackoffMargin

	exponent := attemptNumber - MRPBackoffThreshold
	if exponent < 0 {
		exponent = 0
	}

	return i * math.Pow(MRPBackoffBase, float64(exponent))
}

// Calculate computes the backoff time for a retransmission, given the
// session's idle or active interval (session.Params) and the number of
// prior send attempts (0 for the initial transmission).
func (b *BackoffCalculator) Calculate(baseInterval time.Duration, attemptNumber int) time.Duration {
	jitterFactor := 1.0 + b.random.Float64()*MRPBackoffJitter
	return time.Duration(backoffBase(baseInterval, attemptNumber) * jitterFactor)
}

// CalculateMin computes the minimum backoff time (no jitter).
func (b *BackoffCalculator) CalculateMin(baseInterval time.Duration, attemptNumber int) time.Duration {
	return time.Duration(backoffBase(baseInterval, attemptNumber))
}

// CalculateMax computes the maximum backoff time (full jitter).
func (b *BackoffCalculator) CalculateMax(baseInterval time.Duration, attemptNumber int) time.Duration {
	return time.Duration(backoffBase(baseInterval, attemptNumber) * (1.0 + MRPBackoffJitter))
}
