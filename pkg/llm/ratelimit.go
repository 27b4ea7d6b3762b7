package llm

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
)

const defaultInitialTPM = 60000

// AdaptiveLimiter throttles outbound LLM calls with an AIMD
// tokens-per-minute budget: a rate-limit response halves the budget (down
// to a 10% floor) and every success grows it additively (5% of the initial
// budget per call) back toward the ceiling.
type AdaptiveLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// NewAdaptiveLimiter creates a limiter with an initial tokens-per-minute
// budget and a ceiling. A zero ceiling pins the budget at its initial
// value.
func NewAdaptiveLimiter(initialTPM, maxTPM float64) *AdaptiveLimiter {
	if initialTPM <= 0 {
		initialTPM = defaultInitialTPM
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &AdaptiveLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Wait blocks until the estimated token cost of a prompt fits the budget,
// or the context ends.
func (l *AdaptiveLimiter) Wait(ctx context.Context, promptChars int) error {
	return l.limiter.WaitN(ctx, EstimateTokens(promptChars))
}

// Observe adjusts the budget from a call outcome: rate-limit errors halve
// it, successes probe upward. Other failures leave it unchanged.
func (l *AdaptiveLimiter) Observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if errdefs.IsKind(err, errdefs.KindRateLimited) {
		l.backoff()
	}
}

// CurrentTPM reports the effective budget.
func (l *AdaptiveLimiter) CurrentTPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

func (l *AdaptiveLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	l.setTPM(newTPM)
}

func (l *AdaptiveLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	l.setTPM(newTPM)
}

// setTPM is called with the mutex held.
func (l *AdaptiveLimiter) setTPM(tpm float64) {
	if tpm == l.currentTPM {
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

// EstimateTokens converts prompt length into a cheap token estimate: one
// token per ~3 characters plus a fixed buffer for framing, with a floor so
// tiny prompts still pay limiter cost.
func EstimateTokens(chars int) int {
	if chars <= 0 {
		return 500
	}
	tokens := chars / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
