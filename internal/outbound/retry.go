package outbound

import (
	"math/rand/v2"
	"time"

	"botgate/internal/domain"
)

// action is the next transition of the delivery state machine:
// Attempting(n) → Delivered | Backoff(delay) → Attempting(n+1) | Rejected | Abandoned.
type action int

const (
	actionDeliver action = iota
	actionRetry
	actionReject
	actionAbandon
)

type decision struct {
	action action
	delay  time.Duration // set for actionRetry
}

// retryPolicy bounds the delivery state machine. Transitions are pure so each
// one is testable without sleeping.
type retryPolicy struct {
	maxAttempts  int
	maxTotalWait time.Duration
	backoffFloor time.Duration
}

// decide maps one attempt's result onto the next transition. attempt is the
// number of transient attempts consumed so far; waited is time spent since
// the request entered the sender.
func (p retryPolicy) decide(res domain.DeliveryResult, attempt int, waited time.Duration) decision {
	switch res.Status {
	case domain.Delivered:
		return decision{action: actionDeliver}

	case domain.PlatformRejected:
		// 4xx other than rate-limit: retrying can't help.
		return decision{action: actionReject}

	case domain.RateLimited:
		// Honor the platform's declared retry-after; not a failure, so it
		// doesn't consume an attempt, but it still counts against the
		// total wait so endless 429s terminate.
		delay := res.RetryAfter
		if delay <= 0 {
			delay = p.backoffFloor
		}
		if waited+delay > p.maxTotalWait {
			return decision{action: actionAbandon}
		}
		return decision{action: actionRetry, delay: delay}

	default: // TransientFailure
		if attempt >= p.maxAttempts {
			return decision{action: actionAbandon}
		}
		delay := p.backoff(attempt)
		if waited+delay > p.maxTotalWait {
			return decision{action: actionAbandon}
		}
		return decision{action: actionRetry, delay: delay}
	}
}

// backoff returns an exponential delay with jitter to avoid thundering herds.
func (p retryPolicy) backoff(attempt int) time.Duration {
	base := p.backoffFloor << (attempt - 1)
	if base <= 0 || base > p.maxTotalWait {
		base = p.maxTotalWait
	}
	jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
	return base + jitter
}
