package engine

import "time"

// BackoffStrategy names how a retry delay grows with the attempt number.
type BackoffStrategy string

const (
	BackoffConstant    BackoffStrategy = "constant"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// BackoffPolicy describes a retry delay schedule.
type BackoffPolicy struct {
	Strategy BackoffStrategy
	Base     time.Duration
	// Max caps the delay when positive.
	Max time.Duration
}

// TaskRetryBackoff is the delay schedule for failed scheduled runs:
// 1, 2, 4, 8 ... minutes.
var TaskRetryBackoff = BackoffPolicy{Strategy: BackoffExponential, Base: time.Minute}

// ComputeBackoff calculates the delay before retry number attempt (0-based).
func ComputeBackoff(policy BackoffPolicy, attempt int) time.Duration {
	if policy.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	var delay time.Duration
	switch policy.Strategy {
	case BackoffExponential:
		// 2^attempt * base, saturating instead of overflowing.
		delay = policy.Base
		for i := 0; i < attempt; i++ {
			if delay > time.Duration(1<<62)/2 {
				break
			}
			delay *= 2
		}
	case BackoffLinear:
		delay = policy.Base * time.Duration(attempt+1)
	default:
		delay = policy.Base
	}

	if policy.Max > 0 && delay > policy.Max {
		delay = policy.Max
	}
	return delay
}
