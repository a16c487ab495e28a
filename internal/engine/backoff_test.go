package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeBackoff_TaskRetry(t *testing.T) {
	assert.Equal(t, 1*time.Minute, ComputeBackoff(TaskRetryBackoff, 0))
	assert.Equal(t, 2*time.Minute, ComputeBackoff(TaskRetryBackoff, 1))
	assert.Equal(t, 4*time.Minute, ComputeBackoff(TaskRetryBackoff, 2))
	assert.Equal(t, 8*time.Minute, ComputeBackoff(TaskRetryBackoff, 3))
}

func TestComputeBackoff_Strategies(t *testing.T) {
	base := 100 * time.Millisecond

	assert.Equal(t, base, ComputeBackoff(BackoffPolicy{Strategy: BackoffConstant, Base: base}, 5))
	assert.Equal(t, 300*time.Millisecond, ComputeBackoff(BackoffPolicy{Strategy: BackoffLinear, Base: base}, 2))
	assert.Equal(t, 800*time.Millisecond, ComputeBackoff(BackoffPolicy{Strategy: BackoffExponential, Base: base}, 3))
	assert.Equal(t, time.Duration(0), ComputeBackoff(BackoffPolicy{Strategy: BackoffExponential}, 3))
	assert.Equal(t, base, ComputeBackoff(BackoffPolicy{Strategy: BackoffExponential, Base: base}, -1))
}

func TestComputeBackoff_MaxAndOverflow(t *testing.T) {
	capped := BackoffPolicy{Strategy: BackoffExponential, Base: time.Second, Max: 5 * time.Second}
	assert.Equal(t, 5*time.Second, ComputeBackoff(capped, 10))

	huge := ComputeBackoff(BackoffPolicy{Strategy: BackoffExponential, Base: time.Minute}, 200)
	assert.Greater(t, huge, time.Duration(0))
}
