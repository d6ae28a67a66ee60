package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyToTemporal(t *testing.T) {
	assert.Nil(t, RetryPolicy{}.ToTemporal(), "zero value keeps engine defaults")

	single := SingleAttempt().ToTemporal()
	require.NotNil(t, single)
	assert.EqualValues(t, 1, single.MaximumAttempts)
	assert.Zero(t, single.InitialInterval)

	full := RetryPolicy{
		MaxAttempts:        3,
		InitialInterval:    2 * time.Second,
		BackoffCoefficient: 2,
		MaximumInterval:    time.Minute,
	}.ToTemporal()
	require.NotNil(t, full)
	assert.EqualValues(t, 3, full.MaximumAttempts)
	assert.Equal(t, 2*time.Second, full.InitialInterval)
	assert.Equal(t, 2.0, full.BackoffCoefficient)
	assert.Equal(t, time.Minute, full.MaximumInterval)
}
