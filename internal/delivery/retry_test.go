package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shohag/hookrelay/internal/config"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := NewRetryPolicy(config.RetryConfig{
		InitialInterval: 30 * time.Second,
		MaxInterval:     time.Hour,
		Multiplier:      2,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{2, 30 * time.Second},
		{3, time.Minute},
		{4, 2 * time.Minute},
		{5, 4 * time.Minute},
		{8, 32 * time.Minute},
		{9, time.Hour},
		{20, time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicy_Defaults(t *testing.T) {
	p := NewRetryPolicy(config.RetryConfig{})
	assert.Equal(t, DefaultInitialInterval, p.Delay(2))
	assert.Equal(t, 2*DefaultInitialInterval, p.Delay(3))
}

func TestIsSuccess(t *testing.T) {
	assert.True(t, IsSuccess(200))
	assert.True(t, IsSuccess(204))
	assert.False(t, IsSuccess(199))
	assert.False(t, IsSuccess(301))
	assert.False(t, IsSuccess(500))
}
