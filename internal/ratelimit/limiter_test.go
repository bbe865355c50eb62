package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/proxy-balancer/internal/domain"
)

func TestNewSelectsImplementation(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name     string
		config   domain.RateLimitConfig
		expected interface{}
		wantErr  bool
	}{
		{
			name:     "default is in-memory fixed window",
			config:   domain.RateLimitConfig{MaxRequests: 10, Window: time.Minute},
			expected: &FixedWindowLimiter{},
		},
		{
			name: "token bucket",
			config: domain.RateLimitConfig{
				Algorithm:   domain.TokenBucketAlgorithm,
				MaxRequests: 10,
				Window:      time.Minute,
			},
			expected: &TokenBucketLimiter{},
		},
		{
			name: "redis fixed window",
			config: domain.RateLimitConfig{
				Algorithm:   domain.FixedWindowAlgorithm,
				MaxRequests: 10,
				Window:      time.Minute,
				Redis:       domain.RedisConfig{Enabled: true, Address: mr.Addr()},
			},
			expected: &RedisLimiter{},
		},
		{
			name: "token bucket with redis is rejected",
			config: domain.RateLimitConfig{
				Algorithm:   domain.TokenBucketAlgorithm,
				MaxRequests: 10,
				Window:      time.Minute,
				Redis:       domain.RedisConfig{Enabled: true, Address: mr.Addr()},
			},
			wantErr: true,
		},
		{
			name:    "unknown algorithm",
			config:  domain.RateLimitConfig{Algorithm: "leaky", MaxRequests: 10, Window: time.Minute},
			wantErr: true,
		},
		{
			name:    "zero max requests",
			config:  domain.RateLimitConfig{Window: time.Minute},
			wantErr: true,
		},
		{
			name:    "zero window",
			config:  domain.RateLimitConfig{MaxRequests: 1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer l.Close()

			assert.IsType(t, tt.expected, l)
			assert.Equal(t, tt.config.MaxRequests, l.Limit())
		})
	}
}
