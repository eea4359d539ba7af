package reward

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/barber-loyalty/internal/model"
)

func TestApplySpending(t *testing.T) {
	tests := []struct {
		name          string
		total         int64
		lifetime      int64
		amount        int64
		wantTotal     int64
		wantLifetime  int64
		wantBonusSent bool
	}{
		{
			name:          "below threshold",
			total:         1000,
			lifetime:      1000,
			amount:        1200,
			wantTotal:     2200,
			wantLifetime:  2200,
			wantBonusSent: false,
		},
		{
			name:          "crosses threshold",
			total:         4800,
			lifetime:      24800,
			amount:        300,
			wantTotal:     100,
			wantLifetime:  25100,
			wantBonusSent: true,
		},
		{
			name:          "lands exactly on threshold",
			total:         4000,
			lifetime:      4000,
			amount:        1000,
			wantTotal:     0,
			wantLifetime:  5000,
			wantBonusSent: true,
		},
		{
			name:          "several multiples in one payment",
			total:         100,
			lifetime:      100,
			amount:        12000,
			wantTotal:     2100,
			wantLifetime:  12100,
			wantBonusSent: true,
		},
		{
			name:          "huge amount does not overflow",
			total:         100,
			lifetime:      100,
			amount:        math.MaxInt64,
			wantTotal:     math.MaxInt64 % SpendingThreshold,
			wantLifetime:  math.MaxInt64,
			wantBonusSent: true,
		},
		{
			name:          "lifetime saturates at max",
			total:         100,
			lifetime:      math.MaxInt64 - 10,
			amount:        1000,
			wantTotal:     1100,
			wantLifetime:  math.MaxInt64,
			wantBonusSent: false,
		},
		{
			name:          "non-positive amount ignored",
			total:         100,
			lifetime:      100,
			amount:        -500,
			wantTotal:     100,
			wantLifetime:  100,
			wantBonusSent: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := model.User{ID: "u1", TotalSpent: tt.total, LifetimeSpent: tt.lifetime}

			out := ApplySpending(u, tt.amount)

			assert.Equal(t, tt.wantTotal, out.User.TotalSpent)
			assert.Equal(t, tt.wantLifetime, out.User.LifetimeSpent)
			assert.Less(t, out.User.TotalSpent, SpendingThreshold)
			if !tt.wantBonusSent {
				assert.Nil(t, out.Notification)
				return
			}
			require.NotNil(t, out.Notification)
			assert.Equal(t, BonusAmount, out.Notification.Amount)
			assert.Equal(t, model.NotificationBonus, out.Notification.Kind)
			assert.Equal(t, "u1", out.Notification.Audience)
		})
	}
}

func TestApplyVIP_ExpiryFromApprovalTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	prior := now.Add(20 * 24 * time.Hour)
	u := model.User{ID: "u2", Name: "James Doe", IsVIP: true, VIPExpiry: &prior, LifetimeSpent: 100}

	out := ApplyVIP(u, VIPSubscriptionFee, now)

	assert.True(t, out.User.IsVIP)
	require.NotNil(t, out.User.VIPExpiry)
	assert.Equal(t, now.Add(30*24*time.Hour), *out.User.VIPExpiry)
	assert.Equal(t, int64(2600), out.User.LifetimeSpent)
	assert.Equal(t, int64(0), out.User.TotalSpent)
	require.NotNil(t, out.Notification)
	assert.Contains(t, out.Notification.Message, "31 Mar")
	assert.Contains(t, out.Notification.Message, "James Doe")
}

func TestApplyReferral(t *testing.T) {
	out := ApplyReferral(model.User{ID: "u3", ReferralCount: 1})
	assert.Equal(t, 2, out.User.ReferralCount)
	assert.Nil(t, out.Notification)

	out = ApplyReferral(out.User)
	assert.Equal(t, 0, out.User.ReferralCount)
	require.NotNil(t, out.Notification)
	assert.Equal(t, "FREE CUT UNLOCKED!", out.Notification.Title)
}

func TestProgress(t *testing.T) {
	assert.InDelta(t, 70.0, Progress(model.User{TotalSpent: 3500}), 0.001)
	assert.InDelta(t, 0.0, Progress(model.User{}), 0.001)
}
