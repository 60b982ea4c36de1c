package balancecache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vadiminshakov/balancecache/internal/domain"
)

func TestIsValid(t *testing.T) {
	captured := time.Unix(1_000_000, 0)
	snap := domain.NewBalanceSnapshot("acc-a", "azore", map[string]string{"AZE": "1"}, captured)
	empty := domain.NewBalanceSnapshot("acc-a", "azore", nil, captured)
	accA := domain.Account{ID: "acc-a", Network: "azore", PlanTier: domain.PlanPro}
	accB := domain.Account{ID: "acc-b", Network: "azore", PlanTier: domain.PlanPro}
	policies := domain.DefaultPolicies()

	tests := []struct {
		name     string
		snapshot *domain.BalanceSnapshot
		account  domain.Account
		now      time.Time
		expected bool
	}{
		{name: "no snapshot", snapshot: nil, account: accA, now: captured, expected: false},
		{name: "fresh", snapshot: &snap, account: accA, now: captured.Add(44 * time.Second), expected: true},
		{name: "ttl reached", snapshot: &snap, account: accA, now: captured.Add(45 * time.Second), expected: false},
		{name: "other owner while fresh", snapshot: &snap, account: accB, now: captured, expected: false},
		{
			name:     "other network while fresh",
			snapshot: &snap,
			account:  domain.Account{ID: "acc-a", Network: "ethereum", PlanTier: domain.PlanPro},
			now:      captured,
			expected: false,
		},
		{
			name:     "network compared case-insensitively",
			snapshot: &snap,
			account:  domain.Account{ID: "acc-a", Network: "Azore", PlanTier: domain.PlanPro},
			now:      captured,
			expected: true,
		},
		{name: "empty balances", snapshot: &empty, account: accA, now: captured, expected: false},
		{
			name:     "unknown plan uses basic ttl",
			snapshot: &snap,
			account:  domain.Account{ID: "acc-a", Network: "azore", PlanTier: "gold"},
			now:      captured.Add(80 * time.Second),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsValid(tt.snapshot, tt.account, policies, tt.now))
		})
	}
}

func TestIsValid_OwnershipSupersedesFreshness(t *testing.T) {
	captured := time.Unix(1_000_000, 0)
	snap := domain.NewBalanceSnapshot("acc-a", "azore", map[string]string{"AZE": "1"}, captured)

	for _, tier := range []domain.PlanTier{domain.PlanBasic, domain.PlanPro, domain.PlanPremium} {
		for _, offset := range []time.Duration{-time.Hour, 0, time.Millisecond, time.Second} {
			acc := domain.Account{ID: "acc-b", PlanTier: tier}
			assert.False(t, IsValid(&snap, acc, domain.DefaultPolicies(), captured.Add(offset)))
		}
	}
}

func TestIsValid_Monotonic(t *testing.T) {
	captured := time.Unix(1_000_000, 0)
	snap := domain.NewBalanceSnapshot("acc-a", "azore", map[string]string{"AZE": "1"}, captured)

	for _, tier := range []domain.PlanTier{domain.PlanBasic, domain.PlanPro, domain.PlanPremium} {
		acc := domain.Account{ID: "acc-a", Network: "azore", PlanTier: tier}
		invalidSeen := false
		for step := 0; step <= 200; step++ {
			now := captured.Add(time.Duration(step) * time.Second)
			valid := IsValid(&snap, acc, domain.DefaultPolicies(), now)
			if invalidSeen {
				assert.False(t, valid, "tier %s became valid again at +%ds", tier, step)
			}
			if !valid {
				invalidSeen = true
			}
		}
		assert.True(t, invalidSeen)
	}
}
