package domain

import (
	"fmt"
	"strings"
	"time"
)

// PlanTier subscription level of an account.
type PlanTier string

const (
	PlanBasic   PlanTier = "basic"
	PlanPro     PlanTier = "pro"
	PlanPremium PlanTier = "premium"
)

// String returns the string representation.
func (p PlanTier) String() string {
	return string(p)
}

// IsValid checks if the PlanTier value is valid.
func (p PlanTier) IsValid() bool {
	return p == PlanBasic || p == PlanPro || p == PlanPremium
}

// ParsePlanTier parses a tier name. Unknown or empty names resolve to basic.
func ParsePlanTier(s string) PlanTier {
	tier := PlanTier(strings.ToLower(strings.TrimSpace(s)))
	if !tier.IsValid() {
		return PlanBasic
	}
	return tier
}

// Policy cache validity window and forced refresh period of a tier.
type Policy struct {
	CacheTTL        time.Duration `json:"cache_ttl"`
	RefreshInterval time.Duration `json:"refresh_interval"`
}

// Validate requires positive durations and a refresh coarser than the TTL.
func (p Policy) Validate() error {
	if p.CacheTTL <= 0 || p.RefreshInterval <= 0 {
		return fmt.Errorf("cache ttl and refresh interval must be positive, got %s/%s", p.CacheTTL, p.RefreshInterval)
	}
	if p.RefreshInterval <= p.CacheTTL {
		return fmt.Errorf("refresh interval %s must be greater than cache ttl %s", p.RefreshInterval, p.CacheTTL)
	}
	return nil
}

// PolicyTable policies per tier.
type PolicyTable map[PlanTier]Policy

// DefaultPolicies returns the built-in policy table.
func DefaultPolicies() PolicyTable {
	return PolicyTable{
		PlanPremium: {CacheTTL: 10 * time.Second, RefreshInterval: 15 * time.Second},
		PlanPro:     {CacheTTL: 45 * time.Second, RefreshInterval: 60 * time.Second},
		PlanBasic:   {CacheTTL: 90 * time.Second, RefreshInterval: 120 * time.Second},
	}
}

// Resolve returns the policy of the tier; unknown tiers get the basic policy.
func (t PolicyTable) Resolve(tier PlanTier) Policy {
	if p, ok := t[tier]; ok {
		return p
	}
	if p, ok := t[PlanBasic]; ok {
		return p
	}
	return DefaultPolicies()[PlanBasic]
}

// Validate checks every policy in the table.
func (t PolicyTable) Validate() error {
	for tier, p := range t {
		if !tier.IsValid() {
			return fmt.Errorf("unknown plan tier %q", tier)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("plan tier %s: %w", tier, err)
		}
	}
	return nil
}

// ResolvePolicy maps a tier to its default policy.
func ResolvePolicy(tier PlanTier) Policy {
	return DefaultPolicies().Resolve(tier)
}
