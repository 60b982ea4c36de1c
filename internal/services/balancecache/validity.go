package balancecache

import (
	"strings"
	"time"

	"github.com/vadiminshakov/balancecache/internal/domain"
)

// cacheState in-process cache owned by the Manager.
type cacheState struct {
	snapshot  *domain.BalanceSnapshot
	updatedAt time.Time
	inFlight  int
}

// IsValid reports whether the cached snapshot may be served to the account at now.
// Ownership and network are checked before freshness.
func IsValid(snapshot *domain.BalanceSnapshot, account domain.Account, policies domain.PolicyTable, now time.Time) bool {
	if !belongsTo(snapshot, account) || snapshot.IsEmpty() {
		return false
	}
	ttl := policies.Resolve(account.PlanTier).CacheTTL
	return now.Sub(snapshot.CapturedAt) < ttl
}

// belongsTo reports whether the snapshot was taken for the owner and network of account.
func belongsTo(snapshot *domain.BalanceSnapshot, account domain.Account) bool {
	return snapshot != nil && snapshot.OwnerID == account.ID && sameNetwork(snapshot.Network, account.Network)
}

func sameNetwork(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
