package domain

import "strings"

// DefaultStableAsset platform stable-value asset.
const DefaultStableAsset = "cBRL"

// Account active account a balance fetch is made for.
type Account struct {
	ID       string   `json:"id"`
	Network  string   `json:"network"`
	PlanTier PlanTier `json:"plan_tier"`
}

// IsZero reports whether no account is set.
func (a Account) IsZero() bool {
	return a.ID == ""
}

var nativeAssets = map[string]string{
	"azore":    "AZE",
	"ethereum": "ETH",
	"polygon":  "MATIC",
	"bsc":      "BNB",
	"solana":   "SOL",
	"arbitrum": "ETH",
}

// Assets mandatory assets of every snapshot.
type Assets struct {
	// Stable platform stable-value asset.
	Stable string
	// NativeFallback native asset for networks missing from the registry.
	NativeFallback string
}

// DefaultAssets returns cBRL as stable asset and AZE as native fallback.
func DefaultAssets() Assets {
	return Assets{Stable: DefaultStableAsset, NativeFallback: "AZE"}
}

// Native returns the native asset of the network.
func (a Assets) Native(network string) string {
	if asset, ok := nativeAssets[strings.ToLower(strings.TrimSpace(network))]; ok {
		return asset
	}
	return a.NativeFallback
}

// Mandatory returns the native and stable assets of the network.
func (a Assets) Mandatory(network string) []string {
	native := a.Native(network)
	if native == a.Stable {
		return []string{native}
	}
	return []string{native, a.Stable}
}
