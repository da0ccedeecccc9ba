/*

Asset kinds are a closed enum: every external protocol the vault can deploy
capital into maps to exactly one kind, and the valuation registry, custody
table and operation records are all keyed by it. The handle inside a Position
is opaque to the core; only the owning adaptor can interpret it, and it is
what identity checks compare.

*/

package types

import "time"

// AssetKind identifies one class of external position the vault can hold.
type AssetKind string

const (
	// KindPrincipal is the vault's own custody asset held as free balance.
	KindPrincipal AssetKind = "principal"
	// KindLending is a supply/borrow position on an external lending market.
	KindLending AssetKind = "lending"
	// KindAMMPool is an LP position in a constant-product pool.
	KindAMMPool AssetKind = "amm_lp"
	// KindStakingCert is a liquid-staking certificate position.
	KindStakingCert AssetKind = "staking_cert"
)

// AllAssetKinds lists every kind the engine recognizes, principal included.
var AllAssetKinds = []AssetKind{KindPrincipal, KindLending, KindAMMPool, KindStakingCert}

// Valid reports whether k is a member of the closed enum.
func (k AssetKind) Valid() bool {
	for _, known := range AllAssetKinds {
		if k == known {
			return true
		}
	}
	return false
}

func (k AssetKind) String() string {
	return string(k)
}

// Position is the core's reference to an externally-held asset. Kind selects
// the owning adaptor and Handle is the adaptor-scoped identity (pool address,
// obligation id, certificate id). The core never looks inside Handle.
type Position struct {
	Kind   AssetKind `json:"kind"`
	Handle string    `json:"handle"`
}

// Same reports whether two positions refer to the same external object,
// not merely the same kind.
func (p Position) Same(other Position) bool {
	return p.Kind == other.Kind && p.Handle == other.Handle
}

// AssetValue is one entry in the valuation registry. USDValue is signed:
// a leveraged position under water reports a negative economic value rather
// than clamping to zero.
type AssetValue struct {
	USDValue    Dec       `json:"usd_value"`
	LastUpdated time.Time `json:"last_updated"`
}
