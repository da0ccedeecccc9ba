package types

import (
	"time"

	"github.com/google/uuid"
)

// VaultStatus is the coarse state of the vault ledger. It gates every entry
// point but is no longer the only concurrency primitive: operations are
// guarded by an OperationLease on top of it.
type VaultStatus uint8

const (
	StatusNormal VaultStatus = iota
	StatusDuringOperation
	StatusDisabled
)

func (s VaultStatus) String() string {
	switch s {
	case StatusNormal:
		return "NORMAL"
	case StatusDuringOperation:
		return "DURING_OPERATION"
	case StatusDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// OperationRecord tracks the bookkeeping of one open operation: which
// positions left custody, which have been revalued since they came back, and
// the baseline totals captured before anything moved.
type OperationRecord struct {
	Borrowed map[AssetKind]Position `json:"borrowed"`
	Updated  map[AssetKind]bool     `json:"updated"`

	// ValueUpdateEnabled flips once every borrowed position has been
	// physically returned; only then may adaptors report closing values.
	ValueUpdateEnabled bool `json:"value_update_enabled"`

	TotalUSDBefore    Dec `json:"total_usd_before"`
	TotalSharesBefore Dec `json:"total_shares_before"`

	// PriceFingerprint is the oracle configuration hash captured at phase 1.
	// Phase 3 refuses to close against a different configuration.
	PriceFingerprint string `json:"price_fingerprint"`
}

// Clone deep-copies the record so callers holding a lease copy cannot mutate
// the live operation bookkeeping.
func (r *OperationRecord) Clone() *OperationRecord {
	c := *r
	c.Borrowed = make(map[AssetKind]Position, len(r.Borrowed))
	for kind, pos := range r.Borrowed {
		c.Borrowed[kind] = pos
	}
	c.Updated = make(map[AssetKind]bool, len(r.Updated))
	for kind, updated := range r.Updated {
		c.Updated[kind] = updated
	}
	return &c
}

// FullyUpdated reports whether every borrowed kind has been revalued.
func (r *OperationRecord) FullyUpdated() bool {
	for kind := range r.Borrowed {
		if !r.Updated[kind] {
			return false
		}
	}
	return true
}

// OperationLease is the explicit ownership token for an open operation. All
// phase transitions validate against it: the id must match, the caller must
// be the opener, and the lease must not have expired. An expired lease is the
// sole precondition for the administrative force-close path.
type OperationLease struct {
	ID       uuid.UUID        `json:"id"`
	Operator uuid.UUID        `json:"operator"`
	OpenedAt time.Time        `json:"opened_at"`
	Expiry   time.Time        `json:"expiry"`
	Record   *OperationRecord `json:"record"`
}

// Expired reports whether the lease TTL has elapsed.
func (l *OperationLease) Expired(now time.Time) bool {
	return now.After(l.Expiry)
}

// LossToleranceState is the per-epoch loss ledger. CurEpochLoss accumulates
// realized operation losses against the baseline captured at the first
// operation of the epoch (or an admin reset).
type LossToleranceState struct {
	Epoch           uint64    `json:"epoch"`
	CurEpochLoss    Dec       `json:"cur_epoch_loss"`
	CurEpochBaseUSD Dec       `json:"cur_epoch_base_usd"`
	ResetAt         time.Time `json:"reset_at"`
}
