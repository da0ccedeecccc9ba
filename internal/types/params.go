package types

import "time"

// VaultParams are the tunable risk and lifecycle parameters of one vault.
// They are loaded once at startup; the request-lifetime fields are captured
// into each request at creation, so changing them later never rewrites the
// terms of a request already in the queue.
type VaultParams struct {
	// MaxUpdateInterval is the freshness window for cached asset values and
	// oracle prices. Zero means values must carry the exact query timestamp.
	MaxUpdateInterval time.Duration

	// CancellationLock is how long after creation a request stays
	// uncancellable.
	CancellationLock time.Duration

	// RequestExpiry bounds how long after creation a request may still be
	// executed. Past it the operator can only discard the request.
	RequestExpiry time.Duration

	// OperationLeaseTTL bounds how long an operation can stay open before its
	// lease expires and the admin force-close path unlocks.
	OperationLeaseTTL time.Duration

	// EpochDuration is the accounting epoch for loss tracking.
	EpochDuration time.Duration

	// LossToleranceBps caps cumulative per-epoch operation losses as basis
	// points of the epoch baseline value.
	LossToleranceBps uint64

	DepositFeeBps  uint64
	WithdrawFeeBps uint64

	// MinDeposit is the smallest accepted deposit in raw principal units.
	MinDeposit Int

	// DepositCapUSD caps total vault value for new deposits; zero disables
	// the cap.
	DepositCapUSD Dec

	// PrincipalPrecision is the decimal precision of the principal asset.
	PrincipalPrecision int
}
