/*

This file contains the default vault parameters for the engine.

These parameters are designed for custodying significant capital in a
production environment. Each value balances capital protection against
operational liveness.

*/

package config

import (
	"time"

	"github.com/halcyon-labs/yve/internal/types"
)

// DefaultVaultParams provides a baseline parameter set for a new vault.
// These values are used if no overrides are supplied at startup.
var DefaultVaultParams = types.VaultParams{
	MaxUpdateInterval: 30 * time.Second,
	// Rationale: same-instant freshness makes the close-of-operation step
	// fail under any oracle latency. A short nonzero window keeps the
	// all-fresh rule meaningful while letting adaptor revaluations land in
	// the same logical window.

	CancellationLock: 10 * time.Minute,
	// Rationale: gives the operator a bounded window to settle a request
	// before the user can pull it back. Captured into the request at
	// creation; raising it later never retroactively locks existing requests.

	RequestExpiry: 48 * time.Hour,
	// Rationale: a request priced against a 2-day-old share ratio is a stale
	// intent. Expired requests fail execution and become cancellable only.

	OperationLeaseTTL: 2 * time.Hour,
	// Rationale: an operation stuck longer than this (oracle outage, dead
	// external protocol) is unrecoverable by the operator anyway. Past the
	// TTL the admin force-close path unlocks so funds cannot be stranded.

	EpochDuration: 24 * time.Hour,

	LossToleranceBps: 100,
	// Rationale: 1% cumulative realized loss per epoch. Operations breaching
	// it are refused at close until an admin resets the baseline.

	DepositFeeBps:  0,
	WithdrawFeeBps: 10,

	MinDeposit: types.NewInt(1_000_000),
	// Rationale: 1 unit of a 6-decimal principal. Dust deposits cost more in
	// bookkeeping than they custody.

	DepositCapUSD: types.ZeroDec(), // no cap by default

	PrincipalPrecision: 6,
}
