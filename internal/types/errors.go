/*

Shared error taxonomy for the vault engine.

Every failure that aborts a user, operator or admin step is one of these
sentinels (possibly wrapped with context via fmt.Errorf and %w). Callers
branch with errors.Is; nothing below is ever coerced to a default value.

*/

package types

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleValue indicates a required price or cached asset value is older
	// than the freshness window.
	ErrStaleValue = errors.New("required value is stale")

	// ErrStatusMismatch indicates an action was attempted in the wrong vault state.
	ErrStatusMismatch = errors.New("vault status does not permit this action")

	// ErrSlippageExceeded indicates an execution result fell outside the
	// user-provided bounds.
	ErrSlippageExceeded = errors.New("execution result outside slippage bounds")

	// ErrLossLimitExceeded indicates the per-epoch loss tolerance was breached.
	ErrLossLimitExceeded = errors.New("epoch loss tolerance exceeded")

	// ErrAssetIdentityMismatch indicates an adaptor was handed a position that
	// does not correspond to the stored reference.
	ErrAssetIdentityMismatch = errors.New("position identity mismatch")

	// ErrOperatorFrozen indicates the operator capability has been frozen.
	ErrOperatorFrozen = errors.New("operator capability is frozen")

	// ErrNotYetCancellable indicates the cancellation lock window has not elapsed.
	ErrNotYetCancellable = errors.New("request is still inside its cancellation lock")

	// ErrRequestExpired indicates a request's execution deadline has passed.
	ErrRequestExpired = errors.New("request has expired")

	ErrVaultDisabled        = errors.New("vault is disabled")
	ErrUnknownAsset         = errors.New("asset kind is not tracked by the vault")
	ErrUnknownReceipt       = errors.New("receipt does not exist")
	ErrNotReceiptOwner      = errors.New("caller is not the current receipt owner")
	ErrInsufficientShares   = errors.New("insufficient available shares")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrValueIncomplete      = errors.New("not every borrowed asset has been revalued")
	ErrSharesChanged        = errors.New("total shares changed during the operation")
	ErrLeaseHeld            = errors.New("an operation lease is already held")
	ErrLeaseMismatch        = errors.New("lease id or opener does not match")
	ErrLeaseExpired         = errors.New("operation lease has expired")
	ErrLeaseNotExpired      = errors.New("operation lease has not expired yet")
	ErrPositionUnhealthy    = errors.New("position is insolvent")
	ErrPriceSourceChanged   = errors.New("price source configuration changed mid-operation")
	ErrNeedsReconciliation  = errors.New("vault is flagged for manual reconciliation")
	ErrUnknownRequest       = errors.New("request does not exist")
	ErrUnauthorized         = errors.New("capability does not authorize this action")
	ErrDepositBelowMinimum  = errors.New("deposit amount below the configured minimum")
	ErrDepositCapExceeded   = errors.New("deposit would exceed the vault cap")
	ErrFeedSwapDuringBorrow = errors.New("cannot swap a price feed while its asset is borrowed")

	// ErrUnknownCapability wraps ErrUnauthorized: an unrecognized token
	// carries no authority at all.
	ErrUnknownCapability = fmt.Errorf("%w: capability is not recognized", ErrUnauthorized)
)
