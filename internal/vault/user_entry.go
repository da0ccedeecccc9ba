/*

User entry points and operator-driven request execution.

User-facing calls require a NORMAL vault; the only exception is the
best-effort withdrawal path, which stays open while the vault is DISABLED
with dirty books so a force-closed operation cannot strand holders entirely.
Every authorization check is against the receipt's CURRENT owner.

All failures leave state untouched: a rejected request escrows nothing, a
rejected execution removes nothing from the queue.

*/

package vault

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/halcyon-labs/yve/internal/types"
	"github.com/halcyon-labs/yve/internal/utils"
)

// OpenReceipt mints a new receipt for an owner address.
func (v *Vault) OpenReceipt(owner string) uint64 {
	return v.ledger.OpenReceipt(owner)
}

// TransferReceipt moves a receipt to a new holder. Bearer semantics: only the
// current owner can transfer, and all pending state travels with it.
func (v *Vault) TransferReceipt(caller string, receiptID uint64, newOwner string) error {
	return v.ledger.Transfer(receiptID, caller, newOwner)
}

// RequestDeposit escrows principal and queues a deposit intent. MinShares is
// the user's slippage floor, checked at execution against the ratio then in
// force.
func (v *Vault) RequestDeposit(caller string, receiptID uint64, amount types.Int,
	minShares types.Dec, recipient string, now time.Time) (types.DepositRequest, error) {

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != types.StatusNormal {
		return types.DepositRequest{}, fmt.Errorf("%w: deposits require NORMAL, vault is %s",
			types.ErrStatusMismatch, v.status)
	}
	owner, err := v.ledger.Owner(receiptID)
	if err != nil {
		return types.DepositRequest{}, err
	}
	if owner != caller {
		return types.DepositRequest{}, fmt.Errorf("%w: receipt %d", types.ErrNotReceiptOwner, receiptID)
	}
	if amount.LT(v.params.MinDeposit) {
		return types.DepositRequest{}, fmt.Errorf("%w: %s < %s", types.ErrDepositBelowMinimum,
			amount, v.params.MinDeposit)
	}
	if v.params.DepositCapUSD.IsPositive() {
		total, err := v.totalUSDLocked(now)
		if err != nil {
			return types.DepositRequest{}, fmt.Errorf("cannot check deposit cap: %w", err)
		}
		price, _, err := v.gateway.Price(types.KindPrincipal, now)
		if err != nil {
			return types.DepositRequest{}, fmt.Errorf("cannot check deposit cap: %w", err)
		}
		depositUSD, err := utils.AmountToUSD(amount, v.params.PrincipalPrecision, price)
		if err != nil {
			return types.DepositRequest{}, err
		}
		if total.Add(depositUSD).GT(v.params.DepositCapUSD) {
			return types.DepositRequest{}, fmt.Errorf("%w: cap %s", types.ErrDepositCapExceeded,
				v.params.DepositCapUSD)
		}
	}

	if err := v.ledger.StagePendingDeposit(receiptID, amount); err != nil {
		return types.DepositRequest{}, err
	}
	v.escrowPrincipal = v.escrowPrincipal.Add(amount)

	req := v.buffer.EnqueueDeposit(receiptID, amount, minShares, recipient, now,
		v.params.CancellationLock, v.params.RequestExpiry)
	v.log.Info().
		Uint64("requestID", req.ID).
		Uint64("receiptID", receiptID).
		Str("amount", amount.String()).
		Str("minShares", minShares.String()).
		Msg("Deposit requested")
	return req, nil
}

// RequestWithdraw reserves shares and queues a withdraw intent. The share
// amount is checked against AVAILABLE shares at request time: shares already
// committed to other pending withdrawals cannot be committed twice.
func (v *Vault) RequestWithdraw(caller string, receiptID uint64, shares types.Dec,
	minAmount types.Int, recipient string, autoTransfer bool, now time.Time) (types.WithdrawRequest, error) {

	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.withdrawalsOpenLocked() {
		return types.WithdrawRequest{}, fmt.Errorf("%w: withdrawals require NORMAL, vault is %s",
			types.ErrStatusMismatch, v.status)
	}
	owner, err := v.ledger.Owner(receiptID)
	if err != nil {
		return types.WithdrawRequest{}, err
	}
	if owner != caller {
		return types.WithdrawRequest{}, fmt.Errorf("%w: receipt %d", types.ErrNotReceiptOwner, receiptID)
	}
	if shares.IsNil() || !shares.IsPositive() {
		return types.WithdrawRequest{}, fmt.Errorf("withdraw shares must be positive, got %s", shares)
	}

	if err := v.ledger.CommitPendingWithdraw(receiptID, shares, autoTransfer); err != nil {
		return types.WithdrawRequest{}, err
	}

	req := v.buffer.EnqueueWithdraw(receiptID, shares, minAmount, recipient, autoTransfer, now,
		v.params.CancellationLock, v.params.RequestExpiry)
	v.log.Info().
		Uint64("requestID", req.ID).
		Uint64("receiptID", receiptID).
		Str("shares", shares.String()).
		Bool("autoTransfer", autoTransfer).
		Msg("Withdrawal requested")
	return req, nil
}

// withdrawalsOpenLocked: NORMAL always; DISABLED with dirty books keeps
// best-effort withdrawal open (deposits stay shut).
func (v *Vault) withdrawalsOpenLocked() bool {
	if v.status == types.StatusNormal {
		return true
	}
	return v.status == types.StatusDisabled && v.needsReconciliation
}

// CancelDeposit removes a queued deposit and refunds the escrow. Permitted
// only to the CURRENT receipt owner once the request's own cancellation lock
// has elapsed.
func (v *Vault) CancelDeposit(caller string, requestID uint64, now time.Time) (types.DepositRequest, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	req, err := v.buffer.Deposit(requestID)
	if err != nil {
		return types.DepositRequest{}, err
	}
	owner, err := v.ledger.Owner(req.ReceiptID)
	if err != nil {
		return types.DepositRequest{}, err
	}
	if owner != caller {
		return types.DepositRequest{}, fmt.Errorf("%w: receipt %d is held by %s",
			types.ErrNotReceiptOwner, req.ReceiptID, owner)
	}
	if now.Before(req.CancelAfter) {
		return types.DepositRequest{}, fmt.Errorf("%w: cancellable at %s",
			types.ErrNotYetCancellable, req.CancelAfter)
	}

	if _, err := v.buffer.TakeDeposit(requestID); err != nil {
		return types.DepositRequest{}, err
	}
	if err := v.ledger.UnstagePendingDeposit(req.ReceiptID, req.Amount); err != nil {
		return types.DepositRequest{}, err
	}
	v.escrowPrincipal = v.escrowPrincipal.Sub(req.Amount)

	v.log.Info().Uint64("requestID", requestID).Str("refund", req.Amount.String()).Msg("Deposit request cancelled")
	return req, nil
}

// CancelWithdraw removes a queued withdrawal and releases the reserved
// shares. Same ownership and lock rules as CancelDeposit.
func (v *Vault) CancelWithdraw(caller string, requestID uint64, now time.Time) (types.WithdrawRequest, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	req, err := v.buffer.Withdraw(requestID)
	if err != nil {
		return types.WithdrawRequest{}, err
	}
	owner, err := v.ledger.Owner(req.ReceiptID)
	if err != nil {
		return types.WithdrawRequest{}, err
	}
	if owner != caller {
		return types.WithdrawRequest{}, fmt.Errorf("%w: receipt %d is held by %s",
			types.ErrNotReceiptOwner, req.ReceiptID, owner)
	}
	if now.Before(req.CancelAfter) {
		return types.WithdrawRequest{}, fmt.Errorf("%w: cancellable at %s",
			types.ErrNotYetCancellable, req.CancelAfter)
	}

	if _, err := v.buffer.TakeWithdraw(requestID); err != nil {
		return types.WithdrawRequest{}, err
	}
	if err := v.ledger.ReleasePendingWithdraw(req.ReceiptID, req.Shares); err != nil {
		return types.WithdrawRequest{}, err
	}

	v.log.Info().Uint64("requestID", requestID).Str("shares", req.Shares.String()).Msg("Withdraw request cancelled")
	return req, nil
}

// ClaimPrincipal pays out the receipt's settled-but-unclaimed principal to
// the current owner.
func (v *Vault) ClaimPrincipal(caller string, receiptID uint64) (types.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	owner, err := v.ledger.Owner(receiptID)
	if err != nil {
		return types.ZeroInt(), err
	}
	if owner != caller {
		return types.ZeroInt(), fmt.Errorf("%w: receipt %d", types.ErrNotReceiptOwner, receiptID)
	}
	claimed, err := v.ledger.ClaimPrincipal(receiptID)
	if err != nil {
		return types.ZeroInt(), err
	}
	v.claimablePot = v.claimablePot.Sub(claimed)
	if claimed.IsPositive() {
		v.log.Info().
			Uint64("receiptID", receiptID).
			Str("owner", owner).
			Str("claimed", claimed.String()).
			Msg("Claimable principal paid out")
	}
	return claimed, nil
}

// ExecuteDeposit settles a queued deposit at the current share ratio.
// Two-sided slippage: minted shares must be at least the user's MinShares
// floor and at most the maxShares ceiling the operator supplies now.
func (v *Vault) ExecuteDeposit(opCap uuid.UUID, requestID uint64, maxShares types.Dec,
	now time.Time) (types.Dec, error) {

	if err := v.caps.CheckOperator(opCap); err != nil {
		return types.ZeroDec(), err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != types.StatusNormal {
		return types.ZeroDec(), fmt.Errorf("%w: execution requires NORMAL, vault is %s",
			types.ErrStatusMismatch, v.status)
	}
	req, err := v.buffer.Deposit(requestID)
	if err != nil {
		return types.ZeroDec(), err
	}
	if now.After(req.ExpiresAt) {
		return types.ZeroDec(), fmt.Errorf("%w: deposit request %d expired at %s",
			types.ErrRequestExpired, requestID, req.ExpiresAt)
	}

	total, err := v.totalUSDLocked(now)
	if err != nil {
		return types.ZeroDec(), err
	}
	ratio := v.ledger.ShareRatio(total)

	price, _, err := v.gateway.Price(types.KindPrincipal, now)
	if err != nil {
		return types.ZeroDec(), err
	}

	fee := req.Amount.ToLegacyDec().Mul(types.BpsToDec(v.params.DepositFeeBps)).TruncateInt()
	netAmount := req.Amount.Sub(fee)
	netUSD, err := utils.AmountToUSD(netAmount, v.params.PrincipalPrecision, price)
	if err != nil {
		return types.ZeroDec(), err
	}

	shares := netUSD.Quo(ratio)
	if shares.LT(req.MinShares) {
		return types.ZeroDec(), fmt.Errorf("%w: minted %s < floor %s",
			types.ErrSlippageExceeded, shares, req.MinShares)
	}
	if !maxShares.IsNil() && maxShares.IsPositive() && shares.GT(maxShares) {
		return types.ZeroDec(), fmt.Errorf("%w: minted %s > ceiling %s",
			types.ErrSlippageExceeded, shares, maxShares)
	}

	if _, err := v.buffer.TakeDeposit(requestID); err != nil {
		return types.ZeroDec(), err
	}
	if err := v.ledger.SettleDeposit(req.ReceiptID, req.Amount, shares, now); err != nil {
		return types.ZeroDec(), err
	}
	v.escrowPrincipal = v.escrowPrincipal.Sub(req.Amount)
	v.freePrincipal = v.freePrincipal.Add(netAmount)
	v.accruedFees = v.accruedFees.Add(fee)

	v.log.Info().
		Uint64("requestID", requestID).
		Uint64("receiptID", req.ReceiptID).
		Str("shares", shares.String()).
		Str("ratio", ratio.String()).
		Str("fee", fee.String()).
		Msg("Deposit executed")
	return shares, nil
}

// ExecuteWithdraw settles a queued withdrawal at the current share ratio.
// Two-sided slippage: released principal must be at least the user's
// MinAmount floor and at most the maxAmount ceiling supplied now.
func (v *Vault) ExecuteWithdraw(opCap uuid.UUID, requestID uint64, maxAmount types.Int,
	now time.Time) (types.Int, error) {

	if err := v.caps.CheckOperator(opCap); err != nil {
		return types.ZeroInt(), err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.withdrawalsOpenLocked() {
		return types.ZeroInt(), fmt.Errorf("%w: execution requires NORMAL, vault is %s",
			types.ErrStatusMismatch, v.status)
	}
	req, err := v.buffer.Withdraw(requestID)
	if err != nil {
		return types.ZeroInt(), err
	}
	if now.After(req.ExpiresAt) {
		return types.ZeroInt(), fmt.Errorf("%w: withdraw request %d expired at %s",
			types.ErrRequestExpired, requestID, req.ExpiresAt)
	}

	total, err := v.totalUSDLocked(now)
	if err != nil {
		return types.ZeroInt(), err
	}
	ratio := v.ledger.ShareRatio(total)

	price, _, err := v.gateway.Price(types.KindPrincipal, now)
	if err != nil {
		return types.ZeroInt(), err
	}

	usdValue := req.Shares.Mul(ratio)
	grossAmount, err := utils.USDToAmount(usdValue, v.params.PrincipalPrecision, price)
	if err != nil {
		return types.ZeroInt(), err
	}
	fee := grossAmount.ToLegacyDec().Mul(types.BpsToDec(v.params.WithdrawFeeBps)).TruncateInt()
	amount := grossAmount.Sub(fee)

	if amount.LT(req.MinAmount) {
		return types.ZeroInt(), fmt.Errorf("%w: released %s < floor %s",
			types.ErrSlippageExceeded, amount, req.MinAmount)
	}
	if !maxAmount.IsNil() && maxAmount.IsPositive() && amount.GT(maxAmount) {
		return types.ZeroInt(), fmt.Errorf("%w: released %s > ceiling %s",
			types.ErrSlippageExceeded, amount, maxAmount)
	}
	if v.freePrincipal.LT(grossAmount) {
		return types.ZeroInt(), fmt.Errorf("%w: free principal %s cannot cover %s",
			types.ErrInsufficientBalance, v.freePrincipal, grossAmount)
	}

	if _, err := v.buffer.TakeWithdraw(requestID); err != nil {
		return types.ZeroInt(), err
	}
	if err := v.ledger.SettleWithdraw(req.ReceiptID, req.Shares, amount, req.AutoTransfer); err != nil {
		return types.ZeroInt(), err
	}
	v.freePrincipal = v.freePrincipal.Sub(grossAmount)
	v.accruedFees = v.accruedFees.Add(fee)
	if !req.AutoTransfer {
		v.claimablePot = v.claimablePot.Add(amount)
	}

	v.log.Info().
		Uint64("requestID", requestID).
		Uint64("receiptID", req.ReceiptID).
		Str("amount", amount.String()).
		Str("ratio", ratio.String()).
		Str("fee", fee.String()).
		Bool("autoTransfer", req.AutoTransfer).
		Str("recipient", req.Recipient).
		Msg("Withdrawal executed")
	return amount, nil
}

// CollectFees pays accrued fees to the operator. Carries the same freeze
// check as every other operator path.
func (v *Vault) CollectFees(opCap uuid.UUID) (types.Int, error) {
	if err := v.caps.CheckOperator(opCap); err != nil {
		return types.ZeroInt(), err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	collected := v.accruedFees
	v.accruedFees = types.ZeroInt()
	if collected.IsPositive() {
		v.log.Info().Str("collected", collected.String()).Msg("Fees collected")
	}
	return collected, nil
}
