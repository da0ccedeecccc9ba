/*

Receipt/Share Ledger.

Receipts are bearer claims: the current owner is the only authorization
anchor, and every mutation that acts "for the user" checks it. The vault-side
twin of each receipt carries share balance and pending-request state; shares
committed to a pending withdrawal stay counted in Shares but are excluded from
AvailableShares until the request settles or is cancelled.

*/

package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/halcyon-labs/yve/internal/logger"
	"github.com/halcyon-labs/yve/internal/types"
)

var ledgerLogger = logger.GetForComponent("share_ledger")

// Ledger is the vault's receipt and share book.
type Ledger struct {
	mu            sync.Mutex
	nextReceiptID uint64
	owners        map[uint64]string
	infos         map[uint64]*types.VaultReceiptInfo
	totalShares   types.Dec
}

func NewLedger() *Ledger {
	return &Ledger{
		nextReceiptID: 1,
		owners:        make(map[uint64]string),
		infos:         make(map[uint64]*types.VaultReceiptInfo),
		totalShares:   types.ZeroDec(),
	}
}

// OpenReceipt mints a fresh receipt for owner and returns its id.
func (l *Ledger) OpenReceipt(owner string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextReceiptID
	l.nextReceiptID++
	l.owners[id] = owner
	l.infos[id] = &types.VaultReceiptInfo{
		Shares:                types.ZeroDec(),
		PendingDepositBalance: types.ZeroInt(),
		PendingWithdrawShares: types.ZeroDec(),
		ClaimablePrincipal:    types.ZeroInt(),
		Status:                types.ReceiptNormal,
	}
	ledgerLogger.Info().Uint64("receiptID", id).Str("owner", owner).Msg("Receipt opened")
	return id
}

// Owner returns the current holder of a receipt.
func (l *Ledger) Owner(id uint64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, exists := l.owners[id]
	if !exists {
		return "", fmt.Errorf("%w: %d", types.ErrUnknownReceipt, id)
	}
	return owner, nil
}

// Transfer moves the receipt to a new holder. Only the current owner can
// transfer; pending request state travels with the receipt.
func (l *Ledger) Transfer(id uint64, caller, newOwner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, exists := l.owners[id]
	if !exists {
		return fmt.Errorf("%w: %d", types.ErrUnknownReceipt, id)
	}
	if owner != caller {
		return fmt.Errorf("%w: receipt %d is held by %s", types.ErrNotReceiptOwner, id, owner)
	}
	l.owners[id] = newOwner
	ledgerLogger.Info().
		Uint64("receiptID", id).
		Str("from", caller).
		Str("to", newOwner).
		Msg("Receipt transferred")
	return nil
}

// Info returns a copy of the vault-side receipt state.
func (l *Ledger) Info(id uint64) (types.VaultReceiptInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, exists := l.infos[id]
	if !exists {
		return types.VaultReceiptInfo{}, fmt.Errorf("%w: %d", types.ErrUnknownReceipt, id)
	}
	return *info, nil
}

// TotalShares returns outstanding shares across all receipts.
func (l *Ledger) TotalShares() types.Dec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalShares
}

// ShareRatio is the USD value of one share: totalUSD / totalShares, and 1.0
// for an empty vault.
func (l *Ledger) ShareRatio(totalUSD types.Dec) types.Dec {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.totalShares.IsPositive() {
		return types.OneDec()
	}
	return totalUSD.Quo(l.totalShares)
}

func (l *Ledger) get(id uint64) (*types.VaultReceiptInfo, error) {
	info, exists := l.infos[id]
	if !exists {
		return nil, fmt.Errorf("%w: %d", types.ErrUnknownReceipt, id)
	}
	return info, nil
}

// recomputeStatus derives the receipt status from its pending balances,
// keeping an explicit auto-transfer withdraw state.
func recomputeStatus(info *types.VaultReceiptInfo, autoTransfer bool) {
	switch {
	case info.PendingWithdrawShares.IsPositive() && autoTransfer:
		info.Status = types.ReceiptPendingWithdrawAutoTransfer
	case info.PendingWithdrawShares.IsPositive():
		info.Status = types.ReceiptPendingWithdraw
	case info.PendingDepositBalance.IsPositive():
		info.Status = types.ReceiptPendingDeposit
	default:
		info.Status = types.ReceiptNormal
	}
}

// StagePendingDeposit escrows a deposit amount against the receipt.
func (l *Ledger) StagePendingDeposit(id uint64, amount types.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.get(id)
	if err != nil {
		return err
	}
	info.PendingDepositBalance = info.PendingDepositBalance.Add(amount)
	recomputeStatus(info, info.Status == types.ReceiptPendingWithdrawAutoTransfer)
	return nil
}

// UnstagePendingDeposit releases escrow after a cancelled deposit request.
func (l *Ledger) UnstagePendingDeposit(id uint64, amount types.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.get(id)
	if err != nil {
		return err
	}
	if info.PendingDepositBalance.LT(amount) {
		return fmt.Errorf("%w: pending deposit %s < %s", types.ErrInsufficientBalance,
			info.PendingDepositBalance, amount)
	}
	info.PendingDepositBalance = info.PendingDepositBalance.Sub(amount)
	recomputeStatus(info, info.Status == types.ReceiptPendingWithdrawAutoTransfer)
	return nil
}

// SettleDeposit converts escrowed principal into freshly minted shares.
func (l *Ledger) SettleDeposit(id uint64, amount types.Int, shares types.Dec, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.get(id)
	if err != nil {
		return err
	}
	if info.PendingDepositBalance.LT(amount) {
		return fmt.Errorf("%w: pending deposit %s < %s", types.ErrInsufficientBalance,
			info.PendingDepositBalance, amount)
	}
	info.PendingDepositBalance = info.PendingDepositBalance.Sub(amount)
	info.Shares = info.Shares.Add(shares)
	info.LastDepositTime = now
	l.totalShares = l.totalShares.Add(shares)
	recomputeStatus(info, info.Status == types.ReceiptPendingWithdrawAutoTransfer)
	ledgerLogger.Info().
		Uint64("receiptID", id).
		Str("amount", amount.String()).
		Str("shares", shares.String()).
		Str("totalShares", l.totalShares.String()).
		Msg("Deposit settled")
	return nil
}

// CommitPendingWithdraw reserves shares for a withdraw request. Enforced
// against available shares at request time: shares already committed to other
// pending withdrawals cannot be committed twice.
func (l *Ledger) CommitPendingWithdraw(id uint64, shares types.Dec, autoTransfer bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.get(id)
	if err != nil {
		return err
	}
	if shares.GT(info.AvailableShares()) {
		return fmt.Errorf("%w: requested %s, available %s (held %s, already pending %s)",
			types.ErrInsufficientShares, shares, info.AvailableShares(), info.Shares, info.PendingWithdrawShares)
	}
	info.PendingWithdrawShares = info.PendingWithdrawShares.Add(shares)
	recomputeStatus(info, autoTransfer)
	return nil
}

// ReleasePendingWithdraw frees reserved shares after a cancelled request.
func (l *Ledger) ReleasePendingWithdraw(id uint64, shares types.Dec) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.get(id)
	if err != nil {
		return err
	}
	if shares.GT(info.PendingWithdrawShares) {
		return fmt.Errorf("%w: releasing %s > pending %s", types.ErrInsufficientShares,
			shares, info.PendingWithdrawShares)
	}
	info.PendingWithdrawShares = info.PendingWithdrawShares.Sub(shares)
	recomputeStatus(info, info.Status == types.ReceiptPendingWithdrawAutoTransfer)
	return nil
}

// SettleWithdraw burns reserved shares and credits principal. Unless the
// request asked for auto-transfer, principal parks as claimable balance on
// the receipt until the owner pulls it.
func (l *Ledger) SettleWithdraw(id uint64, shares types.Dec, principal types.Int, autoTransfer bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.get(id)
	if err != nil {
		return err
	}
	if shares.GT(info.PendingWithdrawShares) {
		return fmt.Errorf("%w: settling %s > pending %s", types.ErrInsufficientShares,
			shares, info.PendingWithdrawShares)
	}
	if shares.GT(info.Shares) {
		return fmt.Errorf("%w: settling %s > held %s", types.ErrInsufficientShares,
			shares, info.Shares)
	}
	info.PendingWithdrawShares = info.PendingWithdrawShares.Sub(shares)
	info.Shares = info.Shares.Sub(shares)
	l.totalShares = l.totalShares.Sub(shares)
	if !autoTransfer {
		info.ClaimablePrincipal = info.ClaimablePrincipal.Add(principal)
	}
	recomputeStatus(info, info.Status == types.ReceiptPendingWithdrawAutoTransfer)
	ledgerLogger.Info().
		Uint64("receiptID", id).
		Str("shares", shares.String()).
		Str("principal", principal.String()).
		Bool("autoTransfer", autoTransfer).
		Str("totalShares", l.totalShares.String()).
		Msg("Withdrawal settled")
	return nil
}

// ClaimPrincipal zeroes and returns the receipt's claimable balance.
func (l *Ledger) ClaimPrincipal(id uint64) (types.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.get(id)
	if err != nil {
		return types.ZeroInt(), err
	}
	claimed := info.ClaimablePrincipal
	info.ClaimablePrincipal = types.ZeroInt()
	return claimed, nil
}

// Receipts returns all receipt ids in ascending order.
func (l *Ledger) Receipts() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]uint64, 0, len(l.owners))
	for id := uint64(1); id < l.nextReceiptID; id++ {
		if _, exists := l.owners[id]; exists {
			ids = append(ids, id)
		}
	}
	return ids
}
