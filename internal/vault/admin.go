package vault

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/halcyon-labs/yve/internal/types"
)

// Disable halts the vault. Rejected while an operation holds a live lease;
// the operator must close it (or the admin must force-close an expired one).
func (v *Vault) Disable(adminCap uuid.UUID, now time.Time) error {
	if err := v.caps.CheckAdmin(adminCap); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status == types.StatusDuringOperation {
		if v.lease != nil && !v.lease.Expired(now) {
			return fmt.Errorf("%w: cannot disable under a live lease", types.ErrStatusMismatch)
		}
		return fmt.Errorf("%w: force-close the expired operation first", types.ErrStatusMismatch)
	}
	v.status = types.StatusDisabled
	v.log.Warn().Uint64("vaultID", v.id).Msg("Vault disabled by admin")
	return nil
}

// Enable returns a disabled vault to NORMAL. A vault flagged for
// reconciliation must be reconciled first.
func (v *Vault) Enable(adminCap uuid.UUID) error {
	if err := v.caps.CheckAdmin(adminCap); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != types.StatusDisabled {
		return fmt.Errorf("%w: vault is %s", types.ErrStatusMismatch, v.status)
	}
	if v.needsReconciliation {
		return types.ErrNeedsReconciliation
	}
	v.status = types.StatusNormal
	v.log.Info().Uint64("vaultID", v.id).Msg("Vault re-enabled by admin")
	return nil
}

// MarkReconciled clears the dirty-books flag after a manual audit of the
// custody and registry state left behind by a force-close. The vault stays
// DISABLED until Enable.
func (v *Vault) MarkReconciled(adminCap uuid.UUID) error {
	if err := v.caps.CheckAdmin(adminCap); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.needsReconciliation {
		return fmt.Errorf("%w: vault is not flagged for reconciliation", types.ErrStatusMismatch)
	}
	v.needsReconciliation = false
	v.log.Info().Uint64("vaultID", v.id).Msg("Vault marked reconciled")
	return nil
}

// ResetLossBaseline re-bases the current epoch's loss budget on the vault's
// fresh total value. Requires every tracked value fresh.
func (v *Vault) ResetLossBaseline(adminCap uuid.UUID, now time.Time) error {
	if err := v.caps.CheckAdmin(adminCap); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	total, err := v.totalUSDLocked(now)
	if err != nil {
		return fmt.Errorf("cannot value vault for loss baseline: %w", err)
	}
	epoch := v.epochAt(now)
	v.losses.Reset(epoch, total, now)
	v.log.Info().
		Uint64("epoch", epoch).
		Str("baseUSD", total.String()).
		Msg("Loss baseline reset by admin")
	return nil
}

// IssueOperatorCap mints an operator capability bound to an address.
func (v *Vault) IssueOperatorCap(adminCap uuid.UUID, address string) (uuid.UUID, error) {
	return v.caps.IssueOperator(adminCap, address)
}

// FreezeOperator takes effect on the operator's NEXT privileged call; calls
// already past the capability check complete.
func (v *Vault) FreezeOperator(adminCap, opCap uuid.UUID) error {
	return v.caps.FreezeOperator(adminCap, opCap)
}

func (v *Vault) UnfreezeOperator(adminCap, opCap uuid.UUID) error {
	return v.caps.UnfreezeOperator(adminCap, opCap)
}
