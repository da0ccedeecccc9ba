/*

Operation phase primitives.

Each phase of the three-phase protocol is one atomic section against the
vault lock. The orchestrator drives these; nothing else may move the vault
in or out of DURING_OPERATION.

Phase 3 is idempotently retryable: every failure path before the final
commit leaves the lease, the record (including the per-kind updated marks)
and the status untouched.

*/

package vault

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/halcyon-labs/yve/internal/types"
)

// validateLeaseLocked checks id, opener and expiry against the open lease.
func (v *Vault) validateLeaseLocked(leaseID, operator uuid.UUID, now time.Time) error {
	if v.lease == nil {
		return fmt.Errorf("%w: no operation is open", types.ErrStatusMismatch)
	}
	if v.lease.ID != leaseID || v.lease.Operator != operator {
		return fmt.Errorf("%w: lease %s opened by %s", types.ErrLeaseMismatch, v.lease.ID, v.lease.Operator)
	}
	if v.lease.Expired(now) {
		return fmt.Errorf("%w: expired at %s", types.ErrLeaseExpired, v.lease.Expiry)
	}
	return nil
}

// BeginOperation opens an operation: snapshots the vault's fresh total value
// and total shares, records the oracle fingerprint, rolls the loss baseline
// on an epoch boundary, removes the named positions from custody and hands
// them to the caller under a fresh lease.
func (v *Vault) BeginOperation(operator uuid.UUID, kinds []types.AssetKind,
	now time.Time) (types.OperationLease, []types.Position, error) {

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != types.StatusNormal {
		return types.OperationLease{}, nil, fmt.Errorf("%w: operations require NORMAL, vault is %s",
			types.ErrStatusMismatch, v.status)
	}
	if v.needsReconciliation {
		return types.OperationLease{}, nil, types.ErrNeedsReconciliation
	}
	if v.lease != nil {
		return types.OperationLease{}, nil, fmt.Errorf("%w: %s", types.ErrLeaseHeld, v.lease.ID)
	}
	// An empty borrow set is legal: the first operation of a vault's life
	// only deploys principal.
	totalBefore, err := v.totalUSDLocked(now)
	if err != nil {
		return types.OperationLease{}, nil, fmt.Errorf("cannot snapshot vault value: %w", err)
	}
	totalShares := v.ledger.TotalShares()

	// Epoch roll: the first operation of a new epoch re-bases the loss
	// budget on the value the epoch starts from.
	epoch := v.epochAt(now)
	if v.losses.State().Epoch != epoch {
		v.losses.Reset(epoch, totalBefore, now)
	}

	borrowed := make(map[types.AssetKind]types.Position, len(kinds))
	positions := make([]types.Position, 0, len(kinds))
	for _, kind := range kinds {
		pos, held := v.custody[kind]
		if !held {
			return types.OperationLease{}, nil, fmt.Errorf("%w: vault does not hold %s",
				types.ErrUnknownAsset, kind)
		}
		if _, dup := borrowed[kind]; dup {
			return types.OperationLease{}, nil, fmt.Errorf("asset kind %s listed twice", kind)
		}
		if _, exists := v.adaptors[kind]; !exists {
			return types.OperationLease{}, nil, fmt.Errorf("%w: no adaptor for %s",
				types.ErrUnknownAsset, kind)
		}
		borrowed[kind] = pos
		positions = append(positions, pos)
	}

	// Hand custody to the adaptors only after every kind validated. On a
	// failed checkout, roll back exactly the checkouts that succeeded, in
	// order.
	checkedOut := make([]types.Position, 0, len(positions))
	for _, pos := range positions {
		if err := v.adaptors[pos.Kind].Borrow(pos); err != nil {
			for _, prev := range checkedOut {
				if rerr := v.adaptors[prev.Kind].Return(prev); rerr != nil {
					v.log.Error().Err(rerr).
						Str("kind", prev.Kind.String()).
						Str("handle", prev.Handle).
						Msg("Could not roll back adaptor checkout")
				}
			}
			return types.OperationLease{}, nil, fmt.Errorf("adaptor borrow for %s: %w", pos.Kind, err)
		}
		checkedOut = append(checkedOut, pos)
	}
	for kind := range borrowed {
		delete(v.custody, kind)
		v.gateway.MarkBorrowed(kind)
	}

	record := &types.OperationRecord{
		Borrowed:          borrowed,
		Updated:           make(map[types.AssetKind]bool, len(borrowed)),
		TotalUSDBefore:    totalBefore,
		TotalSharesBefore: totalShares,
		PriceFingerprint:  v.gateway.Fingerprint(),
	}
	v.lease = &types.OperationLease{
		ID:       uuid.New(),
		Operator: operator,
		OpenedAt: now,
		Expiry:   now.Add(v.params.OperationLeaseTTL),
		Record:   record,
	}
	v.status = types.StatusDuringOperation

	v.log.Info().
		Str("leaseID", v.lease.ID.String()).
		Str("operator", operator.String()).
		Str("totalUSDBefore", totalBefore.String()).
		Str("totalShares", totalShares.String()).
		Uint64("epoch", epoch).
		Int("borrowedKinds", len(borrowed)).
		Time("leaseExpiry", v.lease.Expiry).
		Msg("Operation opened")

	leaseCopy := *v.lease
	leaseCopy.Record = record.Clone()
	return leaseCopy, positions, nil
}

// ReturnAssets re-inserts the borrowed positions. Every borrowed kind must be
// present among the returned set with the SAME identity that left custody,
// not merely the same kind. Flips value updating open.
func (v *Vault) ReturnAssets(leaseID, operator uuid.UUID, returned []types.Position, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != types.StatusDuringOperation {
		return fmt.Errorf("%w: no operation in progress, vault is %s", types.ErrStatusMismatch, v.status)
	}
	if err := v.validateLeaseLocked(leaseID, operator, now); err != nil {
		return err
	}
	record := v.lease.Record
	if record.ValueUpdateEnabled {
		return fmt.Errorf("%w: assets already returned for lease %s", types.ErrStatusMismatch, leaseID)
	}

	byKind := make(map[types.AssetKind]types.Position, len(returned))
	for _, pos := range returned {
		byKind[pos.Kind] = pos
	}
	for kind, lent := range record.Borrowed {
		got, present := byKind[kind]
		if !present {
			return fmt.Errorf("%w: borrowed %s was not returned", types.ErrAssetIdentityMismatch, kind)
		}
		if !lent.Same(got) {
			return fmt.Errorf("%w: %s returned handle %q, lent %q",
				types.ErrAssetIdentityMismatch, kind, got.Handle, lent.Handle)
		}
	}

	for kind, pos := range record.Borrowed {
		if err := v.adaptors[kind].Return(pos); err != nil {
			return fmt.Errorf("adaptor return for %s: %w", kind, err)
		}
		v.custody[kind] = pos
		v.gateway.ReleaseBorrowed(kind)
	}
	record.ValueUpdateEnabled = true

	v.log.Info().
		Str("leaseID", leaseID.String()).
		Int("returned", len(record.Borrowed)).
		Msg("Borrowed assets returned, value updates enabled")
	return nil
}

// FinishAssetValue records a revaluation into the registry and, when the kind
// belongs to the open operation's borrowed set, marks it updated. The mark is
// idempotent: repeat reports for the same kind in one cycle count once.
func (v *Vault) FinishAssetValue(kind types.AssetKind, usd types.Dec, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status == types.StatusDisabled {
		return fmt.Errorf("%w: no value updates while disabled", types.ErrVaultDisabled)
	}
	if err := v.registry.FinishUpdate(kind, usd, now); err != nil {
		return err
	}
	if v.lease != nil {
		record := v.lease.Record
		if _, borrowed := record.Borrowed[kind]; borrowed && record.ValueUpdateEnabled {
			record.Updated[kind] = true
		}
	}
	return nil
}

// CloseOperation is phase 3. Every precondition failure aborts without
// touching the lease or record, leaving the close retryable; only the final
// commit flips the vault back to NORMAL.
func (v *Vault) CloseOperation(leaseID, operator uuid.UUID, expectedShares types.Dec,
	now time.Time) (types.OperationSnapshot, error) {

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != types.StatusDuringOperation {
		return types.OperationSnapshot{}, fmt.Errorf("%w: no operation in progress, vault is %s",
			types.ErrStatusMismatch, v.status)
	}
	if err := v.validateLeaseLocked(leaseID, operator, now); err != nil {
		return types.OperationSnapshot{}, err
	}
	record := v.lease.Record
	if !record.ValueUpdateEnabled {
		return types.OperationSnapshot{}, fmt.Errorf("%w: assets have not been returned",
			types.ErrStatusMismatch)
	}
	if !record.FullyUpdated() {
		var missing []string
		for kind := range record.Borrowed {
			if !record.Updated[kind] {
				missing = append(missing, kind.String())
			}
		}
		return types.OperationSnapshot{}, fmt.Errorf("%w: missing %v", types.ErrValueIncomplete, missing)
	}
	if fp := v.gateway.Fingerprint(); fp != record.PriceFingerprint {
		return types.OperationSnapshot{}, fmt.Errorf("%w: opened against %s, now %s",
			types.ErrPriceSourceChanged, record.PriceFingerprint, fp)
	}

	totalAfter, err := v.totalUSDLocked(now)
	if err != nil {
		return types.OperationSnapshot{}, fmt.Errorf("cannot value vault at close: %w", err)
	}

	totalShares := v.ledger.TotalShares()
	if !totalShares.Equal(record.TotalSharesBefore) {
		return types.OperationSnapshot{}, fmt.Errorf("%w: %s at open, %s now",
			types.ErrSharesChanged, record.TotalSharesBefore, totalShares)
	}
	if !expectedShares.IsNil() && !totalShares.Equal(expectedShares) {
		return types.OperationSnapshot{}, fmt.Errorf("%w: caller expected %s, ledger has %s",
			types.ErrSharesChanged, expectedShares, totalShares)
	}

	loss := types.ZeroDec()
	if record.TotalUSDBefore.GT(totalAfter) {
		loss = record.TotalUSDBefore.Sub(totalAfter)
	}
	// Check-then-commit inside the tracker: a rejected loss leaves the epoch
	// counter untouched and the operation open.
	if err := v.losses.Update(loss); err != nil {
		return types.OperationSnapshot{}, err
	}

	snapshot := types.OperationSnapshot{
		OperationID:    v.lease.ID.String(),
		Operator:       v.lease.Operator.String(),
		Epoch:          v.losses.State().Epoch,
		OpenedAt:       v.lease.OpenedAt,
		ClosedAt:       now,
		BorrowedKinds:  borrowedKindStrings(record),
		TotalUSDBefore: record.TotalUSDBefore.String(),
		TotalUSDAfter:  totalAfter.String(),
		TotalShares:    totalShares.String(),
		LossUSD:        loss.String(),
	}

	v.lease = nil
	v.status = types.StatusNormal

	v.log.Info().
		Str("operationID", snapshot.OperationID).
		Str("totalUSDBefore", snapshot.TotalUSDBefore).
		Str("totalUSDAfter", snapshot.TotalUSDAfter).
		Str("lossUSD", snapshot.LossUSD).
		Msg("Operation closed")
	return snapshot, nil
}

// ForceCloseOperation is the admin escape hatch for a stuck operation. It
// requires the lease to have EXPIRED; a live operation can never be stolen
// out from under its operator. Compensating action: the lease is cleared, the
// vault goes DISABLED with dirty books, new deposits stop, and best-effort
// withdrawals stay open.
func (v *Vault) ForceCloseOperation(adminCap uuid.UUID, leaseID uuid.UUID,
	now time.Time) (types.OperationSnapshot, error) {

	if err := v.caps.CheckAdmin(adminCap); err != nil {
		return types.OperationSnapshot{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != types.StatusDuringOperation || v.lease == nil {
		return types.OperationSnapshot{}, fmt.Errorf("%w: no operation in progress",
			types.ErrStatusMismatch)
	}
	if v.lease.ID != leaseID {
		return types.OperationSnapshot{}, fmt.Errorf("%w: open lease is %s",
			types.ErrLeaseMismatch, v.lease.ID)
	}
	if !v.lease.Expired(now) {
		return types.OperationSnapshot{}, fmt.Errorf("%w: lease valid until %s",
			types.ErrLeaseNotExpired, v.lease.Expiry)
	}

	record := v.lease.Record
	// Positions that never came back go to the books as custody again so the
	// reconciliation pass can see them, and their adaptor checkouts are
	// released so reconciliation can borrow them afterwards. The dirty flag
	// keeps their values quarantined from normal accounting.
	for kind, pos := range record.Borrowed {
		if _, present := v.custody[kind]; !present {
			if a, exists := v.adaptors[kind]; exists {
				if err := a.Return(pos); err != nil {
					v.log.Error().Err(err).
						Str("kind", kind.String()).
						Str("handle", pos.Handle).
						Msg("Could not release adaptor checkout during force close")
				}
			}
			v.custody[kind] = pos
		}
		v.gateway.ReleaseBorrowed(kind)
	}

	snapshot := types.OperationSnapshot{
		OperationID:    v.lease.ID.String(),
		Operator:       v.lease.Operator.String(),
		Epoch:          v.losses.State().Epoch,
		OpenedAt:       v.lease.OpenedAt,
		ClosedAt:       now,
		BorrowedKinds:  borrowedKindStrings(record),
		TotalUSDBefore: record.TotalUSDBefore.String(),
		TotalUSDAfter:  "",
		TotalShares:    record.TotalSharesBefore.String(),
		LossUSD:        "",
		Forced:         true,
	}

	v.lease = nil
	v.status = types.StatusDisabled
	v.needsReconciliation = true

	v.log.Error().
		Str("operationID", snapshot.OperationID).
		Msg("Operation force-closed: vault disabled pending manual reconciliation")
	return snapshot, nil
}

func borrowedKindStrings(record *types.OperationRecord) []string {
	kinds := make([]string, 0, len(record.Borrowed))
	for kind := range record.Borrowed {
		kinds = append(kinds, kind.String())
	}
	return kinds
}

// DeployPrincipal converts free principal into a new external position during
// an open operation. The new position's registry entry starts stale, so the
// all-fresh rule forces it to be valued before the operation can close.
func (v *Vault) DeployPrincipal(leaseID, operator uuid.UUID, pos types.Position,
	amount types.Int, now time.Time) error {

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != types.StatusDuringOperation {
		return fmt.Errorf("%w: deployment requires an open operation", types.ErrStatusMismatch)
	}
	if err := v.validateLeaseLocked(leaseID, operator, now); err != nil {
		return err
	}
	if !pos.Kind.Valid() || pos.Kind == types.KindPrincipal {
		return fmt.Errorf("%w: %s", types.ErrUnknownAsset, pos.Kind)
	}
	if _, exists := v.custody[pos.Kind]; exists {
		return fmt.Errorf("vault already holds a %s position", pos.Kind)
	}
	if _, borrowed := v.lease.Record.Borrowed[pos.Kind]; borrowed {
		return fmt.Errorf("%w: %s is borrowed by this operation", types.ErrLeaseHeld, pos.Kind)
	}
	if v.freePrincipal.LT(amount) {
		return fmt.Errorf("%w: free principal %s < %s", types.ErrInsufficientBalance,
			v.freePrincipal, amount)
	}
	if _, exists := v.adaptors[pos.Kind]; !exists {
		return fmt.Errorf("%w: no adaptor for %s", types.ErrUnknownAsset, pos.Kind)
	}

	v.freePrincipal = v.freePrincipal.Sub(amount)
	v.custody[pos.Kind] = pos
	if err := v.registry.Track(pos.Kind); err != nil {
		return err
	}

	v.log.Info().
		Str("leaseID", leaseID.String()).
		Str("kind", pos.Kind.String()).
		Str("handle", pos.Handle).
		Str("principalSpent", amount.String()).
		Msg("Principal deployed into new position")
	return nil
}

// UnwindPosition dissolves a borrowed position back into principal during an
// open operation. The kind leaves the borrowed set (nothing remains to
// revalue) and its registry entry is dropped.
func (v *Vault) UnwindPosition(leaseID, operator uuid.UUID, kind types.AssetKind,
	principalReceived types.Int, now time.Time) error {

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != types.StatusDuringOperation {
		return fmt.Errorf("%w: unwinding requires an open operation", types.ErrStatusMismatch)
	}
	if err := v.validateLeaseLocked(leaseID, operator, now); err != nil {
		return err
	}
	record := v.lease.Record
	pos, borrowed := record.Borrowed[kind]
	if !borrowed {
		return fmt.Errorf("%w: %s is not borrowed by this operation", types.ErrUnknownAsset, kind)
	}
	if record.ValueUpdateEnabled {
		return fmt.Errorf("%w: cannot unwind after assets were returned", types.ErrStatusMismatch)
	}
	if principalReceived.IsNegative() {
		return fmt.Errorf("principal received cannot be negative")
	}

	delete(record.Borrowed, kind)
	delete(record.Updated, kind)
	v.gateway.ReleaseBorrowed(kind)
	v.registry.Untrack(kind)
	v.freePrincipal = v.freePrincipal.Add(principalReceived)

	v.log.Info().
		Str("leaseID", leaseID.String()).
		Str("kind", kind.String()).
		Str("handle", pos.Handle).
		Str("principalReceived", principalReceived.String()).
		Msg("Position unwound to principal")
	return nil
}
