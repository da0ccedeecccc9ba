/*

Operation orchestrator.

Drives the three-phase protocol against the vault and owns everything the
vault's atomic primitives do not: capability checks before the lock is ever
touched, adaptor revaluation between phase 2 and phase 3, and durable
snapshots of every closed or force-closed operation.

Phases:
  1. Start          borrow positions under a fresh lease
  2. EndWithBag     return the (possibly rearranged) positions
  -  Revalue        report each borrowed kind's post-operation value
  3. EndValueUpdate settle, check losses, flip the vault back to NORMAL

*/

package operation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/halcyon-labs/yve/internal/adaptor"
	"github.com/halcyon-labs/yve/internal/logger"
	"github.com/halcyon-labs/yve/internal/oracle"
	"github.com/halcyon-labs/yve/internal/types"
	"github.com/halcyon-labs/yve/internal/vault"
)

// Store persists operation outcomes. Nil-safe: an orchestrator without a
// store runs purely in memory.
type Store interface {
	SaveOperationSnapshot(snap types.OperationSnapshot) error
	UpsertEpochLossReport(report types.EpochLossReport) error
}

var orcLogger = logger.GetForComponent("orchestrator")

type Orchestrator struct {
	vault    *vault.Vault
	gateway  *oracle.Gateway
	adaptors map[types.AssetKind]adaptor.Adaptor
	store    Store
}

func NewOrchestrator(v *vault.Vault, gateway *oracle.Gateway, store Store) *Orchestrator {
	return &Orchestrator{
		vault:    v,
		gateway:  gateway,
		adaptors: make(map[types.AssetKind]adaptor.Adaptor),
		store:    store,
	}
}

// RegisterAdaptor makes an adaptor available for revaluation. The same
// adaptor must also be registered on the vault.
func (o *Orchestrator) RegisterAdaptor(a adaptor.Adaptor) {
	o.adaptors[a.Kind()] = a
}

// Start opens an operation over the given asset kinds and returns the lease
// plus the borrowed positions.
func (o *Orchestrator) Start(opCap uuid.UUID, kinds []types.AssetKind,
	now time.Time) (types.OperationLease, []types.Position, error) {

	if err := o.vault.Capabilities().CheckOperator(opCap); err != nil {
		return types.OperationLease{}, nil, err
	}

	lease, positions, err := o.vault.BeginOperation(opCap, kinds, now)
	if err != nil {
		orcLogger.Error().Err(err).Msg("Step 1 failed: could not open operation")
		return types.OperationLease{}, nil, err
	}
	orcLogger.Info().
		Str("leaseID", lease.ID.String()).
		Int("borrowed", len(positions)).
		Msg("Step 1 complete: operation opened")
	return lease, positions, nil
}

// EndWithBag returns the borrowed positions to the vault (phase 2).
func (o *Orchestrator) EndWithBag(opCap, leaseID uuid.UUID, returned []types.Position,
	now time.Time) error {

	if err := o.vault.Capabilities().CheckOperator(opCap); err != nil {
		return err
	}
	if err := o.vault.ReturnAssets(leaseID, opCap, returned, now); err != nil {
		orcLogger.Error().Err(err).Str("leaseID", leaseID.String()).Msg("Step 2 failed: asset return rejected")
		return err
	}
	orcLogger.Info().Str("leaseID", leaseID.String()).Msg("Step 2 complete: assets returned")
	return nil
}

// Revalue asks the kind's adaptor for the position's current value and
// reports it to the vault. Must run for every borrowed kind between phase 2
// and phase 3.
func (o *Orchestrator) Revalue(opCap uuid.UUID, kind types.AssetKind, now time.Time) (types.Dec, error) {
	if err := o.vault.Capabilities().CheckOperator(opCap); err != nil {
		return types.Dec{}, err
	}
	a, exists := o.adaptors[kind]
	if !exists {
		return types.Dec{}, fmt.Errorf("%w: no adaptor for %s", types.ErrUnknownAsset, kind)
	}
	pos, held := o.vault.Custody()[kind]
	if !held {
		return types.Dec{}, fmt.Errorf("%w: vault does not hold %s", types.ErrUnknownAsset, kind)
	}

	usd, err := a.Value(pos, o.gateway, now)
	if err != nil {
		orcLogger.Error().Err(err).Str("kind", kind.String()).Msg("Revaluation failed")
		return types.Dec{}, err
	}
	if err := o.vault.FinishAssetValue(kind, usd, now); err != nil {
		return types.Dec{}, err
	}
	orcLogger.Info().
		Str("kind", kind.String()).
		Str("usdValue", usd.String()).
		Msg("Asset revalued")
	return usd, nil
}

// EndValueUpdate closes the operation (phase 3) and persists the outcome.
func (o *Orchestrator) EndValueUpdate(opCap, leaseID uuid.UUID, expectedShares types.Dec,
	now time.Time) (types.OperationSnapshot, error) {

	if err := o.vault.Capabilities().CheckOperator(opCap); err != nil {
		return types.OperationSnapshot{}, err
	}

	snap, err := o.vault.CloseOperation(leaseID, opCap, expectedShares, now)
	if err != nil {
		orcLogger.Error().Err(err).Str("leaseID", leaseID.String()).Msg("Step 3 failed: close rejected")
		return types.OperationSnapshot{}, err
	}
	o.persist(snap, now)
	orcLogger.Info().
		Str("operationID", snap.OperationID).
		Str("lossUSD", snap.LossUSD).
		Msg("Step 3 complete: operation closed")
	return snap, nil
}

// ForceClose is the admin escape hatch for an expired lease.
func (o *Orchestrator) ForceClose(adminCap, leaseID uuid.UUID,
	now time.Time) (types.OperationSnapshot, error) {

	snap, err := o.vault.ForceCloseOperation(adminCap, leaseID, now)
	if err != nil {
		return types.OperationSnapshot{}, err
	}
	o.persist(snap, now)
	return snap, nil
}

// persist writes the snapshot and the epoch loss row. Persistence failures
// are logged, never propagated: the in-memory close already committed.
func (o *Orchestrator) persist(snap types.OperationSnapshot, now time.Time) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveOperationSnapshot(snap); err != nil {
		orcLogger.Error().Err(err).Str("operationID", snap.OperationID).Msg("Could not persist operation snapshot")
	}
	loss := o.vault.LossState()
	report := types.EpochLossReport{
		Epoch:         loss.Epoch,
		BaseUSD:       loss.CurEpochBaseUSD.String(),
		CumulativeUSD: loss.CurEpochLoss.String(),
		ToleranceBps:  o.vault.Params().LossToleranceBps,
		UpdatedAt:     now,
	}
	if err := o.store.UpsertEpochLossReport(report); err != nil {
		orcLogger.Error().Err(err).Uint64("epoch", report.Epoch).Msg("Could not persist epoch loss report")
	}
}
