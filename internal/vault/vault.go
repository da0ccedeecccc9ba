/*

Vault state machine: the single source of truth.

One mutex guards all mutation; externally-triggered steps (user requests,
operator executions, operation phases) each run as one atomic section against
it. The coarse status gates entry points, and the operation lease on top of it
carries ownership and expiry, so a stuck operation is recoverable through the
admin force-close path instead of wedging the vault forever.

Value accounting: free principal is priced live through the oracle gateway;
external positions are priced through the valuation registry, which fails
closed if any entry is outside the freshness window.

*/

package vault

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/halcyon-labs/yve/internal/adaptor"
	"github.com/halcyon-labs/yve/internal/ledger"
	"github.com/halcyon-labs/yve/internal/logger"
	"github.com/halcyon-labs/yve/internal/losslimit"
	"github.com/halcyon-labs/yve/internal/oracle"
	"github.com/halcyon-labs/yve/internal/requests"
	"github.com/halcyon-labs/yve/internal/types"
	"github.com/halcyon-labs/yve/internal/utils"
	"github.com/halcyon-labs/yve/internal/valuation"
)

// Vault custodies the principal asset and all external positions.
type Vault struct {
	mu sync.Mutex

	id     uint64
	params types.VaultParams

	status              types.VaultStatus
	needsReconciliation bool

	// freePrincipal is vault-owned principal in raw units. Escrowed request
	// amounts and settled-but-unclaimed withdrawals are tracked separately;
	// neither belongs to the share holders.
	freePrincipal    types.Int
	escrowPrincipal  types.Int
	claimablePot     types.Int
	accruedFees      types.Int

	custody map[types.AssetKind]types.Position
	lease   *types.OperationLease

	registry *valuation.Registry
	ledger   *ledger.Ledger
	buffer   *requests.Buffer
	losses   *losslimit.Tracker
	gateway  *oracle.Gateway
	adaptors map[types.AssetKind]adaptor.Adaptor
	caps     *Capabilities

	// genesis anchors epoch numbering.
	genesis time.Time

	log zerolog.Logger
}

// New creates a vault. The returned admin capability is the root of all
// privileged access; main hands it to the configured admin address.
func New(id uint64, params types.VaultParams, gateway *oracle.Gateway, genesis time.Time) (*Vault, uuid.UUID) {
	caps, adminCap := NewCapabilities()
	v := &Vault{
		id:              id,
		params:          params,
		status:          types.StatusNormal,
		freePrincipal:   types.ZeroInt(),
		escrowPrincipal: types.ZeroInt(),
		claimablePot:    types.ZeroInt(),
		accruedFees:     types.ZeroInt(),
		custody:         make(map[types.AssetKind]types.Position),
		registry:        valuation.NewRegistry(params.MaxUpdateInterval),
		ledger:          ledger.NewLedger(),
		buffer:          requests.NewBuffer(),
		losses:          losslimit.NewTracker(params.LossToleranceBps),
		gateway:         gateway,
		adaptors:        make(map[types.AssetKind]adaptor.Adaptor),
		caps:            caps,
		genesis:         genesis,
		log:             logger.GetForComponent("vault"),
	}
	return v, adminCap
}

// RegisterAdaptor installs the adaptor for its kind.
func (v *Vault) RegisterAdaptor(a adaptor.Adaptor) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	kind := a.Kind()
	if !kind.Valid() || kind == types.KindPrincipal {
		return fmt.Errorf("%w: cannot register adaptor for %s", types.ErrUnknownAsset, kind)
	}
	if _, exists := v.adaptors[kind]; exists {
		return fmt.Errorf("adaptor already registered for %s", kind)
	}
	v.adaptors[kind] = a
	return nil
}

// Capabilities exposes the capability registry for issuing and freezing
// operator tokens.
func (v *Vault) Capabilities() *Capabilities { return v.caps }

// Ledger exposes read access to the share ledger.
func (v *Vault) Ledger() *ledger.Ledger { return v.ledger }

// Buffer exposes read access to the request queue.
func (v *Vault) Buffer() *requests.Buffer { return v.buffer }

// Registry exposes read access to the valuation registry.
func (v *Vault) Registry() *valuation.Registry { return v.registry }

// IsBorrowed reports whether an open operation currently holds the kind.
func (v *Vault) IsBorrowed(kind types.AssetKind) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.lease == nil {
		return false
	}
	_, borrowed := v.lease.Record.Borrowed[kind]
	return borrowed
}

// epochAt maps a wall-clock instant to an accounting epoch number.
func (v *Vault) epochAt(now time.Time) uint64 {
	if now.Before(v.genesis) {
		return 1
	}
	return uint64(now.Sub(v.genesis)/v.params.EpochDuration) + 1
}

// principalUSDLocked prices the free principal through the gateway.
func (v *Vault) principalUSDLocked(now time.Time) (types.Dec, error) {
	price, _, err := v.gateway.Price(types.KindPrincipal, now)
	if err != nil {
		return types.ZeroDec(), err
	}
	return utils.AmountToUSD(v.freePrincipal, v.params.PrincipalPrecision, price)
}

// totalUSDLocked computes the vault's total value, failing closed if the
// principal price or any tracked position value is stale.
func (v *Vault) totalUSDLocked(now time.Time) (types.Dec, error) {
	principalUSD, err := v.principalUSDLocked(now)
	if err != nil {
		return types.ZeroDec(), fmt.Errorf("principal valuation: %w", err)
	}
	externalUSD, err := v.registry.TotalUSD(now)
	if err != nil {
		return types.ZeroDec(), err
	}
	return principalUSD.Add(externalUSD), nil
}

// TotalUSD computes the vault's total value under the all-fresh rule.
func (v *Vault) TotalUSD(now time.Time) (types.Dec, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalUSDLocked(now)
}

// ShareRatio returns the USD value of one share at the current valuation.
func (v *Vault) ShareRatio(now time.Time) (types.Dec, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	total, err := v.totalUSDLocked(now)
	if err != nil {
		return types.ZeroDec(), err
	}
	return v.ledger.ShareRatio(total), nil
}

// Status returns the current vault status.
func (v *Vault) Status() types.VaultStatus {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// NeedsReconciliation reports whether a force-close left the books dirty.
func (v *Vault) NeedsReconciliation() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.needsReconciliation
}

// FreePrincipal returns vault-owned principal in raw units.
func (v *Vault) FreePrincipal() types.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.freePrincipal
}

// AccruedFees returns collected-but-unretrieved fees in raw principal units.
func (v *Vault) AccruedFees() types.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.accruedFees
}

// Lease returns a copy of the open operation lease, if any.
func (v *Vault) Lease() (types.OperationLease, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.lease == nil {
		return types.OperationLease{}, false
	}
	leaseCopy := *v.lease
	leaseCopy.Record = v.lease.Record.Clone()
	return leaseCopy, true
}

// LossState returns the per-epoch loss ledger.
func (v *Vault) LossState() types.LossToleranceState {
	return v.losses.State()
}

// Params returns the vault parameters.
func (v *Vault) Params() types.VaultParams {
	return v.params
}

// ID returns the vault id.
func (v *Vault) ID() uint64 { return v.id }

// Custody returns the positions currently held by the vault, kind-keyed.
func (v *Vault) Custody() map[types.AssetKind]types.Position {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[types.AssetKind]types.Position, len(v.custody))
	for kind, pos := range v.custody {
		out[kind] = pos
	}
	return out
}
