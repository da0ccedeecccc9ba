package adaptor

import (
	"fmt"
	"sync"
	"time"

	"github.com/halcyon-labs/yve/internal/logger"
	"github.com/halcyon-labs/yve/internal/types"
	"github.com/halcyon-labs/yve/internal/utils"
)

var lendingLogger = logger.GetForComponent("lending_adaptor")

// lendingObligation is the protocol-side state behind one lending handle:
// principal supplied as collateral and principal borrowed against it.
type lendingObligation struct {
	SupplyUnits types.Int
	BorrowUnits types.Int
	Borrowed    bool
}

// LendingAdaptor shims an external lending market. Positions are leveraged:
// their economic value is supply minus debt, and a position whose health
// factor has dropped below one is refused at valuation rather than valued.
type LendingAdaptor struct {
	mu sync.Mutex

	precision int
	// liquidationThreshold scales collateral for the health factor.
	liquidationThreshold types.Dec
	obligations          map[string]*lendingObligation
}

// NewLendingAdaptor creates a shim with the given principal precision and
// liquidation threshold (e.g. 0.85).
func NewLendingAdaptor(precision int, liquidationThreshold types.Dec) *LendingAdaptor {
	return &LendingAdaptor{
		precision:            precision,
		liquidationThreshold: liquidationThreshold,
		obligations:          make(map[string]*lendingObligation),
	}
}

func (a *LendingAdaptor) Kind() types.AssetKind { return types.KindLending }

// OpenObligation registers protocol state behind a new handle.
func (a *LendingAdaptor) OpenObligation(handle string, supply, borrow types.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.obligations[handle] = &lendingObligation{SupplyUnits: supply, BorrowUnits: borrow}
}

// SetObligation mutates protocol state, standing in for what the external
// market does while the position is deployed.
func (a *LendingAdaptor) SetObligation(handle string, supply, borrow types.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ob, exists := a.obligations[handle]
	if !exists {
		return fmt.Errorf("%w: unknown obligation %s", types.ErrAssetIdentityMismatch, handle)
	}
	ob.SupplyUnits = supply
	ob.BorrowUnits = borrow
	return nil
}

func (a *LendingAdaptor) lookup(pos types.Position) (*lendingObligation, error) {
	if pos.Kind != types.KindLending {
		return nil, fmt.Errorf("%w: expected %s, got %s", types.ErrAssetIdentityMismatch, types.KindLending, pos.Kind)
	}
	ob, exists := a.obligations[pos.Handle]
	if !exists {
		return nil, fmt.Errorf("%w: unknown obligation %s", types.ErrAssetIdentityMismatch, pos.Handle)
	}
	return ob, nil
}

// Borrow hands exclusive custody of the obligation to the caller.
func (a *LendingAdaptor) Borrow(pos types.Position) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ob, err := a.lookup(pos)
	if err != nil {
		return err
	}
	if ob.Borrowed {
		return fmt.Errorf("obligation %s is already checked out", pos.Handle)
	}
	ob.Borrowed = true
	return nil
}

// Return ends custody.
func (a *LendingAdaptor) Return(pos types.Position) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ob, err := a.lookup(pos)
	if err != nil {
		return err
	}
	if !ob.Borrowed {
		return fmt.Errorf("obligation %s was not checked out", pos.Handle)
	}
	ob.Borrowed = false
	return nil
}

// Value reports supply minus debt at the current principal price. A position
// below the health threshold fails loudly instead of valuing.
func (a *LendingAdaptor) Value(pos types.Position, src PriceSource, now time.Time) (types.Dec, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ob, err := a.lookup(pos)
	if err != nil {
		return types.ZeroDec(), err
	}

	price, _, err := src.Price(types.KindPrincipal, now)
	if err != nil {
		return types.ZeroDec(), fmt.Errorf("cannot price obligation %s: %w", pos.Handle, err)
	}

	supplyUSD, err := utils.AmountToUSD(ob.SupplyUnits, a.precision, price)
	if err != nil {
		return types.ZeroDec(), fmt.Errorf("supply leg of %s: %w", pos.Handle, err)
	}
	borrowUSD, err := utils.AmountToUSD(ob.BorrowUnits, a.precision, price)
	if err != nil {
		return types.ZeroDec(), fmt.Errorf("borrow leg of %s: %w", pos.Handle, err)
	}

	if borrowUSD.IsPositive() {
		healthFactor := supplyUSD.Mul(a.liquidationThreshold).Quo(borrowUSD)
		if healthFactor.LT(types.OneDec()) {
			lendingLogger.Error().
				Str("handle", pos.Handle).
				Str("healthFactor", healthFactor.String()).
				Msg("Obligation is insolvent, refusing to value")
			return types.ZeroDec(), fmt.Errorf("%w: obligation %s health factor %s",
				types.ErrPositionUnhealthy, pos.Handle, healthFactor)
		}
	}

	// Signed: a position can legitimately be worth less than nothing on the
	// books even while still above the liquidation threshold.
	return supplyUSD.Sub(borrowUSD), nil
}
