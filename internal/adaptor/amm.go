package adaptor

import (
	"fmt"
	"sync"
	"time"

	"github.com/halcyon-labs/yve/internal/types"
	"github.com/halcyon-labs/yve/internal/utils"
)

// ammPool is the protocol-side state behind one LP handle: a constant-product
// pool of principal against a paired token, plus the vault's LP share.
type ammPool struct {
	ReservePrincipal types.Int
	ReserveToken     types.Int
	TotalLPShares    types.Dec
	HeldLPShares     types.Dec
	Borrowed         bool
}

// AMMAdaptor shims an external constant-product DEX. The paired token is
// priced through the gateway feed registered under KindAMMPool.
type AMMAdaptor struct {
	mu sync.Mutex

	principalPrecision int
	tokenPrecision     int
	pools              map[string]*ammPool
}

func NewAMMAdaptor(principalPrecision, tokenPrecision int) *AMMAdaptor {
	return &AMMAdaptor{
		principalPrecision: principalPrecision,
		tokenPrecision:     tokenPrecision,
		pools:              make(map[string]*ammPool),
	}
}

func (a *AMMAdaptor) Kind() types.AssetKind { return types.KindAMMPool }

// RegisterPool registers protocol state behind a new handle.
func (a *AMMAdaptor) RegisterPool(handle string, reservePrincipal, reserveToken types.Int, totalLP, heldLP types.Dec) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pools[handle] = &ammPool{
		ReservePrincipal: reservePrincipal,
		ReserveToken:     reserveToken,
		TotalLPShares:    totalLP,
		HeldLPShares:     heldLP,
	}
}

// SetReserves mutates pool reserves, standing in for external swaps moving
// the pool while the position is deployed.
func (a *AMMAdaptor) SetReserves(handle string, reservePrincipal, reserveToken types.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	pool, exists := a.pools[handle]
	if !exists {
		return fmt.Errorf("%w: unknown pool %s", types.ErrAssetIdentityMismatch, handle)
	}
	pool.ReservePrincipal = reservePrincipal
	pool.ReserveToken = reserveToken
	return nil
}

func (a *AMMAdaptor) lookup(pos types.Position) (*ammPool, error) {
	if pos.Kind != types.KindAMMPool {
		return nil, fmt.Errorf("%w: expected %s, got %s", types.ErrAssetIdentityMismatch, types.KindAMMPool, pos.Kind)
	}
	pool, exists := a.pools[pos.Handle]
	if !exists {
		return nil, fmt.Errorf("%w: unknown pool %s", types.ErrAssetIdentityMismatch, pos.Handle)
	}
	return pool, nil
}

func (a *AMMAdaptor) Borrow(pos types.Position) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	pool, err := a.lookup(pos)
	if err != nil {
		return err
	}
	if pool.Borrowed {
		return fmt.Errorf("pool position %s is already checked out", pos.Handle)
	}
	pool.Borrowed = true
	return nil
}

func (a *AMMAdaptor) Return(pos types.Position) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	pool, err := a.lookup(pos)
	if err != nil {
		return err
	}
	if !pool.Borrowed {
		return fmt.Errorf("pool position %s was not checked out", pos.Handle)
	}
	pool.Borrowed = false
	return nil
}

// Value reports the vault's pro-rata share of both reserves at current prices.
func (a *AMMAdaptor) Value(pos types.Position, src PriceSource, now time.Time) (types.Dec, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pool, err := a.lookup(pos)
	if err != nil {
		return types.ZeroDec(), err
	}
	if !pool.TotalLPShares.IsPositive() {
		return types.ZeroDec(), fmt.Errorf("pool %s has no outstanding LP shares", pos.Handle)
	}

	principalPrice, _, err := src.Price(types.KindPrincipal, now)
	if err != nil {
		return types.ZeroDec(), fmt.Errorf("cannot price principal leg of %s: %w", pos.Handle, err)
	}
	tokenPrice, _, err := src.Price(types.KindAMMPool, now)
	if err != nil {
		return types.ZeroDec(), fmt.Errorf("cannot price token leg of %s: %w", pos.Handle, err)
	}

	principalUSD, err := utils.AmountToUSD(pool.ReservePrincipal, a.principalPrecision, principalPrice)
	if err != nil {
		return types.ZeroDec(), fmt.Errorf("principal reserve of %s: %w", pos.Handle, err)
	}
	tokenUSD, err := utils.AmountToUSD(pool.ReserveToken, a.tokenPrecision, tokenPrice)
	if err != nil {
		return types.ZeroDec(), fmt.Errorf("token reserve of %s: %w", pos.Handle, err)
	}

	shareRatio := pool.HeldLPShares.Quo(pool.TotalLPShares)
	return principalUSD.Add(tokenUSD).Mul(shareRatio), nil
}
