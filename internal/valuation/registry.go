/*

Asset Valuation Registry.

Per-kind cache of the latest reported USD value and its timestamp. The total
is all-or-nothing: if any tracked entry is older than the freshness window the
read fails closed with ErrStaleValue instead of summing around the hole.

The window is a tunable, not a hard-coded zero. Zero still works and means
entries must carry the exact query timestamp.

*/

package valuation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/halcyon-labs/yve/internal/logger"
	"github.com/halcyon-labs/yve/internal/types"
)

var registryLogger = logger.GetForComponent("valuation_registry")

// Registry caches per-kind USD values.
type Registry struct {
	mu          sync.RWMutex
	values      map[types.AssetKind]types.AssetValue
	maxInterval time.Duration
}

// NewRegistry creates a registry with the given freshness window.
func NewRegistry(maxInterval time.Duration) *Registry {
	return &Registry{
		values:      make(map[types.AssetKind]types.AssetValue),
		maxInterval: maxInterval,
	}
}

// Track adds a kind to the tracked set with a zero, already-stale entry. The
// first TotalUSD after Track fails until the kind is valued.
func (r *Registry) Track(kind types.AssetKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", types.ErrUnknownAsset, kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.values[kind]; !exists {
		r.values[kind] = types.AssetValue{USDValue: types.ZeroDec()}
	}
	return nil
}

// Untrack removes a kind whose position has been fully unwound.
func (r *Registry) Untrack(kind types.AssetKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, kind)
}

// FinishUpdate overwrites the cached value and timestamp for a tracked kind.
// The value is signed; negative values are stored as reported.
func (r *Registry) FinishUpdate(kind types.AssetKind, usd types.Dec, now time.Time) error {
	if usd.IsNil() {
		return fmt.Errorf("usd value for %s is nil", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.values[kind]; !exists {
		return fmt.Errorf("%w: %s is not tracked", types.ErrUnknownAsset, kind)
	}
	r.values[kind] = types.AssetValue{USDValue: usd, LastUpdated: now}
	registryLogger.Debug().
		Str("kind", kind.String()).
		Str("usd", usd.String()).
		Time("at", now).
		Msg("Asset value updated")
	return nil
}

// Get returns the cached entry for a kind.
func (r *Registry) Get(kind types.AssetKind) (types.AssetValue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, exists := r.values[kind]
	return v, exists
}

// Tracked returns the tracked kinds in stable order.
func (r *Registry) Tracked() []types.AssetKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]types.AssetKind, 0, len(r.values))
	for kind := range r.values {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// TotalUSD sums every tracked value, failing with ErrStaleValue naming the
// first stale kind if any entry is outside the freshness window.
func (r *Registry) TotalUSD(now time.Time) (types.Dec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := types.ZeroDec()
	for kind, value := range r.values {
		age := now.Sub(value.LastUpdated)
		if age > r.maxInterval {
			return types.ZeroDec(), fmt.Errorf("%w: %s last updated %s ago (window %s)",
				types.ErrStaleValue, kind, age, r.maxInterval)
		}
		total = total.Add(value.USDValue)
	}
	return total, nil
}

// StaleKinds lists every tracked kind currently outside the freshness window.
// Used by the status API so an operator can see exactly what is blocking a
// close.
func (r *Registry) StaleKinds(now time.Time) []types.AssetKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []types.AssetKind
	for kind, value := range r.values {
		if now.Sub(value.LastUpdated) > r.maxInterval {
			stale = append(stale, kind)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i] < stale[j] })
	return stale
}
