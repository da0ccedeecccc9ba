package oracle

import (
	"fmt"
	"sync"
	"time"

	"github.com/halcyon-labs/yve/internal/types"
)

// StaticFeed holds manually posted prices. Used for assets priced by an
// off-process publisher and throughout the test suite.
type StaticFeed struct {
	mu     sync.RWMutex
	id     string
	quotes map[types.AssetKind]PriceQuote
}

// NewStaticFeed creates an empty feed with the given identity.
func NewStaticFeed(id string) *StaticFeed {
	return &StaticFeed{
		id:     id,
		quotes: make(map[types.AssetKind]PriceQuote),
	}
}

func (f *StaticFeed) ID() string { return f.id }

// Post records an observation for a kind.
func (f *StaticFeed) Post(kind types.AssetKind, price types.Dec, decimals uint8, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[kind] = PriceQuote{Price: price, Decimals: decimals, LastUpdated: now}
}

// Quote returns the latest posted observation.
func (f *StaticFeed) Quote(kind types.AssetKind) (PriceQuote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	quote, exists := f.quotes[kind]
	if !exists {
		return PriceQuote{}, fmt.Errorf("no price posted for %s", kind)
	}
	return quote, nil
}
