/*

Price Oracle Gateway.

One feed per asset kind. Reads are rejected past the freshness window, feed
swaps are rejected while the kind is borrowed by an open operation, and the
full kind-to-feed configuration is hashable so an operation can prove at close
that prices came from the same sources it opened against.

*/

package oracle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/halcyon-labs/yve/internal/logger"
	"github.com/halcyon-labs/yve/internal/types"
)

var gatewayLogger = logger.GetForComponent("oracle_gateway")

// PriceQuote is a single normalized price observation.
type PriceQuote struct {
	Price       types.Dec
	Decimals    uint8
	LastUpdated time.Time
}

// PriceFeed supplies quotes for asset kinds. Implementations are the admin's
// choice; the gateway only enforces the freshness and swap contracts.
type PriceFeed interface {
	// ID identifies the feed instance for fingerprinting.
	ID() string
	// Quote returns the latest observation for the kind.
	Quote(kind types.AssetKind) (PriceQuote, error)
}

// Gateway is the engine's single price source.
type Gateway struct {
	mu          sync.RWMutex
	feeds       map[types.AssetKind]PriceFeed
	maxInterval time.Duration
	borrowed    map[types.AssetKind]bool
}

// NewGateway creates a gateway with the given freshness window.
func NewGateway(maxInterval time.Duration) *Gateway {
	return &Gateway{
		feeds:       make(map[types.AssetKind]PriceFeed),
		maxInterval: maxInterval,
		borrowed:    make(map[types.AssetKind]bool),
	}
}

// MarkBorrowed records that an open operation holds the kind, blocking feed
// swaps until released. The vault calls this under its own lock; the
// vault-then-gateway lock order holds everywhere.
func (g *Gateway) MarkBorrowed(kind types.AssetKind) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.borrowed[kind] = true
}

// ReleaseBorrowed lifts the swap block for a kind. Idempotent.
func (g *Gateway) ReleaseBorrowed(kind types.AssetKind) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.borrowed, kind)
}

// RegisterFeed installs the feed for a kind that has none yet.
func (g *Gateway) RegisterFeed(kind types.AssetKind, feed PriceFeed) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", types.ErrUnknownAsset, kind)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.feeds[kind]; exists {
		return fmt.Errorf("feed already registered for %s, use SwapFeed", kind)
	}
	g.feeds[kind] = feed
	gatewayLogger.Info().Str("kind", kind.String()).Str("feed", feed.ID()).Msg("Price feed registered")
	return nil
}

// SwapFeed replaces the feed for a kind. Refused while the kind is borrowed
// by an open operation so a close can never compare values across sources.
func (g *Gateway) SwapFeed(kind types.AssetKind, feed PriceFeed) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", types.ErrUnknownAsset, kind)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	// Borrow check and swap share one critical section: an operation cannot
	// slip in between them and close against a swapped source.
	if g.borrowed[kind] {
		return fmt.Errorf("%w: %s", types.ErrFeedSwapDuringBorrow, kind)
	}
	old, exists := g.feeds[kind]
	if !exists {
		return fmt.Errorf("no feed registered for %s", kind)
	}
	g.feeds[kind] = feed
	gatewayLogger.Warn().
		Str("kind", kind.String()).
		Str("oldFeed", old.ID()).
		Str("newFeed", feed.ID()).
		Msg("Price feed swapped")
	return nil
}

// Price returns the current price and decimals for a kind, failing with
// ErrStaleValue if the feed's observation is older than the freshness window.
func (g *Gateway) Price(kind types.AssetKind, now time.Time) (types.Dec, uint8, error) {
	g.mu.RLock()
	feed, exists := g.feeds[kind]
	maxInterval := g.maxInterval
	g.mu.RUnlock()

	if !exists {
		return types.ZeroDec(), 0, fmt.Errorf("%w: no feed for %s", types.ErrUnknownAsset, kind)
	}

	quote, err := feed.Quote(kind)
	if err != nil {
		return types.ZeroDec(), 0, fmt.Errorf("feed %s failed for %s: %w", feed.ID(), kind, err)
	}
	if quote.Price.IsNil() || !quote.Price.IsPositive() {
		return types.ZeroDec(), 0, fmt.Errorf("feed %s returned non-positive price for %s", feed.ID(), kind)
	}
	if now.Sub(quote.LastUpdated) > maxInterval {
		return types.ZeroDec(), 0, fmt.Errorf("%w: price for %s is %s old (window %s)",
			types.ErrStaleValue, kind, now.Sub(quote.LastUpdated), maxInterval)
	}
	return quote.Price, quote.Decimals, nil
}

// Fingerprint hashes the current kind-to-feed configuration. Recorded at
// operation start and compared at close.
func (g *Gateway) Fingerprint() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	kinds := make([]string, 0, len(g.feeds))
	for kind := range g.feeds {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	h := sha256.New()
	for _, kind := range kinds {
		fmt.Fprintf(h, "%s=%s;", kind, g.feeds[types.AssetKind(kind)].ID())
	}
	return hex.EncodeToString(h.Sum(nil))
}
