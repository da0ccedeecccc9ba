/*
This file implements the HTTP polling price feed.

The engine refuses to value positions against anything but a live observation,
so every datapoint from the remote API is strictly validated before it enters
the quote cache. A bad response never overwrites a good cached quote; the
cached quote just ages out of the freshness window instead.
*/

package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/halcyon-labs/yve/internal/logger"
	"github.com/halcyon-labs/yve/internal/types"
)

var feedLogger = logger.GetForComponent("price_feed")

var ErrInvalidPriceData = errors.New("invalid price data received")

const (
	MAX_RETRIES     = 3
	TIMEOUT_SECONDS = 30
)

// HTTPFeed polls a price API for a set of symbols and serves cached quotes.
type HTTPFeed struct {
	mu      sync.RWMutex
	id      string
	baseURL string
	apiKey  string
	symbols map[types.AssetKind]string
	quotes  map[types.AssetKind]PriceQuote
	client  *http.Client
}

// NewHTTPFeed creates a feed polling baseURL for the given kind-to-symbol map.
func NewHTTPFeed(id, baseURL, apiKey string, symbols map[types.AssetKind]string) *HTTPFeed {
	return &HTTPFeed{
		id:      id,
		baseURL: baseURL,
		apiKey:  apiKey,
		symbols: symbols,
		quotes:  make(map[types.AssetKind]PriceQuote),
		client:  &http.Client{Timeout: TIMEOUT_SECONDS * time.Second},
	}
}

func (f *HTTPFeed) ID() string { return f.id }

// Quote returns the latest cached observation for the kind.
func (f *HTTPFeed) Quote(kind types.AssetKind) (PriceQuote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	quote, exists := f.quotes[kind]
	if !exists {
		return PriceQuote{}, fmt.Errorf("no observation yet for %s", kind)
	}
	return quote, nil
}

// Poll starts the polling loop and blocks until the context is cancelled.
func (f *HTTPFeed) Poll(ctx context.Context, interval time.Duration) {
	feedLogger.Info().
		Str("feed", f.id).
		Dur("interval", interval).
		Int("symbols", len(f.symbols)).
		Msg("Starting price feed polling loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	f.refreshAll()
	for {
		select {
		case <-ctx.Done():
			feedLogger.Info().Str("feed", f.id).Msg("Price feed polling stopped")
			return
		case <-ticker.C:
			f.refreshAll()
		}
	}
}

func (f *HTTPFeed) refreshAll() {
	for kind, symbol := range f.symbols {
		price, err := f.fetchPrice(symbol)
		if err != nil {
			feedLogger.Error().Err(err).
				Str("symbol", symbol).
				Str("kind", kind.String()).
				Msg("Failed to refresh price, cached quote will age out")
			continue
		}
		f.mu.Lock()
		f.quotes[kind] = PriceQuote{Price: price, Decimals: 18, LastUpdated: time.Now()}
		f.mu.Unlock()
	}
}

// fetchPrice retrieves and validates a single USD price with retries.
func (f *HTTPFeed) fetchPrice(symbol string) (types.Dec, error) {
	url := fmt.Sprintf("%s?fsym=%s&tsyms=USD", f.baseURL, symbol)
	if f.apiKey != "" {
		url += "&api_key=" + f.apiKey
	}

	var lastErr error
	for attempt := 1; attempt <= MAX_RETRIES; attempt++ {
		resp, err := f.client.Get(url)
		if err != nil {
			lastErr = fmt.Errorf("request failed (attempt %d): %w", attempt, err)
			time.Sleep(time.Duration(attempt) * time.Second)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response body (attempt %d): %w", attempt, err)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d (attempt %d): %s", resp.StatusCode, attempt, string(body))
			time.Sleep(time.Duration(attempt) * time.Second)
			continue
		}

		var payload map[string]float64
		if err := json.Unmarshal(body, &payload); err != nil {
			lastErr = fmt.Errorf("failed to decode response (attempt %d): %w", attempt, err)
			continue
		}

		usd, exists := payload["USD"]
		if !exists {
			lastErr = fmt.Errorf("%w: no USD price for %s", ErrInvalidPriceData, symbol)
			continue
		}
		if math.IsNaN(usd) || math.IsInf(usd, 0) || usd <= 0 {
			return types.ZeroDec(), fmt.Errorf("%w: USD price for %s is %f", ErrInvalidPriceData, symbol, usd)
		}

		dec, err := decFromFloat(usd)
		if err != nil {
			return types.ZeroDec(), fmt.Errorf("%w: %w", ErrInvalidPriceData, err)
		}
		return dec, nil
	}
	return types.ZeroDec(), fmt.Errorf("all %d attempts failed for %s: %w", MAX_RETRIES, symbol, lastErr)
}

// decFromFloat converts through the shortest decimal string representation to
// avoid binary float artifacts in the stored quote.
func decFromFloat(v float64) (types.Dec, error) {
	dec, err := sdkmath.LegacyNewDecFromStr(strconv.FormatFloat(v, 'f', -1, 64))
	if err != nil {
		return types.ZeroDec(), err
	}
	return dec, nil
}
