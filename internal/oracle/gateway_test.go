package oracle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-labs/yve/internal/types"
)

func TestPriceFreshness(t *testing.T) {
	g := NewGateway(30 * time.Second)
	feed := NewStaticFeed("test")
	require.NoError(t, g.RegisterFeed(types.KindPrincipal, feed))

	now := time.Now()
	feed.Post(types.KindPrincipal, types.OneDec(), 6, now)

	price, decimals, err := g.Price(types.KindPrincipal, now)
	require.NoError(t, err)
	assert.True(t, price.Equal(types.OneDec()))
	assert.Equal(t, uint8(6), decimals)

	// Within the window the quote survives; past it the read fails closed.
	_, _, err = g.Price(types.KindPrincipal, now.Add(30*time.Second))
	require.NoError(t, err)

	_, _, err = g.Price(types.KindPrincipal, now.Add(31*time.Second))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrStaleValue))
}

func TestPriceUnknownKind(t *testing.T) {
	g := NewGateway(time.Minute)
	_, _, err := g.Price(types.KindLending, time.Now())
	assert.True(t, errors.Is(err, types.ErrUnknownAsset))
}

func TestRegisterFeedRejectsDuplicate(t *testing.T) {
	g := NewGateway(time.Minute)
	require.NoError(t, g.RegisterFeed(types.KindPrincipal, NewStaticFeed("a")))
	err := g.RegisterFeed(types.KindPrincipal, NewStaticFeed("b"))
	require.Error(t, err)
}

func TestSwapFeedChangesFingerprint(t *testing.T) {
	g := NewGateway(time.Minute)
	require.NoError(t, g.RegisterFeed(types.KindPrincipal, NewStaticFeed("primary")))

	before := g.Fingerprint()
	assert.Equal(t, before, g.Fingerprint())

	require.NoError(t, g.SwapFeed(types.KindPrincipal, NewStaticFeed("replacement")))
	assert.NotEqual(t, before, g.Fingerprint())
}

func TestSwapFeedBlockedWhileBorrowed(t *testing.T) {
	g := NewGateway(time.Minute)
	require.NoError(t, g.RegisterFeed(types.KindLending, NewStaticFeed("primary")))

	g.MarkBorrowed(types.KindLending)

	err := g.SwapFeed(types.KindLending, NewStaticFeed("replacement"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrFeedSwapDuringBorrow))

	// Released kinds swap freely again; releasing twice is harmless.
	g.ReleaseBorrowed(types.KindLending)
	g.ReleaseBorrowed(types.KindLending)
	require.NoError(t, g.SwapFeed(types.KindLending, NewStaticFeed("replacement")))
}

func TestNonPositivePriceRejected(t *testing.T) {
	g := NewGateway(time.Minute)
	feed := NewStaticFeed("test")
	require.NoError(t, g.RegisterFeed(types.KindPrincipal, feed))

	now := time.Now()
	feed.Post(types.KindPrincipal, types.ZeroDec(), 6, now)

	_, _, err := g.Price(types.KindPrincipal, now)
	require.Error(t, err)
}
