package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-labs/yve/internal/types"
)

func TestOpenAndTransfer(t *testing.T) {
	l := NewLedger()

	id := l.OpenReceipt("alice")
	owner, err := l.Owner(id)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	// Only the current owner can transfer.
	err = l.Transfer(id, "mallory", "bob")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNotReceiptOwner))

	require.NoError(t, l.Transfer(id, "alice", "bob"))
	owner, err = l.Owner(id)
	require.NoError(t, err)
	assert.Equal(t, "bob", owner)

	// The old owner holds nothing now.
	err = l.Transfer(id, "alice", "carol")
	assert.True(t, errors.Is(err, types.ErrNotReceiptOwner))
}

func TestUnknownReceipt(t *testing.T) {
	l := NewLedger()
	_, err := l.Owner(42)
	assert.True(t, errors.Is(err, types.ErrUnknownReceipt))
}

func TestDepositLifecycle(t *testing.T) {
	l := NewLedger()
	id := l.OpenReceipt("alice")
	now := time.Now()

	require.NoError(t, l.StagePendingDeposit(id, types.NewInt(1_000_000)))
	info, err := l.Info(id)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptPendingDeposit, info.Status)
	assert.True(t, info.PendingDepositBalance.Equal(types.NewInt(1_000_000)))

	require.NoError(t, l.SettleDeposit(id, types.NewInt(1_000_000), types.NewDec(100), now))
	info, err = l.Info(id)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptNormal, info.Status)
	assert.True(t, info.Shares.Equal(types.NewDec(100)))
	assert.True(t, info.PendingDepositBalance.IsZero())
	assert.Equal(t, now, info.LastDepositTime)
	assert.True(t, l.TotalShares().Equal(types.NewDec(100)))
}

func TestPendingWithdrawCannotOvercommit(t *testing.T) {
	l := NewLedger()
	id := l.OpenReceipt("alice")
	require.NoError(t, l.StagePendingDeposit(id, types.NewInt(100)))
	require.NoError(t, l.SettleDeposit(id, types.NewInt(100), types.NewDec(100), time.Now()))

	require.NoError(t, l.CommitPendingWithdraw(id, types.NewDec(60), false))

	// 60 of 100 shares are already committed; only 40 remain available.
	err := l.CommitPendingWithdraw(id, types.NewDec(50), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrInsufficientShares))

	require.NoError(t, l.CommitPendingWithdraw(id, types.NewDec(40), false))
}

func TestReleasePendingWithdraw(t *testing.T) {
	l := NewLedger()
	id := l.OpenReceipt("alice")
	require.NoError(t, l.StagePendingDeposit(id, types.NewInt(100)))
	require.NoError(t, l.SettleDeposit(id, types.NewInt(100), types.NewDec(100), time.Now()))

	require.NoError(t, l.CommitPendingWithdraw(id, types.NewDec(80), false))
	require.NoError(t, l.ReleasePendingWithdraw(id, types.NewDec(80)))

	// All shares are available again.
	require.NoError(t, l.CommitPendingWithdraw(id, types.NewDec(100), false))
}

func TestSettleWithdrawBurnsAndCredits(t *testing.T) {
	l := NewLedger()
	id := l.OpenReceipt("alice")
	require.NoError(t, l.StagePendingDeposit(id, types.NewInt(100)))
	require.NoError(t, l.SettleDeposit(id, types.NewInt(100), types.NewDec(100), time.Now()))
	require.NoError(t, l.CommitPendingWithdraw(id, types.NewDec(40), false))

	require.NoError(t, l.SettleWithdraw(id, types.NewDec(40), types.NewInt(40), false))

	info, err := l.Info(id)
	require.NoError(t, err)
	assert.True(t, info.Shares.Equal(types.NewDec(60)))
	assert.True(t, info.PendingWithdrawShares.IsZero())
	assert.True(t, info.ClaimablePrincipal.Equal(types.NewInt(40)))
	assert.True(t, l.TotalShares().Equal(types.NewDec(60)))

	claimed, err := l.ClaimPrincipal(id)
	require.NoError(t, err)
	assert.True(t, claimed.Equal(types.NewInt(40)))

	info, err = l.Info(id)
	require.NoError(t, err)
	assert.True(t, info.ClaimablePrincipal.IsZero())
}

func TestSettleWithdrawAutoTransferSkipsClaimable(t *testing.T) {
	l := NewLedger()
	id := l.OpenReceipt("alice")
	require.NoError(t, l.StagePendingDeposit(id, types.NewInt(100)))
	require.NoError(t, l.SettleDeposit(id, types.NewInt(100), types.NewDec(100), time.Now()))
	require.NoError(t, l.CommitPendingWithdraw(id, types.NewDec(40), true))

	require.NoError(t, l.SettleWithdraw(id, types.NewDec(40), types.NewInt(40), true))

	info, err := l.Info(id)
	require.NoError(t, err)
	assert.True(t, info.ClaimablePrincipal.IsZero())
}

func TestShareRatio(t *testing.T) {
	l := NewLedger()

	// An empty vault prices shares at par.
	assert.True(t, l.ShareRatio(types.ZeroDec()).Equal(types.OneDec()))

	id := l.OpenReceipt("alice")
	require.NoError(t, l.StagePendingDeposit(id, types.NewInt(100)))
	require.NoError(t, l.SettleDeposit(id, types.NewInt(100), types.NewDec(100), time.Now()))

	// 150 USD over 100 shares.
	ratio := l.ShareRatio(types.NewDec(150))
	assert.True(t, ratio.Equal(types.MustNewDecFromStr("1.5")))
}
