package vault

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-labs/yve/internal/oracle"
	"github.com/halcyon-labs/yve/internal/types"
)

// deployCert runs a bootstrap operation that deploys principal into a staking
// certificate position and closes cleanly.
func (e *testEnv) deployCert(t *testing.T, handle string, amount types.Int, usd types.Dec) types.Position {
	t.Helper()

	e.staking.RegisterCert(handle, amount, types.OneDec())
	pos := types.Position{Kind: types.KindStakingCert, Handle: handle}

	lease, borrowed, err := e.vault.BeginOperation(e.opCap, nil, e.base)
	require.NoError(t, err)
	require.Empty(t, borrowed)

	require.NoError(t, e.vault.DeployPrincipal(lease.ID, e.opCap, pos, amount, e.base))
	require.NoError(t, e.vault.ReturnAssets(lease.ID, e.opCap, nil, e.base))
	require.NoError(t, e.vault.FinishAssetValue(types.KindStakingCert, usd, e.base))

	_, err = e.vault.CloseOperation(lease.ID, e.opCap, types.Dec{}, e.base)
	require.NoError(t, err)
	return pos
}

func TestBootstrapOperationDeploysPrincipal(t *testing.T) {
	e := newTestEnv(t, testParams())
	e.fund(t, "alice", types.NewInt(1_000_000_000)) // 1000 USD

	pos := e.deployCert(t, "cert-1", types.NewInt(400_000_000), types.NewDec(400))

	assert.Equal(t, types.StatusNormal, e.vault.Status())
	assert.True(t, e.vault.FreePrincipal().Equal(types.NewInt(600_000_000)))
	assert.Equal(t, pos, e.vault.Custody()[types.KindStakingCert])

	total, err := e.vault.TotalUSD(e.base)
	require.NoError(t, err)
	assert.True(t, total.Equal(types.NewDec(1000)))
}

func TestOperationBorrowAndReturn(t *testing.T) {
	e := newTestEnv(t, testParams())
	e.fund(t, "alice", types.NewInt(1_000_000_000))
	pos := e.deployCert(t, "cert-1", types.NewInt(400_000_000), types.NewDec(400))

	lease, borrowed, err := e.vault.BeginOperation(e.opCap, []types.AssetKind{types.KindStakingCert}, e.base)
	require.NoError(t, err)
	require.Len(t, borrowed, 1)
	assert.Equal(t, pos, borrowed[0])
	assert.Equal(t, types.StatusDuringOperation, e.vault.Status())

	// Borrowed kinds leave custody and show as borrowed to the oracle guard.
	assert.NotContains(t, e.vault.Custody(), types.KindStakingCert)
	assert.True(t, e.vault.IsBorrowed(types.KindStakingCert))

	require.NoError(t, e.vault.ReturnAssets(lease.ID, e.opCap, []types.Position{pos}, e.base))
	require.NoError(t, e.vault.FinishAssetValue(types.KindStakingCert, types.NewDec(410), e.base))

	snap, err := e.vault.CloseOperation(lease.ID, e.opCap, types.Dec{}, e.base)
	require.NoError(t, err)
	assert.Equal(t, types.StatusNormal, e.vault.Status())
	assert.Equal(t, "0.000000000000000000", snap.LossUSD)
	assert.False(t, e.vault.IsBorrowed(types.KindStakingCert))
}

func TestCloseRequiresEveryBorrowedKindValued(t *testing.T) {
	e := newTestEnv(t, testParams())
	e.fund(t, "alice", types.NewInt(1_000_000_000))
	pos := e.deployCert(t, "cert-1", types.NewInt(400_000_000), types.NewDec(400))

	lease, _, err := e.vault.BeginOperation(e.opCap, []types.AssetKind{types.KindStakingCert}, e.base)
	require.NoError(t, err)
	require.NoError(t, e.vault.ReturnAssets(lease.ID, e.opCap, []types.Position{pos}, e.base))

	// No revaluation reported: the close is refused and the operation stays
	// open for a retry.
	_, err = e.vault.CloseOperation(lease.ID, e.opCap, types.Dec{}, e.base)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrValueIncomplete))
	assert.Equal(t, types.StatusDuringOperation, e.vault.Status())

	require.NoError(t, e.vault.FinishAssetValue(types.KindStakingCert, types.NewDec(400), e.base))
	_, err = e.vault.CloseOperation(lease.ID, e.opCap, types.Dec{}, e.base)
	require.NoError(t, err)
}

func TestValueUpdateMarkIsIdempotent(t *testing.T) {
	e := newTestEnv(t, testParams())
	e.fund(t, "alice", types.NewInt(1_000_000_000))
	pos := e.deployCert(t, "cert-1", types.NewInt(400_000_000), types.NewDec(400))

	lease, _, err := e.vault.BeginOperation(e.opCap, []types.AssetKind{types.KindStakingCert}, e.base)
	require.NoError(t, err)

	// Updates reported before the assets came back do not count.
	require.NoError(t, e.vault.FinishAssetValue(types.KindStakingCert, types.NewDec(390), e.base))
	_, err = e.vault.CloseOperation(lease.ID, e.opCap, types.Dec{}, e.base)
	require.Error(t, err)

	require.NoError(t, e.vault.ReturnAssets(lease.ID, e.opCap, []types.Position{pos}, e.base))

	// Repeat reports are fine; the mark counts once.
	require.NoError(t, e.vault.FinishAssetValue(types.KindStakingCert, types.NewDec(400), e.base))
	require.NoError(t, e.vault.FinishAssetValue(types.KindStakingCert, types.NewDec(400), e.base))
	_, err = e.vault.CloseOperation(lease.ID, e.opCap, types.Dec{}, e.base)
	require.NoError(t, err)
}

func TestReturnEnforcesPositionIdentity(t *testing.T) {
	e := newTestEnv(t, testParams())
	e.fund(t, "alice", types.NewInt(1_000_000_000))
	e.deployCert(t, "cert-1", types.NewInt(400_000_000), types.NewDec(400))

	lease, _, err := e.vault.BeginOperation(e.opCap, []types.AssetKind{types.KindStakingCert}, e.base)
	require.NoError(t, err)

	// Same kind, different handle: not the position that left custody.
	impostor := types.Position{Kind: types.KindStakingCert, Handle: "cert-2"}
	err = e.vault.ReturnAssets(lease.ID, e.opCap, []types.Position{impostor}, e.base)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAssetIdentityMismatch))

	// Missing entirely is also an identity failure.
	err = e.vault.ReturnAssets(lease.ID, e.opCap, nil, e.base)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAssetIdentityMismatch))
}

func TestLeaseValidation(t *testing.T) {
	e := newTestEnv(t, testParams())
	e.fund(t, "alice", types.NewInt(1_000_000_000))
	pos := e.deployCert(t, "cert-1", types.NewInt(400_000_000), types.NewDec(400))

	lease, _, err := e.vault.BeginOperation(e.opCap, []types.AssetKind{types.KindStakingCert}, e.base)
	require.NoError(t, err)

	// Wrong lease id.
	err = e.vault.ReturnAssets(uuid.New(), e.opCap, []types.Position{pos}, e.base)
	assert.True(t, errors.Is(err, types.ErrLeaseMismatch))

	// Wrong operator.
	err = e.vault.ReturnAssets(lease.ID, uuid.New(), []types.Position{pos}, e.base)
	assert.True(t, errors.Is(err, types.ErrLeaseMismatch))

	// Expired lease.
	late := e.base.Add(3 * time.Hour)
	err = e.vault.ReturnAssets(lease.ID, e.opCap, []types.Position{pos}, late)
	assert.True(t, errors.Is(err, types.ErrLeaseExpired))
}

func TestSecondOperationBlockedByLease(t *testing.T) {
	e := newTestEnv(t, testParams())
	e.fund(t, "alice", types.NewInt(1_000_000_000))
	e.deployCert(t, "cert-1", types.NewInt(400_000_000), types.NewDec(400))

	_, _, err := e.vault.BeginOperation(e.opCap, []types.AssetKind{types.KindStakingCert}, e.base)
	require.NoError(t, err)

	_, _, err = e.vault.BeginOperation(e.opCap, nil, e.base)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrStatusMismatch))
}

func TestForceCloseRequiresExpiredLease(t *testing.T) {
	e := newTestEnv(t, testParams())
	aliceID := e.fund(t, "alice", types.NewInt(1_000_000_000))
	e.deployCert(t, "cert-1", types.NewInt(400_000_000), types.NewDec(400))

	lease, _, err := e.vault.BeginOperation(e.opCap, []types.AssetKind{types.KindStakingCert}, e.base)
	require.NoError(t, err)

	// A live lease cannot be stolen, not even by the admin.
	_, err = e.vault.ForceCloseOperation(e.adminCap, lease.ID, e.base.Add(time.Hour))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrLeaseNotExpired))

	late := e.base.Add(3 * time.Hour)
	snap, err := e.vault.ForceCloseOperation(e.adminCap, lease.ID, late)
	require.NoError(t, err)
	assert.True(t, snap.Forced)
	assert.Equal(t, types.StatusDisabled, e.vault.Status())
	assert.True(t, e.vault.NeedsReconciliation())

	// New deposits stop, best-effort withdrawal stays open.
	id := e.vault.OpenReceipt("bob")
	_, err = e.vault.RequestDeposit("bob", id, types.NewInt(10_000_000), types.ZeroDec(), "bob", late)
	assert.True(t, errors.Is(err, types.ErrStatusMismatch))

	_, err = e.vault.RequestWithdraw("alice", aliceID, types.NewDec(10), types.ZeroInt(), "alice", false, late)
	require.NoError(t, err)
}

func TestReconcileAndReenable(t *testing.T) {
	e := newTestEnv(t, testParams())
	e.fund(t, "alice", types.NewInt(1_000_000_000))
	e.deployCert(t, "cert-1", types.NewInt(400_000_000), types.NewDec(400))

	lease, _, err := e.vault.BeginOperation(e.opCap, []types.AssetKind{types.KindStakingCert}, e.base)
	require.NoError(t, err)
	late := e.base.Add(3 * time.Hour)
	_, err = e.vault.ForceCloseOperation(e.adminCap, lease.ID, late)
	require.NoError(t, err)

	// Enable refuses dirty books.
	err = e.vault.Enable(e.adminCap)
	assert.True(t, errors.Is(err, types.ErrNeedsReconciliation))

	require.NoError(t, e.vault.MarkReconciled(e.adminCap))
	require.NoError(t, e.vault.Enable(e.adminCap))
	assert.Equal(t, types.StatusNormal, e.vault.Status())

	// The force close released the adaptor checkout, so the recovered vault
	// can operate on the kind again.
	e.postPrice(late)
	require.NoError(t, e.vault.FinishAssetValue(types.KindStakingCert, types.NewDec(400), late))
	lease2, borrowed, err := e.vault.BeginOperation(e.opCap, []types.AssetKind{types.KindStakingCert}, late)
	require.NoError(t, err)
	require.Len(t, borrowed, 1)
	require.NoError(t, e.vault.ReturnAssets(lease2.ID, e.opCap, borrowed, late))
}

func TestFeedSwapInvalidatesClose(t *testing.T) {
	e := newTestEnv(t, testParams())
	e.fund(t, "alice", types.NewInt(1_000_000_000))
	pos := e.deployCert(t, "cert-1", types.NewInt(400_000_000), types.NewDec(400))

	lease, _, err := e.vault.BeginOperation(e.opCap, []types.AssetKind{types.KindStakingCert}, e.base)
	require.NoError(t, err)
	require.NoError(t, e.vault.ReturnAssets(lease.ID, e.opCap, []types.Position{pos}, e.base))
	require.NoError(t, e.vault.FinishAssetValue(types.KindStakingCert, types.NewDec(400), e.base))

	// Swapping the principal feed mid-operation is legal (principal is not
	// borrowed) but changes the fingerprint, so the close refuses to compare
	// values across sources.
	replacement := oracle.NewStaticFeed("replacement")
	replacement.Post(types.KindPrincipal, types.OneDec(), 6, e.base)
	require.NoError(t, e.gateway.SwapFeed(types.KindPrincipal, replacement))

	_, err = e.vault.CloseOperation(lease.ID, e.opCap, types.Dec{}, e.base)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrPriceSourceChanged))
	assert.Equal(t, types.StatusDuringOperation, e.vault.Status())
}

func TestSwapBorrowedKindFeedBlocked(t *testing.T) {
	e := newTestEnv(t, testParams())
	e.fund(t, "alice", types.NewInt(1_000_000_000))
	e.deployCert(t, "cert-1", types.NewInt(400_000_000), types.NewDec(400))

	certFeed := oracle.NewStaticFeed("cert-feed")
	require.NoError(t, e.gateway.RegisterFeed(types.KindStakingCert, certFeed))

	_, _, err := e.vault.BeginOperation(e.opCap, []types.AssetKind{types.KindStakingCert}, e.base)
	require.NoError(t, err)

	err = e.gateway.SwapFeed(types.KindStakingCert, oracle.NewStaticFeed("other"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrFeedSwapDuringBorrow))
}

func TestLossLimitBlocksClose(t *testing.T) {
	e := newTestEnv(t, testParams()) // 10% tolerance
	e.fund(t, "alice", types.NewInt(1_000_000_000))
	pos := e.deployCert(t, "cert-1", types.NewInt(400_000_000), types.NewDec(400))

	lease, _, err := e.vault.BeginOperation(e.opCap, []types.AssetKind{types.KindStakingCert}, e.base)
	require.NoError(t, err)
	require.NoError(t, e.vault.ReturnAssets(lease.ID, e.opCap, []types.Position{pos}, e.base))

	// Position collapsed from 400 to 250: 150 USD loss on a 1000 USD base
	// breaches the 100 USD epoch allowance. The close is refused without
	// consuming any of the budget.
	require.NoError(t, e.vault.FinishAssetValue(types.KindStakingCert, types.NewDec(250), e.base))
	_, err = e.vault.CloseOperation(lease.ID, e.opCap, types.Dec{}, e.base)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrLossLimitExceeded))
	assert.Equal(t, types.StatusDuringOperation, e.vault.Status())
	assert.True(t, e.vault.LossState().CurEpochLoss.IsZero())

	// A corrected valuation within tolerance closes fine.
	require.NoError(t, e.vault.FinishAssetValue(types.KindStakingCert, types.NewDec(350), e.base))
	snap, err := e.vault.CloseOperation(lease.ID, e.opCap, types.Dec{}, e.base)
	require.NoError(t, err)
	assert.Equal(t, types.StatusNormal, e.vault.Status())
	assert.Equal(t, types.NewDec(50).String(), snap.LossUSD)
	assert.True(t, e.vault.LossState().CurEpochLoss.Equal(types.NewDec(50)))
}

func TestSharesChangedBlocksClose(t *testing.T) {
	e := newTestEnv(t, testParams())
	e.fund(t, "alice", types.NewInt(1_000_000_000))
	pos := e.deployCert(t, "cert-1", types.NewInt(400_000_000), types.NewDec(400))

	lease, _, err := e.vault.BeginOperation(e.opCap, []types.AssetKind{types.KindStakingCert}, e.base)
	require.NoError(t, err)
	require.NoError(t, e.vault.ReturnAssets(lease.ID, e.opCap, []types.Position{pos}, e.base))
	require.NoError(t, e.vault.FinishAssetValue(types.KindStakingCert, types.NewDec(400), e.base))

	// The caller's own expectation is checked against the ledger too.
	_, err = e.vault.CloseOperation(lease.ID, e.opCap, types.NewDec(999), e.base)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrSharesChanged))

	_, err = e.vault.CloseOperation(lease.ID, e.opCap, types.NewDec(1000), e.base)
	require.NoError(t, err)
}

func TestUnwindPositionReturnsPrincipal(t *testing.T) {
	e := newTestEnv(t, testParams())
	e.fund(t, "alice", types.NewInt(1_000_000_000))
	e.deployCert(t, "cert-1", types.NewInt(400_000_000), types.NewDec(400))

	lease, _, err := e.vault.BeginOperation(e.opCap, []types.AssetKind{types.KindStakingCert}, e.base)
	require.NoError(t, err)

	require.NoError(t, e.vault.UnwindPosition(lease.ID, e.opCap, types.KindStakingCert,
		types.NewInt(405_000_000), e.base))

	// Nothing left to return or revalue; the close only needs fresh prices.
	require.NoError(t, e.vault.ReturnAssets(lease.ID, e.opCap, nil, e.base))
	_, err = e.vault.CloseOperation(lease.ID, e.opCap, types.Dec{}, e.base)
	require.NoError(t, err)

	assert.True(t, e.vault.FreePrincipal().Equal(types.NewInt(1_005_000_000)))
	assert.NotContains(t, e.vault.Custody(), types.KindStakingCert)
}

func TestDisableRefusedUnderLiveLease(t *testing.T) {
	e := newTestEnv(t, testParams())
	e.fund(t, "alice", types.NewInt(1_000_000_000))
	e.deployCert(t, "cert-1", types.NewInt(400_000_000), types.NewDec(400))

	_, _, err := e.vault.BeginOperation(e.opCap, []types.AssetKind{types.KindStakingCert}, e.base)
	require.NoError(t, err)

	err = e.vault.Disable(e.adminCap, e.base.Add(time.Minute))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrStatusMismatch))
}

func TestAdminCapabilityRequired(t *testing.T) {
	e := newTestEnv(t, testParams())

	err := e.vault.Disable(uuid.New(), e.base)
	assert.True(t, errors.Is(err, types.ErrUnauthorized))

	_, err = e.vault.IssueOperatorCap(uuid.New(), "mallory")
	assert.True(t, errors.Is(err, types.ErrUnauthorized))
}

func TestFailedBeginRollsBackCheckouts(t *testing.T) {
	e := newTestEnv(t, testParams())
	e.fund(t, "alice", types.NewInt(1_000_000_000))
	e.deployCert(t, "cert-1", types.NewInt(400_000_000), types.NewDec(400))

	// Deploy a lending obligation alongside the certificate.
	e.lending.OpenObligation("ob-1", types.NewInt(200_000_000), types.ZeroInt())
	lendingPos := types.Position{Kind: types.KindLending, Handle: "ob-1"}
	lease, _, err := e.vault.BeginOperation(e.opCap, nil, e.base)
	require.NoError(t, err)
	require.NoError(t, e.vault.DeployPrincipal(lease.ID, e.opCap, lendingPos, types.NewInt(200_000_000), e.base))
	require.NoError(t, e.vault.ReturnAssets(lease.ID, e.opCap, nil, e.base))
	require.NoError(t, e.vault.FinishAssetValue(types.KindLending, types.NewDec(200), e.base))
	_, err = e.vault.CloseOperation(lease.ID, e.opCap, types.Dec{}, e.base)
	require.NoError(t, err)

	// With the obligation already checked out on the protocol side, borrowing
	// [cert, obligation] fails on the second checkout. The first must be
	// rolled back, not left stranded.
	require.NoError(t, e.lending.Borrow(lendingPos))
	kinds := []types.AssetKind{types.KindStakingCert, types.KindLending}
	_, _, err = e.vault.BeginOperation(e.opCap, kinds, e.base)
	require.Error(t, err)
	_, open := e.vault.Lease()
	assert.False(t, open)

	require.NoError(t, e.lending.Return(lendingPos))
	lease2, borrowed, err := e.vault.BeginOperation(e.opCap, kinds, e.base)
	require.NoError(t, err)
	require.Len(t, borrowed, 2)
	require.NoError(t, e.vault.ReturnAssets(lease2.ID, e.opCap, borrowed, e.base))
}

func TestLeaseCopyIsDetached(t *testing.T) {
	e := newTestEnv(t, testParams())
	e.fund(t, "alice", types.NewInt(1_000_000_000))
	pos := e.deployCert(t, "cert-1", types.NewInt(400_000_000), types.NewDec(400))

	lease, _, err := e.vault.BeginOperation(e.opCap, []types.AssetKind{types.KindStakingCert}, e.base)
	require.NoError(t, err)

	// Mutating the returned copy must not touch the live bookkeeping.
	delete(lease.Record.Borrowed, types.KindStakingCert)
	lease.Record.Updated[types.KindStakingCert] = true
	assert.True(t, e.vault.IsBorrowed(types.KindStakingCert))

	view, open := e.vault.Lease()
	require.True(t, open)
	delete(view.Record.Borrowed, types.KindStakingCert)
	assert.True(t, e.vault.IsBorrowed(types.KindStakingCert))

	// The close still demands the return and the revaluation.
	_, err = e.vault.CloseOperation(lease.ID, e.opCap, types.Dec{}, e.base)
	require.Error(t, err)
	require.NoError(t, e.vault.ReturnAssets(lease.ID, e.opCap, []types.Position{pos}, e.base))
	_, err = e.vault.CloseOperation(lease.ID, e.opCap, types.Dec{}, e.base)
	assert.True(t, errors.Is(err, types.ErrValueIncomplete))
}

func TestEpochRollRebasesLossBudget(t *testing.T) {
	e := newTestEnv(t, testParams())
	e.fund(t, "alice", types.NewInt(1_000_000_000))
	e.deployCert(t, "cert-1", types.NewInt(400_000_000), types.NewDec(400))
	assert.Equal(t, uint64(1), e.vault.LossState().Epoch)

	// Next day: the first operation of the new epoch re-bases the budget.
	nextDay := e.base.Add(25 * time.Hour)
	e.postPrice(nextDay)
	require.NoError(t, e.vault.FinishAssetValue(types.KindStakingCert, types.NewDec(400), nextDay))

	lease, _, err := e.vault.BeginOperation(e.opCap, nil, nextDay)
	require.NoError(t, err)
	require.NoError(t, e.vault.ReturnAssets(lease.ID, e.opCap, nil, nextDay))
	_, err = e.vault.CloseOperation(lease.ID, e.opCap, types.Dec{}, nextDay)
	require.NoError(t, err)

	state := e.vault.LossState()
	assert.Equal(t, uint64(2), state.Epoch)
	assert.True(t, state.CurEpochBaseUSD.Equal(types.NewDec(1000)))
}
