package operation

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-labs/yve/internal/adaptor"
	"github.com/halcyon-labs/yve/internal/oracle"
	"github.com/halcyon-labs/yve/internal/types"
	"github.com/halcyon-labs/yve/internal/vault"
)

// fakeStore captures persisted outcomes in memory.
type fakeStore struct {
	snapshots []types.OperationSnapshot
	reports   map[uint64]types.EpochLossReport
	fail      bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{reports: make(map[uint64]types.EpochLossReport)}
}

func (s *fakeStore) SaveOperationSnapshot(snap types.OperationSnapshot) error {
	if s.fail {
		return errors.New("store unavailable")
	}
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *fakeStore) UpsertEpochLossReport(report types.EpochLossReport) error {
	if s.fail {
		return errors.New("store unavailable")
	}
	s.reports[report.Epoch] = report
	return nil
}

type harness struct {
	orch     *Orchestrator
	vault    *vault.Vault
	store    *fakeStore
	adminCap uuid.UUID
	opCap    uuid.UUID
	feed     *oracle.StaticFeed
	staking  *adaptor.StakingAdaptor
	base     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	params := types.VaultParams{
		MaxUpdateInterval:  30 * time.Second,
		CancellationLock:   10 * time.Minute,
		RequestExpiry:      48 * time.Hour,
		OperationLeaseTTL:  2 * time.Hour,
		EpochDuration:      24 * time.Hour,
		LossToleranceBps:   1000,
		MinDeposit:         types.NewInt(1),
		DepositCapUSD:      types.ZeroDec(),
		PrincipalPrecision: 6,
	}

	gateway := oracle.NewGateway(params.MaxUpdateInterval)
	feed := oracle.NewStaticFeed("test")
	require.NoError(t, gateway.RegisterFeed(types.KindPrincipal, feed))
	feed.Post(types.KindPrincipal, types.OneDec(), 6, base)

	v, adminCap := vault.New(3, params, gateway, base)
	staking := adaptor.NewStakingAdaptor(params.PrincipalPrecision)
	require.NoError(t, v.RegisterAdaptor(staking))

	store := newFakeStore()
	orch := NewOrchestrator(v, gateway, store)
	orch.RegisterAdaptor(staking)

	opCap, err := v.IssueOperatorCap(adminCap, "operator-addr")
	require.NoError(t, err)

	// Seed 1000 USD of principal.
	id := v.OpenReceipt("alice")
	req, err := v.RequestDeposit("alice", id, types.NewInt(1_000_000_000), types.ZeroDec(), "alice", base)
	require.NoError(t, err)
	_, err = v.ExecuteDeposit(opCap, req.ID, types.ZeroDec(), base)
	require.NoError(t, err)

	return &harness{
		orch:     orch,
		vault:    v,
		store:    store,
		adminCap: adminCap,
		opCap:    opCap,
		feed:     feed,
		staking:  staking,
		base:     base,
	}
}

// bootstrap runs a full first cycle that deploys 400 USD of principal into a
// staking certificate.
func (h *harness) bootstrap(t *testing.T) types.Position {
	t.Helper()

	h.staking.RegisterCert("cert-1", types.NewInt(400_000_000), types.OneDec())
	pos := types.Position{Kind: types.KindStakingCert, Handle: "cert-1"}

	lease, borrowed, err := h.orch.Start(h.opCap, nil, h.base)
	require.NoError(t, err)
	require.Empty(t, borrowed)

	require.NoError(t, h.vault.DeployPrincipal(lease.ID, h.opCap, pos, types.NewInt(400_000_000), h.base))
	require.NoError(t, h.orch.EndWithBag(h.opCap, lease.ID, nil, h.base))

	usd, err := h.orch.Revalue(h.opCap, types.KindStakingCert, h.base)
	require.NoError(t, err)
	require.True(t, usd.Equal(types.NewDec(400)))

	_, err = h.orch.EndValueUpdate(h.opCap, lease.ID, types.Dec{}, h.base)
	require.NoError(t, err)
	return pos
}

func TestFullCyclePersistsOutcome(t *testing.T) {
	h := newHarness(t)
	pos := h.bootstrap(t)
	require.Len(t, h.store.snapshots, 1)

	// Second cycle: borrow the certificate, accrue a little, close.
	lease, borrowed, err := h.orch.Start(h.opCap, []types.AssetKind{types.KindStakingCert}, h.base)
	require.NoError(t, err)
	require.Len(t, borrowed, 1)

	require.NoError(t, h.staking.SetExchangeRate("cert-1", types.MustNewDecFromStr("1.05")))
	require.NoError(t, h.orch.EndWithBag(h.opCap, lease.ID, []types.Position{pos}, h.base))

	usd, err := h.orch.Revalue(h.opCap, types.KindStakingCert, h.base)
	require.NoError(t, err)
	assert.True(t, usd.Equal(types.NewDec(420)))

	snap, err := h.orch.EndValueUpdate(h.opCap, lease.ID, types.Dec{}, h.base)
	require.NoError(t, err)
	assert.Equal(t, lease.ID.String(), snap.OperationID)
	assert.Equal(t, []string{types.KindStakingCert.String()}, snap.BorrowedKinds)
	assert.False(t, snap.Forced)

	require.Len(t, h.store.snapshots, 2)
	report, ok := h.store.reports[snap.Epoch]
	require.True(t, ok)
	assert.Equal(t, types.ZeroDec().String(), report.CumulativeUSD)
	assert.Equal(t, uint64(1000), report.ToleranceBps)
	assert.Equal(t, types.StatusNormal, h.vault.Status())
}

func TestCloseWithoutRevalueIsRetryable(t *testing.T) {
	h := newHarness(t)
	pos := h.bootstrap(t)
	persisted := len(h.store.snapshots)

	lease, _, err := h.orch.Start(h.opCap, []types.AssetKind{types.KindStakingCert}, h.base)
	require.NoError(t, err)
	require.NoError(t, h.orch.EndWithBag(h.opCap, lease.ID, []types.Position{pos}, h.base))

	// Closing before the revaluation fails and persists nothing.
	_, err = h.orch.EndValueUpdate(h.opCap, lease.ID, types.Dec{}, h.base)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrValueIncomplete))
	assert.Equal(t, types.StatusDuringOperation, h.vault.Status())
	assert.Len(t, h.store.snapshots, persisted)

	// The same close succeeds once the value is in.
	_, err = h.orch.Revalue(h.opCap, types.KindStakingCert, h.base)
	require.NoError(t, err)
	_, err = h.orch.EndValueUpdate(h.opCap, lease.ID, types.Dec{}, h.base)
	require.NoError(t, err)
	assert.Len(t, h.store.snapshots, persisted+1)
}

func TestFrozenOperatorRejectedAtEntry(t *testing.T) {
	h := newHarness(t)
	h.bootstrap(t)

	require.NoError(t, h.vault.FreezeOperator(h.adminCap, h.opCap))

	_, _, err := h.orch.Start(h.opCap, nil, h.base)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrOperatorFrozen))
	assert.Equal(t, types.StatusNormal, h.vault.Status())

	_, err = h.orch.Revalue(h.opCap, types.KindStakingCert, h.base)
	assert.True(t, errors.Is(err, types.ErrOperatorFrozen))
}

func TestUnknownCapabilityRejected(t *testing.T) {
	h := newHarness(t)
	h.bootstrap(t)

	_, _, err := h.orch.Start(uuid.New(), nil, h.base)
	assert.True(t, errors.Is(err, types.ErrUnknownCapability))
	assert.True(t, errors.Is(err, types.ErrUnauthorized))
}

func TestRevalueWithoutAdaptor(t *testing.T) {
	h := newHarness(t)
	h.bootstrap(t)

	_, err := h.orch.Revalue(h.opCap, types.KindAMMPool, h.base)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUnknownAsset))
}

func TestForceClosePersistsForcedSnapshot(t *testing.T) {
	h := newHarness(t)
	h.bootstrap(t)

	lease, _, err := h.orch.Start(h.opCap, []types.AssetKind{types.KindStakingCert}, h.base)
	require.NoError(t, err)

	late := h.base.Add(3 * time.Hour)
	snap, err := h.orch.ForceClose(h.adminCap, lease.ID, late)
	require.NoError(t, err)
	assert.True(t, snap.Forced)
	assert.Empty(t, snap.TotalUSDAfter)
	assert.Equal(t, types.StatusDisabled, h.vault.Status())

	last := h.store.snapshots[len(h.store.snapshots)-1]
	assert.True(t, last.Forced)
	assert.Equal(t, lease.ID.String(), last.OperationID)
}

func TestStoreFailureDoesNotBlockClose(t *testing.T) {
	h := newHarness(t)
	pos := h.bootstrap(t)
	h.store.fail = true

	lease, _, err := h.orch.Start(h.opCap, []types.AssetKind{types.KindStakingCert}, h.base)
	require.NoError(t, err)
	require.NoError(t, h.orch.EndWithBag(h.opCap, lease.ID, []types.Position{pos}, h.base))
	_, err = h.orch.Revalue(h.opCap, types.KindStakingCert, h.base)
	require.NoError(t, err)

	// The close commits in memory even when the store is down.
	_, err = h.orch.EndValueUpdate(h.opCap, lease.ID, types.Dec{}, h.base)
	require.NoError(t, err)
	assert.Equal(t, types.StatusNormal, h.vault.Status())
}
