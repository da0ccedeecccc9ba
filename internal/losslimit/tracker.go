/*

Loss Tolerance Tracker.

Cumulative realized operation losses per accounting epoch, checked against a
basis-point tolerance of the epoch baseline. Update is check-then-commit: a
loss that would breach the limit is rejected and the counter is untouched, so
a failed operation close can be retried without compounding phantom losses.

*/

package losslimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/halcyon-labs/yve/internal/logger"
	"github.com/halcyon-labs/yve/internal/types"
)

var trackerLogger = logger.GetForComponent("loss_tracker")

// Tracker holds the per-epoch loss state.
type Tracker struct {
	mu           sync.Mutex
	toleranceBps uint64
	state        types.LossToleranceState
}

// NewTracker creates a tracker with the given tolerance. The baseline starts
// unset; the first operation of the first epoch establishes it.
func NewTracker(toleranceBps uint64) *Tracker {
	return &Tracker{
		toleranceBps: toleranceBps,
		state: types.LossToleranceState{
			CurEpochLoss:    types.ZeroDec(),
			CurEpochBaseUSD: types.ZeroDec(),
		},
	}
}

// Reset establishes a new baseline and zeroes the cumulative loss. Called by
// the orchestrator at the first operation of a new epoch and by the admin.
// The caller is responsible for supplying a baseline computed from fresh
// values under the same price-source configuration the epoch will be judged
// against.
func (t *Tracker) Reset(epoch uint64, baseUSD types.Dec, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = types.LossToleranceState{
		Epoch:           epoch,
		CurEpochLoss:    types.ZeroDec(),
		CurEpochBaseUSD: baseUSD,
		ResetAt:         now,
	}
	trackerLogger.Info().
		Uint64("epoch", epoch).
		Str("baseUSD", baseUSD.String()).
		Msg("Loss baseline reset")
}

// Limit returns the absolute loss allowance for the current epoch.
func (t *Tracker) Limit() types.Dec {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limitLocked()
}

func (t *Tracker) limitLocked() types.Dec {
	return t.state.CurEpochBaseUSD.Mul(types.BpsToDec(t.toleranceBps))
}

// Update adds a realized loss to the epoch counter. If the new cumulative
// loss would exceed the tolerance the call fails with ErrLossLimitExceeded
// and the counter is not mutated.
func (t *Tracker) Update(loss types.Dec) error {
	if loss.IsNil() || loss.IsNegative() {
		return fmt.Errorf("loss must be non-negative, got %s", loss)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.state.CurEpochLoss.Add(loss)
	limit := t.limitLocked()
	if next.GT(limit) {
		trackerLogger.Error().
			Uint64("epoch", t.state.Epoch).
			Str("loss", loss.String()).
			Str("cumulative", t.state.CurEpochLoss.String()).
			Str("limit", limit.String()).
			Msg("Loss tolerance breached, rejecting update")
		return fmt.Errorf("%w: %s + %s exceeds limit %s for epoch %d",
			types.ErrLossLimitExceeded, t.state.CurEpochLoss, loss, limit, t.state.Epoch)
	}

	t.state.CurEpochLoss = next
	trackerLogger.Info().
		Uint64("epoch", t.state.Epoch).
		Str("loss", loss.String()).
		Str("cumulative", next.String()).
		Str("limit", limit.String()).
		Msg("Epoch loss updated")
	return nil
}

// State returns a copy of the current state.
func (t *Tracker) State() types.LossToleranceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
