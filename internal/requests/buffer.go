/*

Request Buffer.

Queued deposit/withdraw intents with ids from one monotonically increasing
counter across both queues. Requests capture their cancellation-lock deadline
and expiry at creation; the buffer never re-reads live config. Take removes a
request atomically, which is what makes execute-or-cancel mutually exclusive:
whichever path takes the request first wins, the other finds it gone.

*/

package requests

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/halcyon-labs/yve/internal/types"
)

// Buffer holds pending requests.
type Buffer struct {
	mu        sync.Mutex
	nextID    uint64
	deposits  map[uint64]types.DepositRequest
	withdraws map[uint64]types.WithdrawRequest
}

func NewBuffer() *Buffer {
	return &Buffer{
		nextID:    1,
		deposits:  make(map[uint64]types.DepositRequest),
		withdraws: make(map[uint64]types.WithdrawRequest),
	}
}

// EnqueueDeposit stores a deposit intent and assigns its id. Lock and expiry
// deadlines are computed here, once, from the durations in force now.
func (b *Buffer) EnqueueDeposit(receiptID uint64, amount types.Int, minShares types.Dec,
	recipient string, now time.Time, cancellationLock, expiry time.Duration) types.DepositRequest {

	b.mu.Lock()
	defer b.mu.Unlock()
	req := types.DepositRequest{
		ID:          b.nextID,
		ReceiptID:   receiptID,
		Amount:      amount,
		MinShares:   minShares,
		RequestTime: now,
		CancelAfter: now.Add(cancellationLock),
		ExpiresAt:   now.Add(expiry),
		Recipient:   recipient,
	}
	b.nextID++
	b.deposits[req.ID] = req
	return req
}

// EnqueueWithdraw stores a withdraw intent and assigns its id.
func (b *Buffer) EnqueueWithdraw(receiptID uint64, shares types.Dec, minAmount types.Int,
	recipient string, autoTransfer bool, now time.Time, cancellationLock, expiry time.Duration) types.WithdrawRequest {

	b.mu.Lock()
	defer b.mu.Unlock()
	req := types.WithdrawRequest{
		ID:           b.nextID,
		ReceiptID:    receiptID,
		Shares:       shares,
		MinAmount:    minAmount,
		RequestTime:  now,
		CancelAfter:  now.Add(cancellationLock),
		ExpiresAt:    now.Add(expiry),
		Recipient:    recipient,
		AutoTransfer: autoTransfer,
	}
	b.nextID++
	b.withdraws[req.ID] = req
	return req
}

// Deposit returns a deposit request without removing it.
func (b *Buffer) Deposit(id uint64) (types.DepositRequest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, exists := b.deposits[id]
	if !exists {
		return types.DepositRequest{}, fmt.Errorf("%w: deposit request %d", types.ErrUnknownRequest, id)
	}
	return req, nil
}

// Withdraw returns a withdraw request without removing it.
func (b *Buffer) Withdraw(id uint64) (types.WithdrawRequest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, exists := b.withdraws[id]
	if !exists {
		return types.WithdrawRequest{}, fmt.Errorf("%w: withdraw request %d", types.ErrUnknownRequest, id)
	}
	return req, nil
}

// TakeDeposit removes and returns a deposit request.
func (b *Buffer) TakeDeposit(id uint64) (types.DepositRequest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, exists := b.deposits[id]
	if !exists {
		return types.DepositRequest{}, fmt.Errorf("%w: deposit request %d", types.ErrUnknownRequest, id)
	}
	delete(b.deposits, id)
	return req, nil
}

// TakeWithdraw removes and returns a withdraw request.
func (b *Buffer) TakeWithdraw(id uint64) (types.WithdrawRequest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, exists := b.withdraws[id]
	if !exists {
		return types.WithdrawRequest{}, fmt.Errorf("%w: withdraw request %d", types.ErrUnknownRequest, id)
	}
	delete(b.withdraws, id)
	return req, nil
}

// ListDeposits returns pending deposit requests in id order.
func (b *Buffer) ListDeposits() []types.DepositRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.DepositRequest, 0, len(b.deposits))
	for _, req := range b.deposits {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListWithdraws returns pending withdraw requests in id order.
func (b *Buffer) ListWithdraws() []types.WithdrawRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.WithdrawRequest, 0, len(b.withdraws))
	for _, req := range b.withdraws {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
