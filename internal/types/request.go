package types

import "time"

// DepositRequest is a queued deposit intent. Amount is escrowed principal.
// CancelAfter and ExpiresAt are both captured at creation time from the
// config in force at that moment; later config changes never move them.
type DepositRequest struct {
	ID          uint64    `json:"id"`
	ReceiptID   uint64    `json:"receipt_id"`
	Amount      Int       `json:"amount"`
	MinShares   Dec       `json:"min_shares"`
	RequestTime time.Time `json:"request_time"`
	CancelAfter time.Time `json:"cancel_after"`
	ExpiresAt   time.Time `json:"expires_at"`
	Recipient   string    `json:"recipient"`
}

// WithdrawRequest is a queued withdraw intent for a fixed share amount.
// The shares are committed against the receipt at creation time, so two
// requests can never over-draw the same balance.
type WithdrawRequest struct {
	ID          uint64    `json:"id"`
	ReceiptID   uint64    `json:"receipt_id"`
	Shares      Dec       `json:"shares"`
	MinAmount   Int       `json:"min_amount"`
	RequestTime time.Time `json:"request_time"`
	CancelAfter time.Time `json:"cancel_after"`
	ExpiresAt   time.Time `json:"expires_at"`
	Recipient   string    `json:"recipient"`

	// AutoTransfer pays principal straight to Recipient at execution instead
	// of parking it as claimable balance.
	AutoTransfer bool `json:"auto_transfer"`
}
