package types

import "time"

// ReceiptStatus tracks which pending flow, if any, a receipt is in.
type ReceiptStatus uint8

const (
	ReceiptNormal ReceiptStatus = iota
	ReceiptPendingDeposit
	ReceiptPendingWithdraw
	ReceiptPendingWithdrawAutoTransfer
)

func (s ReceiptStatus) String() string {
	switch s {
	case ReceiptNormal:
		return "NORMAL"
	case ReceiptPendingDeposit:
		return "PENDING_DEPOSIT"
	case ReceiptPendingWithdraw:
		return "PENDING_WITHDRAW"
	case ReceiptPendingWithdrawAutoTransfer:
		return "PENDING_WITHDRAW_AUTO_TRANSFER"
	default:
		return "UNKNOWN"
	}
}

// Receipt is the bearer claim on vault shares. Owner is whoever currently
// holds it; authorization always checks this field, never whoever originally
// minted the receipt or created a request against it.
type Receipt struct {
	ID    uint64 `json:"id"`
	Owner string `json:"owner"`
}

// VaultReceiptInfo is the vault-side twin of a receipt, keyed by receipt id.
type VaultReceiptInfo struct {
	Shares                Dec           `json:"shares"`
	PendingDepositBalance Int           `json:"pending_deposit_balance"`
	PendingWithdrawShares Dec           `json:"pending_withdraw_shares"`
	ClaimablePrincipal    Int           `json:"claimable_principal"`
	Status                ReceiptStatus `json:"status"`
	LastDepositTime       time.Time     `json:"last_deposit_time"`
}

// AvailableShares is the balance a new withdraw request may draw on: total
// shares minus what earlier pending withdrawals have already committed.
func (i *VaultReceiptInfo) AvailableShares() Dec {
	return i.Shares.Sub(i.PendingWithdrawShares)
}
