/*

Persistence records. Decimal quantities are carried as strings so Postgres
DECIMAL columns round-trip without float precision loss.

*/

package types

import "time"

// OperationSnapshot is the durable record of one closed (or force-closed)
// operation, written by the orchestrator at phase 3 or at force-close.
type OperationSnapshot struct {
	OperationID    string    `json:"operation_id"`
	Operator       string    `json:"operator"`
	Epoch          uint64    `json:"epoch"`
	OpenedAt       time.Time `json:"opened_at"`
	ClosedAt       time.Time `json:"closed_at"`
	BorrowedKinds  []string  `json:"borrowed_kinds"`
	TotalUSDBefore string    `json:"total_usd_before"`
	TotalUSDAfter  string    `json:"total_usd_after"`
	TotalShares    string    `json:"total_shares"`
	LossUSD        string    `json:"loss_usd"`
	Forced         bool      `json:"forced"`
}

// EpochLossReport is the durable per-epoch loss ledger row.
type EpochLossReport struct {
	Epoch         uint64    `json:"epoch"`
	BaseUSD       string    `json:"base_usd"`
	CumulativeUSD string    `json:"cumulative_usd"`
	ToleranceBps  uint64    `json:"tolerance_bps"`
	UpdatedAt     time.Time `json:"updated_at"`
}
