package state

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"

	"github.com/halcyon-labs/yve/internal/types"
)

// nullable maps an empty decimal string to SQL NULL. Force-closed operations
// have no after-value or loss.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// SaveOperationSnapshot saves one closed or force-closed operation.
func SaveOperationSnapshot(snapshot types.OperationSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO operation_snapshots (
			operation_id, operator, epoch, opened_at, closed_at,
			borrowed_kinds, total_usd_before, total_usd_after,
			total_shares, loss_usd, forced
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err := DB.QueryRow(
		query,
		snapshot.OperationID, snapshot.Operator, snapshot.Epoch, snapshot.OpenedAt, snapshot.ClosedAt,
		pq.Array(snapshot.BorrowedKinds), snapshot.TotalUSDBefore, nullable(snapshot.TotalUSDAfter),
		snapshot.TotalShares, nullable(snapshot.LossUSD), snapshot.Forced,
	).Scan(&snapshotID)

	if err != nil {
		return 0, fmt.Errorf("failed to save operation snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Str("operation_id", snapshot.OperationID).
		Bool("forced", snapshot.Forced).
		Msg("Operation snapshot saved to database")

	return snapshotID, nil
}

// ListOperationSnapshots returns the most recent snapshots, newest first.
func ListOperationSnapshots(limit int) ([]types.OperationSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT operation_id, operator, epoch, opened_at, closed_at,
		       borrowed_kinds, total_usd_before, total_usd_after,
		       total_shares, loss_usd, forced
		FROM operation_snapshots
		ORDER BY closed_at DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.OperationSnapshot
	for rows.Next() {
		var snap types.OperationSnapshot
		var after, loss sql.NullString
		err := rows.Scan(
			&snap.OperationID, &snap.Operator, &snap.Epoch, &snap.OpenedAt, &snap.ClosedAt,
			pq.Array(&snap.BorrowedKinds), &snap.TotalUSDBefore, &after,
			&snap.TotalShares, &loss, &snap.Forced,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation snapshot: %w", err)
		}
		snap.TotalUSDAfter = after.String
		snap.LossUSD = loss.String
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operation snapshots: %w", err)
	}
	return snapshots, nil
}

// GetLatestOperationSnapshot returns the most recently closed operation.
func GetLatestOperationSnapshot() (*types.OperationSnapshot, error) {
	snapshots, err := ListOperationSnapshots(1)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}
	return &snapshots[0], nil
}
