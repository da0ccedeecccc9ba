package state

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/halcyon-labs/yve/internal/types"
)

// UpsertEpochLossReport writes the running loss ledger row for an epoch.
func UpsertEpochLossReport(report types.EpochLossReport) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO epoch_loss_reports (epoch, base_usd, cumulative_usd, tolerance_bps, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (epoch) DO UPDATE SET
			base_usd = EXCLUDED.base_usd,
			cumulative_usd = EXCLUDED.cumulative_usd,
			tolerance_bps = EXCLUDED.tolerance_bps,
			updated_at = EXCLUDED.updated_at;
	`

	_, err := DB.Exec(query, report.Epoch, report.BaseUSD, report.CumulativeUSD,
		report.ToleranceBps, report.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert epoch loss report: %w", err)
	}

	log.Debug().
		Uint64("epoch", report.Epoch).
		Str("cumulative_usd", report.CumulativeUSD).
		Msg("Epoch loss report upserted")
	return nil
}

// GetEpochLossReports returns the most recent epochs, newest first.
func GetEpochLossReports(limit int) ([]types.EpochLossReport, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 30
	}

	query := `
		SELECT epoch, base_usd, cumulative_usd, tolerance_bps, updated_at
		FROM epoch_loss_reports
		ORDER BY epoch DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query epoch loss reports: %w", err)
	}
	defer rows.Close()

	var reports []types.EpochLossReport
	for rows.Next() {
		var r types.EpochLossReport
		if err := rows.Scan(&r.Epoch, &r.BaseUSD, &r.CumulativeUSD, &r.ToleranceBps, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan epoch loss report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating epoch loss reports: %w", err)
	}
	return reports, nil
}

// PGStore adapts the package-level store functions to the orchestrator's
// persistence interface.
type PGStore struct{}

func (PGStore) SaveOperationSnapshot(snap types.OperationSnapshot) error {
	_, err := SaveOperationSnapshot(snap)
	return err
}

func (PGStore) UpsertEpochLossReport(report types.EpochLossReport) error {
	return UpsertEpochLossReport(report)
}
