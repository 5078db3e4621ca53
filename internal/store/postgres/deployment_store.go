package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/algomarkets/internal/domain"
)

// DeploymentStore implements domain.DeploymentStore on market_deployments.
type DeploymentStore struct {
	pool *pgxpool.Pool
}

// NewDeploymentStore creates a DeploymentStore.
func NewDeploymentStore(pool *pgxpool.Pool) *DeploymentStore {
	return &DeploymentStore{pool: pool}
}

const deploymentColumns = `market_id, title, question, category, ref, fee_bps, expiry_date,
	expiry_round, app_id, app_address, deployer, tx_id, funding_tx_id, deployed_at`

// Insert records one deployed market. Re-inserting the same application on
// the same network is a no-op.
func (s *DeploymentStore) Insert(ctx context.Context, runID, network string, m domain.DeployedMarket) error {
	const query = `INSERT INTO market_deployments (run_id, network, ` + deploymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (network, app_id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		runID, network,
		m.ID, m.Title, m.Question, string(m.Category), m.Ref, int64(m.FeeBps), m.ExpiryDate,
		int64(m.ExpiryRound), int64(m.AppID), m.AppAddress, m.Deployer, m.TxID, m.FundingTxID, m.DeployedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert deployment %s: %w", m.ID, err)
	}
	return nil
}

// ListByRun returns the markets of one run in deployment order.
func (s *DeploymentStore) ListByRun(ctx context.Context, runID string) ([]domain.DeployedMarket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+deploymentColumns+` FROM market_deployments WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list run %s: %w", runID, err)
	}
	return collectDeployments(rows)
}

// ListByMarket returns every deployment of a market id, newest first.
func (s *DeploymentStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.DeployedMarket, error) {
	query, args := newListQuery(
		`SELECT `+deploymentColumns+` FROM market_deployments WHERE market_id = $1`, marketID,
	).apply("deployed_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list market %s: %w", marketID, err)
	}
	return collectDeployments(rows)
}

func collectDeployments(rows pgx.Rows) ([]domain.DeployedMarket, error) {
	defer rows.Close()
	var out []domain.DeployedMarket
	for rows.Next() {
		var (
			m                       domain.DeployedMarket
			category                string
			fee, expiryRound, appID int64
		)
		err := rows.Scan(&m.ID, &m.Title, &m.Question, &category, &m.Ref, &fee, &m.ExpiryDate,
			&expiryRound, &appID, &m.AppAddress, &m.Deployer, &m.TxID, &m.FundingTxID, &m.DeployedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan deployment: %w", err)
		}
		m.Category = domain.Category(category)
		m.FeeBps = uint64(fee)
		m.ExpiryRound = uint64(expiryRound)
		m.AppID = uint64(appID)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list deployments: %w", err)
	}
	return out, nil
}

var _ domain.DeploymentStore = (*DeploymentStore)(nil)
