// Package deploy creates, funds, configures and opens prediction-market
// applications and records the ones that made it through every step.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/algomarkets/internal/domain"
	"github.com/alanyoungcy/algomarkets/internal/markets"
)

const (
	// appMinBalance is the minimum balance each created application adds to
	// its creator's account.
	appMinBalance = 100_000
	// marketFees covers the create, fund, configure and open transactions of
	// one market at the minimum fee.
	marketFees = 4 * 1_000
)

// OrchestratorConfig holds the per-run parameters of a deployment.
type OrchestratorConfig struct {
	Network    string
	FundAmount uint64
	BlockTime  time.Duration
}

// Orchestrator runs the deployment pipeline for a catalog, one market at a
// time. Failures are isolated per market.
type Orchestrator struct {
	ledger    domain.Ledger
	factory   *Factory
	activator *Activator
	cfg       OrchestratorConfig
	now       func() time.Time
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(ledger domain.Ledger, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = markets.DefaultBlockTime
	}
	return &Orchestrator{
		ledger:    ledger,
		factory:   NewFactory(ledger, cfg.FundAmount, logger),
		activator: NewActivator(ledger, logger),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
}

// Run is the outcome of one deployment run.
type Run struct {
	ID       string
	Results  []domain.DeployResult
	Registry domain.MarketsRegistry
}

// Failed returns the number of markets that did not reach StageDone.
func (r Run) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.OK() {
			n++
		}
	}
	return n
}

// CheckDeployer fails with domain.ErrDeployerUnfunded unless the operator can
// pay for at least one market: the application funding, the minimum balance
// the new application adds and the fees of its transactions.
func (o *Orchestrator) CheckDeployer(ctx context.Context) error {
	bal, err := o.ledger.AccountBalance(ctx, o.ledger.Operator())
	if err != nil {
		return fmt.Errorf("deploy: deployer balance: %w", err)
	}
	need := o.MarketCost()
	if bal.Amount == 0 || bal.Spendable() < need {
		return fmt.Errorf("deploy: %s has %d spendable, needs %d: %w",
			bal.Address, bal.Spendable(), need, domain.ErrDeployerUnfunded)
	}
	return nil
}

// MarketCost is the spendable balance one market deployment consumes.
func (o *Orchestrator) MarketCost() uint64 {
	return o.cfg.FundAmount + appMinBalance + marketFees
}

// Deploy runs every config through compute, deploy, configure and open. A
// returned error means a precondition failed and nothing was submitted;
// per-market failures are reported in Run.Results only.
func (o *Orchestrator) Deploy(ctx context.Context, tmpl domain.AppTemplate, configs []domain.MarketConfig) (Run, error) {
	if len(configs) == 0 {
		return Run{}, fmt.Errorf("deploy: catalog is empty: %w", domain.ErrInvalidInput)
	}
	if len(tmpl.ApprovalProgram) == 0 || len(tmpl.ClearProgram) == 0 {
		return Run{}, fmt.Errorf("deploy: template %q has no program: %w", tmpl.Name, domain.ErrInvalidInput)
	}
	if err := o.CheckDeployer(ctx); err != nil {
		return Run{}, err
	}
	status, err := o.ledger.Status(ctx)
	if err != nil {
		return Run{}, fmt.Errorf("deploy: node status: %w", err)
	}

	run := Run{ID: uuid.NewString()}
	started := o.now()
	o.logger.InfoContext(ctx, "deployment run starting",
		slog.String("run_id", run.ID),
		slog.Int("markets", len(configs)),
		slog.Uint64("round", status.LastRound),
		slog.String("deployer", o.ledger.Operator()),
	)

	for _, c := range markets.Compute(status.LastRound, configs, started, o.cfg.BlockTime) {
		if err := ctx.Err(); err != nil {
			o.logger.WarnContext(ctx, "deployment run cancelled", slog.String("run_id", run.ID))
			break
		}
		res := o.deployOne(ctx, tmpl, c)
		run.Results = append(run.Results, res)
		if res.OK() {
			o.logger.InfoContext(ctx, "market deployed",
				slog.String("market_id", res.MarketID),
				slog.Uint64("app_id", res.Market.AppID),
				slog.Uint64("expiry_round", res.Market.ExpiryRound),
			)
		} else {
			o.logger.ErrorContext(ctx, "market failed",
				slog.String("market_id", res.MarketID),
				slog.String("stage", string(res.Stage)),
				slog.String("error", res.Err.Error()),
			)
		}
	}

	run.Registry = BuildRegistry(run.ID, o.cfg.Network, started, run.Results)
	o.logger.InfoContext(ctx, "deployment run finished",
		slog.String("run_id", run.ID),
		slog.Int("deployed", len(run.Registry.Markets)),
		slog.Int("failed", run.Failed()),
	)
	return run, nil
}

func (o *Orchestrator) deployOne(ctx context.Context, tmpl domain.AppTemplate, c markets.Computed) domain.DeployResult {
	res := domain.DeployResult{MarketID: c.Config.ID, Stage: domain.StageCompute}
	if c.Err != nil {
		res.Err = c.Err
		return res
	}

	res.Stage = domain.StageDeploy
	app, err := o.factory.Deploy(ctx, tmpl)
	if err != nil {
		res.Err = err
		return res
	}

	stage, err := o.activator.Activate(ctx, app.AppID, c.Market)
	res.Stage = stage
	if err != nil {
		res.Err = err
		return res
	}

	res.Market = domain.DeployedMarket{
		ComputedMarket: c.Market,
		AppID:          app.AppID,
		AppAddress:     app.Address,
		DeployedAt:     o.now(),
		Deployer:       o.ledger.Operator(),
		TxID:           app.TxID,
		FundingTxID:    app.FundingTxID,
	}
	return res
}

// BuildRegistry derives the registry of a run from its results: exactly the
// markets that reached StageDone, in completion order.
func BuildRegistry(runID, network string, deployedAt time.Time, results []domain.DeployResult) domain.MarketsRegistry {
	reg := domain.MarketsRegistry{
		Version:    domain.RegistryVersion,
		RunID:      runID,
		DeployedAt: deployedAt,
		Network:    network,
		Markets:    []domain.DeployedMarket{},
	}
	for _, r := range results {
		if r.OK() {
			reg.Markets = append(reg.Markets, r.Market)
		}
	}
	return reg
}

// FailureErr joins the per-market errors of a run, or returns nil.
func FailureErr(results []domain.DeployResult) error {
	var errs []error
	for _, r := range results {
		if !r.OK() && r.Err != nil {
			errs = append(errs, fmt.Errorf("%s at %s: %w", r.MarketID, r.Stage, r.Err))
		}
	}
	return errors.Join(errs...)
}
