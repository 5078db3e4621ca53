package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/algomarkets/internal/deploy"
	"github.com/alanyoungcy/algomarkets/internal/diagnostics"
	"github.com/alanyoungcy/algomarkets/internal/domain"
	"github.com/alanyoungcy/algomarkets/internal/markets"
	"github.com/alanyoungcy/algomarkets/internal/notify"
	"github.com/alanyoungcy/algomarkets/internal/settlement"
)

// errUnhealthy is returned by HealthMode when any probe failed.
var errUnhealthy = errors.New("app: health check failed")

const (
	// historyLimit is how many recorded deployments inspect lists per market.
	historyLimit = 5
	// auditTail is how many recent audit entries inspect lists.
	auditTail = 10
)

// DeployMode deploys the catalog, writes the registry and sends a summary.
// Per-market failures are isolated; the run only fails when a precondition
// fails, the registry cannot be written, or not a single market was deployed.
func (a *App) DeployMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting deploy mode")

	unlock, err := a.lockDeployer(ctx, deps)
	if err != nil {
		return err
	}
	defer unlock()

	catalog, err := a.loadCatalog()
	if err != nil {
		return fmt.Errorf("app: deploy: %w", err)
	}
	tmpl, err := deploy.LoadTemplate(ctx, deps.Ledger, deploy.TemplateSource{
		Name:         "market",
		ApprovalPath: a.cfg.Deploy.ApprovalPath,
		ClearPath:    a.cfg.Deploy.ClearPath,
		GlobalSchema: a.cfg.Deploy.GlobalSchema,
		LocalSchema:  a.cfg.Deploy.LocalSchema,
		ExtraPages:   a.cfg.Deploy.ExtraPages,
	})
	if err != nil {
		return fmt.Errorf("app: deploy: %w", err)
	}

	orch := deploy.NewOrchestrator(deps.Ledger, deploy.OrchestratorConfig{
		Network:    a.cfg.Algod.Network,
		FundAmount: a.cfg.Deploy.FundAmount,
		BlockTime:  a.cfg.Deploy.AvgBlockTime.Duration,
	}, a.logger)
	run, err := orch.Deploy(ctx, tmpl, catalog)
	if err != nil {
		return fmt.Errorf("app: deploy: %w", err)
	}

	writer := deploy.NewRegistryWriter(a.cfg.Deploy.RegistryPath, deploy.RegistrySinks{
		Blob:        deps.BlobWriter,
		Deployments: deps.DeploymentStore,
		Audit:       deps.AuditStore,
	}, a.logger)
	if err := writer.Write(ctx, run.Registry); err != nil {
		return fmt.Errorf("app: deploy: %w", err)
	}

	a.notify(ctx, deps, notify.EventDeployCompleted, "algomarkets deploy completed", deploySummary(run))

	if len(run.Registry.Markets) == 0 && run.Failed() > 0 {
		return fmt.Errorf("app: deploy: no market deployed: %w", deploy.FailureErr(run.Results))
	}
	return nil
}

// SettleMode runs one settlement epoch from the epoch input file.
func (a *App) SettleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting settle mode")

	path := a.cfg.Settlement.EpochFile
	if a.opts.EpochFile != "" {
		path = a.opts.EpochFile
	}
	in, err := settlement.LoadEpochInput(path)
	if err != nil {
		return fmt.Errorf("app: settle: %w", err)
	}

	unlock, err := a.lockDeployer(ctx, deps)
	if err != nil {
		return err
	}
	defer unlock()

	op := settlement.NewOperator(deps.Ledger, settlement.OperatorConfig{
		AppID:       a.cfg.Settlement.RevenueAppID,
		FundMargin:  a.cfg.Settlement.FundMargin,
		MarkSettled: a.cfg.Settlement.MarkSettled,
	}, a.logger)
	report, err := settlement.NewFlow(op, deps.AuditStore, a.logger).Run(ctx, in)
	if err != nil {
		return fmt.Errorf("app: settle epoch %d: %w", in.EpochID, err)
	}

	a.notify(ctx, deps, notify.EventSettleCompleted, "algomarkets settlement completed", settleSummary(report))
	return nil
}

// HealthMode probes the node, the deployer, every registered application,
// the enabled backends and the archived and recorded copies of the registry.
func (a *App) HealthMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting health mode")

	hc := diagnostics.NewHealthCheck(deps.Ledger, deps.Ledger.Operator(), a.cfg.Deploy.RegistryPath, a.logger)
	names := make([]string, 0, len(deps.Probes))
	for name := range deps.Probes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		hc.AddProbe(name, deps.Probes[name])
	}
	if deps.BlobReader != nil {
		hc.AddProbe("archive", func(ctx context.Context) error {
			return deploy.VerifyArchive(ctx, deps.BlobReader, a.cfg.Deploy.RegistryPath)
		})
	}
	if deps.DeploymentStore != nil {
		hc.AddProbe("history", func(ctx context.Context) error {
			return deploy.VerifyHistory(ctx, deps.DeploymentStore, a.cfg.Deploy.RegistryPath)
		})
	}

	report := hc.Run(ctx)
	if !report.Healthy() {
		failed := report.Failed()
		a.logger.ErrorContext(ctx, "unhealthy", slog.Int("failed", len(failed)), slog.Int("checks", len(report.Checks)))
		return fmt.Errorf("%w: %d of %d checks", errUnhealthy, len(failed), len(report.Checks))
	}
	a.logger.InfoContext(ctx, "healthy", slog.Int("checks", len(report.Checks)))
	return nil
}

// InspectMode reads the state of one application, or of every application in
// the registry, and logs the reconciliation diagnostic. Inconsistent totals
// are reported, not failed on; a read failure fails the run. With a
// deployment store, registry markets also get their earlier deployments
// listed, and with an audit store the most recent audit entries are logged.
func (a *App) InspectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting inspect mode")

	targets, err := a.inspectTargets()
	if err != nil {
		return fmt.Errorf("app: inspect: %w", err)
	}
	a.logAuditTail(ctx, deps)

	reader := diagnostics.NewSnapshotReader(deps.Ledger)
	var errs []error
	for _, t := range targets {
		snap, err := reader.Read(ctx, t.AppID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s (app %d): %w", t.ID, t.AppID, err))
			continue
		}
		if a.opts.AppID == 0 {
			a.logHistory(ctx, deps, t.ID)
		}
		d := snap.Reconcile()
		attrs := []any{
			slog.String("market_id", t.ID),
			slog.Uint64("app_id", snap.AppID),
			slog.Uint64("yes_total", snap.YesTotal),
			slog.Uint64("no_total", snap.NoTotal),
			slog.Uint64("total_bets", snap.TotalBets),
			slog.Uint64("status", snap.Status),
			slog.Uint64("fee_bps", snap.FeeBps),
			slog.Uint64("expiry_round", snap.ExpiryRound),
			slog.String("ref", snap.Ref),
			slog.Bool("consistent", d.Consistent),
		}
		if len(snap.Missing) > 0 {
			attrs = append(attrs, slog.String("missing", strings.Join(snap.Missing, ",")))
		}
		if d.Consistent {
			a.logger.InfoContext(ctx, "market state", attrs...)
			continue
		}
		attrs = append(attrs,
			slog.Int64("discrepancy", d.Discrepancy),
			slog.Bool("doubled_totals", d.DoubledTotals),
			slog.String("detail", d.Detail),
		)
		a.logger.WarnContext(ctx, "market state inconsistent", attrs...)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("app: inspect: %w", err)
	}
	return nil
}

// logHistory lists the recorded deployments of marketID, newest first.
func (a *App) logHistory(ctx context.Context, deps *Dependencies, marketID string) {
	if deps.DeploymentStore == nil {
		return
	}
	history, err := deps.DeploymentStore.ListByMarket(ctx, marketID, domain.ListOpts{Limit: historyLimit})
	if err != nil {
		a.logger.WarnContext(ctx, "deployment history unavailable",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, m := range history {
		a.logger.InfoContext(ctx, "recorded deployment",
			slog.String("market_id", marketID),
			slog.Uint64("app_id", m.AppID),
			slog.String("deployer", m.Deployer),
			slog.String("tx_id", m.TxID),
			slog.Time("deployed_at", m.DeployedAt),
		)
	}
}

func (a *App) logAuditTail(ctx context.Context, deps *Dependencies) {
	if deps.AuditStore == nil {
		return
	}
	entries, err := deps.AuditStore.List(ctx, domain.ListOpts{Limit: auditTail})
	if err != nil {
		a.logger.WarnContext(ctx, "audit log unavailable", slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		a.logger.InfoContext(ctx, "audit entry",
			slog.Int64("id", e.ID),
			slog.String("event", e.Event),
			slog.Any("detail", e.Detail),
			slog.Time("created_at", e.CreatedAt),
		)
	}
}

// DeleteMode deletes the application given with -app.
func (a *App) DeleteMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting delete mode", slog.Uint64("app_id", a.opts.AppID))

	unlock, err := a.lockDeployer(ctx, deps)
	if err != nil {
		return err
	}
	defer unlock()

	txID, err := deploy.DeleteApp(ctx, deps.Ledger, a.opts.AppID, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if deps.AuditStore != nil {
		detail := map[string]any{"app_id": a.opts.AppID, "tx_id": txID, "network": a.cfg.Algod.Network}
		if err := deps.AuditStore.Log(ctx, "app_deleted", detail); err != nil {
			a.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// lockDeployer takes the run lock of the deployer account when a lock
// manager is configured. The returned unlock is always safe to call.
func (a *App) lockDeployer(ctx context.Context, deps *Dependencies) (func(), error) {
	if deps.LockManager == nil {
		return func() {}, nil
	}
	key := "deployer:" + deps.Ledger.Operator()
	unlock, err := deps.LockManager.Acquire(ctx, key, a.cfg.Deploy.LockTTL.Duration)
	if err != nil {
		return nil, fmt.Errorf("app: deployer lock: %w", err)
	}
	return unlock, nil
}

func (a *App) loadCatalog() ([]domain.MarketConfig, error) {
	if a.cfg.Deploy.CatalogPath == "" {
		return markets.Default(), nil
	}
	return markets.LoadFile(a.cfg.Deploy.CatalogPath)
}

func (a *App) inspectTargets() ([]domain.DeployedMarket, error) {
	if a.opts.AppID != 0 {
		m := domain.DeployedMarket{AppID: a.opts.AppID}
		m.ID = fmt.Sprintf("app-%d", a.opts.AppID)
		return []domain.DeployedMarket{m}, nil
	}
	reg, err := deploy.ReadRegistry(a.cfg.Deploy.RegistryPath)
	if err != nil {
		return nil, err
	}
	if len(reg.Markets) == 0 {
		return nil, fmt.Errorf("registry %s lists no markets: %w", a.cfg.Deploy.RegistryPath, domain.ErrNotFound)
	}
	return reg.Markets, nil
}

func (a *App) notify(ctx context.Context, deps *Dependencies, event, title, message string) {
	if err := deps.Notifier.Notify(ctx, event, title, message); err != nil {
		a.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func deploySummary(run deploy.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s on %s: %d deployed, %d failed",
		run.ID, run.Registry.Network, len(run.Registry.Markets), run.Failed())
	for _, m := range run.Registry.Markets {
		fmt.Fprintf(&b, "\n%s: app %d", m.ID, m.AppID)
	}
	for _, r := range run.Results {
		if !r.OK() {
			fmt.Fprintf(&b, "\n%s failed at %s", r.MarketID, r.Stage)
		}
	}
	return b.String()
}

func settleSummary(r domain.SettlementReport) string {
	msg := fmt.Sprintf("epoch %d: deposit %s, funded %d, created %t, settled %t, closed %t",
		r.EpochID, r.DepositTxID, r.FundedAmount, r.Created, r.Settled, r.Closed)
	if r.SettleSkip != "" {
		msg += fmt.Sprintf(" (settle skipped: %s)", r.SettleSkip)
	}
	return msg
}
