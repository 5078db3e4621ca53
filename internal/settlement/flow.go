package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/algomarkets/internal/domain"
)

// Flow runs one settlement epoch end to end:
// fund, create, deposit, mark settled, close. Any failure ends the run.
type Flow struct {
	op     *Operator
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewFlow creates a Flow. audit may be nil.
func NewFlow(op *Operator, audit domain.AuditStore, logger *slog.Logger) *Flow {
	return &Flow{
		op:     op,
		audit:  audit,
		logger: logger.With(slog.String("component", "settlement_flow")),
	}
}

// Run executes the flow for in.
func (f *Flow) Run(ctx context.Context, in domain.EpochInput) (domain.SettlementReport, error) {
	report := domain.SettlementReport{EpochID: in.EpochID}
	if err := ValidateInput(in); err != nil {
		return report, err
	}
	f.logger.InfoContext(ctx, "settlement starting",
		slog.Uint64("epoch_id", in.EpochID),
		slog.Uint64("net_revenue", in.NetRevenue),
		slog.Bool("close", in.Close),
	)

	pending, err := f.op.PendingBoxes(ctx, in.EpochID)
	if err != nil {
		return report, err
	}
	if report.FundedAmount, err = f.op.EnsureFunded(ctx, pending); err != nil {
		return report, err
	}
	if report.Created, err = f.op.EnsureEpochCreated(ctx, in.EpochID); err != nil {
		return report, err
	}
	if report.DepositTxID, err = f.op.DepositNetRevenue(ctx, in.NetRevenue, in.EpochID); err != nil {
		return report, err
	}

	if in.AccrualHash == "" {
		report.SettleSkip = "no accrual hash"
	} else {
		digest, err := AccrualDigest(in)
		if err != nil {
			return report, fmt.Errorf("settlement: %w", err)
		}
		if report.SettleSkip, err = f.op.MarkSettled(ctx, in.EpochID, digest); err != nil {
			return report, err
		}
		report.Settled = report.SettleSkip == ""
	}

	if in.Close {
		if report.Closed, err = f.op.EnsureEpochClosed(ctx, in.EpochID); err != nil {
			return report, err
		}
	}

	f.logAudit(ctx, report)
	f.logger.InfoContext(ctx, "settlement complete",
		slog.Uint64("epoch_id", report.EpochID),
		slog.Uint64("funded", report.FundedAmount),
		slog.Bool("created", report.Created),
		slog.String("deposit_tx", report.DepositTxID),
		slog.Bool("settled", report.Settled),
		slog.Bool("closed", report.Closed),
	)
	return report, nil
}

func (f *Flow) logAudit(ctx context.Context, r domain.SettlementReport) {
	if f.audit == nil {
		return
	}
	err := f.audit.Log(ctx, "settle_completed", map[string]any{
		"app_id":      f.op.cfg.AppID,
		"epoch_id":    r.EpochID,
		"funded":      r.FundedAmount,
		"created":     r.Created,
		"deposit_tx":  r.DepositTxID,
		"settled":     r.Settled,
		"settle_skip": r.SettleSkip,
		"closed":      r.Closed,
	})
	if err != nil {
		f.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}
