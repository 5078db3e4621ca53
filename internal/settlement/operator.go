// Package settlement drives the epoch lifecycle of the revenue contract:
// funding, create, deposit, mark settled and close.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/algomarkets/internal/domain"
)

// Revenue contract ABI methods.
const (
	MethodCreateEpoch       = "createEpoch(uint64)void"
	MethodCloseEpoch        = "closeEpoch(uint64)void"
	MethodDepositNetRevenue = "depositNetRevenue(pay,uint64)void"
	MethodMarkSettled       = "markSettled(uint64,byte[32])void"
)

// OperatorConfig holds the revenue contract parameters.
type OperatorConfig struct {
	AppID uint64
	// FundMargin is kept above the computed minimum balance.
	FundMargin uint64
	// MarkSettled enables the markSettled call. The contract only accepts it
	// from itself, so it is off unless the operator has been granted it.
	MarkSettled bool
}

// Operator performs single epoch operations against the revenue contract.
// Every operation is attempted once and errors propagate.
type Operator struct {
	ledger domain.Ledger
	cfg    OperatorConfig
	logger *slog.Logger
}

// NewOperator creates an Operator.
func NewOperator(ledger domain.Ledger, cfg OperatorConfig, logger *slog.Logger) *Operator {
	return &Operator{
		ledger: ledger,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "settlement"), slog.Uint64("app_id", cfg.AppID)),
	}
}

// AppAddress is the escrow address of the revenue contract.
func (o *Operator) AppAddress() string {
	return o.ledger.ApplicationAddress(o.cfg.AppID)
}

// EpochState reads the epoch_status box. A missing box means uncreated.
func (o *Operator) EpochState(ctx context.Context, epochID uint64) (domain.EpochState, error) {
	v, err := o.ledger.Box(ctx, o.cfg.AppID, EpochBoxName(BoxEpochStatus, epochID))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.EpochUncreated, nil
	}
	if err != nil {
		return domain.EpochUncreated, fmt.Errorf("settlement: epoch %d state: %w", epochID, err)
	}
	return decodeStatus(v)
}

// PendingBoxes returns the epoch boxes that do not exist yet.
func (o *Operator) PendingBoxes(ctx context.Context, epochID uint64) ([]BoxSpec, error) {
	var pending []BoxSpec
	for _, box := range EpochBoxSpecs(epochID) {
		_, err := o.ledger.Box(ctx, o.cfg.AppID, box.Name)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			pending = append(pending, box)
		case err != nil:
			return nil, fmt.Errorf("settlement: box %q: %w", box.Name, err)
		}
	}
	return pending, nil
}

// EnsureFunded tops the contract up to minBalance + MBR(newBoxes) + margin
// and returns the amount paid, zero when nothing was needed.
func (o *Operator) EnsureFunded(ctx context.Context, newBoxes []BoxSpec) (uint64, error) {
	addr := o.AppAddress()
	bal, err := o.ledger.AccountBalance(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("settlement: balance of %s: %w", addr, err)
	}

	required := bal.MinBalance + o.cfg.FundMargin
	for _, b := range newBoxes {
		required += b.MBR()
	}
	if bal.Amount >= required {
		o.logger.DebugContext(ctx, "revenue contract sufficiently funded",
			slog.Uint64("amount", bal.Amount),
			slog.Uint64("required", required),
		)
		return 0, nil
	}

	shortfall := required - bal.Amount
	txID, err := o.ledger.Pay(ctx, addr, shortfall, []byte("algomarkets:settlement-fund"))
	if err != nil {
		return 0, fmt.Errorf("settlement: fund %d: %w", shortfall, err)
	}
	o.logger.InfoContext(ctx, "revenue contract funded",
		slog.Uint64("amount", shortfall),
		slog.Uint64("required", required),
		slog.String("tx_id", txID),
	)
	return shortfall, nil
}

// EnsureEpochCreated creates the epoch when it is uncreated and reports
// whether a create was submitted. Created and closed epochs are left alone.
func (o *Operator) EnsureEpochCreated(ctx context.Context, epochID uint64) (bool, error) {
	state, err := o.EpochState(ctx, epochID)
	if err != nil {
		return false, err
	}
	if state != domain.EpochUncreated {
		o.logger.InfoContext(ctx, "epoch already exists",
			slog.Uint64("epoch_id", epochID),
			slog.String("state", state.String()),
		)
		return false, nil
	}
	status := EpochBoxSpecs(epochID)[0]
	res, err := o.ledger.CallMethod(ctx, domain.MethodCall{
		AppID:     o.cfg.AppID,
		Signature: MethodCreateEpoch,
		Args:      []any{epochID},
		Boxes:     boxRefs(o.cfg.AppID, status),
	})
	if err != nil {
		return false, fmt.Errorf("settlement: create epoch %d: %w", epochID, err)
	}
	o.logger.InfoContext(ctx, "epoch created",
		slog.Uint64("epoch_id", epochID),
		slog.String("tx_id", res.TxID),
	)
	return true, nil
}

// DepositNetRevenue submits a payment of amount to the contract grouped with
// depositNetRevenue(pay, epochID). The call declares exactly the
// epoch_status, epoch_hash and epoch_net boxes of the epoch.
func (o *Operator) DepositNetRevenue(ctx context.Context, amount, epochID uint64) (string, error) {
	if amount == 0 {
		return "", fmt.Errorf("settlement: deposit amount must be positive: %w", domain.ErrInvalidInput)
	}
	res, err := o.ledger.CallMethod(ctx, domain.MethodCall{
		AppID:     o.cfg.AppID,
		Signature: MethodDepositNetRevenue,
		Args:      []any{epochID},
		Payment:   &domain.PaymentArg{Receiver: o.AppAddress(), Amount: amount},
		Boxes:     boxRefs(o.cfg.AppID, EpochBoxSpecs(epochID)...),
	})
	if err != nil {
		return "", fmt.Errorf("settlement: deposit %d into epoch %d: %w", amount, epochID, err)
	}
	o.logger.InfoContext(ctx, "net revenue deposited",
		slog.Uint64("epoch_id", epochID),
		slog.Uint64("amount", amount),
		slog.String("tx_id", res.TxID),
	)
	return res.TxID, nil
}

// MarkSettled records the accrual digest of an epoch. The contract restricts
// this call to itself: when disabled, or when the node refuses it with a
// permission error or a failed contract assert, the step is logged and
// skipped. The returned string is the skip reason, empty when the call went
// through.
func (o *Operator) MarkSettled(ctx context.Context, epochID uint64, digest [32]byte) (string, error) {
	if !o.cfg.MarkSettled {
		reason := "markSettled is restricted to the revenue contract"
		o.logger.InfoContext(ctx, "mark settled skipped",
			slog.Uint64("epoch_id", epochID),
			slog.String("reason", reason),
		)
		return reason, nil
	}
	specs := EpochBoxSpecs(epochID)
	_, err := o.ledger.CallMethod(ctx, domain.MethodCall{
		AppID:     o.cfg.AppID,
		Signature: MethodMarkSettled,
		Args:      []any{epochID, digest},
		Boxes:     boxRefs(o.cfg.AppID, specs[0], specs[1]),
	})
	var reason string
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		reason = "permission denied"
	case domain.IsContractRejection(err):
		// A sender check fails on algod as a bare "assert failed pc=N".
		reason = domain.ReasonRejectedByContract
	}
	if reason != "" {
		o.logger.WarnContext(ctx, "mark settled refused by contract, skipping",
			slog.Uint64("epoch_id", epochID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return reason, nil
	}
	if err != nil {
		return "", fmt.Errorf("settlement: mark epoch %d settled: %w", epochID, err)
	}
	o.logger.InfoContext(ctx, "epoch marked settled", slog.Uint64("epoch_id", epochID))
	return "", nil
}

// EnsureEpochClosed closes a created epoch and reports whether a close was
// submitted. A closed epoch is left alone. An epoch that was never created
// yields domain.ErrEpochNotCreated and nothing is submitted.
func (o *Operator) EnsureEpochClosed(ctx context.Context, epochID uint64) (bool, error) {
	state, err := o.EpochState(ctx, epochID)
	if err != nil {
		return false, err
	}
	switch state {
	case domain.EpochClosed:
		o.logger.InfoContext(ctx, "epoch already closed", slog.Uint64("epoch_id", epochID))
		return false, nil
	case domain.EpochUncreated:
		return false, fmt.Errorf("settlement: close epoch %d: %w", epochID, domain.ErrEpochNotCreated)
	}
	res, err := o.ledger.CallMethod(ctx, domain.MethodCall{
		AppID:     o.cfg.AppID,
		Signature: MethodCloseEpoch,
		Args:      []any{epochID},
		Boxes:     boxRefs(o.cfg.AppID, EpochBoxSpecs(epochID)[0]),
	})
	if err != nil {
		return false, fmt.Errorf("settlement: close epoch %d: %w", epochID, err)
	}
	o.logger.InfoContext(ctx, "epoch closed",
		slog.Uint64("epoch_id", epochID),
		slog.String("tx_id", res.TxID),
	)
	return true, nil
}
