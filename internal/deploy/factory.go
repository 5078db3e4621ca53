package deploy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/algomarkets/internal/domain"
)

// fundNote tags the funding payment so it is recognisable on an explorer.
var fundNote = []byte("algomarkets:fund")

// Factory creates and funds new market applications.
type Factory struct {
	ledger     domain.Ledger
	fundAmount uint64
	logger     *slog.Logger
}

// NewFactory creates a Factory that funds every application with fundAmount
// microAlgos.
func NewFactory(ledger domain.Ledger, fundAmount uint64, logger *slog.Logger) *Factory {
	return &Factory{
		ledger:     ledger,
		fundAmount: fundAmount,
		logger:     logger.With(slog.String("component", "factory")),
	}
}

// Deploy creates one application from tmpl and pays the funding amount to its
// address. An application that was created but could not be funded is
// reported as a failure; its id is still returned for the log.
func (f *Factory) Deploy(ctx context.Context, tmpl domain.AppTemplate) (domain.DeployedApp, error) {
	app, err := f.ledger.CreateApplication(ctx, tmpl)
	if err != nil {
		return domain.DeployedApp{}, fmt.Errorf("deploy: create application: %w", err)
	}
	f.logger.InfoContext(ctx, "application created",
		slog.Uint64("app_id", app.AppID),
		slog.String("app_address", app.Address),
		slog.String("tx_id", app.TxID),
	)

	if f.fundAmount == 0 {
		return app, nil
	}
	txID, err := f.ledger.Pay(ctx, app.Address, f.fundAmount, fundNote)
	if err != nil {
		return app, fmt.Errorf("deploy: fund application %d: %w", app.AppID, err)
	}
	app.FundingTxID = txID
	f.logger.InfoContext(ctx, "application funded",
		slog.Uint64("app_id", app.AppID),
		slog.Uint64("amount", f.fundAmount),
		slog.String("tx_id", txID),
	)
	return app, nil
}
