package deploy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/algomarkets/internal/domain"
)

// Market contract ABI methods.
const (
	MethodConfigure  = "configure(string,uint64,uint64)void"
	MethodOpenMarket = "openMarket()void"
)

// Activator configures a freshly deployed market and opens it.
type Activator struct {
	ledger domain.Ledger
	logger *slog.Logger
}

// NewActivator creates an Activator.
func NewActivator(ledger domain.Ledger, logger *slog.Logger) *Activator {
	return &Activator{
		ledger: ledger,
		logger: logger.With(slog.String("component", "activator")),
	}
}

// Activate calls configure(ref, expiryRound, feeBps) and, only if that
// succeeded, openMarket(). It returns the stage that failed, or StageDone.
// Each call is attempted exactly once.
func (a *Activator) Activate(ctx context.Context, appID uint64, m domain.ComputedMarket) (domain.Stage, error) {
	_, err := a.ledger.CallMethod(ctx, domain.MethodCall{
		AppID:     appID,
		Signature: MethodConfigure,
		Args:      []any{m.Ref, m.ExpiryRound, m.FeeBps},
	})
	if err != nil {
		return domain.StageConfigure, fmt.Errorf("deploy: configure app %d: %w", appID, err)
	}

	_, err = a.ledger.CallMethod(ctx, domain.MethodCall{
		AppID:     appID,
		Signature: MethodOpenMarket,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "market configured but not open",
			slog.String("market_id", m.ID),
			slog.Uint64("app_id", appID),
			slog.String("error", err.Error()),
		)
		return domain.StageOpen, fmt.Errorf("deploy: open app %d: %w", appID, err)
	}
	return domain.StageDone, nil
}
