package deploy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/algomarkets/internal/domain"
)

// DeleteApp deletes one application. Errors propagate to the caller.
func DeleteApp(ctx context.Context, ledger domain.Ledger, appID uint64, logger *slog.Logger) (string, error) {
	if appID == 0 {
		return "", fmt.Errorf("deploy: delete: app id is required: %w", domain.ErrInvalidInput)
	}
	txID, err := ledger.DeleteApplication(ctx, appID)
	if err != nil {
		return "", fmt.Errorf("deploy: delete app %d: %w", appID, err)
	}
	logger.InfoContext(ctx, "application deleted",
		slog.String("component", "delete"),
		slog.Uint64("app_id", appID),
		slog.String("tx_id", txID),
	)
	return txID, nil
}
