package algorand

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/alanyoungcy/algomarkets/internal/domain"
)

// rejectionMarkers are substrings algod puts into errors for transactions it
// received but refused. Anything else is treated as a transport failure.
var rejectionMarkers = []string{
	"transactionpool.remember",
	"logic eval error",
	"rejected by logic",
	"overspend",
	"balance",
	"below min",
	"invalid",
	"already in ledger",
	"assert failed",
	"err opcode",
}

// permissionMarkers narrow a rejection down to a caller-permission failure.
var permissionMarkers = []string{
	"unauthorized",
	"not authorized",
	"permission",
	"only creator",
	"only app",
}

// classify wraps err as a *domain.LedgerError when the node refused the
// transaction, so callers can tell rejections from network failures.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("algorand: %s: %w", op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("algorand: %s: %w", op, err)
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, permissionMarkers) {
		return &domain.LedgerError{
			Op:     op,
			Reason: "permission denied",
			Err:    fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err),
		}
	}
	if containsAny(msg, rejectionMarkers) {
		return &domain.LedgerError{Op: op, Reason: rejectionReason(msg), Err: err}
	}
	return fmt.Errorf("algorand: %s: %w", op, err)
}

func rejectionReason(msg string) string {
	switch {
	case strings.Contains(msg, "overspend"), strings.Contains(msg, "below min"), strings.Contains(msg, "balance"):
		return "insufficient balance"
	case strings.Contains(msg, "logic eval error"), strings.Contains(msg, "rejected by logic"),
		strings.Contains(msg, "assert failed"), strings.Contains(msg, "err opcode"):
		return domain.ReasonRejectedByContract
	default:
		return "rejected by node"
	}
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "404") || strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist")
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
