package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// DeploymentStore persists deployed markets across runs. The registry file
// remains authoritative for a single run; this is history for later tooling.
type DeploymentStore interface {
	Insert(ctx context.Context, runID, network string, m DeployedMarket) error
	ListByRun(ctx context.Context, runID string) ([]DeployedMarket, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]DeployedMarket, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
