// Package diagnostics holds read-only checks against the node and the
// deployed applications.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/algomarkets/internal/deploy"
	"github.com/alanyoungcy/algomarkets/internal/domain"
)

// maxProbes bounds concurrent application probes.
const maxProbes = 4

// Check is the outcome of one probe.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Report is the outcome of a health run.
type Report struct {
	CheckedAt time.Time `json:"checkedAt"`
	Checks    []Check   `json:"checks"`
}

// Healthy reports whether every check passed.
func (r Report) Healthy() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

// Failed returns the checks that did not pass.
func (r Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.OK {
			out = append(out, c)
		}
	}
	return out
}

// HealthCheck probes the node, the deployer balance and every application
// in the registry file.
type HealthCheck struct {
	ledger       domain.Ledger
	deployer     string
	registryPath string
	extra        []func(context.Context) Check
	logger       *slog.Logger
}

// NewHealthCheck creates a HealthCheck. An empty deployer skips the balance
// probe; an empty registryPath skips the application probes.
func NewHealthCheck(ledger domain.Ledger, deployer, registryPath string, logger *slog.Logger) *HealthCheck {
	return &HealthCheck{
		ledger:       ledger,
		deployer:     deployer,
		registryPath: registryPath,
		logger:       logger.With(slog.String("component", "health")),
	}
}

// AddProbe registers an infrastructure probe reported under name. A nil
// error from fn means healthy.
func (h *HealthCheck) AddProbe(name string, fn func(context.Context) error) {
	h.extra = append(h.extra, func(ctx context.Context) Check {
		if err := fn(ctx); err != nil {
			return Check{Name: name, Error: err.Error()}
		}
		return Check{Name: name, OK: true}
	})
}

// Run executes all probes in parallel. Probe failures are reported in the
// Report, never returned.
func (h *HealthCheck) Run(ctx context.Context) Report {
	probes := []func(context.Context) Check{h.checkNode}
	if h.deployer != "" {
		probes = append(probes, h.checkDeployer)
	}
	registryCheck, apps := h.loadRegistry()
	if registryCheck != nil {
		probes = append(probes, func(context.Context) Check { return *registryCheck })
	}
	for _, m := range apps {
		probes = append(probes, h.appProbe(m))
	}
	probes = append(probes, h.extra...)

	checks := make([]Check, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxProbes)
	for i, probe := range probes {
		i, probe := i, probe
		g.Go(func() error {
			checks[i] = probe(gctx)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{CheckedAt: time.Now().UTC(), Checks: checks}
	for _, c := range checks {
		attrs := []any{slog.String("check", c.Name), slog.Bool("ok", c.OK)}
		if c.Detail != "" {
			attrs = append(attrs, slog.String("detail", c.Detail))
		}
		if c.OK {
			h.logger.InfoContext(ctx, "health check", attrs...)
		} else {
			h.logger.ErrorContext(ctx, "health check", append(attrs, slog.String("error", c.Error))...)
		}
	}
	return report
}

func (h *HealthCheck) checkNode(ctx context.Context) Check {
	c := Check{Name: "node"}
	st, err := h.ledger.Status(ctx)
	if err != nil {
		c.Error = err.Error()
		return c
	}
	c.OK = true
	c.Detail = fmt.Sprintf("last round %d", st.LastRound)
	if st.CatchupTime > 0 {
		c.OK = false
		c.Error = fmt.Sprintf("node is catching up (%s)", time.Duration(st.CatchupTime))
	}
	return c
}

func (h *HealthCheck) checkDeployer(ctx context.Context) Check {
	c := Check{Name: "deployer"}
	bal, err := h.ledger.AccountBalance(ctx, h.deployer)
	if err != nil {
		c.Error = err.Error()
		return c
	}
	c.Detail = fmt.Sprintf("%s balance %d, min %d", h.deployer, bal.Amount, bal.MinBalance)
	if bal.Amount <= bal.MinBalance {
		c.Error = domain.ErrDeployerUnfunded.Error()
		return c
	}
	c.OK = true
	return c
}

// loadRegistry returns a check only when the registry could not be used.
func (h *HealthCheck) loadRegistry() (*Check, []domain.DeployedMarket) {
	if h.registryPath == "" {
		return nil, nil
	}
	reg, err := deploy.ReadRegistry(h.registryPath)
	if errors.Is(err, os.ErrNotExist) {
		return &Check{Name: "registry", OK: true, Detail: "no registry at " + h.registryPath}, nil
	}
	if err != nil {
		return &Check{Name: "registry", Error: err.Error()}, nil
	}
	return nil, reg.Markets
}

func (h *HealthCheck) appProbe(m domain.DeployedMarket) func(context.Context) Check {
	return func(ctx context.Context) Check {
		c := Check{Name: fmt.Sprintf("app:%s", m.ID)}
		if _, err := h.ledger.GlobalState(ctx, m.AppID); err != nil {
			c.Error = err.Error()
			return c
		}
		c.OK = true
		c.Detail = fmt.Sprintf("app %d reachable", m.AppID)
		return c
	}
}
