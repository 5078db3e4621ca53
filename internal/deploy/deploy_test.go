package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/algomarkets/internal/domain"
	"github.com/alanyoungcy/algomarkets/internal/platform/algorand/algotest"
)

const operator = "OPERATOR"

var fixedNow = time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testTemplate() domain.AppTemplate {
	return domain.AppTemplate{
		Name:            "market",
		ApprovalProgram: []byte{0x0a, 0x01},
		ClearProgram:    []byte{0x0a, 0x02},
		GlobalSchema:    domain.StateSchema{NumUint: 8, NumByteSlice: 4},
	}
}

func market(id, expiry string) domain.MarketConfig {
	return domain.MarketConfig{
		ID:         id,
		Title:      id,
		Category:   domain.CategoryEconomic,
		Ref:        id + "-REF",
		FeeBps:     250,
		ExpiryDate: expiry,
	}
}

func newOrchestrator(l domain.Ledger) *Orchestrator {
	o := NewOrchestrator(l, OrchestratorConfig{Network: "testnet", FundAmount: 200_000}, discard())
	o.now = func() time.Time { return fixedNow }
	return o
}

func rejectWith(op string) error {
	return &domain.LedgerError{Op: op, Reason: "rejected by contract", Err: errors.New("logic eval error: assert failed")}
}

func TestDeployConfigureFailureSkipsMarket(t *testing.T) {
	ledger := algotest.New(operator, 10_000_000)
	ledger.OnCall = func(call domain.MethodCall) error {
		if call.Signature == MethodConfigure && call.AppID == 1001 {
			return rejectWith("configure")
		}
		return nil
	}

	run, err := newOrchestrator(ledger).Deploy(context.Background(), testTemplate(), []domain.MarketConfig{
		market("FIRST", "2026-06-01"),
		market("SECOND", "2026-07-01"),
	})
	require.NoError(t, err)

	require.Len(t, run.Results, 2)
	assert.Equal(t, domain.StageConfigure, run.Results[0].Stage)
	assert.ErrorIs(t, run.Results[0].Err, domain.ErrRejected)
	assert.True(t, run.Results[1].OK())

	require.Len(t, run.Registry.Markets, 1)
	assert.Equal(t, "SECOND", run.Registry.Markets[0].ID)
	assert.Equal(t, uint64(1002), run.Registry.Markets[0].AppID)

	for _, c := range ledger.Calls() {
		if c.AppID == 1001 {
			t.Fatalf("unexpected call %s on app whose configure failed", c.Signature)
		}
	}
	assert.Equal(t, 1, run.Failed())
}

func TestDeployRegistryIsExactlyTheSuccessSet(t *testing.T) {
	ledger := algotest.New(operator, 10_000_000)
	ledger.OnCreate = func(n int, _ domain.AppTemplate) error {
		if n == 0 {
			return rejectWith("create application")
		}
		return nil
	}
	ledger.OnCall = func(call domain.MethodCall) error {
		if call.Signature == MethodOpenMarket && call.AppID == 1001 {
			return rejectWith("openMarket")
		}
		return nil
	}

	configs := []domain.MarketConfig{
		market("PAST", "2025-01-01"),
		market("NOCREATE", "2026-06-01"),
		market("NOOPEN", "2026-06-01"),
		market("GOOD", "2026-06-01"),
	}
	run, err := newOrchestrator(ledger).Deploy(context.Background(), testTemplate(), configs)
	require.NoError(t, err)

	stages := make([]domain.Stage, 0, len(run.Results))
	for _, r := range run.Results {
		stages = append(stages, r.Stage)
	}
	assert.Equal(t, []domain.Stage{domain.StageCompute, domain.StageDeploy, domain.StageOpen, domain.StageDone}, stages)
	assert.ErrorIs(t, run.Results[0].Err, domain.ErrExpiryInPast)

	require.Len(t, run.Registry.Markets, 1)
	assert.Equal(t, "GOOD", run.Registry.Markets[0].ID)
	assert.LessOrEqual(t, len(run.Registry.Markets), len(configs))
	assert.Equal(t, 2, ledger.CallCount(MethodConfigure))
	assert.Equal(t, 1, ledger.CallCount(MethodOpenMarket))

	joined := FailureErr(run.Results)
	require.Error(t, joined)
	assert.Contains(t, joined.Error(), "NOOPEN at open")
}

func TestDeployRecordsIdentity(t *testing.T) {
	ledger := algotest.New(operator, 10_000_000)
	ledger.SetRound(5000)

	run, err := newOrchestrator(ledger).Deploy(context.Background(), testTemplate(), []domain.MarketConfig{
		market("SA-ENERGY-ESKOM-001", "2026-06-01"),
	})
	require.NoError(t, err)
	require.Len(t, run.Registry.Markets, 1)

	m := run.Registry.Markets[0]
	assert.Equal(t, ledger.ApplicationAddress(m.AppID), m.AppAddress)
	assert.Equal(t, operator, m.Deployer)
	assert.NotEmpty(t, m.TxID)
	assert.NotEmpty(t, m.FundingTxID)
	assert.Equal(t, fixedNow, m.DeployedAt)
	assert.Greater(t, m.ExpiryRound, uint64(5000))

	assert.Equal(t, domain.RegistryVersion, run.Registry.Version)
	assert.Equal(t, "testnet", run.Registry.Network)
	assert.Equal(t, run.ID, run.Registry.RunID)

	calls := ledger.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []any{"SA-ENERGY-ESKOM-001-REF", m.ExpiryRound, uint64(250)}, calls[0].Args)
	assert.Equal(t, MethodOpenMarket, calls[1].Signature)
}

func TestDeployUnfundedDeployerIsFatal(t *testing.T) {
	ledger := algotest.New(operator, 0)

	_, err := newOrchestrator(ledger).Deploy(context.Background(), testTemplate(), []domain.MarketConfig{
		market("A", "2026-06-01"),
	})
	require.ErrorIs(t, err, domain.ErrDeployerUnfunded)
	assert.Nil(t, ledger.App(1001))
	assert.Empty(t, ledger.Payments())
}

func TestCheckDeployerCountsAppMinBalanceAndFees(t *testing.T) {
	o := newOrchestrator(algotest.New(operator, 0))
	assert.Equal(t, uint64(200_000+100_000+4_000), o.MarketCost())

	ledger := algotest.New(operator, algotest.AccountMinBalance+200_000)
	err := newOrchestrator(ledger).CheckDeployer(context.Background())
	require.ErrorIs(t, err, domain.ErrDeployerUnfunded)

	ledger.SetBalance(operator, algotest.AccountMinBalance+o.MarketCost())
	require.NoError(t, newOrchestrator(ledger).CheckDeployer(context.Background()))
}

func TestDeployPreconditions(t *testing.T) {
	ledger := algotest.New(operator, 10_000_000)
	o := newOrchestrator(ledger)

	_, err := o.Deploy(context.Background(), testTemplate(), nil)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = o.Deploy(context.Background(), domain.AppTemplate{Name: "empty"}, []domain.MarketConfig{market("A", "2026-06-01")})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Nil(t, ledger.App(1001))
}

func TestFactoryFundsApplication(t *testing.T) {
	ledger := algotest.New(operator, 1_000_000)
	f := NewFactory(ledger, 200_000, discard())

	app, err := f.Deploy(context.Background(), testTemplate())
	require.NoError(t, err)

	payments := ledger.Payments()
	require.Len(t, payments, 1)
	assert.Equal(t, app.Address, payments[0].To)
	assert.Equal(t, uint64(200_000), payments[0].Amount)
	assert.Equal(t, payments[0].TxID, app.FundingTxID)
}

func TestFactoryFundingFailureIsReported(t *testing.T) {
	ledger := algotest.New(operator, 1_000_000)
	ledger.OnPay = func(string, uint64) error { return rejectWith("pay") }

	app, err := NewFactory(ledger, 200_000, discard()).Deploy(context.Background(), testTemplate())
	require.ErrorIs(t, err, domain.ErrRejected)
	assert.NotZero(t, app.AppID)
	assert.Empty(t, app.FundingTxID)
}

func TestActivateUnfundedApplication(t *testing.T) {
	ledger := algotest.New(operator, 1_000_000)
	app := ledger.AddApp(nil)

	m := domain.ComputedMarket{MarketConfig: market("A", "2026-06-01"), ExpiryRound: 9_000}
	stage, err := NewActivator(ledger, discard()).Activate(context.Background(), app.ID, m)
	require.NoError(t, err)
	assert.Equal(t, domain.StageDone, stage)
	assert.Equal(t, 1, ledger.CallCount(MethodConfigure))
	assert.Equal(t, 1, ledger.CallCount(MethodOpenMarket))
}

func TestBuildRegistry(t *testing.T) {
	ok := func(id string) domain.DeployResult {
		return domain.DeployResult{
			MarketID: id,
			Stage:    domain.StageDone,
			Market:   domain.DeployedMarket{ComputedMarket: domain.ComputedMarket{MarketConfig: domain.MarketConfig{ID: id}}},
		}
	}
	results := []domain.DeployResult{
		ok("b"),
		{MarketID: "x", Stage: domain.StageOpen, Err: errors.New("boom")},
		ok("a"),
	}

	reg := BuildRegistry("run-1", "testnet", fixedNow, results)
	require.Len(t, reg.Markets, 2)
	assert.Equal(t, "b", reg.Markets[0].ID)
	assert.Equal(t, "a", reg.Markets[1].ID)

	empty := BuildRegistry("run-2", "testnet", fixedNow, nil)
	assert.NotNil(t, empty.Markets)
	assert.Empty(t, empty.Markets)
}

func TestDeleteApp(t *testing.T) {
	ledger := algotest.New(operator, 1_000_000)
	app := ledger.AddApp(nil)

	_, err := DeleteApp(context.Background(), ledger, 0, discard())
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	txID, err := DeleteApp(context.Background(), ledger, app.ID, discard())
	require.NoError(t, err)
	assert.NotEmpty(t, txID)
	assert.Equal(t, []uint64{app.ID}, ledger.Deleted())

	_, err = DeleteApp(context.Background(), ledger, app.ID, discard())
	require.ErrorIs(t, err, domain.ErrRejected)
}
