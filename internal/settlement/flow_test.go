package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/algomarkets/internal/domain"
	"github.com/alanyoungcy/algomarkets/internal/platform/algorand/algotest"
)

type recordingAudit struct {
	events  []string
	details []map[string]any
}

func (a *recordingAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.events = append(a.events, event)
	a.details = append(a.details, detail)
	return nil
}

func (a *recordingAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestFlowRun(t *testing.T) {
	l, op := setup(t, OperatorConfig{FundMargin: 10_000})
	audit := &recordingAudit{}
	flow := NewFlow(op, audit, discard())

	report, err := flow.Run(context.Background(), domain.EpochInput{
		EpochID:     202501,
		NetRevenue:  2_000_000,
		AccrualHash: hashHex("report"),
		Close:       true,
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(202501), report.EpochID)
	assert.Positive(t, report.FundedAmount)
	assert.True(t, report.Created)
	assert.NotEmpty(t, report.DepositTxID)
	assert.False(t, report.Settled)
	assert.NotEmpty(t, report.SettleSkip)
	assert.True(t, report.Closed)

	assert.Equal(t, 1, l.CallCount(MethodCreateEpoch))
	assert.Equal(t, 1, l.CallCount(MethodDepositNetRevenue))
	assert.Equal(t, 1, l.CallCount(MethodCloseEpoch))
	assert.Equal(t, []string{"settle_completed"}, audit.events)

	state, err := op.EpochState(context.Background(), 202501)
	require.NoError(t, err)
	assert.Equal(t, domain.EpochClosed, state)
}

func TestFlowRerunOnOpenEpochDepositsAgain(t *testing.T) {
	l, op := setup(t, OperatorConfig{})
	flow := NewFlow(op, nil, discard())
	in := domain.EpochInput{EpochID: 9, NetRevenue: 1_000}

	_, err := flow.Run(context.Background(), in)
	require.NoError(t, err)
	report, err := flow.Run(context.Background(), in)
	require.NoError(t, err)

	assert.False(t, report.Created)
	assert.Zero(t, report.FundedAmount)
	assert.Equal(t, "no accrual hash", report.SettleSkip)
	assert.Equal(t, 1, l.CallCount(MethodCreateEpoch))
	assert.Equal(t, 2, l.CallCount(MethodDepositNetRevenue))
}

func TestFlowPermissionDeniedMarkIsSkipped(t *testing.T) {
	_, op := setup(t, OperatorConfig{MarkSettled: true})
	report, err := NewFlow(op, nil, discard()).Run(context.Background(), domain.EpochInput{
		EpochID:     1,
		NetRevenue:  5,
		AccrualHash: hashHex("x"),
	})
	require.NoError(t, err)
	assert.Equal(t, "permission denied", report.SettleSkip)
	assert.False(t, report.Closed)
}

func TestFlowFailedAssertOnMarkIsSkipped(t *testing.T) {
	l, op := setup(t, OperatorConfig{MarkSettled: true})
	l.Handle(MethodMarkSettled, func(*algotest.Call) (any, error) {
		return nil, errors.New("assert failed pc=412")
	})
	audit := &recordingAudit{}

	report, err := NewFlow(op, audit, discard()).Run(context.Background(), domain.EpochInput{
		EpochID:     3,
		NetRevenue:  50_000,
		AccrualHash: hashHex("march"),
		Close:       true,
	})
	require.NoError(t, err)
	assert.False(t, report.Settled)
	assert.Equal(t, "rejected by contract", report.SettleSkip)
	assert.True(t, report.Closed)
	assert.Equal(t, 1, l.CallCount(MethodCloseEpoch))
	assert.Equal(t, []string{"settle_completed"}, audit.events)
}

func TestFlowFailurePropagates(t *testing.T) {
	l, op := setup(t, OperatorConfig{})
	l.OnCall = func(call domain.MethodCall) error {
		if call.Signature == MethodDepositNetRevenue {
			return &domain.LedgerError{Op: "depositNetRevenue", Reason: "rejected by node", Err: errors.New("txn dead")}
		}
		return nil
	}

	report, err := NewFlow(op, nil, discard()).Run(context.Background(), domain.EpochInput{
		EpochID: 4, NetRevenue: 100, Close: true,
	})
	require.ErrorIs(t, err, domain.ErrRejected)
	assert.True(t, report.Created)
	assert.Empty(t, report.DepositTxID)
	assert.Equal(t, 0, l.CallCount(MethodCloseEpoch))
}

func TestFlowRejectsInvalidInput(t *testing.T) {
	l, op := setup(t, OperatorConfig{})
	_, err := NewFlow(op, nil, discard()).Run(context.Background(), domain.EpochInput{EpochID: 1})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, l.Calls())
	assert.Empty(t, l.Payments())
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadEpochInput(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "epoch.json",
		`{"epochId":202501,"netRevenue":2000000,"accrualHash":"`+hashHex("r")+`","close":true}`)

	in, err := LoadEpochInput(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(202501), in.EpochID)
	assert.Equal(t, uint64(2_000_000), in.NetRevenue)
	assert.True(t, in.Close)
}

func TestLoadEpochInputHashesReport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "accruals.csv", "market,fees\nA,10\n")
	path := writeFile(t, dir, "epoch.json", `{"epochId":1,"netRevenue":10,"accrualReport":"accruals.csv"}`)

	in, err := LoadEpochInput(path)
	require.NoError(t, err)
	assert.Equal(t, hashHex("market,fees\nA,10\n"), in.AccrualHash)

	bad := writeFile(t, dir, "bad.json",
		`{"epochId":1,"netRevenue":10,"accrualReport":"accruals.csv","accrualHash":"`+hashHex("other")+`"}`)
	_, err = LoadEpochInput(bad)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLoadEpochInputRejects(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"unknown.json": `{"epochId":1,"netRevenue":10,"amount":5}`,
		"zero.json":    `{"epochId":1,"netRevenue":0}`,
		"noepoch.json": `{"netRevenue":10}`,
		"badhash.json": `{"epochId":1,"netRevenue":10,"accrualHash":"abc"}`,
		"notjson.json": `epochId=1`,
	} {
		_, err := LoadEpochInput(writeFile(t, dir, name, body))
		assert.ErrorIs(t, err, domain.ErrInvalidInput, name)
	}
}
