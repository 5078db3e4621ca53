package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/algomarkets/internal/domain"
	"github.com/alanyoungcy/algomarkets/internal/platform/algorand/algotest"
)

const operatorAddr = "OPERATOR"

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// revenueContract installs handlers that mimic the revenue contract's epoch
// rules on the fake ledger.
func revenueContract(l *algotest.Fake) {
	l.Handle(MethodCreateEpoch, func(c *algotest.Call) (any, error) {
		id := c.Method.Args[0].(uint64)
		_, exists, err := c.Box(EpochBoxName(BoxEpochStatus, id))
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, errors.New("epoch exists")
		}
		return nil, c.PutBox(EpochBoxName(BoxEpochStatus, id), u64(statusCreated))
	})
	l.Handle(MethodDepositNetRevenue, func(c *algotest.Call) (any, error) {
		id := c.Method.Args[0].(uint64)
		if c.Payment == nil || c.Payment.Receiver != c.App.Address {
			return nil, errors.New("missing payment")
		}
		status, ok, err := c.Box(EpochBoxName(BoxEpochStatus, id))
		if err != nil {
			return nil, err
		}
		if !ok || binary.BigEndian.Uint64(status) != statusCreated {
			return nil, errors.New("epoch not open")
		}
		net, ok, err := c.Box(EpochBoxName(BoxEpochNet, id))
		if err != nil {
			return nil, err
		}
		total := c.Payment.Amount
		if ok {
			total += binary.BigEndian.Uint64(net)
		}
		if err := c.PutBox(EpochBoxName(BoxEpochNet, id), u64(total)); err != nil {
			return nil, err
		}
		sum := sha256.Sum256(u64(total))
		return nil, c.PutBox(EpochBoxName(BoxEpochHash, id), sum[:])
	})
	l.Handle(MethodCloseEpoch, func(c *algotest.Call) (any, error) {
		id := c.Method.Args[0].(uint64)
		status, ok, err := c.Box(EpochBoxName(BoxEpochStatus, id))
		if err != nil {
			return nil, err
		}
		if !ok || binary.BigEndian.Uint64(status) != statusCreated {
			return nil, errors.New("epoch not open")
		}
		return nil, c.PutBox(EpochBoxName(BoxEpochStatus, id), u64(statusClosed))
	})
	l.Handle(MethodMarkSettled, func(c *algotest.Call) (any, error) {
		return nil, &domain.LedgerError{
			Op:     "markSettled",
			Reason: "permission denied",
			Err:    fmt.Errorf("%w: only app may call", domain.ErrPermissionDenied),
		}
	})
}

func setup(t *testing.T, cfg OperatorConfig) (*algotest.Fake, *Operator) {
	t.Helper()
	l := algotest.New(operatorAddr, 100_000_000)
	revenueContract(l)
	app := l.AddApp(nil)
	l.SetBalance(app.Address, algotest.AccountMinBalance)
	cfg.AppID = app.ID
	return l, NewOperator(l, cfg, discard())
}

func boxNames(refs []domain.BoxRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, string(r.Name))
	}
	sort.Strings(out)
	return out
}

func TestEpochBoxName(t *testing.T) {
	name := EpochBoxName(BoxEpochStatus, 202501)
	require.Len(t, name, len(BoxEpochStatus)+8)
	assert.Equal(t, BoxEpochStatus, string(name[:len(BoxEpochStatus)]))
	assert.Equal(t, uint64(202501), binary.BigEndian.Uint64(name[len(BoxEpochStatus):]))
}

func TestBoxMBR(t *testing.T) {
	assert.Equal(t, uint64(2500+400*28), BoxMBR(20, 8))
	specs := EpochBoxSpecs(1)
	assert.Equal(t, uint64(2500+400*(20+8)), specs[0].MBR())
	assert.Equal(t, uint64(2500+400*(18+32)), specs[1].MBR())
	assert.Equal(t, uint64(2500+400*(17+8)), specs[2].MBR())
}

func TestEnsureEpochCreatedIsIdempotent(t *testing.T) {
	l, op := setup(t, OperatorConfig{FundMargin: 10_000})
	ctx := context.Background()
	_, err := op.EnsureFunded(ctx, EpochBoxSpecs(202501))
	require.NoError(t, err)

	created, err := op.EnsureEpochCreated(ctx, 202501)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = op.EnsureEpochCreated(ctx, 202501)
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, 1, l.CallCount(MethodCreateEpoch))
	state, err := op.EpochState(ctx, 202501)
	require.NoError(t, err)
	assert.Equal(t, domain.EpochCreated, state)
}

func TestEnsureEpochClosedBeforeCreate(t *testing.T) {
	l, op := setup(t, OperatorConfig{})
	ctx := context.Background()

	closed, err := op.EnsureEpochClosed(ctx, 7)
	require.ErrorIs(t, err, domain.ErrEpochNotCreated)
	assert.False(t, closed)
	assert.Empty(t, l.Calls())
	assert.Empty(t, l.BoxNames(op.cfg.AppID))

	state, err := op.EpochState(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.EpochUncreated, state)
}

func TestEnsureEpochClosedIsIdempotent(t *testing.T) {
	l, op := setup(t, OperatorConfig{})
	ctx := context.Background()
	_, err := op.EnsureFunded(ctx, EpochBoxSpecs(3))
	require.NoError(t, err)
	_, err = op.EnsureEpochCreated(ctx, 3)
	require.NoError(t, err)

	closed, err := op.EnsureEpochClosed(ctx, 3)
	require.NoError(t, err)
	assert.True(t, closed)

	closed, err = op.EnsureEpochClosed(ctx, 3)
	require.NoError(t, err)
	assert.False(t, closed)
	assert.Equal(t, 1, l.CallCount(MethodCloseEpoch))

	created, err := op.EnsureEpochCreated(ctx, 3)
	require.NoError(t, err)
	assert.False(t, created, "closed epochs are not recreated")
}

func TestDepositDeclaresExactlyTheEpochBoxes(t *testing.T) {
	l, op := setup(t, OperatorConfig{})
	ctx := context.Background()
	_, err := op.EnsureFunded(ctx, EpochBoxSpecs(202501))
	require.NoError(t, err)
	_, err = op.EnsureEpochCreated(ctx, 202501)
	require.NoError(t, err)

	txID, err := op.DepositNetRevenue(ctx, 2_000_000, 202501)
	require.NoError(t, err)
	assert.NotEmpty(t, txID)

	calls := l.Calls()
	deposit := calls[len(calls)-1]
	require.Equal(t, MethodDepositNetRevenue, deposit.Signature)
	assert.Equal(t, []string{
		string(EpochBoxName(BoxEpochHash, 202501)),
		string(EpochBoxName(BoxEpochNet, 202501)),
		string(EpochBoxName(BoxEpochStatus, 202501)),
	}, boxNames(deposit.Boxes))
	require.NotNil(t, deposit.Payment)
	assert.Equal(t, uint64(2_000_000), deposit.Payment.Amount)
	assert.Equal(t, op.AppAddress(), deposit.Payment.Receiver)

	net, err := l.Box(ctx, op.cfg.AppID, EpochBoxName(BoxEpochNet, 202501))
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000), binary.BigEndian.Uint64(net))
}

func TestDepositMissingBoxIsRejected(t *testing.T) {
	l, op := setup(t, OperatorConfig{})
	ctx := context.Background()
	_, err := op.EnsureFunded(ctx, EpochBoxSpecs(202501))
	require.NoError(t, err)
	_, err = op.EnsureEpochCreated(ctx, 202501)
	require.NoError(t, err)

	specs := EpochBoxSpecs(202501)
	for omit := range specs {
		var partial []BoxSpec
		for i, s := range specs {
			if i != omit {
				partial = append(partial, s)
			}
		}
		_, err := l.CallMethod(ctx, domain.MethodCall{
			AppID:     op.cfg.AppID,
			Signature: MethodDepositNetRevenue,
			Args:      []any{uint64(202501)},
			Payment:   &domain.PaymentArg{Receiver: op.AppAddress(), Amount: 2_000_000},
			Boxes:     boxRefs(op.cfg.AppID, partial...),
		})
		require.ErrorIs(t, err, domain.ErrRejected, "omitting %s", specs[omit].Name)
	}
	assert.Equal(t, 0, l.CallCount(MethodDepositNetRevenue))
}

func TestDepositRequiresPositiveAmount(t *testing.T) {
	l, op := setup(t, OperatorConfig{})
	_, err := op.DepositNetRevenue(context.Background(), 0, 1)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, l.Calls())
}

func TestEnsureFundedPaysShortfall(t *testing.T) {
	l, op := setup(t, OperatorConfig{FundMargin: 50_000})
	ctx := context.Background()

	status := EpochBoxSpecs(1)[:1]
	paid, err := op.EnsureFunded(ctx, status)
	require.NoError(t, err)
	assert.Equal(t, status[0].MBR()+50_000, paid)

	payments := l.Payments()
	require.Len(t, payments, 1)
	assert.Equal(t, op.AppAddress(), payments[0].To)

	paid, err = op.EnsureFunded(ctx, status)
	require.NoError(t, err)
	assert.Zero(t, paid)
	assert.Len(t, l.Payments(), 1)
}

func TestUnfundedCreateIsRejectedByLedger(t *testing.T) {
	_, op := setup(t, OperatorConfig{})
	_, err := op.EnsureEpochCreated(context.Background(), 1)
	require.ErrorIs(t, err, domain.ErrRejected)
}

func TestMarkSettledSkips(t *testing.T) {
	l, op := setup(t, OperatorConfig{})
	reason, err := op.MarkSettled(context.Background(), 1, [32]byte{1})
	require.NoError(t, err)
	assert.NotEmpty(t, reason)
	assert.Empty(t, l.Calls())

	l, op = setup(t, OperatorConfig{MarkSettled: true})
	reason, err = op.MarkSettled(context.Background(), 1, [32]byte{1})
	require.NoError(t, err)
	assert.Equal(t, "permission denied", reason)
	assert.Equal(t, 0, l.CallCount(MethodMarkSettled))
}

func TestMarkSettledFailedAssertSkips(t *testing.T) {
	l, op := setup(t, OperatorConfig{MarkSettled: true})
	l.Handle(MethodMarkSettled, func(*algotest.Call) (any, error) {
		return nil, errors.New("assert failed pc=412")
	})
	reason, err := op.MarkSettled(context.Background(), 1, [32]byte{1})
	require.NoError(t, err)
	assert.Equal(t, "rejected by contract", reason)
}

func TestMarkSettledOtherRejectionPropagates(t *testing.T) {
	l, op := setup(t, OperatorConfig{MarkSettled: true})
	l.OnCall = func(call domain.MethodCall) error {
		if call.Signature == MethodMarkSettled {
			return &domain.LedgerError{Op: "markSettled", Reason: "rejected by node", Err: errors.New("txn dead")}
		}
		return nil
	}
	_, err := op.MarkSettled(context.Background(), 1, [32]byte{1})
	require.ErrorIs(t, err, domain.ErrRejected)
	assert.NotErrorIs(t, err, domain.ErrPermissionDenied)
}
