// Package algotest provides an in-memory domain.Ledger for tests. It keeps
// balances, applications, global state and boxes, and enforces the two node
// rules the tooling depends on: a call may only touch boxes it declares, and
// an application must stay above its minimum balance.
package algotest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/algorand/go-algorand-sdk/v2/crypto"

	"github.com/alanyoungcy/algomarkets/internal/domain"
)

const (
	// AccountMinBalance is the base minimum balance of every account.
	AccountMinBalance = 100_000
	// AppMinBalance is the extra minimum balance an application creator pays.
	AppMinBalance = 100_000
)

// BoxMBR is the minimum balance a box of the given name and size adds.
func BoxMBR(name []byte, size int) uint64 {
	return 2500 + 400*uint64(len(name)+size)
}

// Payment is a recorded payment transaction.
type Payment struct {
	TxID   string
	To     string
	Amount uint64
	Note   []byte
}

// App is an application held by the fake.
type App struct {
	ID       uint64
	Address  string
	Template domain.AppTemplate
	Global   map[string]domain.TealValue
	Boxes    map[string][]byte
}

func (a *App) minBalance() uint64 {
	total := uint64(AccountMinBalance)
	for name, v := range a.Boxes {
		total += BoxMBR([]byte(name), len(v))
	}
	return total
}

// Handler executes one ABI method against an application. Returning an error
// rejects the call; none of its writes are applied.
type Handler func(c *Call) (any, error)

// Call is the view a Handler gets of one method invocation.
type Call struct {
	App     *App
	Method  domain.MethodCall
	Sender  string
	Payment *domain.PaymentArg

	declared map[string]bool
	boxes    map[string][]byte
	global   map[string]domain.TealValue
}

// Box reads a declared box. Reading an undeclared box rejects the call.
func (c *Call) Box(name []byte) ([]byte, bool, error) {
	if !c.declared[string(name)] {
		return nil, false, fmt.Errorf("invalid Box reference %q", name)
	}
	if v, ok := c.boxes[string(name)]; ok {
		return v, true, nil
	}
	v, ok := c.App.Boxes[string(name)]
	return v, ok, nil
}

// PutBox writes a declared box.
func (c *Call) PutBox(name, value []byte) error {
	if !c.declared[string(name)] {
		return fmt.Errorf("invalid Box reference %q", name)
	}
	c.boxes[string(name)] = bytes.Clone(value)
	return nil
}

// SetUint writes an integer global.
func (c *Call) SetUint(key string, v uint64) {
	c.global[key] = domain.TealValue{Uint: v, IsInt: true}
}

// Uint reads an integer global, observing writes made earlier in the call.
func (c *Call) Uint(key string) uint64 {
	if v, ok := c.global[key]; ok {
		return v.Uint
	}
	return c.App.Global[key].Uint
}

// SetBytes writes a byte-slice global.
func (c *Call) SetBytes(key string, v []byte) {
	c.global[key] = domain.TealValue{Bytes: bytes.Clone(v)}
}

// Fake is an in-memory ledger. The zero value is not usable; call New.
type Fake struct {
	// OnCreate, when set, may reject the n-th (0-based) application create.
	OnCreate func(n int, tmpl domain.AppTemplate) error
	// OnCall, when set, may reject a method call before its handler runs.
	OnCall func(call domain.MethodCall) error
	// OnPay, when set, may reject a payment.
	OnPay func(to string, amount uint64) error
	// StatusErr, when set, is returned by Status.
	StatusErr error

	mu        sync.Mutex
	round     uint64
	operator  string
	balances  map[string]uint64
	apps      map[uint64]*App
	handlers  map[string]Handler
	nextAppID uint64
	txSeq     int
	creates   int
	calls     []domain.MethodCall
	payments  []Payment
	deleted   []uint64
}

// New returns a fake whose operator holds balance microAlgos.
func New(operator string, balance uint64) *Fake {
	return &Fake{
		round:     1000,
		operator:  operator,
		balances:  map[string]uint64{operator: balance},
		apps:      make(map[uint64]*App),
		handlers:  make(map[string]Handler),
		nextAppID: 1001,
	}
}

// SetRound sets the round reported by Status.
func (f *Fake) SetRound(r uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.round = r
}

// SetBalance overrides the balance of address.
func (f *Fake) SetBalance(address string, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[address] = amount
}

// Handle registers the handler for an ABI method signature. Methods without
// a handler succeed with no effect.
func (f *Fake) Handle(signature string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[signature] = h
}

// AddApp installs an application with the given global state.
func (f *Fake) AddApp(global map[string]domain.TealValue) *App {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addAppLocked(domain.AppTemplate{}, global)
}

func (f *Fake) addAppLocked(tmpl domain.AppTemplate, global map[string]domain.TealValue) *App {
	id := f.nextAppID
	f.nextAppID++
	if global == nil {
		global = make(map[string]domain.TealValue)
	}
	app := &App{
		ID:       id,
		Address:  crypto.GetApplicationAddress(id).String(),
		Template: tmpl,
		Global:   global,
		Boxes:    make(map[string][]byte),
	}
	f.apps[id] = app
	return app
}

// App returns the application with id, or nil.
func (f *Fake) App(id uint64) *App {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apps[id]
}

// Calls returns every accepted method call in submission order.
func (f *Fake) Calls() []domain.MethodCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.MethodCall(nil), f.calls...)
}

// CallCount returns how many accepted calls used signature.
func (f *Fake) CallCount(signature string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Signature == signature {
			n++
		}
	}
	return n
}

// Payments returns every accepted payment, grouped ones included.
func (f *Fake) Payments() []Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Payment(nil), f.payments...)
}

// Deleted returns the ids of deleted applications.
func (f *Fake) Deleted() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.deleted...)
}

// BoxNames returns the sorted box names of an application.
func (f *Fake) BoxNames(appID uint64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	app := f.apps[appID]
	if app == nil {
		return nil
	}
	names := make([]string, 0, len(app.Boxes))
	for n := range app.Boxes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (f *Fake) nextTxID(prefix string) string {
	f.txSeq++
	return fmt.Sprintf("%s-TX-%d", prefix, f.txSeq)
}

func reject(op, reason string, err error) error {
	return &domain.LedgerError{Op: op, Reason: reason, Err: err}
}

// Status implements domain.Ledger.
func (f *Fake) Status(ctx context.Context) (domain.NodeStatus, error) {
	if err := ctx.Err(); err != nil {
		return domain.NodeStatus{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StatusErr != nil {
		return domain.NodeStatus{}, f.StatusErr
	}
	return domain.NodeStatus{LastRound: f.round}, nil
}

// Operator implements domain.Ledger.
func (f *Fake) Operator() string { return f.operator }

// ApplicationAddress implements domain.Ledger.
func (f *Fake) ApplicationAddress(appID uint64) string {
	return crypto.GetApplicationAddress(appID).String()
}

// AccountBalance implements domain.Ledger.
func (f *Fake) AccountBalance(ctx context.Context, address string) (domain.AccountBalance, error) {
	if err := ctx.Err(); err != nil {
		return domain.AccountBalance{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	minBal := uint64(AccountMinBalance)
	for _, app := range f.apps {
		if app.Address == address {
			minBal = app.minBalance()
		}
	}
	if address == f.operator {
		minBal += uint64(AppMinBalance) * uint64(len(f.apps))
	}
	return domain.AccountBalance{Address: address, Amount: f.balances[address], MinBalance: minBal}, nil
}

func (f *Fake) debitLocked(op string, amount uint64) error {
	if f.balances[f.operator] < amount {
		return reject(op, "insufficient balance", errors.New("overspend"))
	}
	f.balances[f.operator] -= amount
	return nil
}

// Pay implements domain.Ledger.
func (f *Fake) Pay(ctx context.Context, to string, amount uint64, note []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OnPay != nil {
		if err := f.OnPay(to, amount); err != nil {
			return "", err
		}
	}
	if err := f.debitLocked("pay", amount); err != nil {
		return "", err
	}
	f.balances[to] += amount
	txID := f.nextTxID("PAY")
	f.payments = append(f.payments, Payment{TxID: txID, To: to, Amount: amount, Note: bytes.Clone(note)})
	return txID, nil
}

// Compile implements domain.Ledger. Empty sources fail; anything else
// compiles to a marker byte followed by the source.
func (f *Fake) Compile(ctx context.Context, source []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(source)) == 0 {
		return nil, reject("compile", "rejected by node", errors.New("empty program"))
	}
	return append([]byte{0x0a}, source...), nil
}

// CreateApplication implements domain.Ledger.
func (f *Fake) CreateApplication(ctx context.Context, tmpl domain.AppTemplate) (domain.DeployedApp, error) {
	if err := ctx.Err(); err != nil {
		return domain.DeployedApp{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.creates
	f.creates++
	if f.OnCreate != nil {
		if err := f.OnCreate(n, tmpl); err != nil {
			return domain.DeployedApp{}, err
		}
	}
	if len(tmpl.ApprovalProgram) == 0 || len(tmpl.ClearProgram) == 0 {
		return domain.DeployedApp{}, reject("create application", "rejected by node", errors.New("program is empty"))
	}
	app := f.addAppLocked(tmpl, nil)
	return domain.DeployedApp{AppID: app.ID, Address: app.Address, TxID: f.nextTxID("CREATE")}, nil
}

// CallMethod implements domain.Ledger.
func (f *Fake) CallMethod(ctx context.Context, call domain.MethodCall) (domain.MethodResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.MethodResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	name, _, _ := strings.Cut(call.Signature, "(")
	app := f.apps[call.AppID]
	if app == nil {
		return domain.MethodResult{}, reject(name, "rejected by node", fmt.Errorf("application %d does not exist", call.AppID))
	}
	if f.OnCall != nil {
		if err := f.OnCall(call); err != nil {
			return domain.MethodResult{}, err
		}
	}

	c := &Call{
		App:      app,
		Method:   call,
		Sender:   f.operator,
		Payment:  call.Payment,
		declared: make(map[string]bool, len(call.Boxes)),
		boxes:    make(map[string][]byte),
		global:   make(map[string]domain.TealValue),
	}
	for _, b := range call.Boxes {
		if b.AppID == 0 || b.AppID == call.AppID {
			c.declared[string(b.Name)] = true
		}
	}

	var ret any
	if h := f.handlers[call.Signature]; h != nil {
		v, err := h(c)
		if err != nil {
			var le *domain.LedgerError
			if errors.As(err, &le) {
				return domain.MethodResult{}, err
			}
			return domain.MethodResult{}, reject(name, domain.ReasonRejectedByContract, fmt.Errorf("logic eval error: %w", err))
		}
		ret = v
	}

	// Minimum balance after the call's box writes and grouped payment. Calls
	// that touch neither are not checked.
	if len(c.boxes) > 0 || call.Payment != nil {
		projected := make(map[string][]byte, len(app.Boxes)+len(c.boxes))
		for k, v := range app.Boxes {
			projected[k] = v
		}
		for k, v := range c.boxes {
			projected[k] = v
		}
		need := (&App{Boxes: projected}).minBalance()
		have := f.balances[app.Address]
		if call.Payment != nil && call.Payment.Receiver == app.Address {
			have += call.Payment.Amount
		}
		if have < need {
			return domain.MethodResult{}, reject(name, "insufficient balance",
				fmt.Errorf("balance %d below min %d", have, need))
		}
	}

	if call.Payment != nil {
		if err := f.debitLocked(name, call.Payment.Amount); err != nil {
			return domain.MethodResult{}, err
		}
		f.balances[call.Payment.Receiver] += call.Payment.Amount
		f.payments = append(f.payments, Payment{
			TxID:   f.nextTxID("PAY"),
			To:     call.Payment.Receiver,
			Amount: call.Payment.Amount,
		})
	}
	for k, v := range c.boxes {
		app.Boxes[k] = v
	}
	for k, v := range c.global {
		app.Global[k] = v
	}
	f.calls = append(f.calls, call)
	return domain.MethodResult{TxID: f.nextTxID("CALL"), ConfirmedRound: f.round, ReturnValue: ret}, nil
}

// DeleteApplication implements domain.Ledger.
func (f *Fake) DeleteApplication(ctx context.Context, appID uint64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.apps[appID]; !ok {
		return "", reject("delete application", "rejected by node", fmt.Errorf("application %d does not exist", appID))
	}
	delete(f.apps, appID)
	f.deleted = append(f.deleted, appID)
	return f.nextTxID("DELETE"), nil
}

// GlobalState implements domain.Ledger.
func (f *Fake) GlobalState(ctx context.Context, appID uint64) (map[string]domain.TealValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	app := f.apps[appID]
	if app == nil {
		return nil, fmt.Errorf("algotest: application %d: %w", appID, domain.ErrNotFound)
	}
	out := make(map[string]domain.TealValue, len(app.Global))
	for k, v := range app.Global {
		out[k] = v
	}
	return out, nil
}

// Box implements domain.Ledger.
func (f *Fake) Box(ctx context.Context, appID uint64, name []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	app := f.apps[appID]
	if app == nil {
		return nil, fmt.Errorf("algotest: application %d: %w", appID, domain.ErrNotFound)
	}
	v, ok := app.Boxes[string(name)]
	if !ok {
		return nil, fmt.Errorf("algotest: box %q: %w", name, domain.ErrNotFound)
	}
	return bytes.Clone(v), nil
}

var _ domain.Ledger = (*Fake)(nil)
