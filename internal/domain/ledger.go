package domain

import "context"

// AccountBalance is the balance view of an account in microAlgos.
type AccountBalance struct {
	Address    string
	Amount     uint64
	MinBalance uint64
}

// Spendable returns the amount above the minimum balance requirement.
func (b AccountBalance) Spendable() uint64 {
	if b.Amount <= b.MinBalance {
		return 0
	}
	return b.Amount - b.MinBalance
}

// StateSchema is the number of global or local state slots an application reserves.
type StateSchema struct {
	NumUint      uint64 `toml:"num_uint"`
	NumByteSlice uint64 `toml:"num_byte_slice"`
}

// AppTemplate is a compiled contract ready to be instantiated.
type AppTemplate struct {
	Name            string
	ApprovalProgram []byte
	ClearProgram    []byte
	GlobalSchema    StateSchema
	LocalSchema     StateSchema
	ExtraPages      uint32
}

// BoxRef names an application box a call reads or writes.
type BoxRef struct {
	AppID uint64
	Name  []byte
}

// PaymentArg is a payment transaction grouped ahead of a method call and
// passed to it as a "pay" argument.
type PaymentArg struct {
	Receiver string
	Amount   uint64
}

// MethodCall is an ABI method invocation against an application.
type MethodCall struct {
	AppID     uint64
	Signature string
	Args      []any
	Payment   *PaymentArg
	Boxes     []BoxRef
	Note      []byte
}

// MethodResult is the confirmed outcome of a MethodCall.
type MethodResult struct {
	TxID           string
	ConfirmedRound uint64
	ReturnValue    any
}

// TealValue is one entry of an application's global state.
type TealValue struct {
	Bytes []byte
	Uint  uint64
	IsInt bool
}

// NodeStatus is the subset of the node status used by the tooling.
type NodeStatus struct {
	LastRound   uint64
	CatchupTime uint64
}

// Ledger is the network client adapter every flow talks to. Transactions are
// signed by the operator account the adapter was built with.
type Ledger interface {
	Status(ctx context.Context) (NodeStatus, error)
	Operator() string
	AccountBalance(ctx context.Context, address string) (AccountBalance, error)
	Pay(ctx context.Context, to string, amount uint64, note []byte) (string, error)
	Compile(ctx context.Context, source []byte) ([]byte, error)
	CreateApplication(ctx context.Context, tmpl AppTemplate) (DeployedApp, error)
	CallMethod(ctx context.Context, call MethodCall) (MethodResult, error)
	DeleteApplication(ctx context.Context, appID uint64) (string, error)
	ApplicationAddress(appID uint64) string
	GlobalState(ctx context.Context, appID uint64) (map[string]TealValue, error)
	Box(ctx context.Context, appID uint64, name []byte) ([]byte, error)
}
