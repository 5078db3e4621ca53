package domain

// EpochState is the lifecycle of a settlement epoch on the revenue contract.
type EpochState int

const (
	EpochUncreated EpochState = iota
	EpochCreated
	EpochClosed
)

func (s EpochState) String() string {
	switch s {
	case EpochUncreated:
		return "uncreated"
	case EpochCreated:
		return "created"
	case EpochClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EpochInput is the operator-supplied description of one settlement epoch.
type EpochInput struct {
	EpochID       uint64 `json:"epochId"`
	NetRevenue    uint64 `json:"netRevenue"`
	AccrualReport string `json:"accrualReport,omitempty"`
	AccrualHash   string `json:"accrualHash,omitempty"`
	Close         bool   `json:"close"`
}

// SettlementReport summarises what a settlement run did.
type SettlementReport struct {
	EpochID      uint64
	FundedAmount uint64
	Created      bool
	DepositTxID  string
	Settled      bool
	SettleSkip   string
	Closed       bool
}
