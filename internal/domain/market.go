package domain

import "time"

// Category classifies a prediction market.
type Category string

const (
	CategoryEconomic Category = "economic"
	CategorySport    Category = "sport"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	return c == CategoryEconomic || c == CategorySport
}

// ExpiryDateLayout is the calendar format of MarketConfig.ExpiryDate.
const ExpiryDateLayout = "2006-01-02"

// MarketConfig is the static definition of a market before deployment.
type MarketConfig struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Question   string   `json:"question"`
	Category   Category `json:"category"`
	Ref        string   `json:"ref"`
	FeeBps     uint64   `json:"feeBps"`
	ExpiryDate string   `json:"expiryDate"`
}

// Expiry parses ExpiryDate as midnight UTC.
func (m MarketConfig) Expiry() (time.Time, error) {
	return time.ParseInLocation(ExpiryDateLayout, m.ExpiryDate, time.UTC)
}

// ComputedMarket is a MarketConfig with its expiry expressed as a ledger round.
type ComputedMarket struct {
	MarketConfig
	ExpiryRound uint64 `json:"expiryRound"`
}

// DeployedApp is the on-chain identity of a freshly created application.
type DeployedApp struct {
	AppID       uint64
	Address     string
	TxID        string
	FundingTxID string
}

// DeployedMarket is a market that completed deploy, configure and open.
type DeployedMarket struct {
	ComputedMarket
	AppID       uint64    `json:"appId"`
	AppAddress  string    `json:"appAddress"`
	DeployedAt  time.Time `json:"deployedAt"`
	Deployer    string    `json:"deployer"`
	TxID        string    `json:"txId"`
	FundingTxID string    `json:"fundingTxId,omitempty"`
}

// RegistryVersion is the schema version written into every registry file.
const RegistryVersion = "1.0.0"

// MarketsRegistry is the persisted record of one deployment run.
type MarketsRegistry struct {
	Version    string           `json:"version"`
	RunID      string           `json:"runId"`
	DeployedAt time.Time        `json:"deployedAt"`
	Network    string           `json:"network"`
	Markets    []DeployedMarket `json:"markets"`
}

// Stage names the step of the deployment pipeline a market reached.
type Stage string

const (
	StageCompute   Stage = "compute"
	StageDeploy    Stage = "deploy"
	StageConfigure Stage = "configure"
	StageOpen      Stage = "open"
	StageDone      Stage = "done"
)

// DeployResult is the outcome of one market in a deployment run. Exactly one
// of Market or Err is meaningful: Err == nil means the market is usable.
type DeployResult struct {
	MarketID string
	Stage    Stage
	Market   DeployedMarket
	Err      error
}

// OK reports whether the market completed every stage.
func (r DeployResult) OK() bool {
	return r.Err == nil && r.Stage == StageDone
}
