// Package markets holds the static market catalog and turns calendar expiry
// dates into ledger rounds.
package markets

import "github.com/alanyoungcy/algomarkets/internal/domain"

// DefaultFeeBps is the fee applied to catalog markets that do not set one.
const DefaultFeeBps = 250

// Default returns the built-in catalog in deployment order. The slice is a
// fresh copy on every call.
func Default() []domain.MarketConfig {
	return []domain.MarketConfig{
		{
			ID:         "SA-ENERGY-ESKOM-001",
			Title:      "Eskom load shedding",
			Question:   "Will Eskom implement Stage 4 or higher load shedding before 1 June 2027?",
			Category:   domain.CategoryEconomic,
			Ref:        "ESKOM-LS4-2027",
			FeeBps:     DefaultFeeBps,
			ExpiryDate: "2027-06-01",
		},
		{
			ID:         "SA-ECON-SARB-002",
			Title:      "SARB repo rate cut",
			Question:   "Will the South African Reserve Bank cut the repo rate at its March 2027 MPC meeting?",
			Category:   domain.CategoryEconomic,
			Ref:        "SARB-REPO-MAR27",
			FeeBps:     DefaultFeeBps,
			ExpiryDate: "2027-03-31",
		},
		{
			ID:         "SA-ECON-ZAR-003",
			Title:      "Rand below 17 to the dollar",
			Question:   "Will USD/ZAR close below 17.00 on 30 April 2027?",
			Category:   domain.CategoryEconomic,
			Ref:        "ZAR-USD-17-APR27",
			FeeBps:     200,
			ExpiryDate: "2027-04-30",
		},
		{
			ID:         "SA-ECON-CPI-004",
			Title:      "CPI inside target band",
			Question:   "Will South African headline CPI for Q1 2027 be between 3% and 6%?",
			Category:   domain.CategoryEconomic,
			Ref:        "CPI-Q1-2027",
			FeeBps:     DefaultFeeBps,
			ExpiryDate: "2027-05-15",
		},
		{
			ID:         "SA-SPORT-BOKS-005",
			Title:      "Springboks win the Rugby Championship",
			Question:   "Will the Springboks win the 2027 Rugby Championship?",
			Category:   domain.CategorySport,
			Ref:        "BOKS-TRC-2027",
			FeeBps:     300,
			ExpiryDate: "2027-10-10",
		},
		{
			ID:         "SA-SPORT-PROTEAS-006",
			Title:      "Proteas reach the World Cup final",
			Question:   "Will the Proteas reach the final of the 2027 ICC Cricket World Cup?",
			Category:   domain.CategorySport,
			Ref:        "PROTEAS-CWC27",
			FeeBps:     300,
			ExpiryDate: "2027-11-28",
		},
	}
}
