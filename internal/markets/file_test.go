package markets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/algomarkets/internal/domain"
)

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "markets.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultCatalogIsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestDefaultReturnsCopy(t *testing.T) {
	a := Default()
	a[0].Ref = "changed"
	assert.NotEqual(t, "changed", Default()[0].Ref)
}

func TestLoadFile(t *testing.T) {
	path := writeCatalog(t, `
[[market]]
id = "SA-ENERGY-ESKOM-001"
title = "Eskom"
question = "Stage 4?"
category = "economic"
ref = "ESKOM-LS4"
fee_bps = 150
expiry_date = "2027-06-01"

[[market]]
id = "SA-SPORT-BOKS-002"
title = "Boks"
question = "Win?"
category = "sport"
ref = "BOKS"
expiry_date = "2027-10-10"
`)

	got, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(150), got[0].FeeBps)
	assert.Equal(t, domain.CategorySport, got[1].Category)
	assert.Equal(t, uint64(DefaultFeeBps), got[1].FeeBps)
}

func TestLoadFileExplicitZeroFee(t *testing.T) {
	path := writeCatalog(t, `
[[market]]
id = "free"
category = "sport"
ref = "FREE"
fee_bps = 0
expiry_date = "2027-01-01"
`)
	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got[0].FeeBps)
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := writeCatalog(t, `
[[market]]
id = "x"
category = "sport"
ref = "X"
expiry_date = "2027-01-01"
fee = 10
`)
	_, err := LoadFile(path)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "market.fee")
}

func TestValidateReportsEveryProblem(t *testing.T) {
	err := Validate([]domain.MarketConfig{
		{ID: "a", Category: domain.CategorySport, Ref: "A", ExpiryDate: "2027-01-01"},
		{ID: "a", Category: "politics", Ref: "", FeeBps: 20_000, ExpiryDate: "tomorrow"},
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	msg := err.Error()
	assert.Contains(t, msg, "duplicate id")
	assert.Contains(t, msg, `unknown category "politics"`)
	assert.Contains(t, msg, "ref must be 1-64 bytes")
	assert.Contains(t, msg, "fee_bps 20000 exceeds 10000")
	assert.Contains(t, msg, `expiry_date "tomorrow"`)
}

func TestValidateEmpty(t *testing.T) {
	require.ErrorIs(t, Validate(nil), domain.ErrInvalidInput)
}
