package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/algomarkets/internal/domain"
)

func TestListQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	query, args := newListQuery(`SELECT x FROM t WHERE market_id = $1`, "M").
		apply("deployed_at", domain.ListOpts{Since: &since, Limit: 10, Offset: 20})

	assert.Equal(t,
		`SELECT x FROM t WHERE market_id = $1 AND deployed_at >= $2 ORDER BY deployed_at DESC LIMIT $3 OFFSET $4`,
		query)
	assert.Equal(t, []any{"M", since, 10, 20}, args)
}

func TestListQueryNoOpts(t *testing.T) {
	query, args := newListQuery(`SELECT x FROM t WHERE TRUE`).apply("created_at", domain.ListOpts{})
	assert.Equal(t, `SELECT x FROM t WHERE TRUE ORDER BY created_at DESC`, query)
	assert.Empty(t, args)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/algo?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "algo"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}
