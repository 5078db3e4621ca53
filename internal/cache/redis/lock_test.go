package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockKey(t *testing.T) {
	assert.Equal(t, "algomarkets:testnet:lock:deployer:ABC", LockKey("algomarkets:testnet", "deployer:ABC"))
	assert.Equal(t, "lock:deployer:ABC", LockKey("", "deployer:ABC"))
}

func TestClientKey(t *testing.T) {
	c := &Client{namespace: "algomarkets:mainnet"}
	assert.Equal(t, "algomarkets:mainnet:lock:x", c.Key("lock", "x"))
	assert.Equal(t, "a:b", (&Client{}).Key("a", "b"))
}
