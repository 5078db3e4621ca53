package crypto

import (
	"os"
	"path/filepath"
	"testing"

	algocrypto "github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/mnemonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMnemonic(t *testing.T) (string, algocrypto.Account) {
	t.Helper()
	acct := algocrypto.GenerateAccount()
	m, err := mnemonic.FromPrivateKey(acct.PrivateKey)
	require.NoError(t, err)
	return m, acct
}

func TestAccountFromMnemonicToleratesWhitespace(t *testing.T) {
	m, acct := newMnemonic(t)

	got, err := AccountFromMnemonic("  " + m + "\n")
	require.NoError(t, err)
	assert.Equal(t, acct.Address, got.Address)
}

func TestAccountFromMnemonicRejectsGarbage(t *testing.T) {
	_, err := AccountFromMnemonic("not a real mnemonic")
	require.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m, _ := newMnemonic(t)

	blob, err := EncryptMnemonic(m, "hunter2")
	require.NoError(t, err)

	got, err := DecryptMnemonic(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = DecryptMnemonic(blob, "wrong")
	require.Error(t, err)
}

func TestEncryptRequiresPassword(t *testing.T) {
	m, _ := newMnemonic(t)
	_, err := EncryptMnemonic(m, "")
	require.Error(t, err)
}

func TestLoadAccountResolutionOrder(t *testing.T) {
	plain, plainAcct := newMnemonic(t)
	stored, storedAcct := newMnemonic(t)

	blob, err := EncryptMnemonic(stored, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	acct, err := LoadAccount(KeyConfig{Mnemonic: plain, EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, plainAcct.Address, acct.Address)

	acct, err = LoadAccount(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, storedAcct.Address, acct.Address)

	_, err = LoadAccount(KeyConfig{})
	require.Error(t, err)
}
