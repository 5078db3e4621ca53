// Package crypto resolves the operator's Algorand signing account from a
// plain mnemonic or a password-encrypted key file.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	algocrypto "github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/mnemonic"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	// currentVersion is the encrypted-key JSON schema version.
	currentVersion = 1
)

// encryptedKeyJSON is the on-disk format for an encrypted mnemonic.
type encryptedKeyJSON struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// KeyConfig carries the information LoadAccount needs to resolve the signer.
type KeyConfig struct {
	// Mnemonic is the 25-word Algorand account mnemonic. If non-empty it
	// takes precedence over EncryptedKeyPath.
	Mnemonic string

	// EncryptedKeyPath is the path to a JSON file produced by EncryptMnemonic.
	EncryptedKeyPath string

	// KeyPassword is the password used to decrypt the file at EncryptedKeyPath.
	KeyPassword string
}

// normaliseMnemonic collapses any whitespace run to a single space.
func normaliseMnemonic(m string) string {
	return strings.Join(strings.Fields(m), " ")
}

// AccountFromMnemonic converts a 25-word mnemonic into a signing account.
func AccountFromMnemonic(m string) (algocrypto.Account, error) {
	sk, err := mnemonic.ToPrivateKey(normaliseMnemonic(m))
	if err != nil {
		return algocrypto.Account{}, fmt.Errorf("crypto: invalid mnemonic: %w", err)
	}
	acct, err := algocrypto.AccountFromPrivateKey(sk)
	if err != nil {
		return algocrypto.Account{}, fmt.Errorf("crypto: account from key: %w", err)
	}
	return acct, nil
}

// EncryptMnemonic encrypts a mnemonic with a password using PBKDF2-HMAC-SHA256
// key derivation and AES-256-GCM authenticated encryption. It returns the
// JSON blob suitable for writing to disk.
func EncryptMnemonic(m string, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	m = normaliseMnemonic(m)
	acct, err := AccountFromMnemonic(m)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(m), []byte(acct.Address.String()))

	out := encryptedKeyJSON{
		Version:    currentVersion,
		Address:    acct.Address.String(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}

	return json.MarshalIndent(out, "", "  ")
}

// DecryptMnemonic decrypts a JSON blob produced by EncryptMnemonic. The stored
// address is authenticated along with the ciphertext.
func DecryptMnemonic(encryptedJSON []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var stored encryptedKeyJSON
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return "", fmt.Errorf("crypto: parsing encrypted key JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return "", fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce length %d, want %d", len(nonce), gcm.NonceSize())
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(stored.Address))
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}

	return string(plaintext), nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// LoadAccount resolves the operator account from the provided configuration.
//
// Resolution order:
//  1. If Mnemonic is set, derive the account from it.
//  2. If EncryptedKeyPath is set, read the file and decrypt with KeyPassword.
//  3. Otherwise, return an error.
func LoadAccount(cfg KeyConfig) (algocrypto.Account, error) {
	if strings.TrimSpace(cfg.Mnemonic) != "" {
		return AccountFromMnemonic(cfg.Mnemonic)
	}

	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return algocrypto.Account{}, fmt.Errorf("crypto: reading encrypted key file: %w", err)
		}
		m, err := DecryptMnemonic(data, cfg.KeyPassword)
		if err != nil {
			return algocrypto.Account{}, err
		}
		return AccountFromMnemonic(m)
	}

	return algocrypto.Account{}, errors.New("crypto: no signing key configured (set Mnemonic or EncryptedKeyPath)")
}
