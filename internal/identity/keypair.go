package identity

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/tyler-smith/go-bip39"
)

// Keypair holds an ed25519 signing key and its public identity.
type Keypair struct {
	Public  Key
	private ed25519.PrivateKey
}

// NewMnemonic returns a fresh 24-word bip39 mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// FromMnemonic derives a keypair from a bip39 mnemonic and optional passphrase.
func FromMnemonic(mnemonic, passphrase string) (*Keypair, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("mnemonic: %w", err)
	}
	return FromSeed(seed[:ed25519.SeedSize])
}

// FromSeed builds a keypair from a 32-byte ed25519 seed.
func FromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed: want %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	kp := &Keypair{private: priv}
	copy(kp.Public[:], priv.Public().(ed25519.PublicKey))
	return kp, nil
}

// Seed returns the 32-byte seed the keypair was built from.
func (kp *Keypair) Seed() []byte { return kp.private.Seed() }

// LoadKeypair reads a key file containing the base58 seed.
func LoadKeypair(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	seed, err := base58.Decode(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode key file %s: %w", path, err)
	}
	return FromSeed(seed)
}

// SaveKeypair writes the base58 seed to path with owner-only permissions.
func SaveKeypair(path string, kp *Keypair) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create key dir: %w", err)
		}
	}
	return os.WriteFile(path, []byte(base58.Encode(kp.Seed())+"\n"), 0o600)
}
