package identity

import (
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// KeySize is the length of a public identity key in bytes.
const KeySize = 32

// Key identifies an authority, a depositor or a custody account.
type Key [KeySize]byte

// ParseKey decodes the base58 text form of a key.
func ParseKey(s string) (Key, error) {
	var k Key
	raw, err := base58.Decode(s)
	if err != nil {
		return k, fmt.Errorf("decode key %q: %w", s, err)
	}
	if len(raw) != KeySize {
		return k, fmt.Errorf("key %q: want %d bytes, got %d", s, KeySize, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

func (k Key) String() string { return base58.Encode(k[:]) }

// IsZero reports whether k is the all-zero key.
func (k Key) IsZero() bool { return k == Key{} }

func (k Key) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// DeriveAddress returns the deterministic address of a lottery deployment
// owned by authority. The same authority and name always map to the same
// address, so a second initialize for the pair collides.
func DeriveAddress(authority Key, name string) Key {
	h := blake3.New()
	_, _ = h.Write([]byte("lottery:"))
	_, _ = h.Write(authority[:])
	_, _ = h.Write([]byte(name))
	var out Key
	copy(out[:], h.Sum(nil))
	return out
}
