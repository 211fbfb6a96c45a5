package security

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// IPHasher pseudonymizes client addresses for sessions and security events.
// The same key always maps an address to the same digest.
type IPHasher struct {
	key []byte
}

// NewIPHasher accepts a key of at most 64 bytes; an empty key gives an unkeyed hash.
func NewIPHasher(key string) (*IPHasher, error) {
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("ip hash key longer than %d bytes", blake2b.Size)
	}
	return &IPHasher{key: []byte(key)}, nil
}

// Hash returns the hex digest of ip, or "" for an empty address.
func (h *IPHasher) Hash(ip string) string {
	if ip == "" {
		return ""
	}
	d, err := blake2b.New(16, h.key)
	if err != nil {
		// key length is checked by NewIPHasher
		panic(err)
	}
	d.Write([]byte(ip))
	return hex.EncodeToString(d.Sum(nil))
}
