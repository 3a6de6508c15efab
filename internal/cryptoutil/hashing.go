package cryptoutil

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// DeriveInboxId derives a stable InboxId from the creating identifier and a
// caller-supplied nonce: keccak256(identifier || nonce), hex-encoded. Keccak
// (rather than SHA-2) matches the hashing convention of the wallet-address
// ecosystem this identity layer authenticates against.
func DeriveInboxId(initialIdentifier []byte, nonce uint64) string {
	nb := make([]byte, 8)
	binary.BigEndian.PutUint64(nb, nonce)
	h := sha3.NewLegacyKeccak256()
	h.Write(initialIdentifier)
	h.Write(nb)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ContentHash computes a content-addressed id over an arbitrary number of
// byte fields, joined with a 0x00 separator so no field can be confused for
// a prefix/suffix of another.
func ContentHash(parts ...[]byte) []byte {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write(p)
	}
	sum := h.Sum(nil)
	return sum
}

// ContentHashHex is ContentHash hex-encoded, convenient for use as a map key
// or persisted id column.
func ContentHashHex(parts ...[]byte) string {
	return fmt.Sprintf("%x", ContentHash(parts...))
}
