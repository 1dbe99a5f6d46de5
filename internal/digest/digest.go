// Package digest computes the SHA-256 values that anchor evidence and custody records.
package digest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Merkle domain separation prefixes.
const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// Bytes returns the lowercase hex SHA-256 of b.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// String returns the lowercase hex SHA-256 of s.
func String(s string) string {
	return Bytes([]byte(s))
}

// Fields hashes a record whose fields may hold arbitrary text. Each field is
// written as a presence byte followed by its big-endian length and bytes, so
// no two distinct field lists share an encoding and nil differs from "".
func Fields(parts ...*string) string {
	h := sha256.New()
	var n [8]byte
	for _, p := range parts {
		if p == nil {
			_, _ = h.Write([]byte{0})
			continue
		}
		_, _ = h.Write([]byte{1})
		binary.BigEndian.PutUint64(n[:], uint64(len(*p)))
		_, _ = h.Write(n[:])
		_, _ = h.Write([]byte(*p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Leaf hashes a Merkle leaf value.
func Leaf(value string) string {
	return Bytes(append([]byte{leafPrefix}, value...))
}

// Pair hashes two Merkle nodes.
func Pair(left, right string) string {
	b := make([]byte, 0, 1+len(left)+len(right))
	b = append(b, nodePrefix)
	b = append(b, left...)
	b = append(b, right...)
	return Bytes(b)
}

// Valid reports whether s looks like a hex SHA-256 digest.
func Valid(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
