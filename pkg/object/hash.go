package object

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// HashBytes computes the raw SHA-256 hash of data and returns it as a
// lowercase hex-encoded Hash.
func HashBytes(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// HashObject computes the SHA-256 of the envelope "type len\0content".
func HashObject(objType ObjectType, data []byte) Hash {
	h := newObjectHasher(objType, int64(len(data)))
	h.Write(data)
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

func envelope(objType ObjectType, size int64) []byte {
	return []byte(fmt.Sprintf("%s %d\x00", objType, size))
}

// newObjectHasher returns a SHA-256 state that has already absorbed the
// envelope header, so only the payload remains to be written.
func newObjectHasher(objType ObjectType, size int64) hash.Hash {
	h := sha256.New()
	h.Write(envelope(objType, size))
	return h
}

// IsValidHash reports whether s looks like a full checksum: 64 lowercase hex
// characters.
func IsValidHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f')
	}) < 0
}
