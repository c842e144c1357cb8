package models

import (
	"crypto/sha256"
	"fmt"
	"hash"

	"golang.org/x/crypto/sha3"
)

// Algorithm selects the digest used for integrity and export hashes. Both
// options produce 32-byte digests, so hashes are always 64 hex characters
// and the all-zero sentinel works for either.
type Algorithm string

const (
	SHA256  Algorithm = "sha256"
	SHA3256 Algorithm = "sha3-256"
)

// ParseAlgorithm validates a configured algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case SHA256, SHA3256:
		return Algorithm(name), nil
	case "":
		return SHA256, nil
	}
	return "", fmt.Errorf("unsupported hash algorithm %q", name)
}

// New returns a fresh hash state for the algorithm.
func (a Algorithm) New() hash.Hash {
	if a == SHA3256 {
		return sha3.New256()
	}
	return sha256.New()
}
