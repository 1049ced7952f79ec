package custody

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashLength is the length of a content hash in hex characters.
const HashLength = sha256.Size * 2

// Digest returns the lower-case hex SHA-256 of b.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Hash computes the content hash of f chained to prevHash.
func Hash(f Fields, prevHash string) (string, error) {
	b, err := Encode(f, prevHash)
	if err != nil {
		return "", err
	}
	return Digest(b), nil
}
