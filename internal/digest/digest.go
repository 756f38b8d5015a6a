// Package digest computes and verifies SHA-256 content digests.
//
// Digests are lowercase hex strings of 64 characters. Every artifact the
// pipeline writes is addressed by one.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Size is the length of a hex-encoded digest.
const Size = sha256.Size * 2

// Bytes returns the hex SHA-256 of b.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether b hashes to expected. Comparison is
// case-insensitive; a malformed expected digest never verifies.
func Verify(b []byte, expected string) bool {
	expected = strings.ToLower(strings.TrimSpace(expected))
	if !IsHex(expected) {
		return false
	}
	return Bytes(b) == expected
}

// Reader hashes r to EOF and returns the digest and number of bytes read.
func Reader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// File hashes the file at path.
func File(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	sum, n, err := Reader(f)
	if err != nil {
		return "", n, fmt.Errorf("hash %s: %w", path, err)
	}
	return sum, n, nil
}

// VerifyFile reports whether the file at path hashes to expected.
func VerifyFile(path, expected string) (bool, error) {
	sum, _, err := File(path)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(sum, strings.TrimSpace(expected)), nil
}

// IsHex reports whether s looks like a hex SHA-256 digest.
func IsHex(s string) bool {
	if len(s) != Size {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
