package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// ComputeChecksumReader computes the SHA-256 checksum of r without loading
// it into memory.
func ComputeChecksumReader(r io.Reader) ([32]byte, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return [32]byte{}, err
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// ChecksumFile returns the hex SHA-256 checksum of the file at path.
func ChecksumFile(path string) (string, error) {
	//nolint:gosec // Model assets are loaded from a user-specified path.
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum, err := ComputeChecksumReader(f)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChecksum compares the file at path against a hex SHA-256 checksum.
// Returns an error wrapping ErrChecksumMismatch if they don't match.
func VerifyChecksum(path, want string) error {
	got, err := ChecksumFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailure, err)
	}
	if !strings.EqualFold(got, strings.TrimSpace(want)) {
		return fmt.Errorf("%w: %s: got %s, want %s", ErrChecksumMismatch, path, got, want)
	}
	return nil
}
