// Package sha256 fingerprints dependency sets for manifests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/JakeFAU/depfollow/internal/follower"
)

// Fingerprinter digests dependency maps over their stored encoding, so two
// versions share a fingerprint exactly when their stored values are equal.
type Fingerprinter struct{}

// New returns a Fingerprinter.
func New() *Fingerprinter {
	return &Fingerprinter{}
}

// Fingerprint returns the lowercase hex SHA-256 of follower.EncodeDependencies(deps).
func (Fingerprinter) Fingerprint(deps map[string]string) (string, error) {
	encoded, err := follower.EncodeDependencies(deps)
	if err != nil {
		return "", fmt.Errorf("encode dependencies: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}
