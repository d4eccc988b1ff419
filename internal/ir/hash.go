package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainContent separates content fingerprints from any other hash the
// system may compute. The version suffix leaves room for a new algorithm.
const DomainContent = "tandem/content/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash fingerprints a content map through canonical JSON.
func ContentHash(content map[string]any) (string, error) {
	data, err := MarshalCanonical(content)
	if err != nil {
		return "", fmt.Errorf("canonicalize content: %w", err)
	}
	return hashWithDomain(DomainContent, data), nil
}

// Fingerprint hashes the creation-identifying content of r.
//
// Two records with equal fingerprints in the same scope are treated as the
// same logical creation when a pending insert is matched to a push event.
func Fingerprint[R any](k Kind[R], r R) (string, error) {
	fp, err := ContentHash(k.Content(r))
	if err != nil {
		return "", fmt.Errorf("%s fingerprint: %w", k.Name, err)
	}
	return fp, nil
}
