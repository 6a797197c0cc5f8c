package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// DomainPayload prefixes snapshot hashes. The version suffix allows the
// algorithm to change without colliding with stored hashes.
const DomainPayload = "asof/payload/v1"

// hashWithDomain computes SHA256(domain || 0x00 || data).
// The separator keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PayloadHash identifies a serialized snapshot. A nil payload hashes to "".
func PayloadHash(payload []byte) string {
	if payload == nil {
		return ""
	}
	return hashWithDomain(DomainPayload, payload)
}
