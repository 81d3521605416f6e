package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainAction     = "retrosync/action/v1"
	DomainSettlement = "retrosync/settlement/v1"
	DomainConnection = "retrosync/connection/v1"
	DomainState      = "retrosync/state/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ActionID computes the content-addressed ID of an applied action.
// The sequence number is part of the identity, so the same action applied
// twice yields two distinct journal entries.
func ActionID(a Action) (string, error) {
	body, err := a.Payload()
	if err != nil {
		return "", fmt.Errorf("ActionID: %w", err)
	}
	obj := Object{
		"type":    String(a.Type),
		"seq":     Int(a.Seq),
		"payload": body,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ActionID: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainAction, canonical), nil
}

// SettlementID computes the ID of a push settlement record.
func SettlementID(mutationID, status string, seq int64) string {
	canonical, _ := MarshalCanonical(Object{
		"mutation_id": String(mutationID),
		"status":      String(status),
		"seq":         Int(seq),
	})
	return hashWithDomain(DomainSettlement, canonical)
}

// ConnectionKey identifies one connection record within a presence token.
// A record carrying a phx_ref is keyed by it; otherwise by its canonical content.
func ConnectionKey(record Object) string {
	if ref, ok := record.String("phx_ref"); ok && ref != "" {
		return "ref:" + ref
	}
	canonical, err := MarshalCanonical(record)
	if err != nil {
		return ""
	}
	return hashWithDomain(DomainConnection, canonical)
}

// ContentHash hashes canonical JSON produced by MarshalCanonical.
func ContentHash(canonical []byte) string {
	return hashWithDomain(DomainState, canonical)
}

// MustActionID is like ActionID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustActionID(a Action) string {
	id, err := ActionID(a)
	if err != nil {
		panic(err)
	}
	return id
}
