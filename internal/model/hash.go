package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows the hashing scheme to change without collisions.
const (
	DomainOperation = "treesync/operation/v1"
)

// OperationKind names a queued remote mutation.
type OperationKind string

const (
	OpCreate       OperationKind = "create"
	OpUpdateStatus OperationKind = "update_status"
	OpComment      OperationKind = "comment"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// OperationID computes the content-addressed ID of a remote mutation.
// The same run, kind, work item and payload always produce the same ID.
func OperationID(runID string, kind OperationKind, workItemID string, payload map[string]string) (string, error) {
	if payload == nil {
		payload = map[string]string{}
	}
	obj := map[string]any{
		"run_id":       runID,
		"kind":         string(kind),
		"work_item_id": workItemID,
		"payload":      payload,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("OperationID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainOperation, canonical), nil
}

// MustOperationID is like OperationID but panics on error.
// Payloads of plain strings always marshal, so this only panics on programmer error.
func MustOperationID(runID string, kind OperationKind, workItemID string, payload map[string]string) string {
	id, err := OperationID(runID, kind, workItemID, payload)
	if err != nil {
		panic(err)
	}
	return id
}
