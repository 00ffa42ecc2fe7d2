// Package eventlog implements the append-only, hash-linked causal event log.
// Every accepted agent action becomes an immutable Event chained to its
// predecessor within a causal scope; any mutation of a historical event
// invalidates the chain from that point forward.
package eventlog

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"
)

// GenesisHash is the well-known hash an empty chain reports as its root and
// the prev-hash of the first event appended to a scope.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// EventType tags the kind of action an event records. New kinds may be added
// without changing the evaluation contract.
type EventType string

const (
	TypeSignatureRequest    EventType = "signature_request"
	TypeAddressVerification EventType = "address_verification"
	TypeProposal            EventType = "proposal"
	TypeBalanceCheck        EventType = "balance_check"
	TypeWaitInterval        EventType = "wait_interval"
	TypeGovernance          EventType = "governance"
)

// Code returns the compact numeric code for an event type, matching the
// on-wire encoding used by the verifier collaborator.
func (t EventType) Code() uint8 {
	switch t {
	case TypeSignatureRequest:
		return 0x01
	case TypeAddressVerification:
		return 0x02
	case TypeBalanceCheck:
		return 0x03
	case TypeWaitInterval:
		return 0x04
	case TypeProposal:
		return 0x05
	case TypeGovernance:
		return 0x06
	default:
		return 0x00
	}
}

// Event is a single immutable record of one accepted action.
type Event struct {
	Index         int       `json:"index"`
	ActionID      string    `json:"action_id"`
	AgentID       string    `json:"agent_id"`
	Type          EventType `json:"event_type"`
	Nonce         uint64    `json:"nonce"`
	Timestamp     time.Time `json:"timestamp"`
	PayloadDigest string    `json:"payload_digest"`
	Value         uint64    `json:"value"` // USD; 0 = unvalued action
	PrevHash      string    `json:"prev_hash"`
	Hash          string    `json:"hash"`
}

// hashEvent computes a deterministic SHA3-256 hash over an event's fields.
// ActionID is excluded: it is itself derived from a subset of these fields.
func hashEvent(e *Event) string {
	h := sha3.New256()
	fmt.Fprintf(h, "%d|%d|%s|%s|%d|%s|%d|%s",
		e.Index, e.Nonce, e.AgentID, e.Type,
		e.Timestamp.UnixMilli(), e.PayloadDigest, e.Value, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// DigestPayload returns the hex-encoded SHA3-256 digest of raw payload bytes.
func DigestPayload(payload []byte) string {
	h := sha3.Sum256(payload)
	return hex.EncodeToString(h[:])
}

// ComputeActionID derives the content-addressed action identifier:
// SHA3-256(nonce || timestamp_ms || agent_id || payload_digest), big-endian
// integer encoding. Identical proposals always map to the same id, which is
// what makes the idempotency index work.
func ComputeActionID(nonce uint64, ts time.Time, agentID, payloadDigest string) string {
	var buf [8]byte
	h := sha3.New256()
	binary.BigEndian.PutUint64(buf[:], nonce)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(ts.UnixMilli()))
	h.Write(buf[:])
	h.Write([]byte(agentID))
	h.Write([]byte(payloadDigest))
	return hex.EncodeToString(h.Sum(nil))
}
