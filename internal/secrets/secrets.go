// Package secrets implements the encrypted, rotation-aware store for
// per-workspace upstream provider credentials.
//
// Plaintext credentials are sealed with AES-256-GCM under a deployment-level
// master key. Ciphertext, IV, and authentication tag are always stored
// together; a tag mismatch on decrypt is a hard IntegrityError, never
// silently ignored. Every read, write, rotation, and deletion is appended to
// an immutable per-workspace access log, including denials.
//
// Authorization is a small allow-list of actor identifiers. An actor absent
// from the list is denied and the denial is audited. The list itself is
// mutated only through Authorize/Revoke, which are themselves audited.
package secrets

import (
	"errors"
	"time"
)

// SystemActor is the identity the gateway itself uses for credential reads
// on the request path. Always authorized; reads are still audited.
const SystemActor = "gateway"

// Audited actions.
const (
	ActionCreate    = "create"
	ActionRead      = "read"
	ActionRotate    = "rotate"
	ActionDelete    = "delete"
	ActionAuthorize = "authorize"
	ActionRevoke    = "revoke"
)

// Denial / failure reasons recorded in the access log.
const (
	ReasonNotAuthorized = "not_authorized"
	ReasonNotFound      = "not_found"
	ReasonIntegrity     = "integrity_failure"
	ReasonStorage       = "storage_error"
)

var (
	// ErrNotAuthorized is returned when the actor is absent from the allow-list.
	ErrNotAuthorized = errors.New("secrets: actor not authorized")

	// ErrNotFound is returned when no secret exists for (workspace, provider).
	ErrNotFound = errors.New("secrets: secret not found")

	// ErrIntegrity is returned when GCM authentication fails on decrypt.
	// The stored ciphertext or tag has been corrupted or tampered with.
	ErrIntegrity = errors.New("secrets: ciphertext integrity check failed")
)

// EncryptedSecret is the sealed credential payload for one
// (workspace, provider) pair. Rotation replaces Ciphertext/IV/AuthTag and
// increments Version; the logical key never changes.
type EncryptedSecret struct {
	Ciphertext     []byte    `json:"ciphertext"`
	IV             []byte    `json:"iv"`
	AuthTag        []byte    `json:"auth_tag"`
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedBy      string    `json:"created_by"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int64     `json:"access_count"`
}

// Rotation drives rotation-due queries independent of the encrypted payload.
type Rotation struct {
	Enabled          bool      `json:"enabled"`
	IntervalDays     int       `json:"interval_days"`
	LastRotatedAt    time.Time `json:"last_rotated_at"`
	NextRotationAt   time.Time `json:"next_rotation_at"`
	NotifyBeforeDays int       `json:"notify_before_days"`
}

// Metadata describes one stored secret without exposing its payload.
type Metadata struct {
	Provider    string    `json:"provider"`
	WorkspaceID string    `json:"workspace_id"`
	Description string    `json:"description"`
	Rotation    Rotation  `json:"rotation"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedBy   string    `json:"created_by"`
	IsActive    bool      `json:"is_active"`
}

// AccessEntry is one append-only audit record. Entries are never mutated or
// deleted within the retention window.
type AccessEntry struct {
	Actor       string    `json:"actor"`
	Action      string    `json:"action"`
	WorkspaceID string    `json:"workspace_id"`
	Provider    string    `json:"provider"`
	At          time.Time `json:"at"`
	Success     bool      `json:"success"`
	Reason      string    `json:"reason,omitempty"`
	Origin      string    `json:"origin,omitempty"`
}
