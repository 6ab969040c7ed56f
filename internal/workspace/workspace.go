// Package workspace implements the key resolver: it maps an opaque gateway
// API key to the owning workspace, with a TTL cache in front of durable
// storage.
//
// Only the SHA-256 hash of a gateway key is ever stored or looked up; the
// plaintext key exists solely in the inbound request. A mapping that is
// deactivated or past its expiry never resolves, even if durable storage
// still holds it. When durable storage is unreachable and the cache has no
// entry, resolution fails closed: the key is treated as invalid.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Provider name constants shared across the gateway.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderMistral   = "mistral"
)

// AllProviders lists every provider the gateway can dispatch to.
var AllProviders = []string{ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderMistral}

// ErrNotFound is returned when a key does not resolve to an active,
// non-expired mapping. It deliberately does not distinguish "unknown key"
// from "deactivated", "expired", or "storage unreachable".
var ErrNotFound = errors.New("workspace: key not found")

// Mapping is the durable record behind one gateway API key hash.
//
// A single key covers all of a workspace's providers: Providers is a set, and
// registering an additional provider under an existing hash appends to it
// rather than replacing the mapping.
type Mapping struct {
	KeyHash      string    `json:"key_hash"`
	WorkspaceID  string    `json:"workspace_id"`
	CustomerID   string    `json:"customer_id"`
	CustomerName string    `json:"customer_name"`
	Providers    []string  `json:"providers"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	IsActive     bool      `json:"is_active"`
	LastUsedAt   time.Time `json:"last_used_at"`
}

// HasProvider reports whether p is in the mapping's provider set.
func (m *Mapping) HasProvider(p string) bool {
	for _, v := range m.Providers {
		if v == p {
			return true
		}
	}
	return false
}

// Info is the resolved, cacheable identity snapshot for one gateway key.
// Instances are immutable once published to the cache.
type Info struct {
	WorkspaceID  string   `json:"workspace_id"`
	CustomerID   string   `json:"customer_id"`
	CustomerName string   `json:"customer_name"`
	Providers    []string `json:"providers"`
}

// HasProvider reports whether p is enabled for the workspace.
func (i *Info) HasProvider(p string) bool {
	for _, v := range i.Providers {
		if v == p {
			return true
		}
	}
	return false
}

// Hash returns the hex SHA-256 digest of a plaintext gateway API key.
func Hash(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// Clock abstracts time so cache-expiry tests can advance it deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
