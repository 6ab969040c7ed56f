package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nulpointcorp/sentinel-gateway/internal/metrics"
)

// StoreOptions holds optional tuning parameters for a Store.
type StoreOptions struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics enables secret operation metrics. Nil disables them.
	Metrics *metrics.Registry

	// EnvFallback maps provider name to a credential sourced from config.
	// Used by Get only when no backend is configured (local mode).
	EnvFallback map[string]string
}

// Store is the secret store facade: authorization, encryption, audit.
//
// A nil Backend puts the store in local mode: Get answers from EnvFallback
// and every mutating operation is rejected.
type Store struct {
	backend     Backend
	masterKey   []byte
	log         *slog.Logger
	metrics     *metrics.Registry
	envFallback map[string]string
}

// NewStore creates a Store. masterKey must be 32 bytes unless backend is nil.
func NewStore(backend Backend, masterKey []byte, opts StoreOptions) (*Store, error) {
	if backend != nil && len(masterKey) != keySize {
		return nil, fmt.Errorf("secrets: master key must be %d bytes, got %d", keySize, len(masterKey))
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Store{
		backend:     backend,
		masterKey:   masterKey,
		log:         log,
		metrics:     opts.Metrics,
		envFallback: opts.EnvFallback,
	}, nil
}

// Put encrypts plaintext and stores it for (workspaceID, provider), replacing
// any previous secret, and schedules the next rotation.
func (s *Store) Put(
	ctx context.Context,
	workspaceID, provider, plaintext, actorID, description string,
	rotationIntervalDays int,
	origin string,
) error {
	if s.backend == nil {
		return fmt.Errorf("secrets: put requires durable storage")
	}
	if plaintext == "" {
		return fmt.Errorf("secrets: plaintext must not be empty")
	}

	if err := s.requireActor(ctx, actorID, ActionCreate, workspaceID, provider, origin); err != nil {
		return err
	}

	ciphertext, iv, tag, err := seal(s.masterKey, []byte(plaintext))
	if err != nil {
		s.audit(ctx, actorID, ActionCreate, workspaceID, provider, false, ReasonStorage, origin)
		return err
	}

	now := time.Now().UTC()
	if rotationIntervalDays <= 0 {
		rotationIntervalDays = 90
	}

	version := 1
	if prev, err := s.backend.GetSecret(ctx, workspaceID, provider); err == nil {
		version = prev.Version + 1
	}

	sec := &EncryptedSecret{
		Ciphertext: ciphertext,
		IV:         iv,
		AuthTag:    tag,
		Version:    version,
		CreatedAt:  now,
		ExpiresAt:  now.AddDate(0, 0, rotationIntervalDays),
		CreatedBy:  actorID,
	}
	meta := &Metadata{
		Provider:    provider,
		WorkspaceID: workspaceID,
		Description: description,
		Rotation: Rotation{
			Enabled:          true,
			IntervalDays:     rotationIntervalDays,
			LastRotatedAt:    now,
			NextRotationAt:   now.AddDate(0, 0, rotationIntervalDays),
			NotifyBeforeDays: 7,
		},
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: actorID,
		IsActive:  true,
	}

	if err := s.backend.PutSecret(ctx, workspaceID, provider, sec); err != nil {
		s.audit(ctx, actorID, ActionCreate, workspaceID, provider, false, ReasonStorage, origin)
		return err
	}
	if err := s.backend.PutMetadata(ctx, meta); err != nil {
		s.audit(ctx, actorID, ActionCreate, workspaceID, provider, false, ReasonStorage, origin)
		return err
	}

	s.audit(ctx, actorID, ActionCreate, workspaceID, provider, true, "", origin)
	return nil
}

// Get decrypts and returns the plaintext credential. Both success and each
// distinct failure mode (not authorized, not found, integrity) are audited.
//
// With no backend configured, Get answers from the env fallback map — the
// local development escape hatch.
func (s *Store) Get(ctx context.Context, workspaceID, provider, actorID, origin string) (string, error) {
	if s.backend == nil {
		if v, ok := s.envFallback[provider]; ok && v != "" {
			return v, nil
		}
		return "", ErrNotFound
	}

	if err := s.requireActor(ctx, actorID, ActionRead, workspaceID, provider, origin); err != nil {
		return "", err
	}

	sec, err := s.backend.GetSecret(ctx, workspaceID, provider)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.audit(ctx, actorID, ActionRead, workspaceID, provider, false, ReasonNotFound, origin)
			return "", ErrNotFound
		}
		s.audit(ctx, actorID, ActionRead, workspaceID, provider, false, ReasonStorage, origin)
		return "", err
	}

	plaintext, err := open(s.masterKey, sec.Ciphertext, sec.IV, sec.AuthTag)
	if err != nil {
		if errors.Is(err, ErrIntegrity) {
			s.log.Error("secret integrity failure",
				slog.String("workspace_id", workspaceID),
				slog.String("provider", provider),
				slog.Int("version", sec.Version),
			)
			s.audit(ctx, actorID, ActionRead, workspaceID, provider, false, ReasonIntegrity, origin)
			return "", ErrIntegrity
		}
		return "", err
	}

	// Access counters are advisory; failure to bump them never fails the read.
	sec.LastAccessedAt = time.Now().UTC()
	sec.AccessCount++
	if err := s.backend.PutSecret(ctx, workspaceID, provider, sec); err != nil {
		s.log.Warn("secret access counter update failed", slog.String("error", err.Error()))
	}

	s.audit(ctx, actorID, ActionRead, workspaceID, provider, true, "", origin)
	return string(plaintext), nil
}

// Rotate re-encrypts under a fresh IV, increments the version, and recomputes
// the rotation deadline. Rotation is audited as its own action.
func (s *Store) Rotate(ctx context.Context, workspaceID, provider, newPlaintext, actorID, origin string) error {
	if s.backend == nil {
		return fmt.Errorf("secrets: rotate requires durable storage")
	}
	if newPlaintext == "" {
		return fmt.Errorf("secrets: plaintext must not be empty")
	}

	if err := s.requireActor(ctx, actorID, ActionRotate, workspaceID, provider, origin); err != nil {
		return err
	}

	prev, err := s.backend.GetSecret(ctx, workspaceID, provider)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.audit(ctx, actorID, ActionRotate, workspaceID, provider, false, ReasonNotFound, origin)
			return ErrNotFound
		}
		return err
	}
	meta, err := s.backend.GetMetadata(ctx, workspaceID, provider)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	ciphertext, iv, tag, err := seal(s.masterKey, []byte(newPlaintext))
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	intervalDays := 90
	if meta != nil && meta.Rotation.IntervalDays > 0 {
		intervalDays = meta.Rotation.IntervalDays
	}

	next := &EncryptedSecret{
		Ciphertext:     ciphertext,
		IV:             iv,
		AuthTag:        tag,
		Version:        prev.Version + 1,
		CreatedAt:      prev.CreatedAt,
		ExpiresAt:      now.AddDate(0, 0, intervalDays),
		CreatedBy:      prev.CreatedBy,
		LastAccessedAt: prev.LastAccessedAt,
		AccessCount:    prev.AccessCount,
	}
	if err := s.backend.PutSecret(ctx, workspaceID, provider, next); err != nil {
		s.audit(ctx, actorID, ActionRotate, workspaceID, provider, false, ReasonStorage, origin)
		return err
	}

	if meta != nil {
		meta.Rotation.LastRotatedAt = now
		meta.Rotation.NextRotationAt = now.AddDate(0, 0, intervalDays)
		meta.UpdatedAt = now
		if err := s.backend.PutMetadata(ctx, meta); err != nil {
			s.log.Warn("rotation metadata update failed", slog.String("error", err.Error()))
		}
	}

	s.audit(ctx, actorID, ActionRotate, workspaceID, provider, true, "", origin)
	return nil
}

// Delete removes ciphertext and metadata. Not reversible; the deletion is
// audited.
func (s *Store) Delete(ctx context.Context, workspaceID, provider, actorID, origin string) error {
	if s.backend == nil {
		return fmt.Errorf("secrets: delete requires durable storage")
	}

	if err := s.requireActor(ctx, actorID, ActionDelete, workspaceID, provider, origin); err != nil {
		return err
	}

	if _, err := s.backend.GetSecret(ctx, workspaceID, provider); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.audit(ctx, actorID, ActionDelete, workspaceID, provider, false, ReasonNotFound, origin)
			return ErrNotFound
		}
		return err
	}

	if err := s.backend.DeleteSecret(ctx, workspaceID, provider); err != nil {
		s.audit(ctx, actorID, ActionDelete, workspaceID, provider, false, ReasonStorage, origin)
		return err
	}
	if err := s.backend.DeleteMetadata(ctx, workspaceID, provider); err != nil {
		s.log.Warn("metadata delete failed", slog.String("error", err.Error()))
	}

	s.audit(ctx, actorID, ActionDelete, workspaceID, provider, true, "", origin)
	return nil
}

// ListDueForRotation scans all metadata and returns entries whose next
// rotation falls within daysAhead from now. Full scan, no index — flagged as
// a scaling limit for large tenant counts.
func (s *Store) ListDueForRotation(ctx context.Context, daysAhead int) ([]Metadata, error) {
	if s.backend == nil {
		return nil, nil
	}
	if daysAhead < 0 {
		daysAhead = 0
	}

	all, err := s.backend.ListMetadata(ctx)
	if err != nil {
		return nil, err
	}

	horizon := time.Now().UTC().AddDate(0, 0, daysAhead)
	due := make([]Metadata, 0)
	for _, m := range all {
		if m.IsActive && m.Rotation.Enabled && !m.Rotation.NextRotationAt.After(horizon) {
			due = append(due, m)
		}
	}
	return due, nil
}

// Authorize adds an actor to the allow-list. Audited.
func (s *Store) Authorize(ctx context.Context, actorID, byActor, origin string) error {
	if s.backend == nil {
		return fmt.Errorf("secrets: authorize requires durable storage")
	}
	if err := s.backend.AddActor(ctx, actorID); err != nil {
		return err
	}
	s.audit(ctx, byActor, ActionAuthorize, "", actorID, true, "", origin)
	return nil
}

// Revoke removes an actor from the allow-list. Audited and idempotent.
func (s *Store) Revoke(ctx context.Context, actorID, byActor, origin string) error {
	if s.backend == nil {
		return fmt.Errorf("secrets: revoke requires durable storage")
	}
	if err := s.backend.RemoveActor(ctx, actorID); err != nil {
		return err
	}
	s.audit(ctx, byActor, ActionRevoke, "", actorID, true, "", origin)
	return nil
}

// Actors returns the current allow-list.
func (s *Store) Actors(ctx context.Context) ([]string, error) {
	if s.backend == nil {
		return nil, nil
	}
	return s.backend.ListActors(ctx)
}

// AccessLog returns up to n most recent audit entries for a workspace.
func (s *Store) AccessLog(ctx context.Context, workspaceID string, n int) ([]AccessEntry, error) {
	if s.backend == nil {
		return nil, nil
	}
	return s.backend.AccessLog(ctx, workspaceID, n)
}

// requireActor denies and audits when the actor is absent from the allow-list.
func (s *Store) requireActor(ctx context.Context, actorID, action, ws, prov, origin string) error {
	if actorID == SystemActor {
		return nil
	}
	ok, err := s.backend.IsAuthorized(ctx, actorID)
	if err != nil {
		return err
	}
	if !ok {
		s.audit(ctx, actorID, action, ws, prov, false, ReasonNotAuthorized, origin)
		return ErrNotAuthorized
	}
	return nil
}

// audit appends an access-log entry. Audit failures are logged, never
// propagated — an unwritable audit trail must not break secret operations.
func (s *Store) audit(ctx context.Context, actor, action, ws, prov string, success bool, reason, origin string) {
	if s.metrics != nil {
		s.metrics.RecordSecretOp(action, success)
	}

	entry := &AccessEntry{
		Actor:       actor,
		Action:      action,
		WorkspaceID: ws,
		Provider:    prov,
		At:          time.Now().UTC(),
		Success:     success,
		Reason:      reason,
		Origin:      origin,
	}
	if err := s.backend.AppendAccess(ctx, ws, entry); err != nil {
		s.log.Error("audit append failed",
			slog.String("action", action),
			slog.String("workspace_id", ws),
			slog.String("error", err.Error()),
		)
	}
}
