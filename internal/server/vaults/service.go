package vaults

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/journalsync/internal/logging"
)

// registerConcurrency bounds parallel upserts during a register merge.
const registerConcurrency = 4

// StorageCleanup destroys the durable journal storage behind a vault.
// Injected so the registry stays ignorant of how journals are stored.
type StorageCleanup func(ctx context.Context, userUniqueID, publicKey string) error

// Service implements vault lifecycle and tier enforcement.
type Service struct {
	repo    Repository
	cleanup StorageCleanup
	log     logging.Logger

	mu         sync.Mutex
	destroying map[string]bool // keys with a destroy in flight
}

// NewService builds the registry service.
func NewService(repo Repository, cleanup StorageCleanup, log logging.Logger) *Service {
	return &Service{
		repo:       repo,
		cleanup:    cleanup,
		log:        log.With("module", "vaults"),
		destroying: make(map[string]bool),
	}
}

// Register merges candidate keys with the user's existing vaults under the
// tier's vault limit. Existing keys are never evicted; new keys are
// truncated, in request order, to the remaining capacity. Accepted items
// are upserted with bounded concurrency and an individual failure skips
// just that item. The returned set is the authoritative post-merge list.
func (s *Service) Register(ctx context.Context, userUniqueID string, items []Item, tier Tier) (*RegisterResult, error) {
	existing, err := s.repo.ListByUser(ctx, userUniqueID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, v := range existing {
		known[v.PublicKey] = true
	}

	capacity := tier.MaxVaults - len(existing)
	if capacity < 0 {
		capacity = 0
	}

	var accepted []Item
	skipped := 0
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if seen[item.PublicKey] {
			continue
		}
		seen[item.PublicKey] = true
		if known[item.PublicKey] {
			accepted = append(accepted, item) // update, costs no capacity
			continue
		}
		if capacity == 0 {
			skipped++
			continue
		}
		capacity--
		accepted = append(accepted, item)
	}

	var acceptedCount int64
	var countMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(registerConcurrency)
	for _, item := range accepted {
		item := item
		g.Go(func() error {
			now := time.Now()
			v := &Vault{
				UserUniqueID:   userUniqueID,
				PublicKey:      item.PublicKey,
				Note:           item.Note,
				CreatedAt:      now,
				UpdatedAt:      now,
				MaxStorageSize: tier.MaxStorageBytes,
			}
			if err := s.repo.Upsert(gctx, v); err != nil {
				// Partial success is expected; report and move on.
				s.log.Warn(gctx, "vault upsert skipped", "public_key", item.PublicKey, "error", err)
				countMu.Lock()
				skipped++
				countMu.Unlock()
				return nil
			}
			countMu.Lock()
			acceptedCount++
			countMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged, err := s.repo.ListByUser(ctx, userUniqueID)
	if err != nil {
		return nil, err
	}
	return &RegisterResult{Vaults: merged, Accepted: int(acceptedCount), Skipped: skipped}, nil
}

// Stats returns the vault row for (user, key).
func (s *Service) Stats(ctx context.Context, userUniqueID, publicKey string) (*Vault, error) {
	return s.repo.GetByKey(ctx, userUniqueID, publicKey)
}

// Update changes a vault's note.
func (s *Service) Update(ctx context.Context, userUniqueID, publicKey, note string) error {
	v, err := s.repo.GetByKey(ctx, userUniqueID, publicKey)
	if err != nil {
		return err
	}
	v.Note = note
	v.UpdatedAt = time.Now()
	return s.repo.Upsert(ctx, v)
}

// Touch records a successful sync against the vault.
func (s *Service) Touch(ctx context.Context, userUniqueID, publicKey string, usedStorageSize int64) error {
	return s.repo.Touch(ctx, userUniqueID, publicKey, usedStorageSize)
}

// Destroy removes the vault row and its durable storage. Idempotent: a
// destroy already in flight for the same key turns the call into a no-op.
// Each cleanup step is best-effort, but the row removal is always
// attempted.
func (s *Service) Destroy(ctx context.Context, userUniqueID, publicKey string) error {
	mapKey := userUniqueID + ":" + publicKey
	s.mu.Lock()
	if s.destroying[mapKey] {
		s.mu.Unlock()
		return nil
	}
	s.destroying[mapKey] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.destroying, mapKey)
		s.mu.Unlock()
	}()

	if s.cleanup != nil {
		if err := s.cleanup(ctx, userUniqueID, publicKey); err != nil {
			s.log.Warn(ctx, "vault storage cleanup failed", "public_key", publicKey, "error", err)
		}
	}
	return s.repo.Delete(ctx, userUniqueID, publicKey)
}
