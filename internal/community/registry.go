// Package community keeps the process-wide registry of community settings.
package community

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/repository"
	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

// Registry memoizes per-community settings in front of the config store.
// A community enters the registry on first access or when the scheduler
// registers it; entries never expire. Writes commit to the store before the
// cached entry is replaced.
type Registry struct {
	store  repository.ConfigRepository
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	// writeMu serializes Set per registry so that the store merge and the
	// cache replacement for one write are never reordered with another.
	writeMu sync.Mutex
}

type entry struct {
	settings domain.Settings
	loaded   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(store repository.ConfigRepository, logger *zap.Logger) *Registry {
	return &Registry{
		store:   store,
		logger:  logger.With(zap.String("component", "community.registry")),
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Get returns the settings for a community, loading them on first access.
// A community with no stored record yields the defaults.
func (r *Registry) Get(ctx context.Context, communityID string) (domain.Settings, error) {
	r.mu.RLock()
	e, ok := r.entries[communityID]
	if ok && e.loaded {
		s := e.settings
		r.mu.RUnlock()
		return s, nil
	}
	r.mu.RUnlock()

	return r.load(ctx, communityID)
}

func (r *Registry) load(ctx context.Context, communityID string) (domain.Settings, error) {
	blob, _, err := r.store.Get(ctx, communityID)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings for %s: %w", communityID, err)
	}
	settings, err := domain.SettingsFromJSON(blob)
	if err != nil {
		// keep serving defaults over a corrupt blob
		r.logger.Warn("stored settings unreadable; using defaults",
			zap.String("community_id", communityID), zap.Error(err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[communityID]; ok && e.loaded {
		// a concurrent Set or load already won
		return e.settings, nil
	}
	r.entries[communityID] = &entry{settings: settings, loaded: true}
	return settings, nil
}

// Set validates and persists one setting, then replaces the cached entry
// with the merged view returned by the store.
func (r *Registry) Set(ctx context.Context, communityID, key, input string) (domain.Settings, error) {
	raw, err := domain.ParseSetting(key, input)
	if err != nil {
		return domain.Settings{}, err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	blob, err := r.store.SetKey(ctx, communityID, key, raw, r.now())
	if err != nil {
		return domain.Settings{}, apperrors.NewInternalError(fmt.Errorf("store setting %s: %w", key, err))
	}
	settings, err := domain.SettingsFromJSON(blob)
	if err != nil {
		return domain.Settings{}, apperrors.NewInternalError(err)
	}

	r.mu.Lock()
	r.entries[communityID] = &entry{settings: settings, loaded: true}
	r.mu.Unlock()

	r.logger.Info("setting updated",
		zap.String("community_id", communityID), zap.String("key", key))
	return settings, nil
}

// Register adds communities without loading them; they load on first Get.
func (r *Registry) Register(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := r.entries[id]; !ok {
			r.entries[id] = &entry{}
		}
	}
}

// Communities lists every registered community in stable order.
func (r *Registry) Communities() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
