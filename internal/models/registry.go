package models

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/vzahanych/engagement-edge/internal/logger"
)

// PreferenceStore persists the selected model id between runs
type PreferenceStore interface {
	GetSystemState(ctx context.Context, key string) (string, error)
	SaveSystemState(ctx context.Context, key, value string) error
}

// RegistryConfig contains registry settings
type RegistryConfig struct {
	DefaultModel  string
	PreferenceKey string
	CatalogueFile string
}

// Registry is the catalogue of model variants and the currently active one
type Registry struct {
	mu         sync.RWMutex
	models     map[string]Descriptor
	defaultID  string
	activeID   string
	generation uint64

	store    PreferenceStore
	prefKey  string
	validate *validator.Validate
	logger   *logger.Logger
}

// NewRegistry creates a registry holding the built-in variants plus any catalogue file entries.
// store may be nil, in which case selections are not persisted.
func NewRegistry(cfg RegistryConfig, store PreferenceStore, log *logger.Logger) (*Registry, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModelID
	}
	if cfg.PreferenceKey == "" {
		cfg.PreferenceKey = "engagement.model_variant"
	}

	r := &Registry{
		models:   make(map[string]Descriptor),
		store:    store,
		prefKey:  cfg.PreferenceKey,
		validate: validator.New(),
		logger:   log,
	}

	for _, d := range BuiltinDescriptors() {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}

	if cfg.CatalogueFile != "" {
		extra, err := LoadCatalogue(cfg.CatalogueFile)
		if err != nil {
			return nil, err
		}
		for _, d := range extra {
			if err := r.Register(d); err != nil {
				return nil, fmt.Errorf("catalogue %s: %w", cfg.CatalogueFile, err)
			}
		}
	}

	if _, ok := r.models[cfg.DefaultModel]; !ok {
		return nil, fmt.Errorf("default model %q: %w", cfg.DefaultModel, ErrUnknownModel)
	}
	r.defaultID = cfg.DefaultModel
	r.activeID = cfg.DefaultModel

	return r, nil
}

// Register validates and adds a descriptor
func (r *Registry) Register(d Descriptor) error {
	if err := d.Validate(r.validate); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[d.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateModel, d.ID)
	}
	r.models[d.ID] = d.Clone()
	return nil
}

// List returns every known descriptor keyed by id
func (r *Registry) List() map[string]Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Descriptor, len(r.models))
	for id, d := range r.models {
		out[id] = d.Clone()
	}
	return out
}

// IDs returns the known model ids in sorted order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get looks up a descriptor by id
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.models[id]
	if !ok {
		return Descriptor{}, false
	}
	return d.Clone(), true
}

// Active returns the active descriptor
func (r *Registry) Active() Descriptor {
	d, _ := r.Snapshot()
	return d
}

// Snapshot returns the active descriptor together with the generation it belongs to
func (r *Registry) Snapshot() (Descriptor, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[r.activeID].Clone(), r.generation
}

// Generation changes every time the active model is set
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// SetActive selects a model and persists the choice.
// Any session loaded for an earlier generation is stale afterwards.
func (r *Registry) SetActive(ctx context.Context, id string) error {
	r.mu.Lock()
	if _, ok := r.models[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	previous := r.activeID
	r.activeID = id
	r.generation++
	generation := r.generation
	r.mu.Unlock()

	r.logger.Info("Active model set", "model_id", id, "previous", previous, "generation", generation)

	if r.store != nil {
		if err := r.store.SaveSystemState(ctx, r.prefKey, id); err != nil {
			r.logger.Warn("Failed to persist model preference", "model_id", id, "error", err)
		}
	}

	return nil
}

// Restore re-selects the persisted model. Missing, unreadable or unknown
// values leave the default in place.
func (r *Registry) Restore(ctx context.Context) {
	if r.store == nil {
		return
	}

	id, err := r.store.GetSystemState(ctx, r.prefKey)
	if err != nil {
		r.logger.Warn("Failed to read model preference, using default", "default", r.defaultID, "error", err)
		return
	}
	if id == "" {
		return
	}

	r.mu.RLock()
	_, known := r.models[id]
	r.mu.RUnlock()
	if !known {
		r.logger.Warn("Persisted model preference is unknown, using default", "model_id", id, "default", r.defaultID)
		return
	}

	if err := r.SetActive(ctx, id); err != nil {
		r.logger.Warn("Failed to restore model preference", "model_id", id, "error", err)
	}
}
