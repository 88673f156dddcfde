package services

import (
	"fmt"
	"log"
	"sync"

	"agentdeck/internal/capability"
	"agentdeck/internal/config"
	"agentdeck/internal/llm"
	"agentdeck/internal/models"
)

// ConfigService owns the provider catalog: the read-only deployment
// defaults loaded from providers.json. It serves catalog lookups and
// effective capability ceilings, and notifies subscribers when the file is
// hot-reloaded so the dispatcher, discovery, and replicas can react.
type ConfigService struct {
	mu      sync.RWMutex
	path    string
	catalog models.Catalog
	entries map[capability.ProviderID]models.CatalogEntry

	reloadMu    sync.Mutex
	subscribers []func()
}

// NewConfigService creates a config service for a catalog file. Call Load
// before serving requests.
func NewConfigService(path string) *ConfigService {
	return &ConfigService{
		path:    path,
		entries: make(map[capability.ProviderID]models.CatalogEntry),
	}
}

// Load reads the catalog file into memory. Entries naming unknown
// providers are skipped with a warning rather than failing the load.
func (s *ConfigService) Load() error {
	catalog, err := config.LoadCatalog(s.path)
	if err != nil {
		return fmt.Errorf("failed to load provider catalog: %w", err)
	}

	valid := models.Catalog{}
	entries := make(map[capability.ProviderID]models.CatalogEntry, len(catalog.Providers))
	for _, entry := range catalog.Providers {
		if !capability.ValidProvider(entry.ID) {
			log.Printf("⚠️ [CONFIG] Skipping unknown provider %q in catalog", entry.ID)
			continue
		}
		valid.Providers = append(valid.Providers, entry)
		entries[entry.ID] = entry
	}

	s.mu.Lock()
	s.catalog = valid
	s.entries = entries
	s.mu.Unlock()

	log.Printf("📌 [CONFIG] Loaded %d providers from %s", len(valid.Providers), s.path)
	return nil
}

// Reload re-reads the catalog file and notifies subscribers. Used by the
// fsnotify watcher and the pub/sub invalidation consumer.
func (s *ConfigService) Reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if err := s.Load(); err != nil {
		return err
	}
	for _, fn := range s.subscribers {
		fn()
	}
	return nil
}

// OnReload registers a callback invoked after every successful Reload.
// Register during startup wiring, before the watcher runs.
func (s *ConfigService) OnReload(fn func()) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Path returns the catalog file path being served.
func (s *ConfigService) Path() string {
	return s.path
}

// Entries returns the catalog entries in file order.
func (s *ConfigService) Entries() []models.CatalogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CatalogEntry, len(s.catalog.Providers))
	copy(out, s.catalog.Providers)
	return out
}

// Entry returns the catalog entry for one provider.
func (s *ConfigService) Entry(id capability.ProviderID) (models.CatalogEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	return entry, ok
}

// Ceiling returns the effective capability ceiling for a provider: the
// built-in ceiling, narrowed by the catalog entry's capabilities list when
// one is present. User toggles can never exceed this set.
func (s *ConfigService) Ceiling(id capability.ProviderID) capability.Set {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ceiling := capability.Ceiling(id)
	if entry, ok := s.entries[id]; ok && len(entry.Capabilities) > 0 {
		ceiling = ceiling.Intersect(capability.NewSet(entry.Capabilities...))
	}
	return ceiling
}

// DefaultModel returns the catalog default model for a provider, or ""
// when the catalog has no entry.
func (s *ConfigService) DefaultModel(id capability.ProviderID) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id].DefaultModel
}

// Endpoints translates the catalog into dispatcher endpoints.
func (s *ConfigService) Endpoints() []llm.Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	endpoints := make([]llm.Endpoint, 0, len(s.catalog.Providers))
	for _, entry := range s.catalog.Providers {
		endpoints = append(endpoints, llm.Endpoint{
			ID:         entry.ID,
			BaseURL:    entry.BaseURL,
			ImageModel: entry.ImageModel,
			Local:      entry.Local,
		})
	}
	return endpoints
}
