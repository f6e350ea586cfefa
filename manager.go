package cache

import (
	"errors"
	"fmt"
	"sync"
)

// Manager keeps named caches and the configs they are built from.
type Manager struct {
	caches   sync.Map
	configs  map[string]Config
	configMu sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		configs: make(map[string]Config),
	}
}

var GlobalManager = NewManager()

// RegisterCache records config for name; the cache itself is built on first GetCache.
func (m *Manager) RegisterCache(name string, config Config) error {
	if err := config.Validate(); err != nil {
		return newCacheError("register", name, err)
	}

	m.configMu.Lock()
	defer m.configMu.Unlock()

	if _, exists := m.configs[name]; exists {
		return newCacheError("register", name, ErrCacheExists)
	}

	m.configs[name] = config
	return nil
}

// GetCache returns the cache registered as name, building it on first use.
// Unregistered names get DefaultConfig().
func GetCache[K comparable, V any](m *Manager, name string) (*PriorityCache[K, V], error) {
	if cached, ok := m.caches.Load(name); ok {
		if c, ok := cached.(*PriorityCache[K, V]); ok {
			return c, nil
		}
		return nil, newCacheError("get", name, ErrTypeMismatch)
	}

	m.configMu.RLock()
	config, exists := m.configs[name]
	m.configMu.RUnlock()

	if !exists {
		config = DefaultConfig()
	}
	config.Name = name

	c, err := NewWithConfig[K, V](config)
	if err != nil {
		return nil, err
	}
	if actual, loaded := m.caches.LoadOrStore(name, c); loaded {
		// another goroutine created it first, close our instance and return the existing one
		c.Close()
		if existing, ok := actual.(*PriorityCache[K, V]); ok {
			return existing, nil
		}
		return nil, newCacheError("get", name, ErrTypeMismatch)
	}

	return c, nil
}

// GetCacheStats snapshots Stats for every built cache.
func (m *Manager) GetCacheStats() map[string]Stats {
	stats := make(map[string]Stats)

	m.caches.Range(func(key, value any) bool {
		if name, ok := key.(string); ok {
			if c, ok := value.(statsSource); ok {
				stats[name] = c.Stats()
			}
		}
		return true
	})

	return stats
}

func (m *Manager) CloseAll() error {
	var errs []error

	m.caches.Range(func(key, value any) bool {
		if c, ok := value.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%v: %w", key, err))
			}
		}
		m.caches.Delete(key)
		return true
	})

	return errors.Join(errs...)
}

// RemoveCache closes and forgets name. Unknown names yield ErrCacheNotFound.
func (m *Manager) RemoveCache(name string) error {
	m.configMu.Lock()
	_, registered := m.configs[name]
	delete(m.configs, name)
	m.configMu.Unlock()

	cached, built := m.caches.LoadAndDelete(name)
	if !registered && !built {
		return newCacheError("remove", name, ErrCacheNotFound)
	}
	if c, ok := cached.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func RegisterGlobalCache(name string, config Config) error {
	return GlobalManager.RegisterCache(name, config)
}

func GetGlobalCache[K comparable, V any](name string) (*PriorityCache[K, V], error) {
	return GetCache[K, V](GlobalManager, name)
}

func GetGlobalCacheStats() map[string]Stats {
	return GlobalManager.GetCacheStats()
}

func CloseAllGlobalCaches() error {
	return GlobalManager.CloseAll()
}
