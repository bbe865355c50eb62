package repository

import (
	"fmt"
	"sync"

	"github.com/mir00r/proxy-balancer/internal/domain"
	lberrors "github.com/mir00r/proxy-balancer/internal/errors"
	"github.com/mir00r/proxy-balancer/pkg/logger"
)

// ServerPool is the ordered registry of backends. Registration order defines
// the round-robin sequence. The cursor is guarded by mu; enabled flags live
// on the backends themselves and are atomic, so the health checker never
// contends with selection for the lock.
type ServerPool struct {
	mu        sync.RWMutex
	backends  []*domain.Backend
	byAddress map[string]*domain.Backend
	cursor    int
	logger    *logger.Logger
}

// NewServerPool creates an empty pool
func NewServerPool(log *logger.Logger) *ServerPool {
	if log == nil {
		log = logger.Discard()
	}
	return &ServerPool{
		byAddress: make(map[string]*domain.Backend),
		cursor:    -1,
		logger:    log.PoolLogger(),
	}
}

// Register appends a new enabled backend
func (p *ServerPool) Register(address string) (*domain.Backend, error) {
	if address == "" {
		return nil, fmt.Errorf("backend address cannot be empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byAddress[address]; exists {
		return nil, lberrors.NewError(lberrors.ErrCodeDuplicateBackend, "pool",
			fmt.Sprintf("backend %s already registered", address))
	}

	backend := domain.NewBackend(fmt.Sprintf("backend-%d", len(p.backends)+1), address)
	p.backends = append(p.backends, backend)
	p.byAddress[address] = backend

	p.logger.BackendLogger(backend.ID, address).Info("Registered backend")
	return backend, nil
}

// RegisterAll registers addresses in order, stopping at the first error
func (p *ServerPool) RegisterAll(addresses []string) error {
	for _, address := range addresses {
		if _, err := p.Register(address); err != nil {
			return err
		}
	}
	return nil
}

// SetEnabled sets the enabled flag of the backend with the given address and
// reports whether the flag changed. Unknown addresses are logged and ignored.
func (p *ServerPool) SetEnabled(address string, enabled bool) bool {
	p.mu.RLock()
	backend, exists := p.byAddress[address]
	p.mu.RUnlock()

	if !exists {
		p.logger.WithField("backend", address).Warn("Status update for unknown backend ignored")
		return false
	}

	return backend.SetEnabled(enabled)
}

// NextEnabled advances the cursor at least once and returns the first enabled
// backend found within one full cycle, or ErrNoBackends.
func (p *ServerPool) NextEnabled() (*domain.Backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.backends)
	for i := 0; i < n; i++ {
		p.cursor = (p.cursor + 1) % n
		if backend := p.backends[p.cursor]; backend.IsEnabled() {
			return backend, nil
		}
	}

	return nil, lberrors.NewNoBackendsError(n)
}

// GetAll returns all backends in registration order
func (p *ServerPool) GetAll() []*domain.Backend {
	p.mu.RLock()
	defer p.mu.RUnlock()

	backends := make([]*domain.Backend, len(p.backends))
	copy(backends, p.backends)
	return backends
}

// GetEnabled returns the enabled backends in registration order
func (p *ServerPool) GetEnabled() []*domain.Backend {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var enabled []*domain.Backend
	for _, backend := range p.backends {
		if backend.IsEnabled() {
			enabled = append(enabled, backend)
		}
	}
	return enabled
}

// GetByID returns a backend by its ID
func (p *ServerPool) GetByID(id string) (*domain.Backend, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, backend := range p.backends {
		if backend.ID == id {
			return backend, nil
		}
	}
	return nil, fmt.Errorf("backend with ID '%s' not found", id)
}

// GetByAddress returns a backend by its address
func (p *ServerPool) GetByAddress(address string) (*domain.Backend, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	backend, exists := p.byAddress[address]
	return backend, exists
}

// Count returns the total number of backends
func (p *ServerPool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.backends)
}

// GetStats returns pool statistics
func (p *ServerPool) GetStats() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	enabled := 0
	for _, backend := range p.backends {
		if backend.IsEnabled() {
			enabled++
		}
	}

	return map[string]interface{}{
		"total_backends":    len(p.backends),
		"enabled_backends":  enabled,
		"disabled_backends": len(p.backends) - enabled,
	}
}
