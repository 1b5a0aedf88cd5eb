package config

import (
	"fmt"
	"sync"
)

// Section represents a self-describing group of related settings.
// Each section owns its defaults, validation, and (de)serialization to the
// generic map form the Store persists.
type Section interface {
	// ID returns the stable identifier used as the storage key
	ID() string

	// Title returns a human-readable section title
	Title() string

	// Description returns a human-readable section description
	Description() string

	// Data returns the current configuration data
	Data() map[string]interface{}

	// SetData updates the configuration from the provided data
	SetData(data map[string]interface{}) error

	// Validate validates the current configuration
	Validate() error

	// Reset resets the section to default configuration
	Reset()
}

// Manager coordinates registered sections with a backing store.
type Manager struct {
	store    Store
	sections map[string]Section
	order    []string
	mu       sync.RWMutex
}

// NewManager creates a manager backed by the given store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:    store,
		sections: make(map[string]Section),
	}
}

// Store returns the backing store.
func (m *Manager) Store() Store {
	return m.store
}

// RegisterSection registers a section with the manager.
// Returns an error if a section with the same ID is already registered.
func (m *Manager) RegisterSection(section Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := section.ID()
	if _, exists := m.sections[id]; exists {
		return fmt.Errorf("section %q is already registered", id)
	}

	m.sections[id] = section
	m.order = append(m.order, id)
	return nil
}

// GetSection returns the registered section with the given ID.
func (m *Manager) GetSection(id string) (Section, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	section, ok := m.sections[id]
	return section, ok
}

// GetSections returns all registered sections in registration order.
func (m *Manager) GetSections() []Section {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sections := make([]Section, 0, len(m.order))
	for _, id := range m.order {
		sections = append(sections, m.sections[id])
	}
	return sections
}

// LoadAll loads stored data into every registered section and validates it.
// Sections with no stored data keep their defaults.
func (m *Manager) LoadAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.order {
		section := m.sections[id]

		data, err := m.store.GetSection(id)
		if err != nil {
			return fmt.Errorf("failed to read section %q: %w", id, err)
		}

		if len(data) > 0 {
			if err := section.SetData(data); err != nil {
				return fmt.Errorf("failed to apply section %q: %w", id, err)
			}
		}

		if err := section.Validate(); err != nil {
			return fmt.Errorf("section %q failed validation: %w", id, err)
		}
	}

	return nil
}

// SaveAll writes every registered section to the store and persists it.
func (m *Manager) SaveAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.order {
		section := m.sections[id]
		if err := m.store.SetSection(id, section.Data()); err != nil {
			return fmt.Errorf("failed to stage section %q: %w", id, err)
		}
	}

	if err := m.store.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// SaveSection writes a single section to the store and persists it.
func (m *Manager) SaveSection(id string) error {
	m.mu.RLock()
	section, ok := m.sections[id]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("section %q is not registered", id)
	}

	if err := m.store.SetSection(id, section.Data()); err != nil {
		return fmt.Errorf("failed to stage section %q: %w", id, err)
	}

	if err := m.store.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}
