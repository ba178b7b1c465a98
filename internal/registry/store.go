package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// ErrNotFound is returned when no instance is registered under a name
var ErrNotFound = errors.New("service not found")

// Health is the last known probe classification of an instance
type Health string

// Health values recorded on a ServiceRecord. New registrations start as
// HealthUnknown until the first probe round.
const (
	HealthUnknown   Health = "unknown"
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
)

// ServiceRecord describes one registered instance of a named service
type ServiceRecord struct {
	RegisteredAt time.Time `json:"registered_at"`
	Name         string    `json:"name"`
	InstanceID   string    `json:"instance_id"`
	IP           string    `json:"ip"`
	Health       Health    `json:"health"`
	Port         int       `json:"port"`
}

// Addr returns the instance base URL used for health probing
func (r ServiceRecord) Addr() string {
	return fmt.Sprintf("http://%s:%d", r.IP, r.Port)
}

// Confirmation is the acknowledgement returned by Register
type Confirmation struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Store defines the registry table operations
// All implementations must be safe for concurrent access
type Store interface {
	// Register upserts an instance keyed by (name, instance id)
	// The instance becomes the name's current record
	Register(rec ServiceRecord) Confirmation

	// Discover returns the most recently registered instance of name
	// Returns ErrNotFound if nothing is registered under name
	Discover(name string) (ServiceRecord, error)

	// Instances returns every instance of name, oldest registration first
	Instances(name string) ([]ServiceRecord, error)

	// List returns a point-in-time mapping of name to current record
	List() map[string]ServiceRecord

	// All returns every registered instance across all names
	All() []ServiceRecord

	// Deregister removes all instances of name
	Deregister(name string) error

	// DeregisterInstance removes a single instance of name
	DeregisterInstance(name, instanceID string) error

	// SetHealth records a probe result for an instance
	SetHealth(name, instanceID string, h Health) error
}

// MemoryStore implements Store with an in-memory table
// A single RWMutex guards every name; registry churn is low
type MemoryStore struct {
	services map[string][]ServiceRecord // ordered by registration, latest last
	now      func() time.Time
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty registry table
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		services: make(map[string][]ServiceRecord),
		now:      time.Now,
	}
}

// Register stores rec, defaulting the instance id to ip:port.
// Re-registering an existing instance overwrites it in full and makes it current.
func (m *MemoryStore) Register(rec ServiceRecord) Confirmation {
	if rec.InstanceID == "" {
		rec.InstanceID = fmt.Sprintf("%s:%d", rec.IP, rec.Port)
	}
	rec.RegisteredAt = m.now()
	rec.Health = HealthUnknown

	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.services[rec.Name]
	if idx := indexOf(list, rec.InstanceID); idx >= 0 {
		list = slices.Delete(list, idx, idx+1)
	}
	m.services[rec.Name] = append(list, rec)

	return Confirmation{Status: "registered", Service: rec.Name}
}

// Discover returns the current record for name
func (m *MemoryStore) Discover(name string) (ServiceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.services[name]
	if len(list) == 0 {
		return ServiceRecord{}, ErrNotFound
	}
	return list[len(list)-1], nil
}

// Instances returns a copy of every instance registered under name
func (m *MemoryStore) Instances(name string) ([]ServiceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.services[name]
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return slices.Clone(list), nil
}

// List returns a snapshot of the single-record view
func (m *MemoryStore) List() map[string]ServiceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ServiceRecord, len(m.services))
	for name, list := range m.services {
		out[name] = list[len(list)-1]
	}
	return out
}

// All returns every instance, grouped by name in registration order
func (m *MemoryStore) All() []ServiceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ServiceRecord
	for _, list := range m.services {
		out = append(out, list...)
	}
	return out
}

// Deregister removes name and all of its instances
func (m *MemoryStore) Deregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.services[name]; !ok {
		return ErrNotFound
	}
	delete(m.services, name)
	return nil
}

// DeregisterInstance removes one instance; the name disappears with its last instance
func (m *MemoryStore) DeregisterInstance(name, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.services[name]
	idx := indexOf(list, instanceID)
	if idx < 0 {
		return ErrNotFound
	}
	list = slices.Delete(list, idx, idx+1)
	if len(list) == 0 {
		delete(m.services, name)
		return nil
	}
	m.services[name] = list
	return nil
}

// SetHealth updates the health of an instance in place.
// It does not change registration order.
func (m *MemoryStore) SetHealth(name, instanceID string, h Health) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.services[name]
	idx := indexOf(list, instanceID)
	if idx < 0 {
		return ErrNotFound
	}
	list[idx].Health = h
	return nil
}

func indexOf(list []ServiceRecord, instanceID string) int {
	return slices.IndexFunc(list, func(r ServiceRecord) bool { return r.InstanceID == instanceID })
}

// Compile-time check that MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
