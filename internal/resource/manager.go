// Package resource implements the keyed, reference-counted, broadcast-update
// cache shared by every component that owns expensive, lazily-created state
// (compiled scripts, decoded samples, resolved device capabilities). It is
// never safe to call from the audio rendering thread; every entry point
// takes and releases a coarse mutex.
package resource

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Lifetime controls when an entry with no consumers is destroyed.
type Lifetime int

const (
	// OnDemand destroys the entry as soon as its consumer set is empty and
	// it carries no custom attachment.
	OnDemand Lifetime = iota
	// OnDemandHold behaves like OnDemand but never auto-destroys; an
	// explicit Destroy-by-transition back to OnDemand is required.
	OnDemandHold
	// Persistent creates the entry eagerly (if absent) and never
	// auto-destroys it.
	Persistent
)

// ProgressFunc is invoked by a Create implementation to report load
// progress in [0.0, 1.0]. It is forwarded to every current consumer of key.
type ProgressFunc func(fraction float64)

// Factory creates the resource for key on behalf of the first consumer
// that borrows it. report may be called zero or more times before Create
// returns. arg is opaque lifetime data handed back to Destroy.
type Factory[K comparable, R any] func(key K, consumer uuid.UUID, report ProgressFunc) (resource R, arg any, err error)

// Destroyer releases whatever Factory allocated.
type Destroyer[K comparable, R any] func(key K, resource R, arg any)

// UpdateHook lets a consumer save an opaque token before its resource is
// torn down for Update, and restore from it once the replacement exists.
type UpdateHook[R any] struct {
	// ToBeChanged is called for every consumer except the initiator before
	// the old resource is destroyed. It returns a token passed back to Changed.
	ToBeChanged func(old R) (token any)
	// Changed is called for every consumer (including the initiator) once
	// the new resource exists.
	Changed func(new R, token any)
}

type entry[K comparable, R any] struct {
	key       K
	resource  R
	arg       any
	consumers map[uuid.UUID]struct{}
	lifetime  Lifetime
	custom    any
	hasCustom bool
}

// Manager is a generic keyed resource cache with consumer tracking.
//
// Every exported method is internally serialized; Lock/Unlock additionally
// allow a caller to group several method calls into one atomic sequence
// (e.g. Borrow followed by a bespoke initialization step).
type Manager[K comparable, R any] struct {
	mu        sync.Mutex
	entries   map[K]*entry[K, R]
	create    Factory[K, R]
	destroy   Destroyer[K, R]
	listeners map[K][]ProgressFunc
}

// New creates a Manager backed by the given create/destroy pair.
func New[K comparable, R any](create Factory[K, R], destroy Destroyer[K, R]) *Manager[K, R] {
	return &Manager[K, R]{
		entries: make(map[K]*entry[K, R]),
		create:  create,
		destroy: destroy,
	}
}

// Lock acquires the manager's coarse mutex for a multi-step atomic sequence.
// Callers must call Unlock exactly once and must not call any other
// Manager method re-entrantly while holding it (the mutex is not recursive).
func (m *Manager[K, R]) Lock() { m.mu.Lock() }

// Unlock releases the mutex acquired by Lock.
func (m *Manager[K, R]) Unlock() { m.mu.Unlock() }

// Borrow returns the resource for key, creating it via Factory if absent,
// and registers consumer in its consumer set. Creation failure leaves no
// partial entry.
func (m *Manager[K, R]) Borrow(key K, consumer uuid.UUID) (R, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.borrowLocked(key, consumer)
}

func (m *Manager[K, R]) borrowLocked(key K, consumer uuid.UUID) (R, error) {
	if e, ok := m.entries[key]; ok {
		e.consumers[consumer] = struct{}{}
		return e.resource, nil
	}

	report := func(fraction float64) {
		m.mu.Unlock()
		for _, fn := range m.listenersSnapshot(key) {
			fn(fraction)
		}
		m.mu.Lock()
	}

	r, arg, err := m.create(key, consumer, report)
	if err != nil {
		var zero R
		return zero, fmt.Errorf("resource: create %v: %w", key, err)
	}

	m.entries[key] = &entry[K, R]{
		key:       key,
		resource:  r,
		arg:       arg,
		consumers: map[uuid.UUID]struct{}{consumer: {}},
		lifetime:  OnDemand,
	}
	return r, nil
}

func (m *Manager[K, R]) listenersSnapshot(key K) []ProgressFunc {
	return append([]ProgressFunc(nil), m.listeners[key]...)
}

// Handback removes consumer from the resource's consumer set and, if the
// set becomes empty, no custom attachment is set, and the lifetime policy
// is OnDemand, destroys it.
func (m *Manager[K, R]) Handback(key K, consumer uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return
	}
	delete(e.consumers, consumer)
	m.maybeDestroyLocked(e)
}

func (m *Manager[K, R]) maybeDestroyLocked(e *entry[K, R]) {
	if len(e.consumers) > 0 || e.hasCustom || e.lifetime != OnDemand {
		return
	}
	if m.destroy != nil {
		m.destroy(e.key, e.resource, e.arg)
	}
	delete(m.entries, e.key)
	delete(m.listeners, e.key)
}

// Update destroys and recreates the resource in place: every consumer
// except initiator is notified via hook.ToBeChanged before teardown, and
// every consumer (initiator included) via hook.Changed once the
// replacement exists, carrying the token each consumer supplied.
func (m *Manager[K, R]) Update(key K, initiator uuid.UUID, hook UpdateHook[R]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return fmt.Errorf("resource: update %v: not found", key)
	}

	tokens := make(map[uuid.UUID]any, len(e.consumers))
	if hook.ToBeChanged != nil {
		for c := range e.consumers {
			if c == initiator {
				continue
			}
			tokens[c] = hook.ToBeChanged(e.resource)
		}
	}

	if m.destroy != nil {
		m.destroy(e.key, e.resource, e.arg)
	}

	report := func(fraction float64) {
		m.mu.Unlock()
		for _, fn := range m.listenersSnapshot(key) {
			fn(fraction)
		}
		m.mu.Lock()
	}

	r, arg, err := m.create(key, initiator, report)
	if err != nil {
		delete(m.entries, key)
		return fmt.Errorf("resource: update %v: recreate failed: %w", key, err)
	}
	e.resource = r
	e.arg = arg

	if hook.Changed != nil {
		for c := range e.consumers {
			hook.Changed(r, tokens[c])
		}
	}
	return nil
}

// SetLifetime changes the lifetime policy for key. Persistent creates the
// entry eagerly (consumer is used as the owning identity of the eager
// borrow). Transitioning to OnDemand with an empty consumer set and no
// custom attachment destroys the entry immediately.
func (m *Manager[K, R]) SetLifetime(key K, lifetime Lifetime, eagerConsumer uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		if lifetime != Persistent {
			// Nothing to hold onto yet; policy applies once an entry appears.
			return nil
		}
		if _, err := m.borrowLocked(key, eagerConsumer); err != nil {
			return err
		}
		e = m.entries[key]
	}

	e.lifetime = lifetime
	if lifetime == OnDemand {
		m.maybeDestroyLocked(e)
	}
	return nil
}

// SetCustomData attaches an opaque value to key's entry, independent of its
// consumer set. Setting it to nil may trigger auto-deletion under OnDemand
// with an empty consumer set.
func (m *Manager[K, R]) SetCustomData(key K, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return
	}
	e.custom = data
	e.hasCustom = data != nil
	if !e.hasCustom {
		m.maybeDestroyLocked(e)
	}
}

// ConsumersOf enumerates the consumer identities currently borrowing key.
func (m *Manager[K, R]) ConsumersOf(key K) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	out := make([]uuid.UUID, 0, len(e.consumers))
	for c := range e.consumers {
		out = append(out, c)
	}
	return out
}

// Entries returns every key currently tracked by the manager.
func (m *Manager[K, R]) Entries() []K {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]K, 0, len(m.entries))
	for k := range m.entries {
		out = append(out, k)
	}
	return out
}

// Subscribe registers fn to receive progress reports for key's next
// creation (or the one currently in flight). It does not replay past
// progress.
func (m *Manager[K, R]) Subscribe(key K, fn ProgressFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listeners == nil {
		m.listeners = make(map[K][]ProgressFunc)
	}
	m.listeners[key] = append(m.listeners[key], fn)
}
