// Package bond is an in-memory stand-in for the state module's bond ledger.
package bond

import (
	"errors"
	"fmt"
	"sync"

	"github.com/okian/arena/internal/domain/types"
)

// Sentinel kinds for bond errors.
var (
	ErrZeroAmount = errors.New("zero bond amount")
	ErrNoBond     = errors.New("no bond locked")
)

// Module is the bond surface consumed by the node.
type Module interface {
	Bond(id types.ParticipantID) uint64
	Lock(id types.ParticipantID, amount uint64) error
	Slash(id types.ParticipantID) (uint64, error)
}

// LockHook is called after a participant locks a bond for the first time.
type LockHook func(id types.ParticipantID, amount uint64)

// Option configures a Memory module.
type Option func(*Memory)

// WithLockHook registers a first-lock callback, used to register
// participants in the trust ledger.
func WithLockHook(h LockHook) Option {
	return func(m *Memory) { m.onFirstLock = h }
}

// Memory keeps bonds in a map.
type Memory struct {
	mu          sync.RWMutex
	bonds       map[types.ParticipantID]uint64
	slashed     uint64
	onFirstLock LockHook
}

var _ Module = (*Memory)(nil)

// NewMemory creates an empty bond module.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{bonds: make(map[types.ParticipantID]uint64)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bond returns the locked amount.
func (m *Memory) Bond(id types.ParticipantID) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bonds[id]
}

// Lock adds amount to a participant's bond, saturating.
func (m *Memory) Lock(id types.ParticipantID, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	m.mu.Lock()
	prev, existed := m.bonds[id]
	next := prev + amount
	if next < prev {
		next = ^uint64(0)
	}
	m.bonds[id] = next
	hook := m.onFirstLock
	m.mu.Unlock()

	if !existed && hook != nil {
		hook(id, amount)
	}
	return nil
}

// Slash confiscates the whole bond and returns the amount taken.
func (m *Memory) Slash(id types.ParticipantID) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	amt, ok := m.bonds[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoBond, id.Short())
	}
	m.bonds[id] = 0
	m.slashed += amt
	return amt, nil
}

// Slashed returns the total amount slashed so far.
func (m *Memory) Slashed() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slashed
}
