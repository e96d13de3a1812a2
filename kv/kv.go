// Package kv is the persistent key-value store behind the session history and
// the icon assets. Values are opaque bytes; writes are full replaces.
package kv

import (
	"context"
	"errors"
	"sync"
)

// ErrUnavailable is returned by Memory when a failure has been injected.
var ErrUnavailable = errors.New("kv: store unavailable")

// Store is the contract the history and overlay components need. A missing key
// is not an error: Get reports it with ok=false.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Memory is an in-process Store. It counts writes and can be told to fail
// the next operations, which is how tests exercise the store-unavailable path.
type Memory struct {
	mu     sync.Mutex
	data   map[string][]byte
	writes int
	fail   int
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(); err != nil {
		return nil, false, err
	}
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(); err != nil {
		return err
	}
	m.data[key] = append([]byte(nil), value...)
	m.writes++
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(); err != nil {
		return err
	}
	if _, ok := m.data[key]; ok {
		delete(m.data, key)
		m.writes++
	}
	return nil
}

// Writes returns the number of successful Set and Delete calls.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// FailNext makes the next n operations return ErrUnavailable.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	m.fail = n
	m.mu.Unlock()
}

func (m *Memory) failLocked() error {
	if m.fail > 0 {
		m.fail--
		return ErrUnavailable
	}
	return nil
}
