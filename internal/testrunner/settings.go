package testrunner

import (
	"fmt"
	"os"
	"sync"
)

// Settings is shared run configuration with push/pop semantics. Every Push
// saves the value it replaced; Pop restores it, or removes the key if it was
// unset. Frames must be popped in reverse order of pushing so nested runs
// cannot overwrite each other's saved values.
type Settings struct {
	mu     sync.Mutex
	store  valueStore
	frames []savedValue
	nextID uint64
}

// Frame identifies one Push.
type Frame struct {
	id  uint64
	key string
}

type savedValue struct {
	id   uint64
	key  string
	prev string
	had  bool
}

type valueStore interface {
	lookup(key string) (string, bool)
	set(key, value string) error
	unset(key string) error
}

// NewSettings returns settings held in memory.
func NewSettings() *Settings {
	return &Settings{store: mapStore{}}
}

// EnvSettings returns settings backed by the process environment, so child
// processes and test code can read published values.
func EnvSettings() *Settings {
	return &Settings{store: envStore{}}
}

// Get returns the current value of key.
func (s *Settings) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.lookup(key)
}

// TablePrefix returns the published table prefix, false when unset or empty.
func (s *Settings) TablePrefix() (string, bool) {
	prefix, ok := s.Get(SettingTablePrefix)
	if !ok || prefix == "" {
		return "", false
	}
	return prefix, true
}

// Push sets key to value and remembers the previous value.
func (s *Settings) Push(key, value string) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.store.lookup(key)
	if err := s.store.set(key, value); err != nil {
		return Frame{}, fmt.Errorf("failed to set %s: %w", key, err)
	}
	s.nextID++
	s.frames = append(s.frames, savedValue{id: s.nextID, key: key, prev: prev, had: had})
	return Frame{id: s.nextID, key: key}, nil
}

// Pop restores the value saved by f. f must be the most recent frame.
func (s *Settings) Pop(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.frames) == 0 {
		return fmt.Errorf("%w: no frames pushed", ErrFrameOrder)
	}
	top := s.frames[len(s.frames)-1]
	if top.id != f.id {
		return fmt.Errorf("%w: %s is not the most recent frame", ErrFrameOrder, f.key)
	}
	s.frames = s.frames[:len(s.frames)-1]

	if top.had {
		return s.store.set(top.key, top.prev)
	}
	return s.store.unset(top.key)
}

type mapStore map[string]string

func (m mapStore) lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func (m mapStore) set(key, value string) error {
	m[key] = value
	return nil
}

func (m mapStore) unset(key string) error {
	delete(m, key)
	return nil
}

type envStore struct{}

func (envStore) lookup(key string) (string, bool) { return os.LookupEnv(key) }
func (envStore) set(key, value string) error      { return os.Setenv(key, value) }
func (envStore) unset(key string) error           { return os.Unsetenv(key) }
