// Package jsonstore persists named JSON arrays on disk. Every read-modify-write
// cycle on a resource runs exclusively and in submission order; different
// resources never wait on each other.
package jsonstore

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Observer receives the duration of each exclusive operation.
type Observer func(op, resource string, d time.Duration)

// Store is rooted at a data directory; resource names are file names in it.
type Store struct {
	dir      string
	observer Observer

	mu    sync.Mutex
	tails map[string]chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithObserver sets a callback invoked after every exclusive operation.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// New creates a Store rooted at dir. The directory is created on first write.
func New(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, tails: make(map[string]chan struct{})}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// acquire queues behind the previous holder of name. The returned release
// must be called exactly once.
func (s *Store) acquire(ctx context.Context, name string) (func(), error) {
	mine := make(chan struct{})

	s.mu.Lock()
	prev := s.tails[name]
	s.tails[name] = mine
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		if s.tails[name] == mine {
			delete(s.tails, name)
		}
		s.mu.Unlock()
		close(mine)
	}

	if prev == nil {
		return release, nil
	}

	select {
	case <-prev:
		return release, nil
	case <-ctx.Done():
		// Our slot is already in the chain; hand it on once prev finishes.
		go func() {
			<-prev
			release()
		}()
		return nil, ctx.Err()
	}
}

// exclusive runs fn while holding name's slot.
func (s *Store) exclusive(ctx context.Context, op, name string, fn func() error) error {
	release, err := s.acquire(ctx, name)
	if err != nil {
		return eris.Wrapf(err, "jsonstore: %s %s", op, name)
	}
	defer release()

	start := time.Now()
	defer func() {
		if s.observer != nil {
			s.observer(op, name, time.Since(start))
		}
	}()
	return fn()
}

func (s *Store) readRaw(name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// writeRaw replaces name atomically via a temp file in the same directory.
func (s *Store) writeRaw(name string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return eris.Wrap(err, "jsonstore: create data dir")
	}
	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "jsonstore: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return eris.Wrap(err, "jsonstore: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return eris.Wrap(err, "jsonstore: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "jsonstore: close temp file")
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return eris.Wrap(err, "jsonstore: chmod temp file")
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		return eris.Wrapf(err, "jsonstore: replace %s", name)
	}
	return nil
}

func decode[T any](name string, data []byte) []T {
	if len(data) == 0 {
		return []T{}
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		zap.L().Warn("jsonstore: unreadable resource treated as empty",
			zap.String("resource", name), zap.Error(err))
		return []T{}
	}
	if items == nil {
		items = []T{}
	}
	return items
}

func encode[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "jsonstore: encode")
	}
	return append(data, '\n'), nil
}

// Read returns the items stored under name. A missing or corrupt resource
// reads as an empty slice.
func Read[T any](s *Store, name string) []T {
	data, err := s.readRaw(name)
	if err != nil {
		zap.L().Warn("jsonstore: read failed", zap.String("resource", name), zap.Error(err))
		return []T{}
	}
	return decode[T](name, data)
}

// Write replaces the contents of name.
func Write[T any](ctx context.Context, s *Store, name string, items []T) error {
	return s.exclusive(ctx, "write", name, func() error {
		data, err := encode(items)
		if err != nil {
			return err
		}
		return s.writeRaw(name, data)
	})
}

// Mutate runs one exclusive read-modify-write cycle. fn receives the current
// items and returns the new list plus whether it should be written.
func Mutate[T any](ctx context.Context, s *Store, name string, fn func([]T) ([]T, bool, error)) error {
	return s.exclusive(ctx, "mutate", name, func() error {
		data, err := s.readRaw(name)
		if err != nil {
			return eris.Wrapf(err, "jsonstore: read %s", name)
		}
		next, changed, err := fn(decode[T](name, data))
		if err != nil || !changed {
			return err
		}
		out, err := encode(next)
		if err != nil {
			return err
		}
		return s.writeRaw(name, out)
	})
}

// Append adds item to name and returns the full list as written.
func Append[T any](ctx context.Context, s *Store, name string, item T) ([]T, error) {
	var result []T
	err := Mutate(ctx, s, name, func(items []T) ([]T, bool, error) {
		result = append(items, item)
		return result, true, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Update applies mutate to the first item matching pred and writes the list
// back. When nothing matches the resource is left untouched and nil is
// returned.
func Update[T any](ctx context.Context, s *Store, name string, pred func(T) bool, mutate func(*T)) (*T, error) {
	var found *T
	err := Mutate(ctx, s, name, func(items []T) ([]T, bool, error) {
		for i := range items {
			if pred(items[i]) {
				mutate(&items[i])
				v := items[i]
				found = &v
				return items, true, nil
			}
		}
		return items, false, nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}
