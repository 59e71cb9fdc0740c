// Package store keeps the durable ledger of activity ids that have already
// been announced. The ledger only grows: ids are never evicted.
package store

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"

	"github.com/rizzling/toshiwatcher/internal/config"
)

// Ledger is the dedup store owned by the poll loop.
type Ledger interface {
	Contains(id string) bool
	// RecordAndPersist appends id and synchronously persists the ledger. On
	// failure the in-memory append is rolled back and a *PersistError is
	// returned.
	RecordAndPersist(id string) error
	IDs() []string
	Len() int
	Close() error
}

// ErrLocked is returned when another process holds the ledger.
var ErrLocked = errors.New("ledger is locked by another process")

type StoreCorruptError struct {
	Path string
	Err  error
}

func (e *StoreCorruptError) Error() string {
	return fmt.Sprintf("ledger %s is corrupt: %v", e.Path, e.Err)
}

func (e *StoreCorruptError) Unwrap() error { return e.Err }

type PersistError struct {
	ID  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist ledger after %s: %v", e.ID, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Open loads the ledger described by cfg.
func Open(cfg config.StoreConfig) (Ledger, error) {
	switch cfg.Type {
	case config.StoreJSON, "":
		return OpenFile(cfg.Path)
	case config.StoreLevelDB:
		return OpenLevelDB(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}

// index is the in-memory mirror shared by the backends: insertion order
// plus a set for membership.
type index struct {
	ids  []string
	seen map[string]struct{}
}

func newIndex(n int) index {
	return index{ids: make([]string, 0, n), seen: make(map[string]struct{}, n)}
}

func (x *index) has(id string) bool {
	_, ok := x.seen[id]
	return ok
}

// add reports false if id was already present.
func (x *index) add(id string) bool {
	if x.has(id) {
		return false
	}
	x.ids = append(x.ids, id)
	x.seen[id] = struct{}{}
	return true
}

// undo drops the most recent add.
func (x *index) undo() {
	last := x.ids[len(x.ids)-1]
	x.ids = x.ids[:len(x.ids)-1]
	delete(x.seen, last)
}

func (x *index) snapshot() []string {
	out := make([]string, len(x.ids))
	copy(out, x.ids)
	return out
}

func acquire(path string) (*flock.Flock, error) {
	lk := flock.New(path + ".lock")
	ok, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock ledger: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}
	return lk, nil
}
