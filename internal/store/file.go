package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// FileLedger persists the ledger as one JSON array of strings, rewritten in
// full on every record.
type FileLedger struct {
	mu    sync.Mutex
	path  string
	lock  *flock.Flock
	idx   index
	write func(path string, data []byte) error
}

// OpenFile loads the ledger at path. A missing or empty file is an empty
// ledger; anything that does not parse as a string array is a
// *StoreCorruptError.
func OpenFile(path string) (*FileLedger, error) {
	lk, err := acquire(path)
	if err != nil {
		return nil, err
	}
	ids, err := readIDs(path)
	if err != nil {
		_ = lk.Unlock()
		return nil, err
	}
	l := &FileLedger{path: path, lock: lk, idx: newIndex(len(ids)), write: writeFileAtomic}
	for _, id := range ids {
		l.idx.add(id)
	}
	return l, nil
}

func readIDs(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, &StoreCorruptError{Path: path, Err: err}
	}
	return ids, nil
}

func (l *FileLedger) Contains(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.idx.has(id)
}

func (l *FileLedger) RecordAndPersist(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.idx.add(id) {
		return nil
	}
	b, err := json.Marshal(l.idx.ids)
	if err == nil {
		err = l.write(l.path, b)
	}
	if err != nil {
		l.idx.undo()
		return &PersistError{ID: id, Err: err}
	}
	return nil
}

func (l *FileLedger) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.idx.snapshot()
}

func (l *FileLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.idx.ids)
}

func (l *FileLedger) Close() error { return l.lock.Unlock() }

// writeFileAtomic replaces path so readers only ever see the old or the new
// ledger, never a partial write.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
