package store

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/gofrs/flock"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelLedger stores one key per id, so a record costs one synced put
// instead of a full rewrite. Values hold the insertion sequence.
type LevelLedger struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
	db   *leveldb.DB
	idx  index
	next uint64
	put  func(key, value []byte) error
}

func OpenLevelDB(path string) (*LevelLedger, error) {
	lk, err := acquire(path)
	if err != nil {
		return nil, err
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		_ = lk.Unlock()
		if lerrors.IsCorrupted(err) {
			return nil, &StoreCorruptError{Path: path, Err: err}
		}
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	l := &LevelLedger{path: path, lock: lk, db: db}
	l.put = func(k, v []byte) error { return l.db.Put(k, v, &opt.WriteOptions{Sync: true}) }
	if err := l.load(); err != nil {
		db.Close()
		_ = lk.Unlock()
		return nil, err
	}
	return l, nil
}

func (l *LevelLedger) load() error {
	type row struct {
		id  string
		seq uint64
	}
	var rows []row
	it := l.db.NewIterator(nil, nil)
	for it.Next() {
		if len(it.Value()) != 8 {
			it.Release()
			return &StoreCorruptError{Path: l.path, Err: fmt.Errorf("key %q: bad sequence value", it.Key())}
		}
		rows = append(rows, row{id: string(it.Key()), seq: binary.BigEndian.Uint64(it.Value())})
	}
	it.Release()
	if err := it.Error(); err != nil {
		return &StoreCorruptError{Path: l.path, Err: err}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	l.idx = newIndex(len(rows))
	for _, r := range rows {
		l.idx.add(r.id)
		if r.seq >= l.next {
			l.next = r.seq + 1
		}
	}
	return nil
}

func (l *LevelLedger) Contains(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.idx.has(id)
}

func (l *LevelLedger) RecordAndPersist(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.idx.add(id) {
		return nil
	}
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], l.next)
	if err := l.put([]byte(id), v[:]); err != nil {
		l.idx.undo()
		return &PersistError{ID: id, Err: err}
	}
	l.next++
	return nil
}

func (l *LevelLedger) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.idx.snapshot()
}

func (l *LevelLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.idx.ids)
}

func (l *LevelLedger) Close() error {
	err := l.db.Close()
	if uerr := l.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}
