package storage

import (
	"bytes"
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	leveldbErrors "github.com/syndtr/goleveldb/leveldb/errors"
	leveldbStorage "github.com/syndtr/goleveldb/leveldb/storage"
	leveldbutil "github.com/syndtr/goleveldb/leveldb/util"
)

const keySeparator = '/'

// LevelDBStore keeps every collection in one leveldb database, prefixing
// keys with the collection name. Writes go through a single mutex so the
// check-then-put of Insert, Update and CompareAndSwap is atomic.
type LevelDBStore struct {
	db *leveldb.DB
	mu sync.Mutex
}

func OpenLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open leveldb at %s", path)
	}

	return &LevelDBStore{db: db}, nil
}

func NewMemLevelDBStore() *LevelDBStore {
	db, _ := leveldb.Open(leveldbStorage.NewMemStorage(), nil)
	return &LevelDBStore{db: db}
}

func leveldbKey(c Collection, id string) []byte {
	key := make([]byte, 0, len(c)+1+len(id))
	key = append(key, c...)
	key = append(key, keySeparator)
	return append(key, id...)
}

func leveldbPrefix(c Collection) []byte {
	return append([]byte(c), keySeparator)
}

func (s *LevelDBStore) Insert(ctx context.Context, c Collection, id string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := leveldbKey(c, id)
	found, err := s.db.Has(key, nil)
	if err != nil {
		return wrapLevelDBError(err)
	}
	if found {
		return errors.Wrapf(ErrDuplicate, "%s/%s", c, id)
	}

	return wrapLevelDBError(s.db.Put(key, value, nil))
}

func (s *LevelDBStore) Get(ctx context.Context, c Collection, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := s.db.Get(leveldbKey(c, id), nil)
	if err != nil {
		if err == leveldbErrors.ErrNotFound {
			return nil, errors.Wrapf(ErrNotFound, "%s/%s", c, id)
		}
		return nil, wrapLevelDBError(err)
	}

	return b, nil
}

func (s *LevelDBStore) ScanAll(ctx context.Context, c Collection, fn ScanFunc) error {
	prefix := leveldbPrefix(c)

	iter := s.db.NewIterator(leveldbutil.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		id := string(iter.Key()[len(prefix):])
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())

		if keep, err := fn(id, value); err != nil {
			return err
		} else if !keep {
			break
		}
	}

	return wrapLevelDBError(iter.Error())
}

func (s *LevelDBStore) Update(ctx context.Context, c Collection, id string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := leveldbKey(c, id)
	found, err := s.db.Has(key, nil)
	if err != nil {
		return wrapLevelDBError(err)
	}
	if !found {
		return errors.Wrapf(ErrNotFound, "%s/%s", c, id)
	}

	return wrapLevelDBError(s.db.Put(key, value, nil))
}

func (s *LevelDBStore) CompareAndSwap(ctx context.Context, c Collection, id string, old, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := leveldbKey(c, id)
	current, err := s.db.Get(key, nil)
	if err != nil {
		if err == leveldbErrors.ErrNotFound {
			return errors.Wrapf(ErrNotFound, "%s/%s", c, id)
		}
		return wrapLevelDBError(err)
	}

	if !bytes.Equal(current, old) {
		return errors.Wrapf(ErrConflict, "%s/%s", c, id)
	}

	return wrapLevelDBError(s.db.Put(key, value, nil))
}

func (s *LevelDBStore) Close() error {
	return wrapLevelDBError(s.db.Close())
}

func wrapLevelDBError(err error) error {
	switch {
	case err == nil:
		return nil
	case err == leveldb.ErrClosed:
		return errors.Wrap(ErrClosed, err.Error())
	default:
		return errors.Wrap(err, "leveldb")
	}
}
