package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// collectionFile is the on-disk shape of one collection.
type collectionFile struct {
	Records map[string]json.RawMessage `json:"records"`
}

// JSONStore keeps each collection in memory and mirrors it to
// <basePath>/<collection>.json after every write.
type JSONStore struct {
	basePath    string
	mu          sync.RWMutex
	collections map[Collection]map[string][]byte
	closed      bool
}

func NewJSONStore(basePath string) (*JSONStore, error) {
	// Create storage directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create directory")
	}

	store := &JSONStore{
		basePath:    basePath,
		collections: make(map[Collection]map[string][]byte),
	}

	for _, c := range Collections {
		records, err := store.loadCollectionFromFile(c)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load collection %s", c)
		}
		store.collections[c] = records
	}

	return store, nil
}

func (s *JSONStore) collection(c Collection) map[string][]byte {
	records, exists := s.collections[c]
	if !exists {
		records = make(map[string][]byte)
		s.collections[c] = records
	}

	return records
}

func (s *JSONStore) Insert(ctx context.Context, c Collection, id string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	records := s.collection(c)
	if _, exists := records[id]; exists {
		return errors.Wrapf(ErrDuplicate, "%s/%s", c, id)
	}

	return s.put(c, records, id, value)
}

func (s *JSONStore) Get(ctx context.Context, c Collection, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	value, exists := s.collections[c][id]
	if !exists {
		return nil, errors.Wrapf(ErrNotFound, "%s/%s", c, id)
	}

	// Return a copy to prevent modification
	return append([]byte(nil), value...), nil
}

func (s *JSONStore) ScanAll(ctx context.Context, c Collection, fn ScanFunc) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}

	records := s.collections[c]
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	values := make([][]byte, len(ids))
	for i, id := range ids {
		values[i] = append([]byte(nil), records[id]...)
	}
	s.mu.RUnlock()

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}

		if keep, err := fn(id, values[i]); err != nil {
			return err
		} else if !keep {
			break
		}
	}

	return nil
}

func (s *JSONStore) Update(ctx context.Context, c Collection, id string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	records := s.collection(c)
	if _, exists := records[id]; !exists {
		return errors.Wrapf(ErrNotFound, "%s/%s", c, id)
	}

	return s.put(c, records, id, value)
}

func (s *JSONStore) CompareAndSwap(ctx context.Context, c Collection, id string, old, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	records := s.collection(c)
	current, exists := records[id]
	if !exists {
		return errors.Wrapf(ErrNotFound, "%s/%s", c, id)
	}
	if !bytes.Equal(current, old) {
		return errors.Wrapf(ErrConflict, "%s/%s", c, id)
	}

	return s.put(c, records, id, value)
}

func (s *JSONStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// put writes the record and persists the collection, restoring the previous
// in-memory value when the file write fails.
func (s *JSONStore) put(c Collection, records map[string][]byte, id string, value []byte) error {
	previous, existed := records[id]
	records[id] = append([]byte(nil), value...)

	if err := s.saveCollectionToFile(c, records); err != nil {
		if existed {
			records[id] = previous
		} else {
			delete(records, id)
		}
		return err
	}

	return nil
}

func (s *JSONStore) collectionPath(c Collection) string {
	return filepath.Join(s.basePath, fmt.Sprintf("%s.json", c))
}

func (s *JSONStore) loadCollectionFromFile(c Collection) (map[string][]byte, error) {
	data, err := os.ReadFile(s.collectionPath(c))
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string][]byte), nil
		}
		return nil, err
	}

	var file collectionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal collection")
	}

	records := make(map[string][]byte, len(file.Records))
	for id, raw := range file.Records {
		records[id] = []byte(raw)
	}

	return records, nil
}

func (s *JSONStore) saveCollectionToFile(c Collection, records map[string][]byte) error {
	file := collectionFile{Records: make(map[string]json.RawMessage, len(records))}
	for id, value := range records {
		file.Records[id] = json.RawMessage(value)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal collection")
	}

	path := s.collectionPath(c)

	// Write to temporary file first
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write collection file")
	}

	// Atomic rename to ensure consistency
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath) // Clean up temp file if rename fails
		return errors.Wrap(err, "failed to save collection file")
	}

	return nil
}
