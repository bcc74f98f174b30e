package connection

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

// LogEntry is the stats record of one connection.
type LogEntry struct {
	Stats    Stats          `json:"stats"`
	Channels map[string]int `json:"outstanding,omitempty"` // unacked messages per channel
}

// Entry returns the current LogEntry of c.
func (c *Connection) Entry() *LogEntry {
	e := &LogEntry{Stats: c.stats, Channels: make(map[string]int, len(c.channels))}
	for i, ch := range c.channels {
		e.Channels[c.cfg.Channels[i].Name] = ch.Outstanding()
	}
	return e
}

// LogStore stores connection log entries.
type LogStore interface {
	Entry(id uuid.UUID) (*LogEntry, error)
	Record(id uuid.UUID, entry *LogEntry) error
}

// ErrEntryNotFound is returned by stores that have no entry for an id.
var ErrEntryNotFound = errors.New("connection: log entry not found")

type inMemoryLogStore struct {
	entries map[uuid.UUID]*LogEntry
	mu      sync.Mutex
}

// InMemoryLogStore implements an in-memory LogStore.
func InMemoryLogStore() LogStore {
	return &inMemoryLogStore{
		entries: map[uuid.UUID]*LogEntry{},
	}
}

func (s *inMemoryLogStore) Entry(id uuid.UUID) (*LogEntry, error) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	s.mu.Unlock()

	if !ok {
		return nil, ErrEntryNotFound
	}
	return entry, nil
}

func (s *inMemoryLogStore) Record(id uuid.UUID, entry *LogEntry) error {
	s.mu.Lock()
	s.entries[id] = entry
	s.mu.Unlock()
	return nil
}

type fileLogStore struct {
	dir string
}

// FileLogStore implements a LogStore keeping one JSON file per connection in
// dir.
func FileLogStore(dir string) LogStore {
	return &fileLogStore{dir}
}

func (s *fileLogStore) path(id uuid.UUID) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.log", id))
}

func (s *fileLogStore) Entry(id uuid.UUID) (*LogEntry, error) {
	f, err := os.Open(s.path(id))
	if os.IsNotExist(err) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer f.Close() // nolint: errcheck

	entry := &LogEntry{}
	if err := json.NewDecoder(f).Decode(entry); err != nil {
		return nil, errors.Wrap(err, "json")
	}
	return entry, nil
}

func (s *fileLogStore) Record(id uuid.UUID, entry *LogEntry) error {
	f, err := os.OpenFile(s.path(id), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrap(err, "open")
	}

	if err := json.NewEncoder(f).Encode(entry); err != nil {
		f.Close() // nolint: errcheck
		return errors.Wrap(err, "json")
	}
	return f.Close()
}

var boltDBBucket = []byte("connections")

// BoltDBLogStore is a LogStore backed by a bbolt database.
type BoltDBLogStore struct {
	db *bbolt.DB
}

// NewBoltDBLogStore opens (or creates) the database at path.
func NewBoltDBLogStore(path string) (*BoltDBLogStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltDBBucket); err != nil {
			return errors.Wrap(err, "failed to create bucket")
		}
		return nil
	})
	if err != nil {
		db.Close() // nolint: errcheck
		return nil, err
	}

	return &BoltDBLogStore{db: db}, nil
}

// Entry implements LogStore.
func (s *BoltDBLogStore) Entry(id uuid.UUID) (*LogEntry, error) {
	var entry *LogEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(boltDBBucket).Get(id[:])
		if raw == nil {
			return ErrEntryNotFound
		}
		entry = &LogEntry{}
		return json.Unmarshal(raw, entry)
	})
	return entry, err
}

// Record implements LogStore.
func (s *BoltDBLogStore) Record(id uuid.UUID, entry *LogEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltDBBucket).Put(id[:], raw)
	})
}

// IDs returns the ids of every recorded connection.
func (s *BoltDBLogStore) IDs() ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltDBBucket).ForEach(func(k, _ []byte) error {
			id, err := uuid.FromBytes(k)
			if err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		})
	})
	return ids, err
}

// Close closes the database.
func (s *BoltDBLogStore) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
