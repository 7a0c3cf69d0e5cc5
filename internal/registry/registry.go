package registry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketLatest     = []byte("latest_microservices")
	bucketCurrent    = []byte("current_microservices")
	bucketRoutes     = []byte("routes")
	bucketRegistries = []byte("registries")
	bucketHistory    = []byte("update_history")
)

// historyCap bounds the retained update history per workload, mirroring
// the teacher's capped update-history list rather than growing forever.
const historyCap = 50

// Snapshot is an immutable, point-in-time view of the registry's state.
// Read operations return snapshots rather than live references so callers
// never observe a table mutating mid-read.
type Snapshot struct {
	LatestMicroservices  []Workload
	CurrentMicroservices []Workload
	Routes               []Route
	Registries           []Registry
}

// Store holds latestMicroservices, currentMicroservices, routes, and
// registries. Reads return immutable snapshots; writes are whole-table
// replacements driven by the controller client.
type Store struct {
	mu sync.RWMutex

	latest     map[string]Workload
	current    map[string]Workload
	routes     map[string]Route // keyed by producer uuid
	registries map[string]Registry
	history    map[string][]HistoryEntry // keyed by workload uuid

	db *bolt.DB
}

// New creates an in-memory Workload Registry with no persistence.
func New() *Store {
	return &Store{
		latest:     make(map[string]Workload),
		current:    make(map[string]Workload),
		routes:     make(map[string]Route),
		registries: make(map[string]Registry),
		history:    make(map[string][]HistoryEntry),
	}
}

// Open creates an in-memory Workload Registry backed by BoltDB at path,
// restoring any previously persisted snapshot.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketLatest, bucketCurrent, bucketRoutes, bucketRegistries, bucketHistory} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	s := New()
	s.db = db
	if err := s.restore(); err != nil {
		db.Close()
		return nil, fmt.Errorf("restore registry: %w", err)
	}
	return s, nil
}

func (s *Store) restore() error {
	return s.db.View(func(tx *bolt.Tx) error {
		if err := decodeBucket(tx.Bucket(bucketLatest), &s.latest); err != nil {
			return err
		}
		if err := decodeBucket(tx.Bucket(bucketCurrent), &s.current); err != nil {
			return err
		}
		if err := decodeBucket(tx.Bucket(bucketRoutes), &s.routes); err != nil {
			return err
		}
		if err := decodeBucket(tx.Bucket(bucketRegistries), &s.registries); err != nil {
			return err
		}
		return decodeBucket(tx.Bucket(bucketHistory), &s.history)
	})
}

func decodeBucket[V any](b *bolt.Bucket, dst *map[string]V) error {
	return b.ForEach(func(k, v []byte) error {
		var val V
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		(*dst)[string(k)] = val
		return nil
	})
}

func persistBucket[V any](tx *bolt.Tx, name []byte, items map[string]V) error {
	b := tx.Bucket(name)
	if err := b.ForEach(func(k, _ []byte) error { return b.Delete(k) }); err != nil {
		return err
	}
	for k, v := range items {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(k), data); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying BoltDB, if persisted.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Snapshot returns an immutable, point-in-time view of the registry.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		LatestMicroservices:  valuesOf(s.latest),
		CurrentMicroservices: valuesOf(s.current),
		Routes:               valuesOf(s.routes),
		Registries:           valuesOf(s.registries),
	}
}

func valuesOf[V any](m map[string]V) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// FindLatestByUUID returns the latest-desired workload for uuid, if any.
func (s *Store) FindLatestByUUID(uuid string) (Workload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.latest[uuid]
	return w, ok
}

// FindCurrentByUUID returns the currently-running workload record for
// uuid, if any.
func (s *Store) FindCurrentByUUID(uuid string) (Workload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.current[uuid]
	return w, ok
}

// FindRegistry returns the registry config for id, if any.
func (s *Store) FindRegistry(id string) (Registry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.registries[id]
	return r, ok
}

// MicroserviceExists reports whether uuid is present in the given list of
// workloads — a helper mirroring spec §4.4's microserviceExists.
func MicroserviceExists(list []Workload, uuid string) bool {
	for _, w := range list {
		if w.UUID == uuid {
			return true
		}
	}
	return false
}

// UpdateCurrent replaces (or inserts) a single workload's current-state
// record. Called by the Lifecycle Engine as it drives a workload through
// its state machine — not a whole-snapshot replacement, since only the
// controller's desired-state push does that.
func (s *Store) UpdateCurrent(w Workload) error {
	s.mu.Lock()
	s.current[w.UUID] = w
	snapshot := cloneMap(s.current)
	s.mu.Unlock()
	return s.persistIfOpen(bucketCurrent, snapshot)
}

// RemoveCurrent deletes uuid's current-state record — called once REMOVE
// has completed and the workload no longer exists.
func (s *Store) RemoveCurrent(uuid string) error {
	s.mu.Lock()
	delete(s.current, uuid)
	snapshot := cloneMap(s.current)
	s.mu.Unlock()
	return s.persistIfOpen(bucketCurrent, snapshot)
}

// ReplaceLatest performs a whole-snapshot replacement of the
// latest-desired workload set, as pushed by the controller.
func (s *Store) ReplaceLatest(workloads []Workload) error {
	next := make(map[string]Workload, len(workloads))
	for _, w := range workloads {
		next[w.UUID] = w
	}
	s.mu.Lock()
	s.latest = next
	s.mu.Unlock()
	return s.persistIfOpen(bucketLatest, next)
}

// ReplaceRoutes performs a whole-snapshot replacement of the routing
// table, as pushed by the controller.
func (s *Store) ReplaceRoutes(routes []Route) error {
	next := make(map[string]Route, len(routes))
	for _, r := range routes {
		next[r.Producer] = r
	}
	s.mu.Lock()
	s.routes = next
	s.mu.Unlock()
	return s.persistIfOpen(bucketRoutes, next)
}

// ReplaceRegistries performs a whole-snapshot replacement of the
// registries table, as pushed by the controller.
func (s *Store) ReplaceRegistries(registries []Registry) error {
	next := make(map[string]Registry, len(registries))
	for _, r := range registries {
		next[r.ID] = r
	}
	s.mu.Lock()
	s.registries = next
	s.mu.Unlock()
	return s.persistIfOpen(bucketRegistries, next)
}

// RecordUpdate appends one completed Container Task to a workload's
// update history, capping retention at historyCap oldest-evicted
// entries, mirroring the teacher's capped update-history list.
func (s *Store) RecordUpdate(entry HistoryEntry) error {
	s.mu.Lock()
	entries := append(s.history[entry.WorkloadUUID], entry)
	if len(entries) > historyCap {
		entries = entries[len(entries)-historyCap:]
	}
	s.history[entry.WorkloadUUID] = entries
	snapshot := cloneHistory(s.history)
	s.mu.Unlock()
	return s.persistIfOpen(bucketHistory, snapshot)
}

// ListHistory returns the recorded update history for uuid, oldest first.
func (s *Store) ListHistory(uuid string) []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[uuid]
	out := make([]HistoryEntry, len(entries))
	copy(out, entries)
	return out
}

func cloneHistory(m map[string][]HistoryEntry) map[string][]HistoryEntry {
	out := make(map[string][]HistoryEntry, len(m))
	for k, v := range m {
		cp := make([]HistoryEntry, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Store) persistIfOpen(bucket []byte, data any) error {
	if s.db == nil {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		switch v := data.(type) {
		case map[string]Workload:
			return persistBucket(tx, bucket, v)
		case map[string]Route:
			return persistBucket(tx, bucket, v)
		case map[string]Registry:
			return persistBucket(tx, bucket, v)
		case map[string][]HistoryEntry:
			return persistBucket(tx, bucket, v)
		default:
			return fmt.Errorf("registry: unsupported persist type %T", v)
		}
	})
}
