package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"

	"zkex/storage"
)

// Manager is the exchange's state store: commitment root, block log, token
// registry, pending request queues, withdrawable balances and the mode
// record, all persisted on a storage.Database.
//
// Mutations accumulate in an in-memory overlay until Commit flushes them to
// the backing store; Revert discards the overlay. The top-level exchange
// service brackets every entry point with Begin/Commit-or-Revert so a failed
// call never leaves partial writes behind. Manager is not safe for concurrent
// use; the service serializes access.
type Manager struct {
	db      storage.Database
	staged  map[string][]byte
	deleted map[string]struct{}
}

// NewManager creates a state manager over the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		staged:  make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

// Begin discards any leftover overlay from a previous aborted transition.
func (m *Manager) Begin() {
	if len(m.staged) > 0 {
		m.staged = make(map[string][]byte)
	}
	if len(m.deleted) > 0 {
		m.deleted = make(map[string]struct{})
	}
}

// Commit flushes all staged writes and deletes to the backing store.
func (m *Manager) Commit() error {
	for key := range m.deleted {
		if err := m.db.Delete([]byte(key)); err != nil {
			return fmt.Errorf("state: commit delete: %w", err)
		}
	}
	for key, value := range m.staged {
		if err := m.db.Put([]byte(key), value); err != nil {
			return fmt.Errorf("state: commit put: %w", err)
		}
	}
	m.staged = make(map[string][]byte)
	m.deleted = make(map[string]struct{})
	return nil
}

// Revert discards all staged mutations.
func (m *Manager) Revert() {
	m.staged = make(map[string][]byte)
	m.deleted = make(map[string]struct{})
}

func (m *Manager) put(key []byte, value []byte) {
	delete(m.deleted, string(key))
	m.staged[string(key)] = append([]byte(nil), value...)
}

func (m *Manager) del(key []byte) {
	delete(m.staged, string(key))
	m.deleted[string(key)] = struct{}{}
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	if _, ok := m.deleted[string(key)]; ok {
		return nil, false, nil
	}
	if value, ok := m.staged[string(key)]; ok {
		return append([]byte(nil), value...), true, nil
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) has(key []byte) (bool, error) {
	_, ok, err := m.get(key)
	return ok, err
}

// ascend visits all live entries under prefix in ascending key order, merging
// staged writes over the backing store. Queue prefixes are bounded, so the
// merge materializes the key set.
func (m *Manager) ascend(prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)
	err := m.db.Ascend(prefix, func(key, value []byte) error {
		merged[string(key)] = value
		return nil
	})
	if err != nil {
		return err
	}
	for key, value := range m.staged {
		if strings.HasPrefix(key, string(prefix)) {
			merged[key] = value
		}
	}
	for key := range m.deleted {
		delete(merged, key)
	}
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := fn([]byte(key), merged[key]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) putRLP(key []byte, value interface{}) error {
	enc, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	m.put(key, enc)
	return nil
}

func (m *Manager) getRLP(key []byte, out interface{}) (bool, error) {
	raw, ok, err := m.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) putUint64(key []byte, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	m.put(key, buf[:])
}

func (m *Manager) getUint64(key []byte) (uint64, error) {
	raw, ok, err := m.get(key)
	if err != nil || !ok {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("state: malformed counter %q", key)
	}
	return binary.BigEndian.Uint64(raw), nil
}

// Initialized reports whether genesis initialization has run.
func (m *Manager) Initialized() (bool, error) {
	return m.has(initializedKey)
}

// SetInitialized records that genesis initialization completed.
func (m *Manager) SetInitialized() {
	m.put(initializedKey, []byte{0x01})
}

func decodeStored(raw []byte, out interface{}) error {
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return fmt.Errorf("state: decode record: %w", err)
	}
	return nil
}

func seqKey(prefix []byte, seq uint64) []byte {
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], seq)
	return buf
}
