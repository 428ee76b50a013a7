package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/ka1ii/developer-challenge/storage"
)

// Manager reads ledger state from the database and buffers every write in
// memory until Commit flushes them as a single batch. A Manager is scoped to
// one call: discarding it without committing rolls the call back.
type Manager struct {
	db      storage.Database
	pending map[string][]byte
	order   []string
}

// NewManager creates a state manager reading from db.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, pending: make(map[string][]byte)}
}

func hashKey(parts ...[]byte) []byte {
	return ethcrypto.Keccak256(parts...)
}

func (m *Manager) get(key []byte) ([]byte, error) {
	if value, ok := m.pending[string(key)]; ok {
		return value, nil
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (m *Manager) put(key, value []byte) {
	k := string(key)
	if _, ok := m.pending[k]; !ok {
		m.order = append(m.order, k)
	}
	m.pending[k] = append([]byte(nil), value...)
}

// KVPut RLP-encodes value and stages it under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.put(hashKey(key), encoded)
	return nil
}

// KVGet decodes the value stored under key into out. It reports false when
// nothing was stored.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	data, err := m.get(hashKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// Dirty reports the number of staged keys.
func (m *Manager) Dirty() int { return len(m.order) }

// Commit writes all staged keys atomically and resets the manager.
func (m *Manager) Commit() error {
	if len(m.order) == 0 {
		return nil
	}
	batch := m.db.NewBatch()
	for _, key := range m.order {
		batch.Put([]byte(key), m.pending[key])
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.Discard()
	return nil
}

// Discard drops every staged write.
func (m *Manager) Discard() {
	m.pending = make(map[string][]byte)
	m.order = nil
}
