package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ka1ii/developer-challenge/native/escrow"
)

var (
	agreementPrefix      = []byte("escrow/agreement/")
	agreementCountKey    = []byte("escrow/index/count")
	agreementIndexPrefix = []byte("escrow/index/")
)

// agreementRecord is the RLP layout of a stored agreement. RLP has no signed
// integers, so timestamps are stored unsigned.
type agreementRecord struct {
	ID         [32]byte
	Client     [20]byte
	Freelancer [20]byte
	Amount     *big.Int
	Handshake  bool
	CreatedAt  uint64
	UpdatedAt  uint64
}

func agreementKey(id [32]byte) []byte {
	return append(append([]byte{}, agreementPrefix...), id[:]...)
}

func agreementIndexKey(pos uint64) []byte {
	key := append([]byte{}, agreementIndexPrefix...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], pos)
	return append(key, buf[:]...)
}

func toUnix(v uint64) int64 { return int64(v) }

func fromUnix(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

// AgreementGet loads the agreement stored under id.
func (m *Manager) AgreementGet(id [32]byte) (*escrow.Agreement, bool, error) {
	record := new(agreementRecord)
	ok, err := m.KVGet(agreementKey(id), record)
	if err != nil || !ok {
		return nil, false, err
	}
	amount := record.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	return &escrow.Agreement{
		ID:         record.ID,
		Client:     record.Client,
		Freelancer: record.Freelancer,
		Amount:     amount,
		Handshake:  record.Handshake,
		CreatedAt:  toUnix(record.CreatedAt),
		UpdatedAt:  toUnix(record.UpdatedAt),
	}, true, nil
}

// AgreementPut stores an agreement under its id.
func (m *Manager) AgreementPut(a *escrow.Agreement) error {
	if a == nil {
		return fmt.Errorf("state: nil agreement")
	}
	amount := a.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative agreement amount")
	}
	record := &agreementRecord{
		ID:         a.ID,
		Client:     a.Client,
		Freelancer: a.Freelancer,
		Amount:     new(big.Int).Set(amount),
		Handshake:  a.Handshake,
		CreatedAt:  fromUnix(a.CreatedAt),
		UpdatedAt:  fromUnix(a.UpdatedAt),
	}
	return m.KVPut(agreementKey(a.ID), record)
}

// AgreementIndexAppend records id at the end of the creation-ordered index.
func (m *Manager) AgreementIndexAppend(id [32]byte) error {
	count, err := m.agreementCount()
	if err != nil {
		return err
	}
	if err := m.KVPut(agreementIndexKey(count), id); err != nil {
		return err
	}
	return m.KVPut(agreementCountKey, count+1)
}

// AgreementIDs returns every indexed agreement id in creation order.
func (m *Manager) AgreementIDs() ([][32]byte, error) {
	count, err := m.agreementCount()
	if err != nil {
		return nil, err
	}
	ids := make([][32]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		var id [32]byte
		ok, err := m.KVGet(agreementIndexKey(i), &id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("state: agreement index gap at %d", i)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Manager) agreementCount() (uint64, error) {
	var count uint64
	if _, err := m.KVGet(agreementCountKey, &count); err != nil {
		return 0, err
	}
	return count, nil
}
