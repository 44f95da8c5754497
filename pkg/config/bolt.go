package config

import (
	"encoding/json"
	"time"

	pkgerrors "github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var _ Store = &BoltStore{}

// Bucket is the bbolt bucket holding all records.
const Bucket = "config"

// BoltStore keeps records as JSON values in a single bbolt bucket. Each Save
// is one bbolt transaction.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open database %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(Bucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, pkgerrors.Wrapf(err, "failed to create bucket %s", Bucket)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load(name string, v any) error {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(Bucket))
		if b == nil {
			return nil
		}
		if data := b.Get([]byte(name)); data != nil {
			// data is only valid inside the transaction.
			raw = append([]byte(nil), data...)
		}
		return nil
	})
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read record %s", name)
	}
	if len(raw) == 0 {
		return pkgerrors.Wrapf(ErrNotFound, "record %s", name)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return pkgerrors.Wrapf(ErrParse, "record %s: %v", name, err)
	}
	return nil
}

func (s *BoltStore) Save(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode record %s", name)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(Bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(name), data)
	})
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to write record %s", name)
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
