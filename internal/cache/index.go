package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// entryPrefix namespaces entry records in the index.
var entryPrefix = []byte("entry/")

// Entry is the index record of one cached derivative.
type Entry struct {
	Key          string    `json:"key"`
	Path         string    `json:"path"`
	Source       string    `json:"source"`
	SettingsHash string    `json:"settings_hash"`
	SampleRate   int       `json:"sample_rate"`
	Size         int64     `json:"size"`
	Checksum     uint64    `json:"checksum"`
	CreatedAt    time.Time `json:"created_at"`
	AccessedAt   time.Time `json:"accessed_at"`
}

func entryKey(key string) []byte {
	return append(append([]byte{}, entryPrefix...), key...)
}

// index persists entries in badger. Each operation is its own transaction.
type index struct {
	db *badger.DB
}

func (ix *index) get(key string) (Entry, bool, error) {
	var e Entry
	err := ix.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read index entry %s: %w", key, err)
	}
	return e, true, nil
}

func (ix *index) put(e Entry) error {
	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode index entry: %w", err)
	}
	return ix.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(e.Key), val)
	})
}

func (ix *index) delete(key string) error {
	return ix.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(key))
	})
}

// list returns every entry. Records that fail to decode are returned as keys
// in bad so the caller can drop them.
func (ix *index) list() (entries []Entry, bad []string, err error) {
	err = ix.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = entryPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(entryPrefix); it.ValidForPrefix(entryPrefix); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil)[len(entryPrefix):])
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var e Entry
			if err := json.Unmarshal(val, &e); err != nil {
				bad = append(bad, key)
				continue
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("list index: %w", err)
	}
	return entries, bad, nil
}
