package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

var (
	recordsBucket = []byte("records")
	latestBucket  = []byte("latest")
)

// History persists renewal records in a BBolt database. Records are kept
// in check order; the latest record per certificate is indexed separately.
type History struct {
	db *bbolt.DB
}

// OpenHistory opens or creates the database at path.
func OpenHistory(path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{recordsBucket, latestBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialising history: %w", err)
	}
	return &History{db: db}, nil
}

// Close closes the underlying BBolt database.
func (h *History) Close() error {
	return h.db.Close()
}

func recordKey(r RenewalRecord) []byte {
	return fmt.Appendf(nil, "%020d:%s", r.CheckedAt.UnixNano(), r.ID)
}

// Append stores records in one transaction.
func (h *History) Append(records ...RenewalRecord) error {
	return h.db.Update(func(tx *bbolt.Tx) error {
		all := tx.Bucket(recordsBucket)
		latest := tx.Bucket(latestBucket)
		for _, r := range records {
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := all.Put(recordKey(r), data); err != nil {
				return err
			}
			if err := latest.Put([]byte(r.Key()), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Latest returns the most recent record of every certificate, sorted by key.
func (h *History) Latest() ([]RenewalRecord, error) {
	var out []RenewalRecord
	err := h.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(latestBucket).ForEach(func(_, v []byte) error {
			var r RenewalRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// Recent returns up to limit records for subject, newest first. An empty
// subject matches every certificate.
func (h *History) Recent(subject string, limit int) ([]RenewalRecord, error) {
	var out []RenewalRecord
	err := h.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(recordsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var r RenewalRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if subject != "" && r.Subject != subject {
				continue
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}
